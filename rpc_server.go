package tcs3200

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/CedricGoby/rpi-tcs3200/internal/colordb"
)

// SensorControl is the sub-server that handles configuration and operation
// of the colour sensor engine.
type SensorControl struct {
	conn          Conn
	transportName string
	readings      chan Reading
	db            *colordb.Connection
	run           *colordb.RunMessage

	sensor        *Sensor
	clientUpdates chan<- ClientUpdate
	statusLock    sync.Mutex
	status        ServerStatus
}

// ServerStatus is the status that SensorControl reports to clients.
type ServerStatus struct {
	State          string
	Running        bool
	Paused         bool
	Transport      string
	SampleSize     int
	UpdateInterval float64
	FrequencyScale int
	Dwell          [3]float64
	Writing        bool
	RecordFilename string
	Readings       uint64
}

// StartArgs holds the line assignment for SensorControl.Start. Optional
// lines (S0, S1, OE) take NoLine when not wired. Leaving Out, S2 and S3 all
// zero selects DefaultLines.
type StartArgs struct {
	Out int
	S2  int
	S3  int
	S0  int
	S1  int
	OE  int
}

// SensorReading is the RPC reply carrying the latest committed measurement.
type SensorReading struct {
	Hertz   [3]float64
	Tally   [3]int
	RGB     [3]float64
	Commits uint64
}

// CalibrationLevels is the RPC reply for GetCalibration.
type CalibrationLevels struct {
	Black [3]float64
	White [3]float64
}

// CalibrateArgs holds the arguments to CalibrateBlack and CalibrateWhite.
type CalibrateArgs struct {
	Samples int // readings to average; 0 means the default of 5
}

// WriteControlArgs controls the tab-separated reading recorder.
type WriteControlArgs struct {
	Active   bool
	Filename string // default when empty: tcs3200-<timestamp>.tsv
}

// NewSensorControl creates a control surface driving a sensor on conn.
// Committed readings are forwarded to the readings channel.
func NewSensorControl(conn Conn, transportName string, readings chan Reading, db *colordb.Connection) *SensorControl {
	return &SensorControl{
		conn:          conn,
		transportName: transportName,
		readings:      readings,
		db:            db,
		sensor:        NewSensor(conn, readings),
	}
}

// Start starts the acquisition engine with the given line assignment.
func (s *SensorControl) Start(args *StartArgs, reply *bool) error {
	switch s.sensor.State() {
	case Running, Paused:
		return fmt.Errorf("sensor is already active (you should call Stop)")
	case Cancelled:
		// A cancelled engine is terminal; build a fresh one carrying over
		// the configuration and calibration.
		fresh := NewSensor(s.conn, s.readings)
		fresh.SetSampleSize(s.sensor.SampleSize())
		if err := fresh.SetUpdateInterval(s.sensor.UpdateInterval()); err != nil {
			return err
		}
		if f := s.sensor.FrequencyScale(); f >= 0 {
			if err := fresh.SetFrequencyScale(f); err != nil {
				return err
			}
		}
		fresh.cal = s.sensor.cal
		s.sensor = fresh
	}

	lines := Lines{Out: args.Out, S2: args.S2, S3: args.S3, S0: args.S0, S1: args.S1, OE: args.OE}
	if lines.Out == 0 && lines.S2 == 0 && lines.S3 == 0 {
		lines = DefaultLines
	}
	log.Printf("Starting sensor on lines %+v\n", lines)
	if err := s.sensor.Start(lines); err != nil {
		return err
	}

	s.run = &colordb.RunMessage{
		ID:             colordb.NewID(),
		Transport:      s.transportName,
		SampleSize:     s.sensor.SampleSize(),
		UpdateInterval: s.sensor.UpdateInterval(),
		FrequencyScale: s.sensor.FrequencyScale(),
		Start:          time.Now(),
	}
	s.db.RecordRun(s.run)
	s.broadcastUpdate()
	*reply = true
	return nil
}

// Stop cancels the acquisition engine, restoring the hardware lines.
func (s *SensorControl) Stop(dummy *string, reply *bool) error {
	switch s.sensor.State() {
	case Running, Paused:
	default:
		return fmt.Errorf("sensor is not active, cannot stop")
	}
	log.Printf("Stopping sensor\n")
	if err := s.sensor.Recorder().Stop(); err != nil {
		ProblemLogger.Printf("stopping recorder: %v", err)
	}
	err := s.sensor.Cancel()
	if s.run != nil {
		s.run.Readings = s.sensor.Commits()
		s.db.FinishRun(s.run)
		s.run = nil
	}
	s.broadcastUpdate()
	*reply = (err == nil)
	return err
}

// Pause suspends rotations; the engine keeps the hardware claimed.
func (s *SensorControl) Pause(dummy *string, reply *bool) error {
	err := s.sensor.Pause()
	s.broadcastUpdate()
	*reply = (err == nil)
	return err
}

// Resume restarts rotations after a Pause.
func (s *SensorControl) Resume(dummy *string, reply *bool) error {
	err := s.sensor.Resume()
	s.broadcastUpdate()
	*reply = (err == nil)
	return err
}

// SetSampleSize sets the pulse-count goal per channel; out-of-range values
// are clamped. The reply is the value actually applied.
func (s *SensorControl) SetSampleSize(n *int, reply *int) error {
	*reply = s.sensor.SetSampleSize(*n)
	log.Printf("SetSampleSize: requested %d, applied %d\n", *n, *reply)
	s.saveSettings()
	s.broadcastUpdate()
	return nil
}

// SetUpdateInterval sets the interval between rotations in seconds;
// out-of-range values are rejected.
func (s *SensorControl) SetUpdateInterval(seconds *float64, reply *bool) error {
	err := s.sensor.SetUpdateInterval(*seconds)
	if err == nil {
		s.saveSettings()
		s.broadcastUpdate()
	}
	*reply = (err == nil)
	return err
}

// SetFrequencyScale selects the sensor's output frequency scaling (0=off,
// 1=2%, 2=20%, 3=100%).
func (s *SensorControl) SetFrequencyScale(f *int, reply *bool) error {
	err := s.sensor.SetFrequencyScale(*f)
	if err == nil {
		s.saveSettings()
		s.broadcastUpdate()
	}
	*reply = (err == nil)
	return err
}

// GetReading returns the latest committed measurement.
func (s *SensorControl) GetReading(dummy *string, reply *SensorReading) error {
	reply.Hertz = s.sensor.Hertz()
	reply.Tally = s.sensor.Tally()
	reply.RGB = s.sensor.RGB(255)
	reply.Commits = s.sensor.Commits()
	return nil
}

// GetCalibration returns the black and white reference levels.
func (s *SensorControl) GetCalibration(dummy *string, reply *CalibrationLevels) error {
	cal := s.sensor.Calibration()
	reply.Black = cal.Black()
	reply.White = cal.White()
	return nil
}

// CalibrateBlack samples the running sensor with a black reference object in
// place, records the average as the black level, and replies with it.
func (s *SensorControl) CalibrateBlack(args *CalibrateArgs, reply *[3]float64) error {
	avg, err := s.sampleLevels(args.Samples)
	if err != nil {
		return err
	}
	s.sensor.Calibration().SetBlack(avg)
	log.Printf("Black level calibrated: %.1f %.1f %.1f Hz\n", avg[0], avg[1], avg[2])
	*reply = avg
	return nil
}

// CalibrateWhite samples the running sensor with a white reference object in
// place, records the average as the white level, and replies with it.
func (s *SensorControl) CalibrateWhite(args *CalibrateArgs, reply *[3]float64) error {
	avg, err := s.sampleLevels(args.Samples)
	if err != nil {
		return err
	}
	s.sensor.Calibration().SetWhite(avg)
	log.Printf("White level calibrated: %.1f %.1f %.1f Hz\n", avg[0], avg[1], avg[2])
	*reply = avg
	return nil
}

// sampleLevels collects n readings, one rotation interval apart, and returns
// their per-channel average.
func (s *SensorControl) sampleLevels(n int) ([3]float64, error) {
	var avg [3]float64
	if s.sensor.State() != Running {
		return avg, fmt.Errorf("sensor must be running to calibrate, state is %v", s.sensor.State())
	}
	if n <= 0 {
		n = 5
	}
	interval := time.Duration(s.sensor.UpdateInterval() * float64(time.Second))
	samples := make([][3]float64, 0, n)
	for i := 0; i < n; i++ {
		time.Sleep(interval)
		samples = append(samples, s.sensor.Hertz())
	}
	return AverageHertz(samples), nil
}

// SetWriting starts or stops the tab-separated reading recorder.
func (s *SensorControl) SetWriting(args *WriteControlArgs, reply *bool) error {
	recorder := s.sensor.Recorder()
	var err error
	if args.Active {
		filename := args.Filename
		if filename == "" {
			filename = fmt.Sprintf("tcs3200-%s.tsv", time.Now().Format("20060102-150405"))
		}
		err = recorder.Start(filename)
	} else {
		err = recorder.Stop()
	}
	if err == nil {
		s.broadcastUpdate()
	}
	*reply = (err == nil)
	return err
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (s *SensorControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastUpdate()
	*reply = true
	return nil
}

func (s *SensorControl) broadcastUpdate() {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()
	state := s.sensor.State()
	s.status = ServerStatus{
		State:          state.String(),
		Running:        state == Running,
		Paused:         state == Paused,
		Transport:      s.transportName,
		SampleSize:     s.sensor.SampleSize(),
		UpdateInterval: s.sensor.UpdateInterval(),
		FrequencyScale: s.sensor.FrequencyScale(),
		Dwell:          s.sensor.Dwell(),
		Writing:        s.sensor.Recorder().IsActive(),
		Readings:       s.sensor.Commits(),
	}
	if s.status.Writing {
		s.sensor.Recorder().Lock()
		s.status.RecordFilename = s.sensor.Recorder().Filename
		s.sensor.Recorder().Unlock()
	}
	if s.clientUpdates != nil {
		s.clientUpdates <- ClientUpdate{"STATUS", s.status}
	}
}

// storedSettings is the shape of the persisted "sensor" configuration key.
type storedSettings struct {
	SampleSize     int
	UpdateInterval float64
	FrequencyScale int
}

func (s *SensorControl) saveSettings() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.Set("sensor.samplesize", s.sensor.SampleSize())
	viper.Set("sensor.updateinterval", s.sensor.UpdateInterval())
	if f := s.sensor.FrequencyScale(); f >= 0 {
		viper.Set("sensor.frequencyscale", f)
	}
	if err := viper.WriteConfig(); err != nil {
		ProblemLogger.Printf("could not persist settings: %v", err)
	}
}

func (s *SensorControl) restoreSettings() {
	var stored storedSettings
	if err := viper.UnmarshalKey("sensor", &stored); err != nil {
		ProblemLogger.Printf("could not read stored settings: %v", err)
		return
	}
	if stored.SampleSize > 0 {
		s.sensor.SetSampleSize(stored.SampleSize)
	}
	if stored.UpdateInterval > 0 {
		if err := s.sensor.SetUpdateInterval(stored.UpdateInterval); err != nil {
			ProblemLogger.Printf("stored update interval rejected: %v", err)
		}
	}
	if stored.FrequencyScale > 0 {
		if err := s.sensor.SetFrequencyScale(stored.FrequencyScale); err != nil {
			ProblemLogger.Printf("stored frequency scale rejected: %v", err)
		}
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server controlling one
// sensor on the given transport.
func RunRPCServer(messageChan chan<- ClientUpdate, readings chan Reading, portrpc int, conn Conn, transportName string, db *colordb.Connection) {
	sensorControl := NewSensorControl(conn, transportName, readings, db)
	sensorControl.clientUpdates = messageChan

	// Load stored settings.
	log.Printf("Using config file %s\n", viper.ConfigFileUsed())
	sensorControl.restoreSettings()

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			sensorControl.broadcastUpdate()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(sensorControl)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
