package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	tcs3200 "github.com/CedricGoby/rpi-tcs3200"
	"github.com/CedricGoby/rpi-tcs3200/internal/colordb"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("sim.redhz", 2000.0)
	viper.SetDefault("sim.greenhz", 1000.0)
	viper.SetDefault("sim.bluehz", 4000.0)
	viper.SetDefault("sim.clearhz", 5000.0)

	HOME, err := os.UserHomeDir()
	if err != nil { // Handle errors reading the config file
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotTCS := filepath.Join(HOME, ".tcs3200")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotTCS, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/tcs3200"))
	viper.AddConfigPath(dotTCS)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// checkRealtimeThrottling warns when the kernel throttles realtime tasks,
// which can starve the edge watcher and skew pulse timestamps.
func checkRealtimeThrottling() {
	val, err := sysctl.Get("kernel.sched_rt_runtime_us")
	if err != nil {
		return
	}
	if rtus, err := strconv.Atoi(val); err == nil && rtus >= 0 {
		fmt.Printf("Warning: kernel.sched_rt_runtime_us=%d caps realtime CPU use;\n", rtus)
		fmt.Printf("         pulse timestamps may jitter under load (set to -1 to disable).\n\n")
	}
}

// openTransport builds the GPIO connection named by the -transport flag.
// Only the pulse simulator is built in; a pigpiod transport implementing
// tcs3200.Conn can be substituted here.
// TODO: add a pigpiod-backed transport once the daemon runs on real hardware.
func openTransport(name string) (tcs3200.Conn, error) {
	switch name {
	case "sim":
		cfg := tcs3200.SimConnConfig{
			RedHz:   viper.GetFloat64("sim.redhz"),
			GreenHz: viper.GetFloat64("sim.greenhz"),
			BlueHz:  viper.GetFloat64("sim.bluehz"),
			ClearHz: viper.GetFloat64("sim.clearhz"),
		}
		return tcs3200.NewSimConn(tcs3200.DefaultLines, cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (only \"sim\" is built in)", name)
	}
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	tcs3200.Build.Date = buildDate
	tcs3200.Build.Githash = githash
	tcs3200.Build.Summary = fmt.Sprintf("TCS3200 daemon version %s (git commit %s of %s)", tcs3200.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		tcs3200.Build.Host = host
	} else {
		tcs3200.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	transportName := flag.String("transport", "sim", "GPIO transport to use")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is the TCS3200 daemon version %s\n", tcs3200.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is the TCS3200 daemon version %s (git commit %s)\n", tcs3200.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".tcs3200", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	tcs3200.ProblemLogger = startLogger(problemname)
	tcs3200.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	tcs3200.UpdateLogger.Printf("\n\n\n\n%s", banner)

	checkRealtimeThrottling()

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	conn, err := openTransport(*transportName)
	if err != nil {
		log.Fatal(err)
	}

	abort := make(chan struct{})
	activity := &colordb.ActivityMessage{
		ID:        colordb.NewID(),
		Hostname:  tcs3200.Build.Host,
		Githash:   tcs3200.Build.Githash,
		Version:   tcs3200.Build.Version,
		GoVersion: runtime.Version(),
		Start:     time.Now(),
	}
	db := colordb.StartConnection(activity, abort)

	messageChan := make(chan tcs3200.ClientUpdate)
	readings := make(chan tcs3200.Reading, 100)
	go tcs3200.RunClientUpdater(messageChan, tcs3200.Ports.Status)
	go tcs3200.PublishReadings(readings, abort, tcs3200.Ports.Readings)
	tcs3200.RunRPCServer(messageChan, readings, tcs3200.Ports.RPC, conn, *transportName, db)
	close(abort)
	writeMemoryProfile(memprofile)
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close() // error handling omitted for example
	runtime.GC()    // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
