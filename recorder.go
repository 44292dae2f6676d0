package tcs3200

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Recorder appends committed readings to a tab-separated file, one record
// per reading:
//
//	timestamp  r  g  b  rHz  gHz  bHz  rTally  gTally  bTally
//
// The timestamp is Unix seconds with microsecond resolution. The file is
// opened in append mode so successive runs accumulate in one log.
type Recorder struct {
	Active         bool
	Filename       string
	records        int
	file           *os.File
	bufferedWriter *bufio.Writer
	sync.Mutex
}

// Start opens (or creates) the record file and activates the recorder.
func (r *Recorder) Start(filename string) error {
	r.Lock()
	defer r.Unlock()
	if r.Active {
		return fmt.Errorf("recorder is already writing to %s", r.Filename)
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("opening record file: %v", err)
	}
	r.file = f
	r.bufferedWriter = bufio.NewWriter(f)
	r.Filename = filename
	r.Active = true
	r.records = 0
	return nil
}

// Stop flushes and closes the record file. Stopping an inactive recorder is
// a no-op.
func (r *Recorder) Stop() error {
	r.Lock()
	defer r.Unlock()
	if !r.Active {
		return nil
	}
	r.Active = false
	r.Filename = ""
	if err := r.bufferedWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush record file, err: %v", err)
	}
	r.bufferedWriter = nil
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close record file, err: %v", err)
	}
	r.file = nil
	return nil
}

// IsActive will return r.Active, with proper locking.
func (r *Recorder) IsActive() bool {
	r.Lock()
	defer r.Unlock()
	return r.Active
}

// Records reports how many readings have been written since Start.
func (r *Recorder) Records() int {
	r.Lock()
	defer r.Unlock()
	return r.records
}

// Record appends one reading. Safe to call from the classifier goroutine.
func (r *Recorder) Record(rd Reading) error {
	r.Lock()
	defer r.Unlock()
	if !r.Active {
		return fmt.Errorf("recorder is not active")
	}
	ts := float64(rd.Time.UnixMicro()) / 1e6
	_, err := fmt.Fprintf(r.bufferedWriter,
		"%.6f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t%d\t%d\n",
		ts, rd.RGB[0], rd.RGB[1], rd.RGB[2],
		rd.Hertz[0], rd.Hertz[1], rd.Hertz[2],
		rd.Tally[0], rd.Tally[1], rd.Tally[2])
	if err != nil {
		return err
	}
	r.records++
	return nil
}
