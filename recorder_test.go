package tcs3200

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorder(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "readings.tsv")
	r := new(Recorder)

	if err := r.Record(Reading{}); err == nil {
		t.Error("expected error recording to an inactive recorder, saw none")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("stopping an inactive recorder should be a no-op, got %v", err)
	}

	if err := r.Start(filename); err != nil {
		t.Fatalf("could not start recorder: %v", err)
	}
	if err := r.Start(filename); err == nil {
		t.Error("expected error starting an active recorder, saw none")
	}
	if !r.IsActive() {
		t.Error("recorder not active after Start")
	}

	rd := Reading{
		Time:  time.Unix(1700000000, 250000000),
		RGB:   [3]float64{12.5, 100, 254.99},
		Hertz: [3]float64{500.5, 4000, 9999.9},
		Tally: [3]int{10, 80, 199},
	}
	if err := r.Record(rd); err != nil {
		t.Errorf("recording reading: %v", err)
	}
	if err := r.Record(rd); err != nil {
		t.Errorf("recording reading: %v", err)
	}
	if r.Records() != 2 {
		t.Errorf("recorder counts %d records, want 2", r.Records())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stopping recorder: %v", err)
	}

	b, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("reading back record file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("record file holds %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 10 {
			t.Errorf("record %q has %d tab-separated fields, want 10", line, len(fields))
		}
	}
	if !strings.HasPrefix(lines[0], "1700000000.250000\t12.50\t100.00\t254.99\t") {
		t.Errorf("unexpected record format: %q", lines[0])
	}

	// A restart on the same file appends rather than truncates.
	if err := r.Start(filename); err != nil {
		t.Fatalf("could not restart recorder: %v", err)
	}
	if err := r.Record(rd); err != nil {
		t.Errorf("recording reading: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stopping recorder: %v", err)
	}
	b, _ = os.ReadFile(filename)
	if n := strings.Count(string(b), "\n"); n != 3 {
		t.Errorf("record file holds %d lines after append, want 3", n)
	}
}
