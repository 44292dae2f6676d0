package colordb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the daemonactivity table: one row
// per daemon process.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs table:
// one row per acquisition run (Start..Cancel of the sensor engine).
type RunMessage struct {
	ID             string
	ActivityID     string
	Transport      string
	SampleSize     int
	UpdateInterval float64
	FrequencyScale int
	Readings       uint64
	Start          time.Time
	End            time.Time
}
