// Package colordb records colour-acquisition runs to a ClickHouse database.
// The database is optional: a connection that could not be established
// degrades to a no-op, so the daemon runs fine without a server.
package colordb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "colorimetry" // official SQL name of the database

// Connection wraps the ClickHouse connection and the channels used to hand
// messages to its single handler goroutine.
type Connection struct {
	conn     clickhouse.Conn
	err      error
	activity *ActivityMessage
	runmsg   chan *RunMessage
	sync.WaitGroup
}

// NewID returns a fresh ULID for an activity or run row.
func NewID() string {
	return ulid.Make().String()
}

// IsConnected reports whether the database is usable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable with the
// environment's credentials.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// StartConnection opens the database, records the activity row, and starts
// the handler goroutine, which runs until abort is closed.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activity = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a Connection that is never connected; every
// recording call on it is a no-op.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("TCS3200_DB_USER"),
		Password: os.Getenv("TCS3200_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "rpi-tcs3200", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	ctx := context.Background()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.runmsg = make(chan *RunMessage)
	return db
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		}
	}
}

// Disconnect closes out the activity row with the current time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activity.End = time.Now()
		db.logActivity()
	}
}

const timeFormat = "2006-01-02 15:04:05.000000"

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	a := db.activity
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO daemonactivity VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion,
		a.Start.Format(timeFormat), a.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into daemonactivity ", err)
		db.err = err
	}
}

// RecordRun takes a RunMessage and stores it in the DB (if it's open).
// This function blocks until the handler goroutine accepts the message, so
// a run is entered in the DB before any readings of that run are published.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun closes out a run row with the current time, asynchronously.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activity.ID, m.Transport,
		m.SampleSize, m.UpdateInterval, m.FrequencyScale, m.Readings,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into runs ", err)
		db.err = err
	}
}
