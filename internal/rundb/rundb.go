// Package rundb records acquisition runs in a ClickHouse database.
package rundb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/internal/unboundedchan"
)

// Config says where the database server is. An empty Addr means no database.
type Config struct {
	Addr     []string
	Database string
	Timeout  time.Duration
}

// DefaultDatabase is the official SQL name of the database.
const DefaultDatabase = "nvxinlet"

// inserter is the part of a clickhouse connection that Connection uses.
type inserter interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

// Connection is a (possibly absent) database connection. Every method is
// safe to call on a Connection that never connected; they do nothing.
type Connection struct {
	conn     inserter
	activity ActivityMessage
	runs     *unboundedchan.UnboundedChannel[*RunMessage]

	errLock sync.Mutex
	err     error

	runLock sync.Mutex
	current map[int]*RunMessage // keyed by device index

	sync.WaitGroup
}

// NewActivity describes this program execution, starting now.
func NewActivity() ActivityMessage {
	hostname, _ := os.Hostname()
	return ActivityMessage{
		ID:        ulid.Make().String(),
		Hostname:  hostname,
		Githash:   nvxinlet.Build.Githash,
		Version:   nvxinlet.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     time.Now(),
	}
}

// Start connects to the server named in cfg, records activity and starts the
// goroutine that stores runs. That goroutine ends when abort is closed; use
// Wait to wait for it. A failed connection is logged and yields a Connection
// that records nothing.
func Start(cfg Config, activity ActivityMessage, abort <-chan struct{}) *Connection {
	conn, err := connect(cfg)
	if err != nil {
		nvxinlet.ProblemLogger.Printf("run database not available: %v", err)
		db := Dummy()
		db.err = err
		return db
	}
	return newConnection(conn, activity, abort)
}

// Dummy returns a Connection that is not connected.
func Dummy() *Connection {
	return &Connection{}
}

func newConnection(conn inserter, activity ActivityMessage, abort <-chan struct{}) *Connection {
	db := &Connection{
		conn:     conn,
		activity: activity,
		runs:     unboundedchan.NewUnboundedChannel[*RunMessage](),
		current:  make(map[int]*RunMessage),
	}
	db.logActivity()
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

func clickhouseOptions(cfg Config) *clickhouse.Options {
	database := cfg.Database
	if database == "" {
		database = DefaultDatabase
	}
	return &clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: database,
			Username: os.Getenv("NVXINLET_DB_USER"),
			Password: os.Getenv("NVXINLET_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "nvxinlet", Version: nvxinlet.Build.Version},
			},
		},
		DialTimeout: cfg.Timeout,
	}
}

func connect(cfg Config) (inserter, error) {
	if len(cfg.Addr) == 0 {
		return nil, errors.New("no database address configured")
	}
	conn, err := clickhouse.Open(clickhouseOptions(cfg))
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := conn.Ping(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			err = fmt.Errorf("exception [%d] %s: %w", exception.Code, exception.Message, err)
		}
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// PingServer checks that the server in cfg answers and returns its version.
func PingServer(cfg Config) (string, error) {
	if len(cfg.Addr) == 0 {
		return "", errors.New("no database address configured")
	}
	conn, err := clickhouse.Open(clickhouseOptions(cfg))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	v, err := conn.ServerVersion()
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// IsConnected tells whether the connection is open and has had no errors.
func (db *Connection) IsConnected() bool {
	if db == nil || db.conn == nil {
		return false
	}
	return db.Err() == nil
}

// Err returns the error that disconnected the database, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	db.errLock.Lock()
	defer db.errLock.Unlock()
	return db.err
}

func (db *Connection) setErr(err error) {
	db.errLock.Lock()
	defer db.errLock.Unlock()
	if db.err == nil {
		db.err = err
	}
}

// ActivityID returns the ID of this program execution's activity row.
func (db *Connection) ActivityID() string {
	if db == nil {
		return ""
	}
	return db.activity.ID
}

// RunStarted enters a new run for the device. It never blocks on the database.
func (db *Connection) RunStarted(info nvxinlet.RunInfo) {
	if !db.IsConnected() {
		return
	}
	msg := &RunMessage{
		ID:          ulid.Make().String(),
		ActivityID:  db.activity.ID,
		DeviceIndex: info.DeviceIndex,
		EEGCount:    info.Layout.EEGCount,
		AuxCount:    info.Layout.AuxCount,
		SourceRate:  info.SourceRate,
		TargetRate:  info.TargetRate,
		Start:       info.Started,
	}
	db.runLock.Lock()
	db.current[info.DeviceIndex] = msg
	db.runLock.Unlock()
	started := *msg
	db.runs.Send(&started)
}

// RunStopped completes the device's current run with its end time and sample counts.
func (db *Connection) RunStopped(info nvxinlet.RunInfo) {
	if !db.IsConnected() {
		return
	}
	db.runLock.Lock()
	msg, ok := db.current[info.DeviceIndex]
	delete(db.current, info.DeviceIndex)
	db.runLock.Unlock()
	if !ok {
		return
	}
	msg.End = info.Stopped
	msg.Polled = info.Stats.Polled
	msg.Accepted = info.Stats.Accepted
	msg.Overwritten = info.Stats.Overwritten
	msg.GapEvents = info.Stats.GapEvents
	msg.Lost = info.Stats.Lost
	if info.Err != nil {
		msg.Fault = info.Err.Error()
	}
	db.runs.Send(msg)
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.runs.Close()
			for msg := range db.runs.Out() {
				db.insertRun(msg)
			}
			db.disconnect()
			return
		case msg := <-db.runs.Out():
			db.insertRun(msg)
		}
	}
}

func (db *Connection) disconnect() {
	if db.IsConnected() {
		db.activity.End = time.Now()
		db.logActivity()
	}
	if err := db.conn.Close(); err != nil {
		nvxinlet.ProblemLogger.Printf("closing run database: %v", err)
	}
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	ae := db.activity
	if err := db.conn.AsyncInsert(context.Background(), `INSERT INTO inletactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, formatTime(ae.Start), formatTime(ae.End),
	); err != nil {
		nvxinlet.ProblemLogger.Printf("error on AsyncInsert into inletactivity: %v", err)
		db.setErr(err)
	}
}

func (db *Connection) insertRun(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(), `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.DeviceIndex, m.EEGCount, m.AuxCount,
		m.SourceRate, m.TargetRate, formatTime(m.Start), formatTime(m.End),
		m.Polled, m.Accepted, m.Overwritten, m.GapEvents, m.Lost, m.Fault,
	); err != nil {
		nvxinlet.ProblemLogger.Printf("error on AsyncInsert into runs: %v", err)
		db.setErr(err)
	}
}
