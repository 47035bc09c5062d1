package rundb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the inletactivity table: one row per
// program execution.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs table.
// A run is entered once when it starts and again, with End and the sample
// counts filled in, when it stops.
type RunMessage struct {
	ID          string
	ActivityID  string
	DeviceIndex int
	EEGCount    int
	AuxCount    int
	SourceRate  uint32
	TargetRate  uint32
	Start       time.Time
	End         time.Time
	Polled      uint64
	Accepted    uint64
	Overwritten uint64
	GapEvents   uint64
	Lost        uint64
	Fault       string
}

const timeFormat = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.Format(timeFormat)
}
