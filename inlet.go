package nvxinlet

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/usnistgov/nvxinlet/nvx"
	"github.com/usnistgov/nvxinlet/ringbuffer"
)

// RunInfo summarizes one acquisition run, from Start to Stop.
type RunInfo struct {
	DeviceIndex int
	Layout      Layout
	SourceRate  uint32
	TargetRate  uint32
	Started     time.Time
	Stopped     time.Time // zero while the run is in progress
	Stats       Stats
	Err         error // hardware fault that ended the run, if any
}

// RunObserver is told when acquisition runs begin and end. Calls are made
// synchronously from Start and Stop, so they should not block for long.
type RunObserver interface {
	RunStarted(RunInfo)
	RunStopped(RunInfo)
}

// Option customizes an Inlet at Open.
type Option func(*Inlet)

// WithMetrics makes the Inlet record Prometheus metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(in *Inlet) { in.metrics = m }
}

// WithRunObserver makes the Inlet report each run to o.
func WithRunObserver(o RunObserver) Option {
	return func(in *Inlet) { in.observer = o }
}

// Inlet owns one open device and delivers its samples, thinned to a target
// rate, through PullChunk. Start and Stop control a background acquisition
// loop; PullChunk may be called from any goroutine at any time.
type Inlet struct {
	device   nvx.Device
	index    int
	metrics  *Metrics
	dm       deviceMetrics
	observer RunObserver

	controlLock sync.Mutex // serializes Start, Stop, Close and reconfiguration
	closed      bool

	// May change only while Stopped.
	targetRate     uint32
	bufferTime     time.Duration
	delayTolerance time.Duration
	props          nvx.Property
	layout         Layout
	sourceRate     uint32

	state     AcquisitionState
	fault     error      // hardware error that ended the current or last run
	stateLock sync.Mutex // guards state and fault

	ring    *ringbuffer.RingBuffer[Sample]
	bufLock sync.Mutex // guards ring

	abortSelf chan struct{} // closed to ask the acquisition loop to return
	runDone   sync.WaitGroup
	stats     loopStats
	run       RunInfo
}

// Open validates config, opens device config.DeviceIndex from driver and reads
// its properties. Configuration errors are reported before any driver call.
// The Inlet starts out Stopped.
func Open(driver nvx.Driver, config Config, opts ...Option) (*Inlet, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("nil driver: %w", ErrConfiguration)
	}
	if count := driver.Count(); config.DeviceIndex >= count {
		return nil, fmt.Errorf("device index %d, but only %d device(s) found: %w",
			config.DeviceIndex, count, ErrConfiguration)
	}
	device, err := driver.Open(config.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("opening device %d: %w", config.DeviceIndex, err)
	}
	in := &Inlet{
		device:         device,
		index:          config.DeviceIndex,
		targetRate:     config.TargetRate,
		bufferTime:     config.BufferTime,
		delayTolerance: config.DelayTolerance,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.dm = in.metrics.forDevice(in.index)
	if err := in.readProperties(); err != nil {
		device.Close()
		return nil, err
	}
	return in, nil
}

// readProperties caches the device properties, layout and source rate.
func (in *Inlet) readProperties() error {
	p, err := in.device.Properties()
	if err != nil {
		return fmt.Errorf("device %d properties: %w", in.index, err)
	}
	rate := math.Round(float64(p.Rate))
	if rate < 1 || rate > math.MaxUint32 {
		return fmt.Errorf("device %d reports sample rate %v Hz: %w", in.index, p.Rate, ErrHardware)
	}
	in.props = p
	in.layout = LayoutFromProperty(p)
	in.sourceRate = uint32(rate)
	return nil
}

// Close stops acquisition if needed and closes the device. Closing twice is a no-op.
func (in *Inlet) Close() error {
	stopErr := in.Stop()
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	if in.closed {
		return stopErr
	}
	in.closed = true
	if err := in.device.Close(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("closing device %d: %w", in.index, err))
	}
	return stopErr
}

// Start begins acquisition. Properties are read once here and stay fixed
// until Stop. A fresh ring buffer holding ceil(TargetRate*BufferTime) samples
// replaces any earlier one. Start on a Running Inlet does nothing; after a
// hardware fault, Stop must be called before Start.
func (in *Inlet) Start() error {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	if in.closed {
		return fmt.Errorf("Start on a closed inlet: %w", ErrState)
	}

	in.stateLock.Lock()
	switch in.state {
	case Running:
		in.stateLock.Unlock()
		return nil
	case Stopping:
		fault := in.fault
		in.stateLock.Unlock()
		return fmt.Errorf("cannot Start() until Stop() clears the fault %q: %w", fault, ErrState)
	}
	in.state = Starting
	in.fault = nil
	in.stateLock.Unlock()
	set(in.dm.state, float64(Starting))

	conv, err := in.prepareRun()
	if err == nil {
		err = in.device.Start()
		if err != nil {
			err = fmt.Errorf("starting device %d: %w", in.index, err)
		}
	}
	if err != nil {
		in.setState(Stopped)
		return err
	}

	in.abortSelf = make(chan struct{})
	in.runDone.Add(1)
	in.run = RunInfo{
		DeviceIndex: in.index,
		Layout:      in.layout,
		SourceRate:  in.sourceRate,
		TargetRate:  in.targetRate,
		Started:     time.Now(),
	}
	in.setState(Running)
	go in.acquisitionLoop(conv, in.abortSelf)

	UpdateLogger.Printf("device %d: acquisition started, %v at %d Hz thinned to %d Hz",
		in.index, in.layout, in.sourceRate, in.targetRate)
	if in.observer != nil {
		in.observer.RunStarted(in.run)
	}
	return nil
}

// prepareRun checks the configuration against fresh device properties and
// allocates the converter and ring buffer. It makes no state-changing call on
// the device.
func (in *Inlet) prepareRun() (*RateConverter, error) {
	if err := validateRate(in.targetRate); err != nil {
		return nil, err
	}
	if err := validateBufferTime(in.bufferTime); err != nil {
		return nil, err
	}
	if err := in.readProperties(); err != nil {
		return nil, err
	}
	conv, err := NewRateConverter(in.sourceRate, in.targetRate)
	if err != nil {
		return nil, err
	}
	capacity, err := ringCapacity(in.targetRate, in.bufferTime)
	if err != nil {
		return nil, err
	}
	ring, err := ringbuffer.New[Sample](capacity)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrConfiguration)
	}
	in.bufLock.Lock()
	in.ring = ring
	in.bufLock.Unlock()
	in.stats.reset()
	return conv, nil
}

// Stop halts the acquisition loop, waits for it to return, then stops the
// device. If a hardware error ended the run, Stop returns it (joined with any
// error from stopping the device). Stop on a Stopped Inlet does nothing.
// Samples not yet pulled remain available to PullChunk until the next Start.
func (in *Inlet) Stop() error {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()

	in.stateLock.Lock()
	if in.state == Stopped {
		in.stateLock.Unlock()
		return nil
	}
	in.state = Stopping
	closeIfOpen(in.abortSelf)
	in.stateLock.Unlock()
	set(in.dm.state, float64(Stopping))

	in.runDone.Wait()
	var stopErr error
	if err := in.device.Stop(); err != nil {
		stopErr = fmt.Errorf("stopping device %d: %w", in.index, err)
	}

	in.stateLock.Lock()
	fault := in.fault
	in.state = Stopped
	in.stateLock.Unlock()
	set(in.dm.state, float64(Stopped))

	in.run.Stopped = time.Now()
	in.run.Stats = in.stats.snapshot()
	in.run.Err = fault
	UpdateLogger.Printf("device %d: acquisition stopped after %v, %d of %d samples accepted",
		in.index, in.run.Stopped.Sub(in.run.Started).Round(time.Millisecond),
		in.run.Stats.Accepted, in.run.Stats.Polled)
	if in.observer != nil {
		in.observer.RunStopped(in.run)
	}
	return errors.Join(fault, stopErr)
}

// PullChunk removes and returns every sample accepted since the previous
// call, oldest first. It never blocks on the device and never fails; an
// empty Chunk means nothing new was accepted.
func (in *Inlet) PullChunk() Chunk {
	in.bufLock.Lock()
	var samples []Sample
	if in.ring != nil {
		samples = in.ring.Drain()
	}
	in.bufLock.Unlock()
	inc(in.dm.pulls)
	set(in.dm.ringFill, float64(len(samples)))
	if samples == nil {
		return Chunk{}
	}
	return Chunk(samples)
}

func (in *Inlet) setState(s AcquisitionState) {
	in.stateLock.Lock()
	in.state = s
	in.stateLock.Unlock()
	set(in.dm.state, float64(s))
}

// State returns the acquisition state in a race-free fashion
func (in *Inlet) State() AcquisitionState {
	in.stateLock.Lock()
	defer in.stateLock.Unlock()
	return in.state
}

// Running tells whether the acquisition loop is active.
func (in *Inlet) Running() bool {
	return in.State() == Running
}

// Err returns the hardware error that ended the current or most recent run,
// or nil. It is cleared when Start is next called.
func (in *Inlet) Err() error {
	in.stateLock.Lock()
	defer in.stateLock.Unlock()
	return in.fault
}

// Stats returns the loop counters of the current or most recent run.
func (in *Inlet) Stats() Stats {
	return in.stats.snapshot()
}

// DeviceIndex returns the index the device was opened with.
func (in *Inlet) DeviceIndex() int {
	return in.index
}

// Layout returns the channel counts of the device.
func (in *Inlet) Layout() Layout {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.layout
}

// Properties returns the device properties read at Open or the latest Start.
func (in *Inlet) Properties() nvx.Property {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.props
}

// SourceRate returns the device sample rate in Hz.
func (in *Inlet) SourceRate() uint32 {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.sourceRate
}

// TargetRate returns the requested output rate in Hz.
func (in *Inlet) TargetRate() uint32 {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.targetRate
}

// BufferTime returns the span of output data the ring buffer can hold.
func (in *Inlet) BufferTime() time.Duration {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.bufferTime
}

// DelayTolerance returns how long the loop sleeps when no sample is pending.
func (in *Inlet) DelayTolerance() time.Duration {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	return in.delayTolerance
}

// whileStopped runs f with the control lock held, or fails with ErrState
// unless the Inlet is Stopped.
func (in *Inlet) whileStopped(op string, f func() error) error {
	in.controlLock.Lock()
	defer in.controlLock.Unlock()
	if in.closed {
		return fmt.Errorf("%s on a closed inlet: %w", op, ErrState)
	}
	if s := in.State(); s != Stopped {
		return fmt.Errorf("%s while %v: %w", op, s, ErrState)
	}
	return f()
}

// SetTargetRate changes the output rate. It may only be called while Stopped.
// Whether the rate exceeds the source rate is checked at Start.
func (in *Inlet) SetTargetRate(hz uint32) error {
	return in.whileStopped("SetTargetRate", func() error {
		if err := validateRate(hz); err != nil {
			return err
		}
		in.targetRate = hz
		return nil
	})
}

// SetBufferTime changes the ring buffer span. It may only be called while Stopped.
func (in *Inlet) SetBufferTime(d time.Duration) error {
	return in.whileStopped("SetBufferTime", func() error {
		if err := validateBufferTime(d); err != nil {
			return err
		}
		in.bufferTime = d
		return nil
	})
}

// SetDelayTolerance changes the idle sleep of the acquisition loop. It may
// only be called while Stopped.
func (in *Inlet) SetDelayTolerance(d time.Duration) error {
	return in.whileStopped("SetDelayTolerance", func() error {
		if err := validateDelayTolerance(d); err != nil {
			return err
		}
		in.delayTolerance = d
		return nil
	})
}

// Settings returns the device acquisition settings.
func (in *Inlet) Settings() (nvx.Settings, error) {
	s, err := in.device.Settings()
	if err != nil {
		return nvx.Settings{}, fmt.Errorf("device %d settings: %w", in.index, err)
	}
	return s, nil
}

// SetSettings changes the device mode, rate and decimation, then re-reads its
// properties. It may only be called while Stopped.
func (in *Inlet) SetSettings(s nvx.Settings) error {
	return in.whileStopped("SetSettings", func() error {
		if err := in.device.SetSettings(s); err != nil {
			return fmt.Errorf("device %d settings: %w", in.index, err)
		}
		return in.readProperties()
	})
}

// DataStatus reports the device's data flow counters.
func (in *Inlet) DataStatus() (nvx.DataStatus, error) {
	ds, err := in.device.DataStatus()
	if err != nil {
		return nvx.DataStatus{}, fmt.Errorf("device %d data status: %w", in.index, err)
	}
	return ds, nil
}

// ErrorStatus reports the device's transfer error counters.
func (in *Inlet) ErrorStatus() (nvx.ErrorStatus, error) {
	es, err := in.device.ErrorStatus()
	if err != nil {
		return nvx.ErrorStatus{}, fmt.Errorf("device %d error status: %w", in.index, err)
	}
	return es, nil
}

// Version reports the device firmware and driver versions.
func (in *Inlet) Version() (nvx.Version, error) {
	v, err := in.device.Version()
	if err != nil {
		return nvx.Version{}, fmt.Errorf("device %d version: %w", in.index, err)
	}
	return v, nil
}
