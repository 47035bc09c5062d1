package nvxinlet

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/nvxinlet/nvx"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDevice hands out a fixed list of raw samples, one per NextSample,
// then reports that nothing is pending.
type scriptedDevice struct {
	sync.Mutex
	props     nvx.Property
	samples   [][]byte
	next      int
	started   bool
	starts    int
	stops     int
	closed    bool
	startErr  error
	failAfter int // if > 0, NextSample fails once this many samples are delivered
	settings  nvx.Settings
}

func (d *scriptedDevice) Close() error {
	d.Lock()
	defer d.Unlock()
	d.closed = true
	return nil
}

func (d *scriptedDevice) Start() error {
	d.Lock()
	defer d.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	d.starts++
	return nil
}

func (d *scriptedDevice) Stop() error {
	d.Lock()
	defer d.Unlock()
	d.started = false
	d.stops++
	return nil
}

func (d *scriptedDevice) Settings() (nvx.Settings, error) {
	d.Lock()
	defer d.Unlock()
	return d.settings, nil
}

func (d *scriptedDevice) SetSettings(s nvx.Settings) error {
	d.Lock()
	defer d.Unlock()
	d.settings = s
	d.props.Rate = float32(s.Rate.Hz() / s.Decimation.Factor())
	return nil
}

func (d *scriptedDevice) Properties() (nvx.Property, error) {
	d.Lock()
	defer d.Unlock()
	return d.props, nil
}

func (d *scriptedDevice) NextSample(buf []byte) (int, error) {
	d.Lock()
	defer d.Unlock()
	if !d.started {
		return 0, &nvx.StatusError{Op: "NextSample", Status: nvx.StatusFail}
	}
	if d.failAfter > 0 && d.next >= d.failAfter {
		return 0, &nvx.StatusError{Op: "NextSample", Status: nvx.StatusDataRate}
	}
	if d.next >= len(d.samples) {
		return 0, nil
	}
	n := copy(buf, d.samples[d.next])
	d.next++
	return n, nil
}

func (d *scriptedDevice) DataStatus() (nvx.DataStatus, error) {
	d.Lock()
	defer d.Unlock()
	return nvx.DataStatus{Samples: uint32(d.next), Rate: d.props.Rate}, nil
}

func (d *scriptedDevice) ErrorStatus() (nvx.ErrorStatus, error) {
	return nvx.ErrorStatus{}, nil
}

func (d *scriptedDevice) Version() (nvx.Version, error) {
	return nvx.Version{DLL: 1}, nil
}

type scriptedDriver struct {
	dev   *scriptedDevice
	opens int
}

func (s *scriptedDriver) Count() int { return 1 }

func (s *scriptedDriver) Open(index int) (nvx.Device, error) {
	s.opens++
	if index != 0 {
		return nil, &nvx.StatusError{Op: "Open", Status: nvx.StatusInvalidParam}
	}
	return s.dev, nil
}

// newScripted returns a driver whose device runs at rate Hz and will deliver
// samples with the given counters, using a 4 EEG + 1 AUX layout.
func newScripted(rate float32, counters []uint32) *scriptedDriver {
	dev := &scriptedDevice{props: nvx.Property{CountEEG: 4, CountAux: 1, Rate: rate}}
	for _, c := range counters {
		v := int32(c)
		dev.samples = append(dev.samples, EncodeSample([]int32{v, -v, 2 * v, 0}, []int32{7}, 0, c))
	}
	return &scriptedDriver{dev: dev}
}

func counterRange(first, n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = first + uint32(i)
	}
	return out
}

func testConfig(target uint32) Config {
	c := DefaultConfig()
	c.TargetRate = target
	c.DelayTolerance = time.Millisecond
	return c
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHalfRateEndToEnd(t *testing.T) {
	const N = 1000
	drv := newScripted(1000, counterRange(0, N))
	in, err := Open(drv, testConfig(500))
	require.NoError(t, err)
	defer in.Close()

	assert.Empty(t, in.PullChunk(), "PullChunk before Start")
	require.NoError(t, in.Start())
	assert.True(t, in.Running())
	waitFor(t, "all samples polled and the loop idle", func() bool {
		s := in.Stats()
		return s.Polled == N && s.EmptyPolls > 0
	})
	require.NoError(t, in.Stop())
	assert.Equal(t, Stopped, in.State())

	chunk := in.PullChunk()
	if n := chunk.Len(); n < N/2-1 || n > N/2+1 {
		t.Fatalf("PullChunk returned %d samples, want %d +- 1", n, N/2)
	}
	counters := chunk.Counters()
	for i := 1; i < len(counters); i++ {
		if counters[i] <= counters[i-1] {
			t.Fatalf("counters out of order at %d: %d then %d", i, counters[i-1], counters[i])
		}
	}
	assert.Equal(t, uint32(0), counters[0])
	assert.Equal(t, uint32(2), counters[1])
	v, err := chunk[1].EEG(1)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), v)

	assert.Empty(t, in.PullChunk(), "second pull should be empty")
	stats := in.Stats()
	assert.Equal(t, uint64(N), stats.Polled)
	assert.Equal(t, uint64(chunk.Len()), stats.Accepted)
}

func TestStopIsIdempotent(t *testing.T) {
	drv := newScripted(1000, counterRange(0, 10))
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Stop(), "Stop before any Start")
	require.NoError(t, in.Start())
	require.NoError(t, in.Stop())
	require.NoError(t, in.Stop())
	assert.Equal(t, 1, drv.dev.stops, "the device should be stopped exactly once")
	assert.Equal(t, Stopped, in.State())
}

func TestStartIsIdempotent(t *testing.T) {
	const N = 100
	drv := newScripted(1000, counterRange(0, N))
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	waitFor(t, "all samples polled", func() bool { return in.Stats().Polled == N })
	require.NoError(t, in.Start())
	require.NoError(t, in.Stop())
	assert.Equal(t, 1, drv.dev.starts)
	assert.Equal(t, N, in.PullChunk().Len(), "second Start must not reset the ring")
}

func TestReconfigureWhileRunning(t *testing.T) {
	drv := newScripted(1000, nil)
	in, err := Open(drv, testConfig(100))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	assert.ErrorIs(t, in.SetDelayTolerance(time.Millisecond), ErrState)
	assert.ErrorIs(t, in.SetTargetRate(50), ErrState)
	assert.ErrorIs(t, in.SetBufferTime(time.Second), ErrState)
	assert.ErrorIs(t, in.SetSettings(nvx.Settings{Rate: nvx.Rate10kHz}), ErrState)
	require.NoError(t, in.Stop())

	require.NoError(t, in.SetDelayTolerance(2*time.Millisecond))
	require.NoError(t, in.SetTargetRate(50))
	require.NoError(t, in.SetBufferTime(time.Second))
	assert.Equal(t, 2*time.Millisecond, in.DelayTolerance())
	assert.Equal(t, uint32(50), in.TargetRate())
	assert.Equal(t, time.Second, in.BufferTime())

	assert.ErrorIs(t, in.SetTargetRate(0), ErrConfiguration)
	assert.ErrorIs(t, in.SetBufferTime(0), ErrConfiguration)
	assert.ErrorIs(t, in.SetDelayTolerance(-time.Second), ErrConfiguration)
}

func TestStartRejectsUpsampling(t *testing.T) {
	drv := newScripted(1000, nil)
	in, err := Open(drv, testConfig(2000))
	require.NoError(t, err)
	defer in.Close()

	assert.ErrorIs(t, in.Start(), ErrConfiguration)
	assert.Equal(t, Stopped, in.State())
	assert.Equal(t, 0, drv.dev.starts, "no hardware start after a configuration error")
}

func TestStartHardwareFailure(t *testing.T) {
	drv := newScripted(1000, nil)
	drv.dev.startErr = &nvx.StatusError{Op: "Start", Status: nvx.StatusFail}
	in, err := Open(drv, testConfig(100))
	require.NoError(t, err)
	defer in.Close()

	assert.ErrorIs(t, in.Start(), ErrHardware)
	assert.Equal(t, Stopped, in.State())
	assert.False(t, in.Running())
}

func TestOpenValidation(t *testing.T) {
	drv := newScripted(1000, nil)
	bad := testConfig(0)
	_, err := Open(drv, bad)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 0, drv.opens, "configuration errors come before any driver call")

	c := testConfig(10)
	c.DeviceIndex = 3
	_, err = Open(drv, c)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Open(nil, testConfig(10))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestHardwareFaultEndsRun(t *testing.T) {
	drv := newScripted(1000, counterRange(0, 100))
	drv.dev.failAfter = 10
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	waitFor(t, "the fault", func() bool { return in.State() == Stopping })
	assert.False(t, in.Running())
	assert.ErrorIs(t, in.Err(), ErrHardware)
	var se *nvx.StatusError
	require.True(t, errors.As(in.Err(), &se))
	assert.Equal(t, nvx.StatusDataRate, se.Status)

	assert.ErrorIs(t, in.Start(), ErrState, "Start before the fault is cleared")
	assert.ErrorIs(t, in.Stop(), ErrHardware, "Stop reports the fault")
	assert.NoError(t, in.Stop())
	assert.Equal(t, 10, in.PullChunk().Len())

	drv.dev.Lock()
	drv.dev.failAfter = 0
	drv.dev.Unlock()
	require.NoError(t, in.Start())
	assert.NoError(t, in.Err())
	require.NoError(t, in.Stop())
}

func TestRingOverflowKeepsNewest(t *testing.T) {
	const N = 20
	drv := newScripted(100, counterRange(0, N))
	c := testConfig(100)
	c.BufferTime = 50 * time.Millisecond // 5 samples
	in, err := Open(drv, c)
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	waitFor(t, "all samples polled", func() bool { return in.Stats().Polled == N })
	require.NoError(t, in.Stop())
	assert.Equal(t, []uint32{15, 16, 17, 18, 19}, in.PullChunk().Counters())
	assert.Equal(t, uint64(15), in.Stats().Overwritten)
}

func TestCounterGapsAreCounted(t *testing.T) {
	drv := newScripted(1000, []uint32{0, 1, 2, 5, 6, 10})
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	waitFor(t, "all samples polled", func() bool { return in.Stats().Polled == 6 })
	require.NoError(t, in.Stop())
	stats := in.Stats()
	assert.Equal(t, uint64(2), stats.GapEvents)
	assert.Equal(t, uint64(2+3), stats.Lost)
	assert.Equal(t, []uint32{0, 1, 2, 5, 6, 10}, in.PullChunk().Counters())
}

func TestRestartClearsRing(t *testing.T) {
	drv := newScripted(1000, counterRange(0, 10))
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	require.NoError(t, in.Start())
	waitFor(t, "all samples polled", func() bool { return in.Stats().Polled == 10 })
	require.NoError(t, in.Stop())
	require.NoError(t, in.Start())
	require.NoError(t, in.Stop())
	assert.Empty(t, in.PullChunk())
}

func TestSettingsPassThrough(t *testing.T) {
	drv := newScripted(10000, nil)
	in, err := Open(drv, testConfig(1000))
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, uint32(10000), in.SourceRate())
	require.NoError(t, in.SetSettings(nvx.Settings{Rate: nvx.Rate50kHz, Decimation: nvx.Decimation10}))
	assert.Equal(t, uint32(5000), in.SourceRate(), "properties are re-read after new settings")
	s, err := in.Settings()
	require.NoError(t, err)
	assert.Equal(t, nvx.Rate50kHz, s.Rate)

	_, err = in.DataStatus()
	assert.NoError(t, err)
	_, err = in.ErrorStatus()
	assert.NoError(t, err)
	v, err := in.Version()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.DLL)
	assert.Equal(t, Layout{EEGCount: 4, AuxCount: 1}, in.Layout())
	assert.Equal(t, uint32(4), in.Properties().CountEEG)
}

func TestCloseStopsAndCloses(t *testing.T) {
	drv := newScripted(1000, nil)
	in, err := Open(drv, testConfig(100))
	require.NoError(t, err)
	require.NoError(t, in.Start())
	require.NoError(t, in.Close())
	assert.True(t, drv.dev.closed)
	assert.Equal(t, 1, drv.dev.stops)
	require.NoError(t, in.Close())
	assert.ErrorIs(t, in.Start(), ErrState)
}

type recordingObserver struct {
	sync.Mutex
	started, stopped []RunInfo
}

func (r *recordingObserver) RunStarted(info RunInfo) {
	r.Lock()
	defer r.Unlock()
	r.started = append(r.started, info)
}

func (r *recordingObserver) RunStopped(info RunInfo) {
	r.Lock()
	defer r.Unlock()
	r.stopped = append(r.stopped, info)
}

func TestEmulatorWithMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)
	observer := &recordingObserver{}

	c := testConfig(1000)
	c.Emulation = true
	driver, err := c.NewDriver(nil)
	require.NoError(t, err)
	in, err := Open(driver, c, WithMetrics(metrics), WithRunObserver(observer))
	require.NoError(t, err)
	defer in.Close()
	assert.Equal(t, Layout{EEGCount: 32, AuxCount: 8}, in.Layout())
	assert.Equal(t, uint32(10000), in.SourceRate())

	require.NoError(t, in.Start())
	waitFor(t, "accepted samples", func() bool { return in.Stats().Accepted >= 20 })
	require.NoError(t, in.Stop())
	chunk := in.PullChunk()
	require.GreaterOrEqual(t, chunk.Len(), 20)

	// The emulator counts from 0, so every tenth counter is kept.
	for _, counter := range chunk.Counters() {
		if counter%10 != 0 {
			t.Fatalf("kept counter %d at 10 kHz -> 1 kHz, want multiples of 10", counter)
		}
	}
	m := chunk.Matrix()
	rows, cols := m.Dims()
	assert.Equal(t, chunk.Len(), rows)
	assert.Equal(t, 40, cols)

	assert.Equal(t, float64(chunk.Len()), testutil.ToFloat64(metrics.accepted.WithLabelValues("0")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.pulls.WithLabelValues("0")))
	assert.Equal(t, float64(Stopped), testutil.ToFloat64(metrics.state.WithLabelValues("0")))

	observer.Lock()
	defer observer.Unlock()
	require.Len(t, observer.started, 1)
	require.Len(t, observer.stopped, 1)
	assert.Equal(t, uint32(1000), observer.stopped[0].TargetRate)
	assert.Equal(t, uint64(chunk.Len()), observer.stopped[0].Stats.Accepted)
	assert.NoError(t, observer.stopped[0].Err)
}
