package nvxinlet

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// AcquisitionState is used to indicate the stopped/running/transition state of an Inlet
type AcquisitionState int

// Names for the possible values of AcquisitionState
const (
	Stopped  AcquisitionState = iota // Device is not acquiring
	Starting                         // Inlet is in transition to Running
	Running                          // Acquisition loop is pulling samples
	Stopping                         // Loop has ended (by request or by a fault) and the device awaits Stop
)

func (s AcquisitionState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("AcquisitionState(%d)", int(s))
}

// Stats counts what the acquisition loop has done since the last Start.
type Stats struct {
	Polled      uint64 // samples returned by the device
	EmptyPolls  uint64 // polls that found nothing pending
	Accepted    uint64 // samples kept by the rate converter
	Overwritten uint64 // accepted samples discarded because the ring was full
	GapEvents   uint64 // sequence counter discontinuities
	Lost        uint64 // counter values skipped by the hardware
}

// loopStats is the loop's view of Stats, readable from other goroutines.
type loopStats struct {
	polled, emptyPolls, accepted, overwritten, gapEvents, lost atomic.Uint64
}

func (ls *loopStats) snapshot() Stats {
	return Stats{
		Polled:      ls.polled.Load(),
		EmptyPolls:  ls.emptyPolls.Load(),
		Accepted:    ls.accepted.Load(),
		Overwritten: ls.overwritten.Load(),
		GapEvents:   ls.gapEvents.Load(),
		Lost:        ls.lost.Load(),
	}
}

func (ls *loopStats) reset() {
	ls.polled.Store(0)
	ls.emptyPolls.Store(0)
	ls.accepted.Store(0)
	ls.overwritten.Store(0)
	ls.gapEvents.Store(0)
	ls.lost.Store(0)
}

// acquisitionLoop polls the device until abort is closed or the device fails.
// It owns conv. The layout and rates it uses were fixed by Start and cannot
// change until the loop has been joined.
// This will be a long-running goroutine, as long as the Inlet is Running.
func (in *Inlet) acquisitionLoop(conv *RateConverter, abort <-chan struct{}) {
	defer in.runDone.Done()

	layout := in.layout
	size := layout.SampleSize()
	scratch := make([]byte, size)
	idle := time.NewTimer(in.delayTolerance)
	idle.Stop()
	defer idle.Stop()
	overflowReported := false

	for {
		select {
		case <-abort:
			return
		default:
		}

		n, err := in.device.NextSample(scratch)
		if err != nil {
			in.fail(fmt.Errorf("device %d NextSample: %w", in.index, err))
			return
		}
		if n == 0 {
			in.stats.emptyPolls.Add(1)
			inc(in.dm.emptyPolls)
			if !sleepOrAbort(idle, in.delayTolerance, abort) {
				return
			}
			continue
		}
		if n != size {
			in.fail(fmt.Errorf("device %d returned a %d-byte sample, layout %v needs %d: %w",
				in.index, n, layout, size, ErrHardware))
			return
		}
		in.stats.polled.Add(1)
		inc(in.dm.polls)

		s := Sample{raw: scratch, layout: layout}
		counter := s.Counter()
		gapsBefore, lostBefore := conv.Gaps()
		keep := conv.Accept(counter)
		if gaps, lost := conv.Gaps(); gaps != gapsBefore {
			in.stats.gapEvents.Add(1)
			in.stats.lost.Add(lost - lostBefore)
			inc(in.dm.gaps)
			add(in.dm.lost, float64(lost-lostBefore))
			ProblemLogger.Printf("device %d: sequence counter jumped to %d, %d sample(s) lost",
				in.index, counter, lost-lostBefore)
		}
		if !keep {
			inc(in.dm.rejected)
			continue
		}

		// The scratch buffer is reused, so stored samples get their own copy.
		raw := make([]byte, size)
		copy(raw, scratch)
		in.bufLock.Lock()
		overwrote := in.ring.Append(Sample{raw: raw, layout: layout})
		in.bufLock.Unlock()

		in.stats.accepted.Add(1)
		inc(in.dm.accepted)
		if overwrote {
			in.stats.overwritten.Add(1)
			inc(in.dm.overwritten)
			if !overflowReported {
				ProblemLogger.Printf("device %d: ring buffer full, oldest samples are being overwritten; pull more often or raise the buffer time",
					in.index)
				overflowReported = true
			}
		}
	}
}

// sleepOrAbort waits d, or less if abort closes first. It returns false on abort.
func sleepOrAbort(timer *time.Timer, d time.Duration, abort <-chan struct{}) bool {
	timer.Reset(d)
	select {
	case <-abort:
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

// fail ends the Running state after a hardware error. The device is left
// started; the next Stop stops it and returns err.
func (in *Inlet) fail(err error) {
	in.stateLock.Lock()
	defer in.stateLock.Unlock()
	in.fault = err
	in.state = Stopping
	inc(in.dm.faults)
	set(in.dm.state, float64(Stopping))
	ProblemLogger.Printf("acquisition stopped by hardware error: %v", err)
}

// closeIfOpen closes c unless that was already done.
func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
		log.Println("warning: tried to close the abort channel twice")
	default:
		close(c)
	}
}
