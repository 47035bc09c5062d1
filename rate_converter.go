package nvxinlet

import (
	"fmt"
	"math/bits"
)

// RateConverter decides, one sample at a time, which samples to keep so that a
// stream at SourceRate is thinned to approximately TargetRate.
//
// The decision is keyed on the hardware sequence counter c, not on a local
// count of samples seen. Time is divided into buckets of width 1/TargetRate,
// bucket(c) = floor(c * TargetRate / SourceRate), and a sample is kept when it
// is the first counter value of its bucket. Over any N consecutive counter
// values, the number kept is within 1 of N*TargetRate/SourceRate, and samples
// lost in the hardware do not shift which later samples are kept.
//
// The 32-bit counter is extended to 64 bits across wraparound, so the bucket
// boundaries stay exact for the life of an acquisition.
//
// A RateConverter is not safe for concurrent use. The acquisition loop owns it.
type RateConverter struct {
	source uint64
	target uint64

	started  bool
	epoch    uint64 // number of times the 32-bit counter has wrapped
	previous uint32 // last counter seen

	total    uint64 // samples offered
	accepted uint64 // samples kept
	gaps     uint64 // gap events: counters that did not follow previous+1
	lost     uint64 // counter values skipped across all gaps
}

// NewRateConverter returns a converter from source to target samples per
// second. It fails with ErrConfiguration unless 0 < target <= source.
func NewRateConverter(source, target uint32) (*RateConverter, error) {
	if target == 0 {
		return nil, fmt.Errorf("target rate must be positive: %w", ErrConfiguration)
	}
	if source == 0 {
		return nil, fmt.Errorf("source rate must be positive: %w", ErrConfiguration)
	}
	if target > source {
		return nil, fmt.Errorf("target rate %d Hz exceeds source rate %d Hz (cannot upsample): %w",
			target, source, ErrConfiguration)
	}
	return &RateConverter{source: uint64(source), target: uint64(target)}, nil
}

// SourceRate returns the input rate in Hz.
func (rc *RateConverter) SourceRate() uint32 { return uint32(rc.source) }

// TargetRate returns the output rate in Hz.
func (rc *RateConverter) TargetRate() uint32 { return uint32(rc.target) }

// Ratio returns TargetRate/SourceRate.
func (rc *RateConverter) Ratio() float64 {
	return float64(rc.target) / float64(rc.source)
}

// bucket computes floor(c*target/source) without overflow. The quotient fits
// in 64 bits because target <= source.
func (rc *RateConverter) bucket(c uint64) uint64 {
	hi, lo := bits.Mul64(c, rc.target)
	q, _ := bits.Div64(hi, lo, rc.source)
	return q
}

// extend maps a 32-bit counter onto the 64-bit timeline and records any gap
// between it and the previous counter. It returns the gap length.
func (rc *RateConverter) extend(counter uint32) (ext uint64, skipped uint32) {
	if rc.started {
		if counter <= rc.previous {
			rc.epoch++
		}
		skipped = counter - rc.previous - 1
	}
	rc.started = true
	rc.previous = counter
	return rc.epoch<<32 | uint64(counter), skipped
}

// Accept reports whether the sample carrying this hardware counter should be
// kept. Counters must be offered in arrival order.
func (rc *RateConverter) Accept(counter uint32) bool {
	ext, skipped := rc.extend(counter)
	rc.total++
	if skipped > 0 {
		rc.gaps++
		rc.lost += uint64(skipped)
	}
	keep := rc.target == rc.source || ext == 0 || rc.bucket(ext) != rc.bucket(ext-1)
	if keep {
		rc.accepted++
	}
	return keep
}

// Reset forgets all counter history, as needed when acquisition restarts and
// the hardware counter starts over.
func (rc *RateConverter) Reset() {
	*rc = RateConverter{source: rc.source, target: rc.target}
}

// Total returns how many samples have been offered since the last Reset.
func (rc *RateConverter) Total() uint64 { return rc.total }

// Accepted returns how many samples have been kept since the last Reset.
func (rc *RateConverter) Accepted() uint64 { return rc.accepted }

// Gaps returns how many times the counter did not follow its predecessor by
// exactly one, and how many counter values were skipped in total.
func (rc *RateConverter) Gaps() (events, lost uint64) {
	return rc.gaps, rc.lost
}
