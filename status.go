package nvxinlet

// StatusWord holds the 32-bit status field of one sample. Bits 0-7 are the
// input trigger lines and bits 8-15 the output trigger lines; bits 16-31 are
// reserved. Trigger i is assumed to be bit i (resp. 8+i), lowest bit first.
type StatusWord uint32

// NumTriggers is the number of input (and of output) trigger lines.
const NumTriggers = 8

const (
	inputTriggerShift  = 0
	outputTriggerShift = 8
	triggerMask        = 0xff
)

// InputTriggers returns all 8 input trigger lines as one byte.
func (s StatusWord) InputTriggers() uint8 {
	return uint8((uint32(s) >> inputTriggerShift) & triggerMask)
}

// OutputTriggers returns all 8 output trigger lines as one byte.
func (s StatusWord) OutputTriggers() uint8 {
	return uint8((uint32(s) >> outputTriggerShift) & triggerMask)
}

// Reserved returns the upper 16 bits.
func (s StatusWord) Reserved() uint16 {
	return uint16(uint32(s) >> 16)
}

// InputTrigger reports input trigger line i, with no range check: i must be in [0,8).
func (s StatusWord) InputTrigger(i uint) bool {
	return s.InputTriggers()&(1<<i) != 0
}

// OutputTrigger reports output trigger line i, with no range check: i must be in [0,8).
func (s StatusWord) OutputTrigger(i uint) bool {
	return s.OutputTriggers()&(1<<i) != 0
}

// NewStatusWord builds a status word from input and output trigger bytes.
func NewStatusWord(in, out uint8) StatusWord {
	return StatusWord(uint32(in)<<inputTriggerShift | uint32(out)<<outputTriggerShift)
}
