package nvx

import (
	"errors"
	"fmt"
)

// ErrHardware is matched (via errors.Is) by every failure reported by the driver.
var ErrHardware = errors.New("hardware error")

// Status is a return code of a driver call.
type Status int32

// Status codes defined by the driver header.
const (
	StatusOK            Status = 0
	StatusInvalidHandle Status = -1
	StatusInvalidParam  Status = -2
	StatusFail          Status = -3
	StatusDataRate      Status = -4
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusInvalidParam:
		return "invalid function parameter(s)"
	case StatusFail:
		return "function fail (internal error)"
	case StatusDataRate:
		return "data rate error"
	}
	return fmt.Sprintf("unknown status %d", int32(s))
}

// StatusError carries a failing Status together with the call that produced it.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nvx %s: %s", e.Op, e.Status)
}

// Is lets errors.Is(err, ErrHardware) succeed for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrHardware
}

// CheckStatus converts a raw driver return code into an error. Non-negative
// codes are successes (NextSample returns a byte count there).
func CheckStatus(op string, code int) error {
	if code >= 0 {
		return nil
	}
	return &StatusError{Op: op, Status: Status(code)}
}
