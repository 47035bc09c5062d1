package nvxinlet

import (
	"errors"
	"fmt"

	"github.com/usnistgov/nvxinlet/nvx"
	"github.com/usnistgov/nvxinlet/ringbuffer"
)

// Error kinds. Every error returned by this package wraps exactly one of these,
// so callers can classify failures with errors.Is.
var (
	// ErrConfiguration marks an invalid rate, buffer time, channel name or index.
	ErrConfiguration = errors.New("configuration error")

	// ErrState marks an operation that is not valid in the current acquisition state.
	ErrState = errors.New("acquisition state error")

	// ErrHardware marks a failure reported by the driver boundary.
	ErrHardware = nvx.ErrHardware

	// ErrBounds marks an index outside the valid range of a channel, trigger or ring.
	ErrBounds = ringbuffer.ErrOutOfRange
)

// ErrUnknownChannel is returned by Sample.ChannelByName for names not in the table.
var ErrUnknownChannel = fmt.Errorf("unknown channel name: %w", ErrConfiguration)
