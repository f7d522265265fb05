package device

import "errors"

var (
	ErrAllocation       = errors.New("device model could not allocate an instance")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrOutOfBounds      = errors.New("access exceeds bank capacity")
	ErrMisalignedLength = errors.New("length is not a multiple of the word width")
	ErrNotReady         = errors.New("device has not been reset")
	ErrReleased         = errors.New("device already released")
	ErrInvalidCycles    = errors.New("cycle count must be positive")
	ErrValueRange       = errors.New("value does not fit register")
	ErrProtocol         = errors.New("device violated the handshake protocol")
)

// Error is returned by every Device operation. Err wraps one of the
// sentinel errors above; match with errors.Is.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "device: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
