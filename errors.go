package w5100

import (
	"errors"
	"strconv"
)

var (
	ErrNotInitialized = errors.New("w5100: device not initialized")
	ErrClosed         = errors.New("w5100: device closed")
	ErrTxTimeout      = errors.New("w5100: spi transaction timed out")
	ErrLockTimeout    = errors.New("w5100: timed out waiting for device lock")
	ErrAddrRange      = errors.New("w5100: access past end of address space")
	ErrNilBus         = errors.New("w5100: nil bus")
)

// OpError is returned by all Device operations. Addr is the register address
// being accessed when the error occurred, or zero for init/deinit.
type OpError struct {
	Op   string
	Addr uint16
	Err  error
}

func (e *OpError) Error() string {
	msg := "w5100 " + e.Op
	if e.Op == "read" || e.Op == "write" {
		msg += " 0x" + strconv.FormatUint(uint64(e.Addr), 16)
	}
	return msg + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// IsMisuse reports whether err was caused by the caller using the device
// incorrectly: before Init, after Deinit or with out of range addresses.
// The device remains usable after a misuse error.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrAddrRange)
}

// IsFatal reports whether err signals a bus or system fault. The state of the
// chip is unknown after a fatal error; upper layers usually reset it.
func IsFatal(err error) bool {
	return err != nil && !IsMisuse(err)
}

func opErr(op string, addr uint16, err error) error {
	return &OpError{Op: op, Addr: addr, Err: err}
}
