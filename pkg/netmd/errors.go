package netmd

import (
	"errors"
	"fmt"
)

// Device status byte values, the first byte of every control reply.
const (
	statusNotImplemented byte = 0x08
	statusAccepted       byte = 0x09
	statusRejected       byte = 0x0a
	statusImplemented    byte = 0x0c
	statusInterim        byte = 0x0f
)

// ErrNoDevice is returned by Open when the requested recorder is not
// attached. An empty Enumerate result is itself a normal outcome and is
// not reported with this error.
var ErrNoDevice = errors.New("no NetMD devices found")

// StatusError represents a device-level protocol failure: the recorder
// answered with a status byte other than accepted/implemented/interim.
type StatusError struct {
	Status byte // raw device status byte
}

func (e *StatusError) Error() string {
	switch e.Status {
	case statusNotImplemented:
		return "netmd: command not implemented"
	case statusRejected:
		return "netmd: command rejected"
	default:
		return fmt.Sprintf("netmd: unexpected status byte 0x%02x", e.Status)
	}
}

// IsNotImplemented reports whether err is a StatusError for status 0x08.
func IsNotImplemented(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == statusNotImplemented
}

// IsRejected reports whether err is a StatusError for status 0x0a.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == statusRejected
}

// ProtocolError represents a mismatch between an expected literal pattern
// and the bytes actually returned by the device, or a response that was not
// fully consumed by its pattern.
type ProtocolError struct {
	Offset   int
	Expected byte
	Actual   byte
	Message  string // set instead of Offset/Expected/Actual for non-byte mismatches
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("netmd: protocol mismatch: %s", e.Message)
	}
	return fmt.Sprintf("netmd: protocol mismatch at offset %d: expected 0x%02x, got 0x%02x",
		e.Offset, e.Expected, e.Actual)
}

// ArgumentError represents an invalid caller-supplied argument: a nonce or
// key of the wrong length, a depth out of range, or a value that cannot be
// represented in BCD.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return "netmd: invalid argument: " + e.Message
}
