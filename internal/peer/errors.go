package peer

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("negotiation closed")
	ErrUnexpectedSignal  = errors.New("unexpected signal for state")
	ErrNegotiationFailed = errors.New("peer connection failed")
	ErrPeerLeft          = errors.New("peer disconnected")
	ErrNoScreen          = errors.New("no screen track available")
	ErrNoAudio           = errors.New("no outgoing audio")
	ErrNoVideo           = errors.New("no outgoing video")
	ErrBadPayload        = errors.New("malformed negotiation payload")
)

// NegotiationError wraps a failed step of the handshake.
type NegotiationError struct {
	Op      string
	Err     error
	Details string
}

func (e *NegotiationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *NegotiationError {
	return &NegotiationError{Op: op, Err: err, Details: details}
}

// DeviceErrorKind classifies a failed media acquisition.
type DeviceErrorKind int

const (
	DeviceUnknown DeviceErrorKind = iota
	DeviceBusy
	DevicePermissionDenied
)

func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceBusy:
		return "busy"
	case DevicePermissionDenied:
		return "permission denied"
	}
	return "unknown"
}

// DeviceError reports that a camera, microphone or screen could not be
// acquired. It is raised before any negotiation starts.
type DeviceError struct {
	Device string
	Kind   DeviceErrorKind
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.Device, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Hint is a user-facing suggestion for the failure.
func (e *DeviceError) Hint() string {
	switch e.Kind {
	case DeviceBusy:
		return fmt.Sprintf("The %s is in use by another application. Close it and try again.", e.Device)
	case DevicePermissionDenied:
		return fmt.Sprintf("Access to the %s was denied. Grant permission and try again.", e.Device)
	}
	return fmt.Sprintf("The %s could not be started.", e.Device)
}
