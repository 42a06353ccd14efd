package trtlite

import (
	"errors"
	"fmt"
)

// Status is a result code reported by the native runtime bridge. The numeric
// values are shared with trt_bridge.h.
type Status int

// status values returned by the native runtime
const (
	StatusSuccess         Status = 0
	StatusFail            Status = 1
	StatusParseFailed     Status = 2
	StatusBuildFailed     Status = 3
	StatusModelInvalid    Status = 4
	StatusVersionMismatch Status = 5
	StatusShapeInvalid    Status = 6
	StatusMallocFail      Status = 7
	StatusCopyFailed      Status = 8
	StatusEnqueueFailed   Status = 9
	StatusSyncFailed      Status = 10
	StatusParamInvalid    Status = 11
	StatusCtxInvalid      Status = 12
	StatusDeviceUnavail   Status = 13
)

// String returns a readable description of the status code
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "execution successful"
	case StatusFail:
		return "execution failed"
	case StatusParseFailed:
		return "graph file could not be parsed"
	case StatusBuildFailed:
		return "engine build failed"
	case StatusModelInvalid:
		return "engine blob is truncated or corrupt"
	case StatusVersionMismatch:
		return "engine was built for an incompatible runtime version"
	case StatusShapeInvalid:
		return "tensor shape is invalid for the active optimization profile"
	case StatusMallocFail:
		return "memory allocation failed"
	case StatusCopyFailed:
		return "memory copy failed"
	case StatusEnqueueFailed:
		return "enqueue of engine execution failed"
	case StatusSyncFailed:
		return "stream synchronization failed"
	case StatusParamInvalid:
		return "parameter is invalid"
	case StatusCtxInvalid:
		return "execution context is invalid"
	case StatusDeviceUnavail:
		return "device is unavailable"
	default:
		return fmt.Sprintf("unknown status code %d", int(s))
	}
}

var (
	// ErrParse is returned when a graph file cannot be parsed
	ErrParse = errors.New("graph parse failed")
	// ErrNoProfile is returned when a dynamic input has no optimization profile
	ErrNoProfile = errors.New("dynamic input requires an optimization profile")
	// ErrInvalidProfile is returned when a profile violates min <= opt <= max
	ErrInvalidProfile = errors.New("invalid optimization profile")
	// ErrDeserialize is returned when an engine blob cannot be loaded
	ErrDeserialize = errors.New("engine deserialization failed")
	// ErrNoBindings is returned for an engine without input or output bindings
	ErrNoBindings = errors.New("engine must declare at least one input and one output binding")
	// ErrShapeBinding is returned when a requested shape does not fit the
	// engine's bindings or profile
	ErrShapeBinding = errors.New("shape binding mismatch")
	// ErrExecution is returned when copying or executing on a stream fails
	ErrExecution = errors.New("execution failed")
	// ErrLabelNotFound is returned when a class index has no label
	ErrLabelNotFound = errors.New("label not found")
	// ErrMalformedLabel is returned for a label line without a comma
	ErrMalformedLabel = errors.New("malformed label line")
	// ErrClosed is returned when using a released handle
	ErrClosed = errors.New("handle already closed")
)

// NativeError carries the failure reported by the native runtime unchanged
type NativeError struct {
	// Op is the native call that failed
	Op string
	// Status is the bridge status code
	Status Status
	// Message is the runtime's own error text
	Message string
}

// Error formats the error the same way for every backend
func (e *NativeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with code %d, error: %s",
			e.Op, int(e.Status), e.Status.String())
	}

	return fmt.Sprintf("%s failed with code %d, error: %s: %s",
		e.Op, int(e.Status), e.Status.String(), e.Message)
}

// Unwrap maps the native status onto the package sentinel errors so callers
// can use errors.Is without losing the native message
func (e *NativeError) Unwrap() error {
	switch e.Status {
	case StatusParseFailed:
		return ErrParse
	case StatusModelInvalid, StatusVersionMismatch:
		return ErrDeserialize
	case StatusShapeInvalid:
		return ErrShapeBinding
	case StatusCopyFailed, StatusEnqueueFailed, StatusSyncFailed:
		return ErrExecution
	case StatusCtxInvalid:
		return ErrClosed
	default:
		return nil
	}
}

// nativeErr builds a NativeError
func nativeErr(op string, status Status, msg string) error {
	return &NativeError{Op: op, Status: status, Message: msg}
}
