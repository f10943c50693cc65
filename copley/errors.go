package copley

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is generated when a response cannot be parsed
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTimeout is generated when the drive does not answer in time, or a
	// polled condition does not arrive within the poll budget
	ErrTimeout = errors.New("timeout")

	// ErrRejected is generated when the drive answers "e <code>"
	ErrRejected = errors.New("command rejected by drive")

	// ErrUnknownMode is generated when a mode name has no profile
	ErrUnknownMode = errors.New("unknown mode")

	// ErrConvergenceTimeout is generated when a parameter readback never
	// matches what was written
	ErrConvergenceTimeout = errors.New("parameter did not converge")

	// ErrInvalidConfig is generated when a Config fails validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOutOfBounds is generated when a target violates the axis limits
	ErrOutOfBounds = errors.New("target outside axis limits")

	// ErrAborted is generated when the drive reports the move was aborted,
	// or a move is requested before the abort was cleared
	ErrAborted = errors.New("move aborted")

	// ErrFaulted is generated when a latching fault is active
	ErrFaulted = errors.New("drive faulted")

	// ErrNotReady is generated when motion is requested before Initialize
	ErrNotReady = errors.New("controller not initialized")

	// ErrHomingFailed is generated when the drive sets the homing error bit
	ErrHomingFailed = errors.New("homing failed")

	// ErrBusy is generated when an operation is requested in a state that
	// does not permit it
	ErrBusy = errors.New("operation not permitted in current state")
)

// TransportError is a failure of the CommandChannel other than a timeout
type TransportError struct {
	Cmd string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("copley: transport failure sending %q: %v", e.Cmd, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a response that could not be used: malformed, missing
// (timeout) or a rejection from the drive
type ProtocolError struct {
	Cmd  string
	Resp string

	// Code is the drive's error code when Err is ErrRejected
	Code int
	Err  error
}

func (e *ProtocolError) Error() string {
	switch {
	case errors.Is(e.Err, ErrRejected):
		return fmt.Sprintf("copley: %q rejected, e %d - %s", e.Cmd, e.Code, DescribeErrorCode(e.Code))
	case errors.Is(e.Err, ErrTimeout):
		return fmt.Sprintf("copley: no response to %q", e.Cmd)
	default:
		return fmt.Sprintf("copley: %v to %q: %q", e.Err, e.Cmd, e.Resp)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigError is a failure to look up or apply a mode profile
type ConfigError struct {
	Mode  string
	Param string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("copley: mode %q: %v", e.Mode, e.Err)
	}
	return fmt.Sprintf("copley: mode %q, %s: %v", e.Mode, e.Param, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MotionError is a failed or refused motion command
type MotionError struct {
	Op    string
	State State
	Err   error
}

func (e *MotionError) Error() string {
	return fmt.Sprintf("copley: %s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *MotionError) Unwrap() error { return e.Err }

// InitError is a fatal failure during Initialize
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("copley: initialize failed at %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// FaultError carries the decoded fault register that put the controller in
// the Faulted state
type FaultError struct {
	Faults Snapshot
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("copley: latching fault active: %v", e.Faults.Descriptions())
}

// Is makes errors.Is(err, ErrFaulted) true for a FaultError
func (e *FaultError) Is(target error) bool { return target == ErrFaulted }
