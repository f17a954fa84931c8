package ds402

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReadFailure is generated when a status read fails or returns no
	// payload.  It is transient; the poller treats it as a non-matching read.
	ErrReadFailure = errors.New("status read failed")

	// ErrAlreadyClaimed is generated when a second session is requested on a
	// drive that already has one
	ErrAlreadyClaimed = errors.New("drive already has an active session")

	// ErrSessionReleased is generated when a session is used after DisableAndRelease
	ErrSessionReleased = errors.New("session has been released")

	// ErrNotEnabled is generated when motion is requested before the power
	// stage reached OperationEnabled
	ErrNotEnabled = errors.New("power stage is not in OperationEnabled")

	// ErrAlreadyEnabled is generated when EnablePowerStage is called on a
	// drive that is already in OperationEnabled
	ErrAlreadyEnabled = errors.New("power stage is already in OperationEnabled")
)

// TransportError wraps a failed read or write of a drive register
type TransportError struct {
	Op       string // "read" or "write"
	Register string
	Addr     Address
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s %v: %v", e.Op, e.Register, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodingError is generated when a value can not be packed or unpacked.
// It is always a programming or configuration error.
type EncodingError struct {
	Encoding Encoding
	Reason   string
}

func (e *EncodingError) Error() string {
	if e.Encoding == 0 {
		return "encoding: " + e.Reason
	}
	return fmt.Sprintf("encoding %s: %s", e.Encoding, e.Reason)
}

// StageTimeoutError is generated when a power stage transition is not
// confirmed by the status word before the deadline
type StageTimeoutError struct {
	Stage Stage

	// Status is the last status word read, valid if HaveStatus
	Status     StatusWord
	HaveStatus bool
}

func (e *StageTimeoutError) Error() string {
	if !e.HaveStatus {
		return fmt.Sprintf("timed out waiting for %s, status word never read", e.Stage.Target())
	}
	return fmt.Sprintf("timed out waiting for %s, last status word %#04x (%s)", e.Stage.Target(), uint16(e.Status), e.Status.PowerState())
}

// SetupFailure is one failed write during ClaimAndConfigure
type SetupFailure struct {
	Register string
	Err      error
}

// SetupError is generated by a FailFast ClaimAndConfigure
type SetupError struct {
	Failures []SetupFailure
}

func (e *SetupError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Register, f.Err)
	}
	return "setup failed: " + strings.Join(parts, "; ")
}

// Unwrap returns the first failure so that errors.As can find the TransportError
func (e *SetupError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}

// JogError is generated when every jog trigger attempt failed
type JogError struct {
	Attempts int
	Err      error
}

func (e *JogError) Error() string {
	return fmt.Sprintf("jog trigger failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *JogError) Unwrap() error { return e.Err }
