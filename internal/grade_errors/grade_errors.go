package gradeerrors

import (
	"fmt"

	"github.com/classgrade/gradepipe/internal/types"
)

// Carries an exit code along with an error so the app can exit correctly
type ExitError struct {
	Err  error
	Code int
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d", e.Code)
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Err.Error())
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Wrap an error with an exit code
func ExitErrorWrap(code int, err error) error {
	return ExitError{Code: code, Err: err}
}

// Marks a message that can never become a valid submission. Decode failures
// are terminal; the coordinator never retries them.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string {
	if e.Err == nil {
		return "undecodable message"
	}

	return fmt.Sprintf("undecodable message: %s", e.Err.Error())
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Wrap an error as a terminal decode failure
func DecodeErrorWrap(err error) error {
	return DecodeError{Err: err}
}

// Format a terminal decode failure
func DecodeErrorf(format string, a ...any) error {
	return DecodeError{Err: fmt.Errorf(format, a...)}
}

// Carries the reason a sandbox run failed on its own, as opposed to the
// submission failing the harness
type SandboxError struct {
	Err    error
	Reason types.ErrorReason
}

func (e SandboxError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}

	return fmt.Sprintf("%s: %s", e.Reason, e.Err.Error())
}

func (e SandboxError) Unwrap() error {
	return e.Err
}

// Wrap an error with the sandbox failure reason
func SandboxErrorWrap(reason types.ErrorReason, err error) error {
	return SandboxError{Reason: reason, Err: err}
}

// Marks a recorder operation that kept failing after its retry budget. The
// submission lands in the operator attention set.
type StorageUnavailableError struct {
	Err error
}

func (e StorageUnavailableError) Error() string {
	if e.Err == nil {
		return "storage unavailable"
	}

	return fmt.Sprintf("storage unavailable: %s", e.Err.Error())
}

func (e StorageUnavailableError) Unwrap() error {
	return e.Err
}

// Wrap an error as a storage availability failure
func StorageUnavailableWrap(err error) error {
	return StorageUnavailableError{Err: err}
}

// Distinguishes delivery trouble worth retrying from rejection by the target
type DispatchError struct {
	Err       error
	Transient bool
}

func (e DispatchError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient"
	}

	if e.Err == nil {
		return fmt.Sprintf("dispatch %s", kind)
	}

	return fmt.Sprintf("dispatch %s: %s", kind, e.Err.Error())
}

func (e DispatchError) Unwrap() error {
	return e.Err
}

// Wrap an error with its delivery classification
func DispatchErrorWrap(transient bool, err error) error {
	return DispatchError{Transient: transient, Err: err}
}
