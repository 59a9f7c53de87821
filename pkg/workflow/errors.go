package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Sentinel errors for workflow operations.
var (
	// ErrValidation indicates an invalid or incomplete parameter combination.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedFirmware indicates the controller does not expose the action target.
	ErrUnsupportedFirmware = errors.New("unsupported firmware")

	// ErrAlreadyRunning indicates an equivalent job is already queued or running.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrInvalidTimeout indicates a non-positive wait timeout.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrWaitTimeout indicates a job did not reach a terminal state in time.
	ErrWaitTimeout = errors.New("wait timeout")
)

// MsgInvalidTimeout is reported for a non-positive wait timeout.
const MsgInvalidTimeout = "The parameter `job_wait_timeout` value cannot be negative or zero."

// ValidationError reports a bad input combination detected before any network call.
type ValidationError struct {
	// Field is the offending parameter, if a single one applies.
	Field string

	// Message is the user-facing text.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// FieldName returns the offending parameter, or "".
func (e *ValidationError) FieldName() string {
	return e.Field
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedFirmwareError reports a missing action target.
type UnsupportedFirmwareError struct {
	// Message is the user-facing text.
	Message string

	// Err is the underlying discovery failure.
	Err error
}

// Error implements the error interface.
func (e *UnsupportedFirmwareError) Error() string {
	return e.Message
}

// Unwrap returns the discovery failure.
func (e *UnsupportedFirmwareError) Unwrap() error {
	return e.Err
}

// Is matches ErrUnsupportedFirmware.
func (e *UnsupportedFirmwareError) Is(target error) bool {
	return target == ErrUnsupportedFirmware
}

// AlreadyRunningError reports a conflicting job found before submission.
type AlreadyRunningError struct {
	Message string
	Job     Job
}

// Error implements the error interface.
func (e *AlreadyRunningError) Error() string {
	return e.Message
}

// Unwrap returns ErrAlreadyRunning.
func (e *AlreadyRunningError) Unwrap() error {
	return ErrAlreadyRunning
}

// InvalidTimeoutError reports a non-positive wait timeout.
type InvalidTimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e *InvalidTimeoutError) Error() string {
	return MsgInvalidTimeout
}

// Unwrap returns ErrInvalidTimeout.
func (e *InvalidTimeoutError) Unwrap() error {
	return ErrInvalidTimeout
}

// WaitTimeoutError reports that polling gave up. The remote job is not
// cancelled and may still complete.
type WaitTimeoutError struct {
	// Timeout is the configured wait timeout.
	Timeout time.Duration

	// Elapsed is the time spent polling.
	Elapsed time.Duration

	// Job is the last observed job state.
	Job Job

	// Message overrides the default text when set.
	Message string
}

// Error implements the error interface. The text always carries the
// configured timeout unless overridden.
func (e *WaitTimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("The job is not complete after %s seconds.", formatSeconds(e.Timeout))
}

// Unwrap returns ErrWaitTimeout.
func (e *WaitTimeoutError) Unwrap() error {
	return ErrWaitTimeout
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// IsValidation returns true if err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnsupportedFirmware returns true if the action target was not discoverable.
func IsUnsupportedFirmware(err error) bool {
	return errors.Is(err, ErrUnsupportedFirmware)
}

// IsAlreadyRunning returns true if a conflicting job exists.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

// IsInvalidTimeout returns true if the wait timeout was non-positive.
func IsInvalidTimeout(err error) bool {
	return errors.Is(err, ErrInvalidTimeout)
}

// IsWaitTimeout returns true if polling gave up before a terminal state.
func IsWaitTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}
