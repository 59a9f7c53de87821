// Package output provides JSONL output for controller operations.
//
// Output is structured as typed record envelopes containing results,
// job snapshots, preflight checks and errors. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: gobmc.<type>.v<version>
const (
	// TypeResult identifies operation result records.
	TypeResult = "gobmc.result.v1"

	// TypeJob identifies job snapshot records emitted while polling.
	TypeJob = "gobmc.job.v1"

	// TypeError identifies error records.
	TypeError = "gobmc.error.v1"

	// TypePreflight identifies preflight check records.
	TypePreflight = "gobmc.preflight.v1"

	// TypeSummary identifies task-file summary records.
	TypeSummary = "gobmc.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "gobmc.result.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// InvocationID correlates all records of one command invocation.
	InvocationID string `json:"invocation_id"`

	// Target is the controller address.
	Target string `json:"target"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ResultRecord is the data payload for a finished operation.
type ResultRecord struct {
	// Operation names what was run (e.g., "diagnostics", "storage-controller/ReKey").
	Operation string `json:"operation"`

	CheckMode bool `json:"check_mode,omitempty"`

	// Result is the flattened exit result.
	Result workflow.Result `json:"result"`
}

// JobRecord is a snapshot of a tracked job.
type JobRecord struct {
	JobID           string `json:"job_id"`
	URI             string `json:"uri,omitempty"`
	State           string `json:"state"`
	Message         string `json:"message,omitempty"`
	PercentComplete *int   `json:"percent_complete,omitempty"`
}

// JobRecordFrom converts a polled job.
func JobRecordFrom(uri string, j workflow.Job) *JobRecord {
	return &JobRecord{
		JobID:           j.ID,
		URI:             uri,
		State:           string(j.State),
		Message:         j.Message,
		PercentComplete: j.PercentComplete,
	}
}

// PreflightRecord is the data payload for preflight checks.
//
// Preflight records are emitted before any state-changing request. They
// state what was checked and whether it passed.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Target  string                 `json:"target,omitempty"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Operation is the operation that failed, if applicable.
	Operation string `json:"operation,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeValidation          = "VALIDATION"
	ErrCodeUnsupportedFirmware = "UNSUPPORTED_FIRMWARE"
	ErrCodeAlreadyRunning      = "ALREADY_RUNNING"
	ErrCodeInvalidTimeout      = "INVALID_TIMEOUT"
	ErrCodeWaitTimeout         = "WAIT_TIMEOUT"
	ErrCodeUnreachable         = "UNREACHABLE"
	ErrCodeProvider            = "PROVIDER_ERROR"

	// ErrCodeAccessDenied indicates an authentication or permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the resource was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

var kindCodes = map[workflow.ErrorKind]string{
	workflow.KindValidation:          ErrCodeValidation,
	workflow.KindUnsupportedFirmware: ErrCodeUnsupportedFirmware,
	workflow.KindAlreadyRunning:      ErrCodeAlreadyRunning,
	workflow.KindInvalidTimeout:      ErrCodeInvalidTimeout,
	workflow.KindWaitTimeout:         ErrCodeWaitTimeout,
	workflow.KindUnreachable:         ErrCodeUnreachable,
	workflow.KindProvider:            ErrCodeProvider,
}

// ErrorCode maps an error onto a stable code.
func ErrorCode(err error) string {
	if code, ok := statusCode(err); ok {
		return code
	}
	if code, ok := kindCodes[workflow.Classify(err)]; ok {
		return code
	}
	return ErrCodeInternal
}

// ErrorRecordFrom builds an error record for operation.
func ErrorRecordFrom(operation string, err error) *ErrorRecord {
	rec := &ErrorRecord{Code: ErrorCode(err), Message: err.Error(), Operation: operation}
	if pe, ok := workflow.AsProviderError(err); ok {
		rec.Message = pe.Message
		rec.Details = pe.Body
	}
	return rec
}

// SummaryRecord is emitted at the end of a task file run.
type SummaryRecord struct {
	Steps   int `json:"steps"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
