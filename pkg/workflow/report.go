package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
)

// Result is the exit contract of every top-level operation.
type Result struct {
	Msg         string         `json:"msg"`
	Changed     bool           `json:"changed"`
	Failed      bool           `json:"failed"`
	Unreachable bool           `json:"unreachable,omitempty"`
	Skipped     bool           `json:"skipped,omitempty"`
	JobDetails  map[string]any `json:"job_details,omitempty"`

	// Artifacts are operation-specific keys emitted at the top level
	// (diagnostics_file_path, task, error_info, ...).
	Artifacts map[string]any `json:"-"`

	// Kind is the error classification when the result came from an error.
	Kind ErrorKind `json:"-"`
}

// MarshalJSON flattens Artifacts into the top-level object.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Artifacts) == 0 {
		return base, nil
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Artifacts {
		if _, reserved := merged[k]; !reserved {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// WithArtifact sets an artifact key and returns the result.
func (r Result) WithArtifact(key string, value any) Result {
	if r.Artifacts == nil {
		r.Artifacts = map[string]any{}
	}
	r.Artifacts[key] = value
	return r
}

// ErrorKind classifies an error for reporting.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindValidation          ErrorKind = "validation"
	KindUnsupportedFirmware ErrorKind = "unsupported_firmware"
	KindAlreadyRunning      ErrorKind = "already_running"
	KindInvalidTimeout      ErrorKind = "invalid_timeout"
	KindWaitTimeout         ErrorKind = "wait_timeout"
	KindUnreachable         ErrorKind = "unreachable"
	KindProvider            ErrorKind = "provider_error"
	KindFailed              ErrorKind = "failed"
)

// Classify maps err onto the error taxonomy. It never panics, whatever the
// HTTP error body contains.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case IsValidation(err):
		return KindValidation
	case IsUnsupportedFirmware(err):
		return KindUnsupportedFirmware
	case IsAlreadyRunning(err):
		return KindAlreadyRunning
	case IsInvalidTimeout(err):
		return KindInvalidTimeout
	case IsWaitTimeout(err):
		return KindWaitTimeout
	case transport.IsUnreachable(err):
		return KindUnreachable
	}
	if _, ok := AsProviderError(err); ok {
		return KindProvider
	}
	return KindFailed
}

// AsProviderError parses the vendor error body carried by an HTTP error.
func AsProviderError(err error) (*redfish.ProviderError, bool) {
	he, ok := transport.AsHTTPError(err)
	if !ok {
		return nil, false
	}
	return redfish.ParseErrorBody(he.StatusCode, he.Body)
}

// MessageOverride customizes how a vendor MessageId is reported.
type MessageOverride struct {
	// MessageID is matched as a substring of the vendor MessageId.
	MessageID string

	// Msg replaces the vendor message when set.
	Msg string

	// Skipped reports the override as a non-failure.
	Skipped bool
}

// ReportOptions configures Report.
type ReportOptions struct {
	// SuccessMsg is reported when the job completed, or when a synchronous
	// action returned.
	SuccessMsg string

	// SubmittedMsg is reported when the action was submitted but not waited on.
	SubmittedMsg string

	// CompletedWithErrorsMsg is reported for CompletedWithErrors jobs without a message.
	CompletedWithErrorsMsg string
}

// Report renders a job outcome. A nil or empty outcome means the action was
// submitted without waiting.
func Report(outcome *JobOutcome, opts ReportOptions) Result {
	if outcome == nil || outcome.Job.IsZero() {
		msg := opts.SubmittedMsg
		if msg == "" {
			msg = opts.SuccessMsg
		}
		return Result{Msg: msg, Changed: true}
	}

	job := outcome.Job
	details := job.Details()
	switch {
	case outcome.TimedOut:
		return Result{
			Msg:        (&WaitTimeoutError{Timeout: outcome.Timeout, Elapsed: outcome.Elapsed, Job: job}).Error(),
			Changed:    true,
			Failed:     true,
			JobDetails: details,
			Kind:       KindWaitTimeout,
		}
	case job.State.IsFailure():
		return Result{Msg: failureMsg(job), Failed: true, JobDetails: details, Kind: KindFailed}
	case job.State == JobStateCompletedWithErrors:
		msg := job.Message
		if msg == "" {
			msg = opts.CompletedWithErrorsMsg
		}
		if msg == "" {
			msg = failureMsg(job)
		}
		return Result{Msg: msg, Changed: true, Failed: true, JobDetails: details, Kind: KindFailed}
	case job.State.IsTerminal():
		return Result{Msg: opts.SuccessMsg, Changed: true, JobDetails: details}
	default:
		msg := opts.SubmittedMsg
		if msg == "" {
			msg = opts.SuccessMsg
		}
		return Result{Msg: msg, Changed: true, JobDetails: details}
	}
}

// MsgJobFailed is reported for a failed job that carries no message.
const MsgJobFailed = "The job has failed."

func failureMsg(job Job) string {
	switch {
	case job.Message != "":
		return job.Message
	case job.ID != "":
		return fmt.Sprintf("Job %s ended in state %s.", job.ID, job.State)
	case job.State != "":
		return fmt.Sprintf("The job ended in state %s.", job.State)
	default:
		return MsgJobFailed
	}
}

// ReportError translates an error into a Result. It is applied once, at the
// outermost boundary of a command.
func ReportError(err error, overrides ...MessageOverride) Result {
	kind := Classify(err)
	res := Result{Msg: errMessage(err), Failed: true, Kind: kind}

	switch kind {
	case KindNone:
		return Result{}
	case KindAlreadyRunning:
		res.Failed = false
		res.Skipped = true
		var are *AlreadyRunningError
		if errors.As(err, &are) {
			res.JobDetails = are.Job.Details()
		}
	case KindWaitTimeout:
		res.Changed = true
		var wte *WaitTimeoutError
		if errors.As(err, &wte) {
			res.JobDetails = wte.Job.Details()
		}
	case KindUnreachable:
		res.Failed = false
		res.Unreachable = true
	case KindProvider:
		pe, _ := AsProviderError(err)
		res.Msg = pe.Message
		if pe.Body != nil {
			res = res.WithArtifact("error_info", pe.Body)
		}
		for _, o := range overrides {
			if !pe.HasMessageID(o.MessageID) {
				continue
			}
			if o.Msg != "" {
				res.Msg = o.Msg
			}
			if o.Skipped {
				res.Failed = false
				res.Skipped = true
			}
			break
		}
	}
	return res
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
