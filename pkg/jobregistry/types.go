package jobregistry

import (
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// State is the registry's view of a submitted controller job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type State string

const (
	StateSubmitted State = "submitted"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateUnknown   State = "unknown"
)

// Terminal reports whether no further polling is useful.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Decoder names select how the controller job document is read.
const (
	DecoderDell = "dell"
	DecoderTask = "task"
	DecoderOME  = "ome"
)

// JobDecoder returns the workflow decoder for name. Unknown names use the
// Dell decoder, which falls back to Redfish tasks.
func JobDecoder(name string) workflow.JobDecoder {
	switch name {
	case DecoderOME:
		return workflow.DecodeOMEJob
	case DecoderTask:
		return workflow.DecodeTask
	default:
		return workflow.DecodeDellJob
	}
}

// Record is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Operation string `json:"operation"`
	State     State  `json:"state"`

	// JobURI is the controller resource polled for status.
	JobURI          string `json:"job_uri"`
	ControllerJobID string `json:"controller_job_id,omitempty"`
	Decoder         string `json:"decoder,omitempty"`

	ControllerState string `json:"controller_state,omitempty"`
	Message         string `json:"message,omitempty"`
	PercentComplete *int   `json:"percent_complete,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	LastPolled *time.Time `json:"last_polled,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	// WaiterPID is the background `jobs wait` process, if any.
	WaiterPID  int    `json:"waiter_pid,omitempty"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
}

// Observe copies a polled job snapshot into r.
func (r *Record) Observe(job workflow.Job, now time.Time) {
	now = now.UTC()
	r.ControllerState = string(job.State)
	r.Message = job.Message
	r.PercentComplete = job.PercentComplete
	r.LastPolled = &now
	if job.ID != "" {
		r.ControllerJobID = job.ID
	}
	switch {
	case job.State.IsFailure(), job.State == workflow.JobStateCompletedWithErrors:
		r.State = StateFailed
	case job.State.IsTerminal():
		r.State = StateCompleted
	default:
		return
	}
	r.EndedAt = &now
}
