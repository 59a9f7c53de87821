// Package workflow implements the job-oriented state-change workflow shared by
// every controller operation: check-mode gating, action submission, job polling
// and result reporting.
package workflow

import (
	"strconv"
	"strings"

	"github.com/3leaps/gobmc/pkg/redfish"
)

// JobState is the lifecycle state of a controller job.
type JobState string

const (
	JobStateNew                 JobState = "New"
	JobStateScheduled           JobState = "Scheduled"
	JobStateScheduling          JobState = "Scheduling"
	JobStateQueued              JobState = "Queued"
	JobStateStarting            JobState = "Starting"
	JobStateRunning             JobState = "Running"
	JobStateDownloading         JobState = "Downloading"
	JobStateWaiting             JobState = "Waiting"
	JobStateReadyForExecution   JobState = "ReadyForExecution"
	JobStatePendingActivation   JobState = "PendingActivation"
	JobStatePaused              JobState = "Paused"
	JobStateCompleted           JobState = "Completed"
	JobStateCompletedWithErrors JobState = "CompletedWithErrors"
	JobStateFailed              JobState = "Failed"
	JobStateException           JobState = "Exception"
	JobStateKilled              JobState = "Killed"
	JobStateCancelled           JobState = "Cancelled"
	JobStateAborted             JobState = "Aborted"
	JobStateStopped             JobState = "Stopped"
)

var failureStates = map[JobState]bool{
	JobStateFailed:    true,
	JobStateException: true,
	JobStateKilled:    true,
	JobStateCancelled: true,
	JobStateAborted:   true,
	JobStateStopped:   true,
}

// IsTerminal reports whether no further transitions are expected.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateCompletedWithErrors || failureStates[s]
}

// IsFailure reports whether s is a terminal failure.
func (s JobState) IsFailure() bool {
	return failureStates[s]
}

// IsActive reports whether the job is queued or executing. Used by the
// pre-existing job checks.
func (s JobState) IsActive() bool {
	switch s {
	case JobStateNew, JobStateScheduled, JobStateScheduling, JobStateQueued,
		JobStateStarting, JobStateRunning, JobStateDownloading, JobStateWaiting,
		JobStateReadyForExecution:
		return true
	}
	return false
}

// Job is a snapshot of an asynchronous controller operation.
type Job struct {
	ID              string
	State           JobState
	Message         string
	MessageID       string
	JobType         string
	PercentComplete *int

	// Raw is the job document with @odata keys removed.
	Raw map[string]any
}

// IsZero reports whether no job was observed.
func (j Job) IsZero() bool {
	return j.ID == "" && j.State == "" && j.Raw == nil
}

// Details returns the job document for reporting.
func (j Job) Details() map[string]any {
	if j.Raw != nil {
		return j.Raw
	}
	if j.IsZero() {
		return nil
	}
	d := map[string]any{"Id": j.ID, "JobState": string(j.State), "Message": j.Message}
	if j.PercentComplete != nil {
		d["PercentComplete"] = *j.PercentComplete
	}
	return d
}

// JobDecoder converts a job document into a Job.
type JobDecoder func(doc map[string]any) Job

// DecodeDellJob decodes an iDRAC DellJob (Oem/Dell/Jobs/<id>) document. Redfish
// TaskService tasks are accepted too.
func DecodeDellJob(doc map[string]any) Job {
	if _, ok := doc["JobState"]; !ok {
		if _, isTask := doc["TaskState"]; isTask {
			return DecodeTask(doc)
		}
	}
	j := Job{
		ID:        redfish.String(doc, "Id"),
		State:     normalizeState(redfish.String(doc, "JobState")),
		Message:   redfish.String(doc, "Message"),
		MessageID: redfish.String(doc, "MessageId"),
		JobType:   redfish.String(doc, "JobType"),
		Raw:       redfish.StripOData(doc),
	}
	if pc, ok := redfish.Int(doc, "PercentComplete"); ok {
		j.PercentComplete = &pc
	}
	return j
}

// DecodeTask decodes a Redfish TaskService task document.
func DecodeTask(doc map[string]any) Job {
	j := Job{
		ID:    redfish.String(doc, "Id"),
		State: normalizeState(redfish.String(doc, "TaskState")),
		Raw:   redfish.StripOData(doc),
	}
	if msgs, ok := doc["Messages"].([]any); ok && len(msgs) > 0 {
		if first, ok := msgs[0].(map[string]any); ok {
			j.Message = redfish.String(first, "Message")
			j.MessageID = redfish.String(first, "MessageId")
		}
	}
	if pc, ok := redfish.Int(doc, "PercentComplete"); ok {
		j.PercentComplete = &pc
	}
	return j
}

// OME LastRunStatus ids.
var omeStatus = map[int]JobState{
	2020: JobStateScheduled,
	2030: JobStateQueued,
	2040: JobStateStarting,
	2050: JobStateRunning,
	2060: JobStateCompleted,
	2070: JobStateFailed,
	2080: JobStateNew,
	2090: JobStateCompletedWithErrors,
	2100: JobStateAborted,
	2101: JobStatePaused,
	2102: JobStateStopped,
	2103: JobStateCancelled,
}

// OMEJobState maps an OME LastRunStatus id to a JobState.
func OMEJobState(id int) (JobState, bool) {
	s, ok := omeStatus[id]
	return s, ok
}

// DecodeOMEJob decodes an OME /api/JobService/Jobs(<id>) document.
func DecodeOMEJob(doc map[string]any) Job {
	j := Job{
		JobType: redfish.String(doc, "JobType", "Name"),
		Raw:     redfish.StripOData(doc),
	}
	if id, ok := redfish.Int(doc, "Id"); ok {
		j.ID = strconv.Itoa(id)
	} else {
		j.ID = redfish.String(doc, "Id")
	}
	if id, ok := redfish.Int(doc, "LastRunStatus", "Id"); ok {
		if s, known := OMEJobState(id); known {
			j.State = s
		}
	}
	if j.State == "" {
		j.State = normalizeState(redfish.String(doc, "LastRunStatus", "Name"))
	}
	j.Message = redfish.String(doc, "JobDescription")
	if j.State.IsFailure() || j.State == JobStateCompletedWithErrors {
		if name := redfish.String(doc, "JobName"); name != "" {
			j.Message = "Job " + name + " finished with state " + string(j.State) + "."
		}
	}
	return j
}

var stateAliases = map[string]JobState{
	"canceled":  JobStateCancelled,
	"completed": JobStateCompleted,
	"failed":    JobStateFailed,
	"running":   JobStateRunning,
	"new":       JobStateNew,
	"scheduled": JobStateScheduled,
	"warning":   JobStateCompletedWithErrors,
}

func normalizeState(s string) JobState {
	s = strings.TrimSpace(s)
	if alias, ok := stateAliases[strings.ToLower(s)]; ok {
		return alias
	}
	return JobState(s)
}
