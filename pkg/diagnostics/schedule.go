package diagnostics

import (
	"fmt"
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// ScheduleLayout is the wire format of ScheduledStartTime and UntilTime.
const ScheduleLayout = "20060102150405"

const (
	msgStartInPast    = "The specified scheduled time occurs in the past, provide a future time to schedule the job."
	msgInvalidTime    = "The specified date and time `%s` to schedule the diagnostics is not valid. Enter a valid date and time."
	msgEndBeforeStart = "The end time `%s` to schedule the diagnostics must be greater than the start time `%s`."
)

var offsetLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z07:00",
}

// ParseScheduleTime accepts an offset timestamp or YYYYMMDDhhmmss and returns
// the wall-clock value in ScheduleLayout. The offset is dropped; the
// controller interprets the value in its own time zone.
func ParseScheduleTime(value string) (string, error) {
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(ScheduleLayout), nil
		}
	}
	if t, err := time.Parse(ScheduleLayout, value); err == nil {
		return t.Format(ScheduleLayout), nil
	}
	return "", workflow.Validationf("scheduled_start_time", msgInvalidTime, value)
}

// ScheduleFields validates the schedule against the controller clock and
// returns the payload fields to merge into the run request.
func ScheduleFields(start, end string, controllerNow time.Time) (workflow.Payload, error) {
	fields := workflow.Payload{}
	now := wallClock(controllerNow)

	var startT, endT time.Time
	if start != "" {
		s, err := ParseScheduleTime(start)
		if err != nil {
			return nil, err
		}
		startT, _ = time.Parse(ScheduleLayout, s)
		if startT.Before(now) {
			return nil, workflow.Validationf("scheduled_start_time", msgStartInPast)
		}
		fields["ScheduledStartTime"] = s
	}
	if end != "" {
		e, err := ParseScheduleTime(end)
		if err != nil {
			return nil, err
		}
		endT, _ = time.Parse(ScheduleLayout, e)
		if endT.Before(now) {
			return nil, workflow.Validationf("scheduled_end_time", msgStartInPast)
		}
		fields["UntilTime"] = e
	}
	if start != "" && end != "" && startT.After(endT) {
		return nil, &workflow.ValidationError{
			Field:   "scheduled_end_time",
			Message: fmt.Sprintf(msgEndBeforeStart, fields["UntilTime"], fields["ScheduledStartTime"]),
		}
	}
	return fields, nil
}

// wallClock drops the zone of t, keeping its local reading.
func wallClock(t time.Time) time.Time {
	w, _ := time.Parse(ScheduleLayout, t.Format(ScheduleLayout))
	return w
}
