package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gobmc/pkg/workflow"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2030-05-01T10:30:00+05:30", "20300501103000"},
		{"2030-05-01T10:30:00-0600", "20300501103000"},
		{"2030-05-01T10:30:00Z", "20300501103000"},
		{"20300501103000", "20300501103000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseScheduleTime("2030/05/01")
	require.Error(t, err)
	assert.True(t, workflow.IsValidation(err))
}

func TestScheduleFields(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.FixedZone("", -6*3600))

	fields, err := ScheduleFields("20300102000000", "20300103000000", now)
	require.NoError(t, err)
	assert.Equal(t, workflow.Payload{"ScheduledStartTime": "20300102000000", "UntilTime": "20300103000000"}, fields)

	_, err = ScheduleFields("20291231000000", "", now)
	require.Error(t, err)
	assert.Equal(t, "The specified scheduled time occurs in the past, provide a future time to schedule the job.", err.Error())

	_, err = ScheduleFields("20300105000000", "20300103000000", now)
	require.Error(t, err)
	assert.Equal(t, "The end time `20300103000000` to schedule the diagnostics must be greater than the start time `20300105000000`.", err.Error())
}

func TestScheduleFields_ComparesControllerWallClock(t *testing.T) {
	// 11:00 local on a UTC-6 controller is 17:00 UTC; 13:00 is still ahead of it.
	now := time.Date(2030, 1, 1, 11, 0, 0, 0, time.FixedZone("", -6*3600))
	fields, err := ScheduleFields("20300101130000", "", now)
	require.NoError(t, err)
	assert.Equal(t, "20300101130000", fields["ScheduledStartTime"])
}
