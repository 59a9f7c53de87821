package jobregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gobmc/pkg/workflow"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	pc := 40
	rec := &Record{
		ID:              "job-1",
		Host:            "192.168.0.1",
		Operation:       "diagnostics.run",
		State:           StateSubmitted,
		JobURI:          "/redfish/v1/Managers/iDRAC.Embedded.1/Oem/Dell/Jobs/JID_1",
		ControllerJobID: "JID_1",
		PercentComplete: &pc,
		CreatedAt:       now,
	}
	require.NoError(t, s.Write(rec))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.JobURI, got.JobURI)
	assert.Equal(t, StateSubmitted, got.State)
	require.NotNil(t, got.PercentComplete)
	assert.Equal(t, 40, *got.PercentComplete)
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write(&Record{ID: "job-1", State: StateSubmitted, JobURI: "/a", CreatedAt: t1}))
	require.NoError(t, s.Write(&Record{ID: "job-2", State: StateSubmitted, JobURI: "/b", CreatedAt: t2}))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "job-2", got[0].ID)
}

func TestStore_DeadWaiterIsReleased(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(&Record{ID: "job-1", State: StateWaiting, WaiterPID: 1 << 30, JobURI: "/a"}))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, got.State)
	assert.Zero(t, got.WaiterPID)
}

func TestStore_WaitingWithoutWaiterIsReleased(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(&Record{ID: "job-1", State: StateWaiting, JobURI: "/a"}))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, got.State)
}

func TestStore_FindWithGlobs(t *testing.T) {
	s := NewStore(t.TempDir())
	base := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "a", Host: "idrac-r1-01.lab", Operation: "diagnostics.run", State: StateCompleted},
		{ID: "b", Host: "idrac-r1-02.lab", Operation: "storage.ResetConfig", State: StateSubmitted},
		{ID: "c", Host: "ome.lab", Operation: "ome.export_log", State: StateFailed},
	}
	for i := range records {
		records[i].JobURI = "/j/" + records[i].ID
		records[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Write(&records[i]))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{"c", "b", "a"}},
		{name: "host glob", filter: Filter{Host: "idrac-r1-*.lab"}, want: []string{"b", "a"}},
		{name: "operation glob", filter: Filter{Operation: "storage.*"}, want: []string{"b"}},
		{name: "states", filter: Filter{States: []State{StateCompleted, StateFailed}}, want: []string{"c", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err := s.Find(Filter{Host: "idrac-[.lab"})
	require.Error(t, err)
}

func TestStore_GCRemovesOldTerminalRecords(t *testing.T) {
	s := NewStore(t.TempDir())
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(&Record{ID: "old-done", State: StateCompleted, JobURI: "/a", EndedAt: &old}))
	require.NoError(t, s.Write(&Record{ID: "recent-done", State: StateFailed, JobURI: "/b", EndedAt: &recent}))
	require.NoError(t, s.Write(&Record{ID: "old-pending", State: StateSubmitted, JobURI: "/c", CreatedAt: old}))

	removed, err := s.GC(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"old-done"}, removed)

	left, err := s.List()
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRecord_Observe(t *testing.T) {
	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &Record{State: StateSubmitted}

	rec.Observe(workflow.Job{ID: "JID_1", State: workflow.JobStateRunning, Message: "In progress"}, now)
	assert.Equal(t, StateSubmitted, rec.State)
	assert.Equal(t, "Running", rec.ControllerState)
	assert.Nil(t, rec.EndedAt)

	rec.Observe(workflow.Job{ID: "JID_1", State: workflow.JobStateCompletedWithErrors}, now)
	assert.Equal(t, StateFailed, rec.State)
	require.NotNil(t, rec.EndedAt)
}
