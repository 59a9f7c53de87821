package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gobmc/internal/fakebmc"
	"github.com/3leaps/gobmc/pkg/diagnostics"
	"github.com/3leaps/gobmc/pkg/exportlog"
	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/storagecontroller"
	"github.com/3leaps/gobmc/pkg/workflow"
)

func TestDiagnosticsRun_WaitsForJob(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithJobStates("Scheduled", "Running", "Completed")})

	out, err := h.run("diagnostics", "run", "--run-mode", "express", "--reboot-type", "force")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, diagnostics.MsgRan, res["msg"])
	assert.Equal(t, true, res["changed"])
	assert.Equal(t, false, res["failed"])
	details := res["job_details"].(map[string]any)
	assert.Equal(t, "Completed", details["JobState"])

	muts := h.bmc.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, fakebmc.LCService+"/Actions/DellLCService.RunePSADiagnostics", muts[0].Path)
	assert.Equal(t, "Express", muts[0].Body["RunMode"])
}

func TestDiagnosticsRun_CheckModeSendsNoMutations(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("diagnostics", "run", "--check-mode")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, workflow.MsgChangesFound, res["msg"])
	assert.Equal(t, true, res["changed"])
	assert.Empty(t, h.bmc.Mutations())
	assert.NotEmpty(t, h.bmc.Requests())
}

func TestDiagnosticsRun_NoWaitRecordsJobAndSkipsDuplicate(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithJobStates("Running")})

	out, err := h.run("diagnostics", "run", "--job-wait=false")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, diagnostics.MsgRunTriggered, res["msg"])
	task := res["task"].(map[string]any)
	assert.Equal(t, h.bmc.Jobs()[0], task["id"])

	recs, err := jobregistry.NewStore(h.jobsDir).List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "diagnostics", recs[0].Operation)
	assert.Equal(t, jobregistry.StateSubmitted, recs[0].State)
	assert.Equal(t, fakebmc.Manager+"/Oem/Dell/Jobs/"+h.bmc.Jobs()[0], recs[0].JobURI)

	out, err = h.run("diagnostics", "run")
	require.NoError(t, err)
	res = decodeResult(t, out)
	assert.Equal(t, diagnostics.MsgAlreadyRunning, res["msg"])
	assert.Equal(t, true, res["skipped"])
	assert.Len(t, h.bmc.Mutations(), 1)
}

func TestDiagnosticsExport_NFS(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("diagnostics", "export",
		"--share-type", "nfs", "--share-ip", "10.0.0.5", "--share-name", "/exports",
		"--file-name", "diag.txt", "--output", "jsonl")
	require.NoError(t, err)

	recs := decodeRecords(t, out)
	assert.NotEmpty(t, recordsOfType(recs, output.TypePreflight))
	assert.NotEmpty(t, recordsOfType(recs, output.TypeJob))
	results := recordsOfType(recs, output.TypeResult)
	require.Len(t, results, 1)
	assert.Equal(t, h.bmc.Host(), results[0].Target)

	var rr struct {
		Operation string         `json:"operation"`
		Result    map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(results[0].Data, &rr))
	assert.Equal(t, "diagnostics", rr.Operation)
	assert.Equal(t, diagnostics.MsgExported, rr.Result["msg"])
	assert.Contains(t, rr.Result["diagnostics_file_path"], "diag.txt")

	var paths []string
	for _, m := range h.bmc.Mutations() {
		paths = append(paths, m.Path)
	}
	assert.Equal(t, []string{
		fakebmc.LCService + "/Actions/DellLCService.TestNetworkShare",
		fakebmc.LCService + "/Actions/DellLCService.ExportePSADiagnosticsResult",
	}, paths)
}

func TestDiagnostics_UnsupportedFirmware(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{
		fakebmc.WithDocument(fakebmc.LCService, map[string]any{"Actions": map[string]any{}}),
	})

	out, err := h.run("diagnostics", "run")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

	res := decodeResult(t, out)
	assert.Equal(t, diagnostics.MsgUnsupportedFW, res["msg"])
	assert.Equal(t, true, res["failed"])
	assert.Empty(t, h.bmc.Mutations())
}

func TestDiagnostics_BadCredentials(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithCredentials("root", "other")})

	out, err := h.run("diagnostics", "run")
	require.Error(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, true, res["failed"])
	assert.Contains(t, res["msg"], "insufficient privileges")
	assert.NotNil(t, res["error_info"])
}

func TestStorageController_ResetConfig(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithVolumes(2)})

	out, err := h.run("storage-controller", "ResetConfig", "--controller-id", fakebmc.Controller, "--job-wait")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, storagecontroller.PerformedMsg(storagecontroller.ResetConfig), res["msg"])
	assert.Equal(t, true, res["changed"])

	muts := h.bmc.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, fakebmc.RaidService+"/Actions/DellRaidService.ResetConfig", muts[0].Path)
	assert.Equal(t, fakebmc.Controller, muts[0].Body["TargetFQDD"])

	// a finished job is not recorded
	recs, err := jobregistry.NewStore(h.jobsDir).List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStorageController_ResetConfigNoVolumesIsNoOp(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("storage-controller", "ResetConfig", "--controller-id", fakebmc.Controller)
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, workflow.MsgNoChanges, res["msg"])
	assert.Equal(t, false, res["changed"])
	assert.Empty(t, h.bmc.Mutations())
}

func TestStorageController_UnknownController(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("storage-controller", "ResetConfig", "--controller-id", "RAID.Slot.9-9")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	res := decodeResult(t, out)
	assert.Contains(t, res["msg"], "RAID.Slot.9-9")
}

func TestStorageController_RejectsUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.run("storage-controller", "Explode", "--controller-id", fakebmc.Controller)
	require.Error(t, err)
	assert.Empty(t, h.bmc.Requests())
}

func TestJobs_FollowRecordedStorageJob(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithVolumes(1)})

	out, err := h.run("storage-controller", "ResetConfig", "--controller-id", fakebmc.Controller)
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, storagecontroller.SubmittedMsg(storagecontroller.ResetConfig), res["msg"])

	out, err = h.run("jobs", "list", "--json")
	require.NoError(t, err)
	var recs []jobregistry.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	id := recs[0].ID
	assert.Equal(t, "storage-controller/ResetConfig", recs[0].Operation)
	assert.Equal(t, h.bmc.Host(), recs[0].Host)

	out, err = h.run("jobs", "list", "--operation", "diagnostics")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")

	out, err = h.run("jobs", "wait", id)
	require.NoError(t, err)
	res = decodeResult(t, out)
	assert.Equal(t, MsgJobCompleted, res["msg"])

	out, err = h.run("jobs", "show", id, "--json")
	require.NoError(t, err)
	var rec jobregistry.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, jobregistry.StateCompleted, rec.State)
	assert.NotNil(t, rec.EndedAt)

	out, err = h.run("jobs", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Operation:")
	assert.Contains(t, out, "storage-controller/ResetConfig")

	// waiting again reports the stored outcome without polling
	before := len(h.bmc.Requests())
	out, err = h.run("jobs", "wait", id)
	require.NoError(t, err)
	assert.Equal(t, MsgJobCompleted, decodeResult(t, out)["msg"])
	assert.Len(t, h.bmc.Requests(), before)

	out, err = h.run("jobs", "gc", "--max-age", "0s", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete "+id)

	out, err = h.run("jobs", "gc", "--max-age", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	_, err = h.run("jobs", "show", id)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestJobs_RmAndInvalidMaxAge(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := jobregistry.NewExecutor(h.jobsDir).Register("bmc1", "diagnostics", fakebmc.Manager+"/Oem/Dell/Jobs/JID_1", jobregistry.DecoderDell)
	require.NoError(t, err)

	out, err := h.run("jobs", "rm", rec.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+rec.ID)

	_, err = h.run("jobs", "gc", "--max-age", "soon")
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestOMEExportLog(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("ome", "export-log",
		"--device-ids", "10011", "--share-type", "NFS",
		"--share-address", "10.0.0.5", "--share-name", "/exports",
		"--log-selectors", "OS_LOGS")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, exportlog.MsgCompleted, res["msg"])
	assert.Equal(t, true, res["changed"])

	muts := h.bmc.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, fakebmc.OMEJobs, muts[0].Path)
}

func TestOMEExportLog_NoWaitIsRecorded(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("ome", "export-log",
		"--device-service-tags", "SVCTAG2", "--share-type", "NFS",
		"--share-address", "10.0.0.5", "--share-name", "/exports",
		"--job-wait=false")
	require.NoError(t, err)
	assert.Equal(t, exportlog.MsgSubmitted, decodeResult(t, out)["msg"])

	recs, err := jobregistry.NewStore(h.jobsDir).List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, exportlog.JobURI(h.bmc.Jobs()[0]), recs[0].JobURI)
	assert.Equal(t, jobregistry.DecoderOME, recs[0].Decoder)
}

func TestOMEExportLog_ChassisIsNotApplicable(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("ome", "export-log",
		"--device-ids", "20001", "--share-type", "NFS",
		"--share-address", "10.0.0.5", "--share-name", "/exports")
	require.Error(t, err)
	assert.Contains(t, decodeResult(t, out)["msg"], "not applicable")
	assert.Empty(t, h.bmc.Mutations())
}

func writeTaskFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTaskRun_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, []fakebmc.Option{fakebmc.WithVolumes(1)})
	path := writeTaskFile(t, `version: "1.0"
tasks:
  - name: reset
    operation: storage_controller
    params:
      command: ResetConfig
      controller_id: RAID.Slot.1-1
      job_wait: true
  - name: bad controller
    operation: storage_controller
    params:
      command: ResetConfig
      controller_id: RAID.Slot.9-9
  - name: never runs
    operation: diagnostics
    params:
      run: true
`)

	out, err := h.run("task", "run", "-f", path, "--output", "jsonl")
	require.Error(t, err)

	recs := decodeRecords(t, out)
	assert.Len(t, recordsOfType(recs, output.TypeResult), 2)
	sums := recordsOfType(recs, output.TypeSummary)
	require.Len(t, sums, 1)
	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(sums[0].Data, &sum))
	assert.Equal(t, 2, sum.Steps)
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)

	for _, m := range h.bmc.Mutations() {
		assert.NotContains(t, m.Path, "RunePSADiagnostics")
	}
}

func TestTaskRun_CheckModeAndIgnoreErrors(t *testing.T) {
	h := newHarness(t, nil)
	path := writeTaskFile(t, `version: "1.0"
check_mode: true
tasks:
  - name: unknown controller
    operation: storage_controller
    ignore_errors: true
    params:
      command: ResetConfig
      controller_id: RAID.Slot.9-9
  - name: diagnostics
    operation: diagnostics
    params:
      run: true
      run_mode: extended
`)

	out, err := h.run("task", "run", "-f", path)
	require.NoError(t, err)
	assert.Empty(t, h.bmc.Mutations())

	dec := json.NewDecoder(strings.NewReader(out))
	var docs []map[string]any
	for dec.More() {
		var d map[string]any
		require.NoError(t, dec.Decode(&d))
		docs = append(docs, d)
	}
	require.Len(t, docs, 3)
	assert.Equal(t, true, docs[0]["failed"])
	assert.Equal(t, workflow.MsgChangesFound, docs[1]["msg"])
	sum := docs[2]["summary"].(map[string]any)
	assert.Equal(t, float64(2), sum["steps"])
}

func TestTaskRun_RejectsBadParamsBeforeAnyRequest(t *testing.T) {
	h := newHarness(t, nil)
	path := writeTaskFile(t, `version: "1.0"
tasks:
  - name: reset
    operation: storage_controller
    params:
      command: ResetConfig
      controller_id: RAID.Slot.1-1
  - name: nothing to do
    operation: diagnostics
    params:
      run: false
  - name: spare without disk
    operation: storage_controller
    params:
      command: AssignSpare
`)

	_, err := h.run("task", "run", "-f", path)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Contains(t, err.Error(), "/tasks/1/params/run")
	assert.Contains(t, err.Error(), "/tasks/2/params/target")
	assert.Empty(t, h.bmc.Requests())
}

func TestTaskRun_FileErrors(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.run("task", "run", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))

	path := writeTaskFile(t, "version: \"2.0\"\ntasks: []\n")
	_, err = h.run("task", "run", "-f", path)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Empty(t, h.bmc.Requests())
}

func TestVersion(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.run("version", "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, versionInfo.Version, v["version"])
	assert.Empty(t, h.bmc.Requests())
}

func TestInvalidOutputFormat(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.run("diagnostics", "run", "--output", "yaml")
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Empty(t, h.bmc.Requests())
}

func TestPendingJobURI(t *testing.T) {
	tests := []struct {
		name string
		res  workflow.Result
		want string
	}{
		{"empty", workflow.Result{}, ""},
		{
			"task artifact",
			workflow.Result{Changed: true}.WithArtifact("task", map[string]any{"id": "JID_1", "uri": "/redfish/v1/Managers/iDRAC.Embedded.1/Jobs/JID_1"}),
			"/redfish/v1/Managers/iDRAC.Embedded.1/Jobs/JID_1",
		},
		{
			"task artifact finished",
			workflow.Result{Changed: true, JobDetails: map[string]any{"JobState": "Completed"}}.WithArtifact("task", map[string]any{"uri": "/x"}),
			"",
		},
		{"ome id", workflow.Result{Changed: true, JobDetails: map[string]any{"Id": float64(12778)}}, exportlog.JobURI("12778")},
		{
			"ome finished",
			workflow.Result{Changed: true, JobDetails: map[string]any{"Id": float64(1), "LastRunStatus": map[string]any{"Id": float64(2060)}}},
			"",
		},
		{"skipped", workflow.Result{Skipped: true, JobDetails: map[string]any{"Id": float64(1)}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pendingJobURI(tt.res))
		})
	}
}
