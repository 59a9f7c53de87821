package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTaskYAML() string {
	return `version: "1.0"
tasks:
  - operation: diagnostics
    params:
      run: true
`
}

func validTaskJSON() string {
	return `{
  "version": "1.0",
  "tasks": [
    {"operation": "storage_controller", "params": {"command": "ResetConfig", "controller_id": "RAID.Slot.1-1"}}
  ]
}`
}

func fullTaskYAML() string {
	return `$schema: https://schemas.3leaps.dev/gobmc/v1.0.0/task-manifest.schema.json
version: "1.0"
controller:
  host: 192.168.0.1
  port: 8443
  validate_certs: false
  timeout: 45s
check_mode: true
tasks:
  - name: Run and export diagnostics
    operation: diagnostics
    params:
      run: true
      export: true
      share_parameters:
        share_type: local
        share_name: /var/lib/gobmc/diag
  - operation: storage_controller
    check_mode: false
    ignore_errors: true
    params:
      command: AssignSpare
      target: [Disk.Bay.0:Enclosure.Internal.0-1:RAID.Slot.1-1]
  - operation: ome_export_log
    params:
      share_address: 192.168.0.2
      share_name: /exports
      share_type: NFS
      device_service_tags: [ABC1234]
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		file    string
		wantErr string

		// schemaErr expects a Problems result.
		schemaErr bool
	}{
		{name: "valid yaml", content: validTaskYAML(), file: "tasks.yaml"},
		{name: "valid json", content: validTaskJSON(), file: "tasks.json"},
		{name: "full", content: fullTaskYAML(), file: "tasks.yml"},
		{name: "empty", content: "  \n", file: "tasks.yaml", wantErr: "task file is empty"},
		{name: "bad yaml", content: "version: [\n", file: "tasks.yaml", wantErr: "invalid YAML"},
		{name: "bad json", content: "{", file: "tasks.json", wantErr: "invalid JSON"},
		{name: "missing tasks", content: `version: "1.0"`, file: "tasks.yaml", schemaErr: true},
		{name: "empty tasks", content: "version: \"1.0\"\ntasks: []\n", file: "tasks.yaml", schemaErr: true},
		{name: "unknown operation", content: "version: \"1.0\"\ntasks:\n  - operation: firmware_update\n", file: "tasks.yaml", schemaErr: true},
		{name: "unknown task key", content: "version: \"1.0\"\ntasks:\n  - operation: diagnostics\n    when: always\n", file: "tasks.yaml", schemaErr: true},
		{name: "unknown top-level key", content: validTaskYAML() + "extra: 1\n", file: "tasks.yaml", schemaErr: true},
		{name: "wrong version", content: "version: \"2.0\"\ntasks:\n  - operation: diagnostics\n", file: "tasks.yaml", schemaErr: true},
		{name: "unknown storage command", content: "version: \"1.0\"\ntasks:\n  - operation: storage_controller\n    params:\n      command: Explode\n", file: "tasks.yaml", schemaErr: true},
		{name: "export log without share", content: "version: \"1.0\"\ntasks:\n  - operation: ome_export_log\n    params:\n      share_type: NFS\n", file: "tasks.yaml", schemaErr: true},
		{name: "controller without host", content: "version: \"1.0\"\ncontroller:\n  port: 443\ntasks:\n  - operation: diagnostics\n", file: "tasks.yaml", schemaErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := Load(path)
			if tt.schemaErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidationFailed), err.Error())
				return
			}
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, m.Tasks)
		})
	}
}

func TestLoad_FullTaskFile(t *testing.T) {
	m, err := LoadFromBytes([]byte(fullTaskYAML()), "tasks.yaml")
	require.NoError(t, err)

	require.NotNil(t, m.Controller)
	assert.Equal(t, "192.168.0.1", m.Controller.Host)
	assert.Equal(t, 8443, m.Controller.Port)
	require.NotNil(t, m.Controller.ValidateCerts)
	assert.False(t, *m.Controller.ValidateCerts)

	require.Len(t, m.Tasks, 3)
	assert.Equal(t, "Run and export diagnostics", m.Tasks[0].Name)
	assert.Equal(t, "storage_controller #2", m.Tasks[1].Name)
	assert.True(t, m.Tasks[1].IgnoreErrors)

	assert.True(t, m.EffectiveCheckMode(m.Tasks[0]))
	assert.False(t, m.EffectiveCheckMode(m.Tasks[1]))
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/tasks.yaml")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}
		path := filepath.Join(t.TempDir(), "noperm.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validTaskYAML()), 0o000))
		t.Cleanup(func() {
			_ = os.Chmod(path, 0o644)
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})
}

func TestLoadFromBytes_FormatDetection(t *testing.T) {
	for _, path := range []string{"", "tasks.txt", "tasks.yaml"} {
		m, err := LoadFromBytes([]byte(validTaskJSON()), path)
		require.NoError(t, err, path)
		assert.Equal(t, OpStorageController, m.Tasks[0].Operation)
	}
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validTaskYAML()), "tasks.yaml")
	require.NoError(t, err)
	assert.Equal(t, OpDiagnostics, m.Tasks[0].Operation)
	assert.Equal(t, true, m.Tasks[0].Params["run"])
}

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{Tasks: []Task{{Operation: OpDiagnostics}, {Name: "keep", Operation: OpOMEExportLog}}}
	m.ApplyDefaults()

	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, "diagnostics #1", m.Tasks[0].Name)
	assert.Equal(t, "keep", m.Tasks[1].Name)
	assert.NotNil(t, m.Tasks[0].Params)
}

func exportParams() map[string]any {
	return map[string]any{"share_address": "192.168.0.2", "share_name": "/exports", "share_type": "NFS"}
}

func TestValidate(t *testing.T) {
	m := &Manifest{Version: "1.0", Tasks: []Task{{Operation: OpDiagnostics}}}
	assert.NoError(t, Validate(m, map[string]ParamsCheck{OpDiagnostics: func(map[string]any) error { return nil }}))

	m.Tasks[0].Operation = "reboot"
	err := Validate(m, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

type fieldError struct{ field, msg string }

func (e fieldError) Error() string     { return e.msg }
func (e fieldError) FieldName() string { return e.field }

func TestCheckTasks(t *testing.T) {
	checks := map[string]ParamsCheck{
		OpDiagnostics: func(p map[string]any) error {
			if p["run"] != true {
				return fieldError{field: "run", msg: "one of the following is required: run, export"}
			}
			return nil
		},
		OpOMEExportLog: func(map[string]any) error { return errors.New("share unreachable") },
	}
	m := &Manifest{Version: "1.0", Tasks: []Task{
		{Name: "ok", Operation: OpDiagnostics, Params: map[string]any{"run": true}},
		{Name: "no action", Operation: OpDiagnostics, Params: map[string]any{}},
		{Name: "export", Operation: OpOMEExportLog, Params: exportParams()},
		{Name: "raid", Operation: OpStorageController},
	}}

	err := CheckTasks(m, checks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	var ps Problems
	require.True(t, errors.As(err, &ps))
	require.Len(t, ps, 3)
	assert.Equal(t, "/tasks/1/params/run", ps[0].Path)
	assert.Equal(t, "no action", ps[0].Task)
	assert.Equal(t, "/tasks/2/params", ps[1].Path)
	assert.Equal(t, "/tasks/3/operation", ps[2].Path)
	assert.Contains(t, err.Error(), "3 problems")

	assert.NoError(t, CheckTasks(&Manifest{Tasks: m.Tasks[:1]}, checks))
}

func TestProblems(t *testing.T) {
	t.Run("single problem", func(t *testing.T) {
		ps := Problems{{Path: "/version", Message: "required"}}
		assert.Equal(t, "/version: required", ps.Error())
	})

	t.Run("task problem", func(t *testing.T) {
		ps := Problems{{Path: "/tasks/0/params/command", Task: "reset", Message: "bad command"}}
		assert.Equal(t, `task "reset" (/tasks/0/params/command): bad command`, ps.Error())
	})

	t.Run("multiple problems", func(t *testing.T) {
		ps := Problems{
			{Path: "/version", Message: "required"},
			{Path: "/tasks/0/operation", Message: "must be one of"},
		}
		assert.Contains(t, ps.Error(), "2 problems")
		assert.Contains(t, ps.Error(), "/tasks/0/operation")
	})

	t.Run("empty path", func(t *testing.T) {
		ps := Problems{{Message: "root error"}}
		assert.Equal(t, "root error", ps.Error())
	})
}

func TestValidateRaw_EmbeddedSchemaFromAnyDirectory(t *testing.T) {
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})

	assert.NoError(t, ValidateRaw([]byte(`{"version":"1.0","tasks":[{"operation":"ome_export_log","params":{"share_address":"a","share_name":"b","share_type":"NFS"}}]}`)))
}

type sampleParams struct {
	Command  string   `mapstructure:"command"`
	Target   []string `mapstructure:"target"`
	JobWait  bool     `mapstructure:"job_wait"`
	Timeout  int      `mapstructure:"job_wait_timeout"`
	SystemID string   `mapstructure:"system_id"`
	Share    *struct {
		ShareType string `mapstructure:"share_type"`
	} `mapstructure:"share_parameters"`
}

func TestDecodeParams(t *testing.T) {
	t.Run("keeps defaults and converts weak types", func(t *testing.T) {
		p := sampleParams{SystemID: "System.Embedded.1", Timeout: 120}
		err := DecodeParams(map[string]any{
			"command":          " ResetConfig ",
			"target":           "Disk.Bay.0,Disk.Bay.1",
			"job_wait":         "true",
			"share_parameters": map[string]any{"share_type": "nfs"},
		}, &p)
		require.NoError(t, err)
		assert.Equal(t, "ResetConfig", p.Command)
		assert.Equal(t, []string{"Disk.Bay.0", "Disk.Bay.1"}, p.Target)
		assert.True(t, p.JobWait)
		assert.Equal(t, 120, p.Timeout)
		assert.Equal(t, "System.Embedded.1", p.SystemID)
		require.NotNil(t, p.Share)
		assert.Equal(t, "nfs", p.Share.ShareType)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		var p sampleParams
		err := DecodeParams(map[string]any{"comand": "ResetConfig"}, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "comand")
	})

	t.Run("rejects bad types", func(t *testing.T) {
		var p sampleParams
		err := DecodeParams(map[string]any{"job_wait_timeout": "soon"}, &p)
		require.Error(t, err)
	})
}
