// Package manifest loads gobmc task files.
//
// A task file is a YAML or JSON document listing operations to run against
// one controller, in order. Each task names an operation and carries the
// operation's parameters, which are decoded into the operation's option type
// with DecodeParams.
//
// Task files are validated against an embedded JSON Schema before they are
// decoded. Unknown top-level and task keys are rejected.
//
// Example task file (YAML):
//
//	version: "1.0"
//	controller:
//	  host: 192.168.0.1
//	  validate_certs: false
//	tasks:
//	  - name: Run and export diagnostics
//	    operation: diagnostics
//	    params:
//	      run: true
//	      export: true
//	      share_parameters:
//	        share_type: local
//	        share_name: /var/lib/gobmc/diag
//	  - operation: storage_controller
//	    params:
//	      command: ResetConfig
//	      controller_id: RAID.Slot.1-1
package manifest

import "fmt"

// Operation names accepted in a task file.
const (
	OpDiagnostics       = "diagnostics"
	OpStorageController = "storage_controller"
	OpOMEExportLog      = "ome_export_log"
)

// Operations lists every task operation.
var Operations = []string{OpDiagnostics, OpStorageController, OpOMEExportLog}

// DefaultVersion is the current task file schema version.
const DefaultVersion = "1.0"

// Manifest is a validated task file.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty"`

	Version string `json:"version"`

	// Controller overrides the configured connection for this file.
	Controller *Controller `json:"controller,omitempty"`

	// CheckMode applies to every task that does not set its own.
	CheckMode bool `json:"check_mode,omitempty"`

	Tasks []Task `json:"tasks"`
}

// Controller is the connection block of a task file. Credentials come from
// flags or the environment.
type Controller struct {
	Host          string `json:"host"`
	Port          int    `json:"port,omitempty"`
	ValidateCerts *bool  `json:"validate_certs,omitempty"`
	CAPath        string `json:"ca_path,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// Task is one operation invocation.
type Task struct {
	Name      string         `json:"name,omitempty"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`

	// CheckMode overrides the file-level value when set.
	CheckMode *bool `json:"check_mode,omitempty"`

	// IgnoreErrors continues with the next task after a failure.
	IgnoreErrors bool `json:"ignore_errors,omitempty"`
}

// ApplyDefaults fills in task names and empty parameter maps.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	for i := range m.Tasks {
		t := &m.Tasks[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s #%d", t.Operation, i+1)
		}
		if t.Params == nil {
			t.Params = map[string]any{}
		}
	}
}

// EffectiveCheckMode resolves the task's check mode against the file default.
func (m *Manifest) EffectiveCheckMode(t Task) bool {
	if t.CheckMode != nil {
		return *t.CheckMode
	}
	return m.CheckMode
}
