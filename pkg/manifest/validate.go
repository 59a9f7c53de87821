package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/gobmc/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID is the schema identifier for task files.
const SchemaID = "gobmc/v1.0.0/task-manifest"

var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("task schema not found")

	// ErrValidationFailed indicates the task file is malformed or a task
	// carries parameters its operation rejects.
	ErrValidationFailed = errors.New("task file validation failed")
)

// ParamsCheck validates one task's params for an operation without any
// I/O. Errors exposing a Field method are reported against that param.
type ParamsCheck func(params map[string]any) error

// Problem is one finding against a task file. Path is a JSON pointer such
// as "/tasks/1/params/command".
type Problem struct {
	Path    string
	Task    string
	Message string
}

func (p Problem) Error() string {
	switch {
	case p.Task != "":
		return fmt.Sprintf("task %q (%s): %s", p.Task, p.Path, p.Message)
	case p.Path != "":
		return p.Path + ": " + p.Message
	default:
		return p.Message
	}
}

// Problems collects every finding of one validation pass.
type Problems []Problem

func (ps Problems) Error() string {
	switch len(ps) {
	case 0:
		return "invalid task file"
	case 1:
		return ps[0].Error()
	}
	lines := make([]string, 0, len(ps)+1)
	lines = append(lines, fmt.Sprintf("task file has %d problems:", len(ps)))
	for _, p := range ps {
		lines = append(lines, "  - "+p.Error())
	}
	return strings.Join(lines, "\n")
}

func (ps Problems) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks m against the embedded schema and then runs the check
// registered for each task's operation. Every task is checked so one pass
// reports every bad task.
func Validate(m *Manifest, checks map[string]ParamsCheck) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode task file: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	return CheckTasks(m, checks)
}

// CheckTasks runs the operation checks over m's tasks. Operations without
// a registered check are rejected.
func CheckTasks(m *Manifest, checks map[string]ParamsCheck) error {
	var ps Problems
	for i, t := range m.Tasks {
		base := fmt.Sprintf("/tasks/%d", i)
		check, ok := checks[t.Operation]
		if !ok {
			ps = append(ps, Problem{Path: base + "/operation", Task: t.Name, Message: "unsupported operation: " + t.Operation})
			continue
		}
		if err := check(t.Params); err != nil {
			path := base + "/params"
			var fe interface{ FieldName() string }
			if errors.As(err, &fe) && fe.FieldName() != "" {
				path += "/" + fe.FieldName()
			}
			ps = append(ps, Problem{Path: path, Task: t.Name, Message: err.Error()})
		}
	}
	if len(ps) == 0 {
		return nil
	}
	return ps
}

// ValidateRaw checks raw JSON against the embedded schema. Warnings from
// the validator are dropped.
func ValidateRaw(jsonData []byte) error {
	v, err := taskValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var ps Problems
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			ps = append(ps, Problem{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(ps) == 0 {
		return nil
	}
	return ps
}

var taskValidator = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.TaskManifestSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded task-manifest schema is empty", ErrSchemaNotFound)
	}
	v, err := schema.NewValidator(schemasassets.TaskManifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return v, nil
})
