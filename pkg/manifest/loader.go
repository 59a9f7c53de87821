package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates the task file does not exist.
var ErrNotFound = errors.New("task file not found")

// Load reads and validates a task file.
//
// Returns an error if the file cannot be read, is not valid YAML or JSON,
// or fails schema validation.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading task file: %s", path)
		}
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a task file from r. path is used for
// format detection and messages and may be empty.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a task file.
//
// The document is normalized to JSON and validated against the schema
// before it is decoded, so unknown keys are reported instead of dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("task file is empty")
	}

	jsonData, err := normalize(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("decode task file: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// normalize converts YAML or JSON input to JSON. A .json extension is
// parsed strictly as JSON; anything else goes through YAML, which accepts
// JSON too.
func normalize(data []byte, path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in task file: %w", err)
		}
		return data, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in task file: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert task file to JSON: %w", err)
	}
	return out, nil
}
