package jobregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Store persists and loads Records from an on-disk directory.
//
// Directory layout:
//
//	<root>/<id>/job.json
//	<root>/<id>/stdout.log
//	<root>/<id>/stderr.log
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) JobPath(id string) string {
	return filepath.Join(s.JobDir(id), "job.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write atomically replaces the record's job.json.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(id)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(id)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get loads a record. A waiting record without a live waiter process is
// downgraded to submitted so it can be waited on again.
func (s *Store) Get(id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	b, err := os.ReadFile(s.JobPath(id))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}

	if record.State == StateWaiting && !isProcessAlive(record.WaiterPID) {
		record.State = StateSubmitted
		record.WaiterPID = 0
		_ = s.Write(&record)
	}

	return &record, nil
}

// Update loads id, applies fn and writes the result.
func (s *Store) Update(id string, fn func(*Record)) (*Record, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	fn(rec)
	if err := s.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record and its logs.
func (s *Store) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid id %q", id)
	}
	return os.RemoveAll(s.JobDir(id))
}

// List returns every readable record, newest first.
func (s *Store) List() ([]Record, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// Filter selects records. Host and Operation are doublestar globs; empty
// fields match everything.
type Filter struct {
	Host      string
	Operation string
	States    []State
}

// Validate checks the glob patterns.
func (f Filter) Validate() error {
	for _, p := range []string{f.Host, f.Operation} {
		if p != "" && !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

// Match reports whether r satisfies f.
func (f Filter) Match(r Record) bool {
	if f.Host != "" {
		if ok, _ := doublestar.Match(f.Host, r.Host); !ok {
			return false
		}
	}
	if f.Operation != "" {
		if ok, _ := doublestar.Match(f.Operation, r.Operation); !ok {
			return false
		}
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if r.State == st {
			return true
		}
	}
	return false
}

// Find lists records matching f.
func (s *Store) Find(f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GC deletes terminal records that ended before cutoff. It returns the ids removed.
func (s *Store) GC(cutoff time.Time) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, r := range all {
		if !r.State.Terminal() || r.EndedAt == nil || !r.EndedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(r.ID); err != nil {
			return removed, err
		}
		removed = append(removed, r.ID)
	}
	return removed, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
