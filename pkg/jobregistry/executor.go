package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// Executor registers submitted jobs and follows them, either in the
// foreground or through a managed child process running `gobmc jobs wait`.
type Executor struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(root string, opts ...ExecutorOption) *Executor {
	e := &Executor{store: NewStore(root), logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(id string) string {
	return filepath.Join(e.store.JobDir(id), "stdout.log")
}

func (e *Executor) StderrPath(id string) string {
	return filepath.Join(e.store.JobDir(id), "stderr.log")
}

// Register records a job the controller accepted.
func (e *Executor) Register(host, operation, jobURI, decoder string) (*Record, error) {
	if strings.TrimSpace(jobURI) == "" {
		return nil, fmt.Errorf("job uri is required")
	}
	rec := &Record{
		ID:              uuid.New().String(),
		Host:            host,
		Operation:       operation,
		State:           StateSubmitted,
		JobURI:          jobURI,
		ControllerJobID: workflow.JobIDFromURI(jobURI),
		Decoder:         decoder,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}
	e.logger.Debug("Registered job",
		zap.String("id", rec.ID),
		zap.String("operation", operation),
		zap.String("job_uri", jobURI))
	return rec, nil
}

// Follow polls the record's controller job until it is terminal or the
// timeout elapses, persisting every snapshot.
func (e *Executor) Follow(ctx context.Context, client transport.Client, id string, wait workflow.WaitOptions, opts ...workflow.PollerOption) (*Record, *workflow.JobOutcome, error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, nil, err
	}

	observe := func(job workflow.Job) {
		rec.Observe(job, e.now())
		if err := e.store.Write(rec); err != nil {
			e.logger.Warn("Failed to persist job snapshot", zap.String("id", id), zap.Error(err))
		}
	}
	pollerOpts := append([]workflow.PollerOption{
		workflow.WithDecoder(JobDecoder(rec.Decoder)),
		workflow.WithLogger(e.logger),
	}, opts...)
	pollerOpts = append(pollerOpts, workflow.WithObserver(observe))

	out, err := workflow.NewPoller(client, pollerOpts...).Wait(ctx, rec.JobURI, wait)
	if errors.Is(err, workflow.ErrWaitTimeout) {
		rec.State = StateTimedOut
		if werr := e.store.Write(rec); werr != nil {
			return rec, out, werr
		}
	}
	return rec, out, err
}

// StartWaitBackground spawns a managed child process running:
//
//	gobmc jobs wait <id> --_managed <args...>
//
// It returns after the child successfully starts. Controller credentials
// reach the child through args and the inherited environment.
func (e *Executor) StartWaitBackground(id string, args []string) (*Record, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, nil
	}
	if rec.State == StateWaiting {
		return nil, fmt.Errorf("job %s already has a waiter (pid %d)", rec.ID, rec.WaiterPID)
	}

	stdoutFile, err := os.Create(e.StdoutPath(id))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(id))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, append([]string{"jobs", "wait", id, "--_managed"}, args...)...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start managed job wait: %w", err)
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return e.store.Update(id, func(r *Record) {
		if r.State.Terminal() {
			return
		}
		r.State = StateWaiting
		r.WaiterPID = pid
		r.StdoutPath = e.StdoutPath(id)
		r.StderrPath = e.StderrPath(id)
	})
}

// ClaimWaiter marks pid as the process waiting on id. A managed child calls
// it before polling so the record never depends on the parent's write.
func (e *Executor) ClaimWaiter(id string, pid int) (*Record, error) {
	return e.store.Update(id, func(r *Record) {
		if r.State.Terminal() {
			return
		}
		r.State = StateWaiting
		r.WaiterPID = pid
	})
}

// ReleaseWaiter clears the waiter of id. A record still waiting goes back to
// submitted so another wait can pick it up.
func (e *Executor) ReleaseWaiter(id string) (*Record, error) {
	return e.store.Update(id, func(r *Record) {
		r.WaiterPID = 0
		if r.State == StateWaiting {
			r.State = StateSubmitted
		}
	})
}
