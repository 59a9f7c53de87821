package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/internal/config"
	"github.com/3leaps/gobmc/internal/observability"
	"github.com/3leaps/gobmc/pkg/exportlog"
	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// session bundles what one command invocation needs to talk to a
// controller and report results.
type session struct {
	cfg          *config.Config
	host         string
	client       transport.Client
	out          io.Writer
	format       string
	invocationID string
	jsonl        *output.JSONLWriter
	logger       *zap.Logger
	registry     *jobregistry.Executor
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return newSessionFor(cmd, cfg, cfg.Controller)
}

// newSessionFor opens a session against cc, which may differ from the
// configured controller (task files, job records).
func newSessionFor(cmd *cobra.Command, cfg *config.Config, cc config.ControllerConfig) (*session, error) {
	client, err := newClient(cc)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:          cfg,
		host:         cc.Host,
		client:       client,
		out:          cmd.OutOrStdout(),
		format:       outputFormat(),
		invocationID: uuid.New().String(),
		logger:       observability.CLILogger.With(zap.String("host", cc.Host)),
		registry:     jobregistry.NewExecutor(cfg.Jobs.Dir, jobregistry.WithLogger(observability.CLILogger)),
	}
	if s.format == outputJSONL {
		s.jsonl = output.NewJSONLWriter(s.out, s.invocationID, cc.Host)
	}
	return s, nil
}

func (s *session) close() {
	if s.jsonl != nil {
		_ = s.jsonl.Close()
	}
}

// poller returns a poller decoding jobs with decode. In jsonl mode every
// snapshot is emitted as a job record.
func (s *session) poller(ctx context.Context, decode workflow.JobDecoder) *workflow.Poller {
	return workflow.NewPoller(s.client, s.pollerOptions(ctx, decode)...)
}

func (s *session) pollerOptions(ctx context.Context, decode workflow.JobDecoder) []workflow.PollerOption {
	opts := []workflow.PollerOption{
		workflow.WithDecoder(decode),
		workflow.WithLogger(s.logger),
		workflow.WithInterval(s.cfg.Poll.Interval),
		workflow.WithUnresponsiveWindow(s.cfg.Poll.UnresponsiveWindow),
	}
	if s.jsonl != nil {
		opts = append(opts, workflow.WithObserver(func(j workflow.Job) {
			if err := s.jsonl.WriteJob(ctx, output.JobRecordFrom("", j)); err != nil {
				s.logger.Debug("Failed to emit job record", zap.Error(err))
			}
		}))
	}
	return append(opts, pollerOptions...)
}

// preflightSink emits preflight records in jsonl mode and logs them
// otherwise.
func (s *session) preflightSink(ctx context.Context) func(*output.PreflightRecord) {
	return func(rec *output.PreflightRecord) {
		if rec == nil {
			return
		}
		if s.jsonl != nil {
			if err := s.jsonl.WritePreflight(ctx, rec); err != nil {
				s.logger.Debug("Failed to emit preflight record", zap.Error(err))
			}
			return
		}
		for _, r := range rec.Results {
			s.logger.Debug("Preflight check",
				zap.String("capability", r.Capability),
				zap.Bool("allowed", r.Allowed),
				zap.String("method", r.Method))
		}
	}
}

// opRun is one operation bound to a session, ready to execute.
type opRun struct {
	// operation names the result record (e.g. "diagnostics", "storage-controller/ReKey").
	operation string

	// decoder names the job document format for the job registry.
	decoder   string
	overrides []workflow.MessageOverride
	run       func(ctx context.Context) (workflow.Result, error)
}

// execute runs op, records any job left running and writes the result.
func (s *session) execute(ctx context.Context, op opRun, checkMode bool) (workflow.Result, error) {
	s.logger.Debug("Running operation",
		zap.String("operation", op.operation),
		zap.Bool("check_mode", checkMode))
	res, err := op.run(ctx)
	if err == nil && !checkMode {
		s.track(op.operation, op.decoder, res)
	}
	return s.report(ctx, op.operation, checkMode, res, err, op.overrides...)
}

// report turns an operation outcome into output and an exit status. An
// error from the operation is reported through workflow.ReportError first,
// so a JSON result is always written before the command fails.
func (s *session) report(ctx context.Context, operation string, checkMode bool, res workflow.Result, opErr error, overrides ...workflow.MessageOverride) (workflow.Result, error) {
	if opErr != nil {
		if errors.Is(opErr, context.Canceled) {
			return res, exitError(foundry.ExitSignalInt, operation+" cancelled", opErr)
		}
		res = workflow.ReportError(opErr, overrides...)
		s.logger.Error("Operation failed",
			zap.String("operation", operation),
			zap.String("kind", string(res.Kind)),
			zap.Error(opErr))
	}
	if err := s.write(ctx, operation, checkMode, res); err != nil {
		return res, exitError(foundry.ExitFileWriteError, "Failed to write result", err)
	}
	if res.Failed || res.Unreachable {
		kind := res.Kind
		if kind == workflow.KindNone {
			kind = workflow.KindFailed
		}
		if res.Unreachable {
			kind = workflow.KindUnreachable
		}
		cause := opErr
		if cause == nil {
			cause = errors.New(res.Msg)
		}
		return res, exitError(exitCodeFor(kind), operation+" failed", cause)
	}
	return res, nil
}

func (s *session) write(ctx context.Context, operation string, checkMode bool, res workflow.Result) error {
	if s.jsonl != nil {
		return s.jsonl.WriteResult(ctx, &output.ResultRecord{Operation: operation, CheckMode: checkMode, Result: res})
	}
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// track records a controller job that was left running so `gobmc jobs`
// can follow it later. It is a no-op when res carries no pending job.
func (s *session) track(operation, decoder string, res workflow.Result) {
	uri := pendingJobURI(res)
	if uri == "" {
		return
	}
	rec, err := s.registry.Register(s.host, operation, uri, decoder)
	if err != nil {
		s.logger.Warn("Failed to record job", zap.String("job_uri", uri), zap.Error(err))
		return
	}
	s.logger.Info("Job recorded",
		zap.String("id", rec.ID),
		zap.String("job_uri", uri),
		zap.String("hint", "gobmc jobs wait "+rec.ID))
}

// pendingJobURI extracts the URI of a job that has not reached a terminal
// state from a result.
func pendingJobURI(res workflow.Result) string {
	if res.Failed || res.Skipped {
		return ""
	}
	if task, ok := res.Artifacts["task"].(map[string]any); ok {
		if uri, _ := task["uri"].(string); uri != "" && !jobDone(res.JobDetails) {
			return uri
		}
	}
	if len(res.JobDetails) == 0 || jobDone(res.JobDetails) {
		return ""
	}
	if uri, _ := res.JobDetails["@odata.id"].(string); uri != "" {
		return uri
	}
	switch id := res.JobDetails["Id"].(type) {
	case float64:
		return exportlog.JobURI(strconv.FormatInt(int64(id), 10))
	case int:
		return exportlog.JobURI(strconv.Itoa(id))
	case json.Number:
		return exportlog.JobURI(id.String())
	}
	return ""
}

func jobDone(details map[string]any) bool {
	if len(details) == 0 {
		return false
	}
	for _, key := range []string{"JobState", "TaskState"} {
		if st, ok := details[key].(string); ok && st != "" {
			return workflow.JobState(st).IsTerminal()
		}
	}
	if lrs, ok := details["LastRunStatus"].(map[string]any); ok {
		if id, ok := lrs["Id"].(float64); ok {
			if st, known := workflow.OMEJobState(int(id)); known {
				return st.IsTerminal()
			}
		}
	}
	return false
}

func describeJob(rec *jobregistry.Record) string {
	return fmt.Sprintf("%s (%s %s on %s)", rec.ID, rec.Operation, rec.State, rec.Host)
}
