package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/internal/config"
	"github.com/3leaps/gobmc/internal/observability"
	"github.com/3leaps/gobmc/pkg/diagnostics"
	"github.com/3leaps/gobmc/pkg/exportlog"
	"github.com/3leaps/gobmc/pkg/manifest"
	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/storagecontroller"
	"github.com/3leaps/gobmc/pkg/workflow"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run operations from a task file",
}

var taskRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every task in a YAML or JSON task file",
	Long: `Run the tasks of a task file in order against one controller.

The file may set a controller block (host, port, validate_certs, ca_path,
timeout); flags given on the command line take precedence. Credentials always
come from flags, the environment or the config file.

Example task file:

  version: "1.0"
  controller:
    host: 192.168.0.1
  check_mode: false
  tasks:
    - name: reset RAID
      operation: storage_controller
      params:
        command: ResetConfig
        controller_id: RAID.Integrated.1-1
        job_wait: true
    - operation: diagnostics
      params:
        run: true
        run_mode: express

Examples:
  gobmc task run -f tasks.yaml
  gobmc task run -f tasks.yaml --check-mode --output jsonl`,
	Args: cobra.NoArgs,
	RunE: runTaskFile,
}

var taskFile string

// taskPlanner decodes a task's params onto the operation defaults and binds
// the operation to a session.
type taskPlanner func(ctx context.Context, s *session, params map[string]any, checkMode bool) (opRun, error)

var taskPlanners = map[string]taskPlanner{
	manifest.OpDiagnostics: func(ctx context.Context, s *session, params map[string]any, checkMode bool) (opRun, error) {
		o := diagnostics.DefaultOptions()
		if err := manifest.DecodeParams(params, &o); err != nil {
			return opRun{}, err
		}
		return diagnosticsOp(ctx, s, o, checkMode), nil
	},
	manifest.OpStorageController: func(ctx context.Context, s *session, params map[string]any, checkMode bool) (opRun, error) {
		p := storagecontroller.DefaultParams()
		if err := manifest.DecodeParams(params, &p); err != nil {
			return opRun{}, err
		}
		return storageControllerOp(ctx, s, p, checkMode)
	},
	manifest.OpOMEExportLog: func(ctx context.Context, s *session, params map[string]any, checkMode bool) (opRun, error) {
		o := exportlog.DefaultOptions()
		if err := manifest.DecodeParams(params, &o); err != nil {
			return opRun{}, err
		}
		return exportLogOp(ctx, s, o, checkMode), nil
	},
}

// taskChecks reject bad params before the first task runs.
var taskChecks = map[string]manifest.ParamsCheck{
	manifest.OpDiagnostics: func(params map[string]any) error {
		o := diagnostics.DefaultOptions()
		if err := manifest.DecodeParams(params, &o); err != nil {
			return err
		}
		return o.Validate()
	},
	manifest.OpStorageController: func(params map[string]any) error {
		p := storagecontroller.DefaultParams()
		if err := manifest.DecodeParams(params, &p); err != nil {
			return err
		}
		return storagecontroller.ValidateParams(p)
	},
	manifest.OpOMEExportLog: func(params map[string]any) error {
		o := exportlog.DefaultOptions()
		if err := manifest.DecodeParams(params, &o); err != nil {
			return err
		}
		return o.Validate()
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskRunCmd)

	taskRunCmd.Flags().StringVarP(&taskFile, "file", "f", "", "Task file (YAML or JSON)")
	_ = taskRunCmd.MarkFlagRequired("file")
}

func runTaskFile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(taskFile)
	if err == nil {
		err = manifest.CheckTasks(m, taskChecks)
	}
	if err != nil {
		observability.CLILogger.Error("Failed to load task file", zap.String("path", taskFile), zap.Error(err))
		switch {
		case errors.Is(err, manifest.ErrNotFound):
			return exitError(foundry.ExitFileNotFound, "Task file not found", err)
		case errors.Is(err, manifest.ErrValidationFailed):
			return exitError(foundry.ExitInvalidArgument, "Invalid task file", err)
		default:
			return exitError(foundry.ExitFileReadError, "Failed to read task file", err)
		}
	}
	observability.CLILogger.Debug("Loaded task file",
		zap.String("path", taskFile),
		zap.Int("tasks", len(m.Tasks)))

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	cc, err := taskController(cmd, cfg.Controller, m.Controller)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid task file controller", err)
	}

	s, err := newSessionFor(cmd, cfg, cc)
	if err != nil {
		return err
	}
	defer s.close()

	start := time.Now()
	sum := &output.SummaryRecord{}
	var firstErr error
	for i, t := range m.Tasks {
		if firstErr != nil {
			sum.Skipped++
			continue
		}
		checkMode := IsCheckMode() || m.EffectiveCheckMode(t)
		logger := s.logger.With(zap.String("task", t.Name), zap.Int("index", i+1))
		logger.Info("Running task", zap.String("operation", t.Operation), zap.Bool("check_mode", checkMode))

		res, err := runTask(ctx, s, t, checkMode)
		sum.Steps++
		switch {
		case res.Failed || res.Unreachable:
			sum.Failed++
		case res.Skipped:
			sum.Skipped++
		case res.Changed:
			sum.Changed++
		}
		if err == nil {
			continue
		}
		if t.IgnoreErrors {
			logger.Warn("Task failed, continuing", zap.Error(err))
			continue
		}
		firstErr = err
	}

	sum.Duration = time.Since(start)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	if err := writeSummary(ctx, s, sum); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}
	return firstErr
}

// runTask plans and executes one task. Parameter errors are reported as
// validation failures of that task.
func runTask(ctx context.Context, s *session, t manifest.Task, checkMode bool) (workflow.Result, error) {
	plan, ok := taskPlanners[t.Operation]
	if !ok {
		return s.report(ctx, t.Name, checkMode, workflow.Result{},
			workflow.Validationf("operation", "unsupported operation: %s", t.Operation))
	}
	op, err := plan(ctx, s, t.Params, checkMode)
	if err != nil {
		return s.report(ctx, t.Name, checkMode, workflow.Result{},
			workflow.Validationf("params", "task %q: %v", t.Name, err))
	}
	return s.execute(ctx, op, checkMode)
}

// taskController applies the task file's controller block to the
// configured connection. Explicit flags keep precedence.
func taskController(cmd *cobra.Command, base config.ControllerConfig, tc *manifest.Controller) (config.ControllerConfig, error) {
	if tc == nil {
		return base, nil
	}
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	cc := base
	if tc.Host != "" && !changed("host") {
		cc.Host = tc.Host
	}
	if tc.Port != 0 && !changed("port") {
		cc.Port = tc.Port
	}
	if tc.ValidateCerts != nil && !changed("validate-certs") {
		cc.ValidateCerts = *tc.ValidateCerts
	}
	if tc.CAPath != "" && !changed("ca-path") {
		cc.CAPath = tc.CAPath
	}
	if tc.Timeout != "" && !changed("timeout") {
		d, err := time.ParseDuration(tc.Timeout)
		if err != nil {
			return cc, fmt.Errorf("controller.timeout: %w", err)
		}
		cc.Timeout = d
	}
	return cc, nil
}

func writeSummary(ctx context.Context, s *session, sum *output.SummaryRecord) error {
	s.logger.Info("Task file finished",
		zap.Int("steps", sum.Steps),
		zap.Int("changed", sum.Changed),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration))
	if s.jsonl != nil {
		return s.jsonl.WriteSummary(ctx, sum)
	}
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"summary": sum})
}
