package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/internal/config"
	"github.com/3leaps/gobmc/internal/observability"
	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// Messages reported by jobs wait.
const (
	MsgJobCompleted = "The job completed successfully."
	MsgJobPending   = "The job is still running."
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Track controller jobs submitted by gobmc",
	Long: `Manage local records of controller jobs that gobmc submitted without waiting
for them (--job-wait=false), or whose wait timed out.

- stable job ids
- predictable on-disk locations (jobs.dir, default <user data dir>/gobmc/jobs)
- optional JSON output for machine parsing

Examples:
  gobmc jobs list --state submitted,timed_out
  gobmc jobs wait 3f2c... --job-wait-timeout 3600
  gobmc jobs wait 3f2c... --background
  gobmc jobs gc --max-age 72h`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait <job_id>",
	Short: "Poll a recorded job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWait,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete finished job records older than --max-age",
	Args:  cobra.NoArgs,
	RunE:  runJobsGC,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job_id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsWaitCmd, jobsGCCmd, jobsRmCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("match-host", "", "Only jobs whose host matches this glob")
	jobsListCmd.Flags().String("operation", "", "Only jobs whose operation matches this glob (e.g. 'storage-controller/*')")
	jobsListCmd.Flags().StringSlice("state", nil, "Only jobs in these states (submitted|waiting|completed|failed|timed_out)")

	jobsShowCmd.Flags().Bool("json", false, "Output as JSON")

	jobsWaitCmd.Flags().Int("job-wait-timeout", 0, "Seconds to wait (default poll.timeout)")
	jobsWaitCmd.Flags().Bool("background", false, "Wait in a managed background process")
	jobsWaitCmd.Flags().Bool("_managed", false, "internal")
	_ = jobsWaitCmd.Flags().MarkHidden("_managed")

	jobsGCCmd.Flags().String("max-age", "", "Delete finished jobs that ended longer ago than this (default jobs.gc_max_age)")
	jobsGCCmd.Flags().Bool("dry-run", false, "Only show which jobs would be deleted")
}

func jobsExecutor(ctx context.Context) (*jobregistry.Executor, *config.Config, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return jobregistry.NewExecutor(cfg.Jobs.Dir, jobregistry.WithLogger(observability.CLILogger)), cfg, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	hostGlob, _ := cmd.Flags().GetString("match-host")
	opGlob, _ := cmd.Flags().GetString("operation")
	states, _ := cmd.Flags().GetStringSlice("state")

	exec, _, err := jobsExecutor(cmd.Context())
	if err != nil {
		return err
	}
	f := jobregistry.Filter{Host: hostGlob, Operation: opGlob}
	for _, st := range states {
		f.States = append(f.States, jobregistry.State(strings.TrimSpace(st)))
	}
	jobs, err := exec.Store().Find(f)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job filter", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tHOST\tOPERATION\tSTATE\tCONTROLLER JOB\tPROGRESS\tCREATED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Host, j.Operation, j.State, valueOrDefault(j.ControllerJobID, "-"),
			progress(j.PercentComplete), j.CreatedAt.Format(time.RFC3339), formatOptionalTime(j.EndedAt))
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	exec, _, err := jobsExecutor(cmd.Context())
	if err != nil {
		return err
	}
	rec, err := exec.Store().Get(args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(out, rec)
	return nil
}

func runJobsWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]
	background, _ := cmd.Flags().GetBool("background")
	managed, _ := cmd.Flags().GetBool("_managed")
	timeoutSec, _ := cmd.Flags().GetInt("job-wait-timeout")

	exec, cfg, err := jobsExecutor(ctx)
	if err != nil {
		return err
	}
	rec, err := exec.Store().Get(id)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}

	timeout := cfg.Poll.Timeout
	if timeoutSec != 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --job-wait-timeout", &workflow.InvalidTimeoutError{Timeout: timeout})
	}

	if background && !managed {
		return startBackgroundWait(cmd, exec, cfg, rec, timeout)
	}

	if rec.State.Terminal() {
		observability.CLILogger.Info("Job already finished", zap.String("job", describeJob(rec)))
	}

	cc := cfg.Controller
	if f := cmd.Flags().Lookup("host"); (f == nil || !f.Changed) && rec.Host != "" {
		cc.Host = rec.Host
	}
	s, err := newSessionFor(cmd, cfg, cc)
	if err != nil {
		return err
	}
	defer s.close()

	if rec.State.Terminal() {
		_, err := s.report(ctx, "jobs/wait", false, recordResult(rec), nil)
		return err
	}

	if managed {
		if _, cerr := exec.ClaimWaiter(id, os.Getpid()); cerr != nil {
			s.logger.Debug("Failed to claim waiter", zap.Error(cerr))
		}
		defer func() {
			if _, uerr := exec.ReleaseWaiter(id); uerr != nil {
				s.logger.Debug("Failed to release waiter", zap.Error(uerr))
			}
		}()
	}
	_, out, err := exec.Follow(ctx, s.client, id,
		workflow.WaitOptions{Timeout: timeout},
		s.pollerOptions(ctx, nil)...)
	if err != nil {
		_, rerr := s.report(ctx, "jobs/wait", false, workflow.Result{}, err)
		return rerr
	}
	_, err = s.report(ctx, "jobs/wait", false, workflow.Report(out, workflow.ReportOptions{SuccessMsg: MsgJobCompleted, SubmittedMsg: MsgJobPending}), nil)
	return err
}

// startBackgroundWait hands the wait to a managed child process. Connection
// settings reach the child through the environment so secrets stay off the
// process arguments.
func startBackgroundWait(cmd *cobra.Command, exec *jobregistry.Executor, cfg *config.Config, rec *jobregistry.Record, timeout time.Duration) error {
	cc := cfg.Controller
	env := map[string]string{
		"GOBMC_PORT":           strconv.Itoa(cc.Port),
		"GOBMC_USERNAME":       cc.Username,
		"GOBMC_PASSWORD":       cc.Password,
		"GOBMC_VALIDATE_CERTS": strconv.FormatBool(cc.ValidateCerts),
		"GOBMC_CA_PATH":        cc.CAPath,
		"GOBMC_TIMEOUT":        cc.Timeout.String(),
		"GOBMC_JOBS_DIR":       cfg.Jobs.Dir,
		"GOBMC_LOG_LEVEL":      cfg.Logging.Level,
	}
	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	args := []string{
		"--job-wait-timeout", strconv.Itoa(int(timeout / time.Second)),
		"--output", outputJSONL,
	}
	if f := cmd.Flags().Lookup("host"); f != nil && f.Changed {
		args = append(args, "--host", cc.Host)
	}

	started, err := exec.StartWaitBackground(rec.ID, args)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start background wait", err)
	}
	observability.CLILogger.Info("Background wait started",
		zap.String("job", describeJob(started)),
		zap.Int("pid", started.WaiterPID),
		zap.String("stdout", started.StdoutPath))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(started)
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if maxAgeStr == "" {
		maxAgeStr = viper.GetString("jobs.gc_max_age")
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil || maxAge < 0 {
		if err == nil {
			err = errors.New("must not be negative")
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", err)
	}

	exec, _, err := jobsExecutor(cmd.Context())
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	out := cmd.OutOrStdout()

	if dryRun {
		jobs, err := exec.Store().List()
		if err != nil {
			return err
		}
		n := 0
		for _, j := range jobs {
			if j.State.Terminal() && j.EndedAt != nil && j.EndedAt.Before(cutoff) {
				n++
				_, _ = fmt.Fprintf(out, "would delete %s\n", j.ID)
			}
		}
		_, _ = fmt.Fprintf(out, "%d job(s) would be deleted\n", n)
		return nil
	}

	removed, err := exec.Store().GC(cutoff)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to delete job records", err)
	}
	for _, id := range removed {
		_, _ = fmt.Fprintf(out, "deleted %s\n", id)
	}
	_, _ = fmt.Fprintf(out, "%d job(s) deleted\n", len(removed))
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	exec, _, err := jobsExecutor(cmd.Context())
	if err != nil {
		return err
	}
	rec, err := exec.Store().Get(args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}
	if rec.State == jobregistry.StateWaiting {
		return exitError(foundry.ExitInvalidArgument, "Job has an active waiter", fmt.Errorf("pid %d is still polling %s", rec.WaiterPID, rec.ID))
	}
	if err := exec.Store().Delete(rec.ID); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to delete job record", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", rec.ID)
	return nil
}

// recordResult reports a finished record without contacting the controller.
func recordResult(rec *jobregistry.Record) workflow.Result {
	details := map[string]any{"Id": rec.ControllerJobID, "JobState": rec.ControllerState, "Message": rec.Message}
	if rec.State == jobregistry.StateFailed {
		msg := rec.Message
		if msg == "" {
			msg = "The job failed."
		}
		return workflow.Result{Msg: msg, Failed: true, JobDetails: details, Kind: workflow.KindFailed}
	}
	return workflow.Result{Msg: MsgJobCompleted, JobDetails: details}
}

func printRecord(w io.Writer, rec *jobregistry.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	rows := [][2]string{
		{"ID", rec.ID},
		{"Host", rec.Host},
		{"Operation", rec.Operation},
		{"State", string(rec.State)},
		{"Job URI", rec.JobURI},
		{"Controller job", valueOrDefault(rec.ControllerJobID, "-")},
		{"Controller state", valueOrDefault(rec.ControllerState, "-")},
		{"Message", valueOrDefault(rec.Message, "-")},
		{"Progress", progress(rec.PercentComplete)},
		{"Created", rec.CreatedAt.Format(time.RFC3339)},
		{"Last polled", formatOptionalTime(rec.LastPolled)},
		{"Ended", formatOptionalTime(rec.EndedAt)},
	}
	if rec.WaiterPID > 0 {
		rows = append(rows, [2]string{"Waiter pid", strconv.Itoa(rec.WaiterPID)})
	}
	if rec.StdoutPath != "" {
		rows = append(rows, [2]string{"Waiter log", rec.StdoutPath})
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
}

func progress(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p) + "%"
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// valueOrDefault returns the value or a default if empty.
func valueOrDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
