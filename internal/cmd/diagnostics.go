package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/3leaps/gobmc/pkg/diagnostics"
	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/workflow"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Run and export remote ePSA diagnostics on an iDRAC",
	Long: `Run remote ePSA diagnostics on the host managed by an iDRAC and export the
results to a local directory or a network share (NFS, CIFS, HTTP, HTTPS).

Examples:
  # Run express diagnostics and wait for the job
  gobmc diagnostics run --host 192.168.0.1 --run-mode express

  # Run on a power cycle inside a maintenance window
  gobmc diagnostics run --reboot-type power_cycle \
    --scheduled-start-time 20260120093000 --scheduled-end-time 20260120103000

  # Export the last results to an NFS share
  gobmc diagnostics export --share-type nfs --share-ip 10.0.0.5 --share-name /exports

  # Report whether a run would be submitted
  gobmc diagnostics run --check-mode`,
}

var diagnosticsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run diagnostics",
	Args:  cobra.NoArgs,
	RunE:  runDiagnostics(true, false),
}

var diagnosticsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the diagnostics results",
	Args:  cobra.NoArgs,
	RunE:  runDiagnostics(false, true),
}

var diagnosticsRunExportCmd = &cobra.Command{
	Use:   "run-export",
	Short: "Run diagnostics and export the results once the job completes",
	Args:  cobra.NoArgs,
	RunE:  runDiagnostics(true, true),
}

var (
	diagOpts  = diagnostics.DefaultOptions()
	diagShare = diagnostics.DefaultShareParameters()
	diagRun   struct {
		runMode    string
		rebootType string
		shareType  string
		proxy      string
	}
)

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
	diagnosticsCmd.AddCommand(diagnosticsRunCmd, diagnosticsExportCmd, diagnosticsRunExportCmd)

	for _, c := range []*cobra.Command{diagnosticsRunCmd, diagnosticsRunExportCmd} {
		f := c.Flags()
		f.StringVar(&diagRun.runMode, "run-mode", string(diagnostics.RunModeExpress), "Diagnostics depth (express|extended|long_run)")
		f.StringVar(&diagRun.rebootType, "reboot-type", string(diagnostics.RebootGraceful), "Reboot into diagnostics (force|graceful|power_cycle)")
		f.StringVar(&diagOpts.ScheduledStartTime, "scheduled-start-time", "", "Maintenance window start for power_cycle (YYYY-MM-DDThh:mm:ss+HH:MM or YYYYMMDDhhmmss)")
		f.StringVar(&diagOpts.ScheduledEndTime, "scheduled-end-time", "", "Maintenance window end for power_cycle")
		f.BoolVar(&diagOpts.JobWait, "job-wait", true, "Wait for the diagnostics job to finish")
		f.IntVar(&diagOpts.JobWaitTimeout, "job-wait-timeout", diagnostics.DefaultJobWaitTimeout, "Seconds to wait for the job")
	}
	for _, c := range []*cobra.Command{diagnosticsExportCmd, diagnosticsRunExportCmd} {
		f := c.Flags()
		f.StringVar(&diagRun.shareType, "share-type", string(diagnostics.ShareLocal), "Share type (local|nfs|cifs|http|https)")
		f.StringVar(&diagShare.IPAddress, "share-ip", "", "Share server address")
		f.StringVar(&diagShare.ShareName, "share-name", "", "Share path, or a local directory for --share-type local")
		f.StringVar(&diagShare.Username, "share-username", "", "Share user")
		f.StringVar(&diagShare.Password, "share-password", "", "Share password")
		f.StringVar(&diagShare.Workgroup, "share-workgroup", "", "CIFS workgroup")
		f.StringVar(&diagShare.FileName, "file-name", "", "Export file name (default <host>_<timestamp>.txt)")
		f.StringVar(&diagShare.IgnoreCertificateWarning, "ignore-certificate-warning", "off", "HTTPS certificate warnings (off|on)")
		f.StringVar(&diagRun.proxy, "proxy-support", string(diagnostics.ProxyOff), "Proxy mode (off|default_proxy|parameters_proxy)")
		f.StringVar(&diagShare.ProxyType, "proxy-type", "http", "Proxy protocol (http|socks)")
		f.StringVar(&diagShare.ProxyServer, "proxy-server", "", "Proxy address")
		f.IntVar(&diagShare.ProxyPort, "proxy-port", 80, "Proxy port")
		f.StringVar(&diagShare.ProxyUsername, "proxy-username", "", "Proxy user")
		f.StringVar(&diagShare.ProxyPassword, "proxy-password", "", "Proxy password")
	}
	for _, c := range []*cobra.Command{diagnosticsRunCmd, diagnosticsExportCmd, diagnosticsRunExportCmd} {
		c.Flags().StringVar(&diagOpts.ResourceID, "resource-id", "", "Manager id (default: the only manager)")
	}
}

func runDiagnostics(run, export bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		o := diagOpts
		o.Run, o.Export = run, export
		o.RunMode = diagnostics.RunMode(diagRun.runMode)
		o.RebootType = diagnostics.RebootType(diagRun.rebootType)
		if export {
			share := diagShare
			share.ShareType = diagnostics.ShareType(diagRun.shareType)
			share.ProxySupport = diagnostics.ProxySupport(diagRun.proxy)
			o.Share = &share
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		checkMode := IsCheckMode()
		_, err = s.execute(cmd.Context(), diagnosticsOp(cmd.Context(), s, o, checkMode), checkMode)
		return err
	}
}

// diagnosticsOp binds a diagnostics invocation to s.
func diagnosticsOp(ctx context.Context, s *session, o diagnostics.Options, checkMode bool) opRun {
	svc := diagnostics.New(s.client, s.host,
		diagnostics.WithPoller(s.poller(ctx, workflow.DecodeDellJob)),
		diagnostics.WithLogger(s.logger),
		diagnostics.WithPreflightSink(s.preflightSink(ctx)))
	return opRun{
		operation: "diagnostics",
		decoder:   jobregistry.DecoderDell,
		overrides: diagnostics.Overrides,
		run: func(ctx context.Context) (workflow.Result, error) {
			return svc.Execute(ctx, o, checkMode)
		},
	}
}
