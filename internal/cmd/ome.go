package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/3leaps/gobmc/pkg/exportlog"
	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/workflow"
)

var omeCmd = &cobra.Command{
	Use:   "ome",
	Short: "OpenManage Enterprise operations",
}

var omeExportLogCmd = &cobra.Command{
	Use:   "export-log",
	Short: "Export application or SupportAssist logs to a network share",
	Long: `Submit an OpenManage Enterprise export-log job for a set of devices and
optionally wait for it to finish. --host addresses the appliance.

Examples:
  # SupportAssist collection for two servers to an NFS share
  gobmc ome export-log --host ome.example.com --device-ids 10011,10012 \
    --share-type NFS --share-address 10.0.0.5 --share-name /exports \
    --log-selectors OS_LOGS,RAID_LOGS

  # Application logs of the lead chassis
  gobmc ome export-log --log-type application --lead-chassis-only \
    --share-type CIFS --share-address 10.0.0.5 --share-name logs \
    --share-user admin --share-password secret`,
	Args: cobra.NoArgs,
	RunE: runOMEExportLog,
}

var (
	exportOpts    = exportlog.DefaultOptions()
	exportLogType string
)

func init() {
	rootCmd.AddCommand(omeCmd)
	omeCmd.AddCommand(omeExportLogCmd)

	f := omeExportLogCmd.Flags()
	f.IntSliceVar(&exportOpts.DeviceIDs, "device-ids", nil, "Device ids")
	f.StringSliceVar(&exportOpts.DeviceServiceTags, "device-service-tags", nil, "Device service tags")
	f.StringVar(&exportOpts.DeviceGroupName, "device-group-name", "", "Device group name")
	f.StringVar(&exportLogType, "log-type", string(exportlog.LogSupportAssist), "Log type (application|support_assist_collection)")
	f.BoolVar(&exportOpts.MaskSensitiveInfo, "mask-sensitive-info", false, "Mask sensitive data in application logs")
	f.StringSliceVar(&exportOpts.LogSelectors, "log-selectors", nil, "SupportAssist log selectors (OS_LOGS,RAID_LOGS,DEBUG_LOGS)")
	f.StringVar(&exportOpts.ShareAddress, "share-address", "", "Share server address")
	f.StringVar(&exportOpts.ShareName, "share-name", "", "Share name or path")
	f.StringVar(&exportOpts.ShareType, "share-type", "", "Share type (NFS|CIFS)")
	f.StringVar(&exportOpts.ShareUser, "share-user", "", "CIFS share user")
	f.StringVar(&exportOpts.SharePassword, "share-password", "", "CIFS share password")
	f.StringVar(&exportOpts.ShareDomain, "share-domain", "", "CIFS share domain")
	f.BoolVar(&exportOpts.JobWait, "job-wait", true, "Wait for the export job to finish")
	f.IntVar(&exportOpts.JobWaitTimeout, "job-wait-timeout", exportlog.DefaultJobWaitTimeout, "Minutes to wait for the job")
	f.BoolVar(&exportOpts.TestConnection, "test-connection", false, "Validate the share before submitting")
	f.BoolVar(&exportOpts.LeadChassisOnly, "lead-chassis-only", false, "Export application logs of the lead chassis only")
}

func runOMEExportLog(cmd *cobra.Command, _ []string) error {
	o := exportOpts
	o.LogType = exportlog.LogType(exportLogType)

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	checkMode := IsCheckMode()
	_, err = s.execute(cmd.Context(), exportLogOp(cmd.Context(), s, o, checkMode), checkMode)
	return err
}

// exportLogOp binds an export-log invocation to s.
func exportLogOp(ctx context.Context, s *session, o exportlog.Options, checkMode bool) opRun {
	svc := exportlog.New(s.client,
		exportlog.WithPoller(s.poller(ctx, workflow.DecodeOMEJob)),
		exportlog.WithLogger(s.logger),
		exportlog.WithPreflightSink(s.preflightSink(ctx)))
	return opRun{
		operation: "ome/export-log",
		decoder:   jobregistry.DecoderOME,
		run: func(ctx context.Context) (workflow.Result, error) {
			return svc.Execute(ctx, o, checkMode)
		},
	}
}
