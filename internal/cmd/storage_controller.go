package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gobmc/pkg/jobregistry"
	"github.com/3leaps/gobmc/pkg/storagecontroller"
	"github.com/3leaps/gobmc/pkg/workflow"
)

var storageControllerCmd = &cobra.Command{
	Use:   "storage-controller <command>",
	Short: "Run DellRaidService actions on a storage controller",
	Long: `Run a DellRaidService action against an iDRAC storage controller, its
physical disks or its virtual disks.

Commands:
  ` + commandList() + `

Examples:
  # Assign a global hot spare
  gobmc storage-controller AssignSpare --target Disk.Bay.0:Enclosure.Internal.0-1:RAID.Slot.1-1

  # Set a local key and wait for the job
  gobmc storage-controller SetControllerKey --controller-id RAID.Slot.1-1 \
    --key-id my_key --key 'Pa$$w0rd1' --job-wait

  # Report whether a reset would change anything
  gobmc storage-controller ResetConfig --controller-id RAID.Slot.1-1 --check-mode`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: commandNames(),
	RunE:      runStorageController,
}

var storageParams = storagecontroller.DefaultParams()

func init() {
	rootCmd.AddCommand(storageControllerCmd)

	f := storageControllerCmd.Flags()
	f.StringVar(&storageParams.ControllerID, "controller-id", "", "Storage controller FQDD")
	f.StringSliceVar(&storageParams.VolumeID, "volume-id", nil, "Virtual disk FQDDs")
	f.StringSliceVar(&storageParams.Target, "target", nil, "Physical disk FQDDs")
	f.StringVar(&storageParams.Key, "key", "", "Controller encryption key")
	f.StringVar(&storageParams.KeyID, "key-id", "", "Controller encryption key id")
	f.StringVar(&storageParams.OldKey, "old-key", "", "Current key for ReKey in LKM mode")
	f.StringVar(&storageParams.Mode, "mode", storagecontroller.ModeLKM, "Key management mode (LKM|SEKM)")
	f.BoolVar(&storageParams.JobWait, "job-wait", false, "Wait for the controller job to finish")
	f.IntVar(&storageParams.JobWaitTimeout, "job-wait-timeout", storagecontroller.DefaultJobWaitTimeout, "Seconds to wait for the job")
	f.StringVar(&storageParams.SystemID, "system-id", storagecontroller.DefaultSystemID, "Computer system hosting the controller")
}

func commandNames() []string {
	names := make([]string, 0, len(storagecontroller.Commands))
	for _, c := range storagecontroller.Commands {
		names = append(names, string(c))
	}
	return names
}

func commandList() string {
	return strings.Join(commandNames(), ", ")
}

func runStorageController(cmd *cobra.Command, args []string) error {
	p := storageParams
	p.Command = storagecontroller.Command(args[0])

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	checkMode := IsCheckMode()
	op, err := storageControllerOp(cmd.Context(), s, p, checkMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid storage controller command", err)
	}
	_, err = s.execute(cmd.Context(), op, checkMode)
	return err
}

// storageControllerOp binds a storage controller command to s.
func storageControllerOp(ctx context.Context, s *session, p storagecontroller.Params, checkMode bool) (opRun, error) {
	svc, err := storagecontroller.New(s.client,
		storagecontroller.WithPoller(s.poller(ctx, workflow.DecodeDellJob)),
		storagecontroller.WithLogger(s.logger),
		storagecontroller.WithPreflightSink(s.preflightSink(ctx)))
	if err != nil {
		return opRun{}, fmt.Errorf("storage controller: %w", err)
	}
	return opRun{
		operation: "storage-controller/" + string(p.Command),
		decoder:   jobregistry.DecoderDell,
		run: func(ctx context.Context) (workflow.Result, error) {
			return svc.Execute(ctx, p, checkMode)
		},
	}, nil
}
