// Package diagnostics runs and exports remote ePSA diagnostics on an iDRAC.
package diagnostics

import (
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// RunMode selects the diagnostics depth.
type RunMode string

const (
	RunModeExpress  RunMode = "express"
	RunModeExtended RunMode = "extended"
	RunModeLongRun  RunMode = "long_run"
)

var runModes = map[RunMode]string{
	RunModeExpress:  "Express",
	RunModeExtended: "Extended",
	RunModeLongRun:  "ExpressAndExtended",
}

// RebootType selects how the host is rebooted into diagnostics.
type RebootType string

const (
	RebootForce      RebootType = "force"
	RebootGraceful   RebootType = "graceful"
	RebootPowerCycle RebootType = "power_cycle"
)

var rebootJobTypes = map[RebootType]string{
	RebootGraceful:   "GracefulRebootWithoutForcedShutdown",
	RebootForce:      "GracefulRebootWithForcedShutdown",
	RebootPowerCycle: "PowerCycle",
}

// DefaultJobWaitTimeout is applied when job_wait_timeout is unset.
const DefaultJobWaitTimeout = 1200

// Options are the user parameters of a diagnostics invocation.
type Options struct {
	Run    bool `mapstructure:"run"`
	Export bool `mapstructure:"export"`

	RunMode    RunMode    `mapstructure:"run_mode"`
	RebootType RebootType `mapstructure:"reboot_type"`

	// ScheduledStartTime and ScheduledEndTime accept YYYY-MM-DDThh:mm:ss+HH:MM
	// or YYYYMMDDhhmmss. They apply to power_cycle only.
	ScheduledStartTime string `mapstructure:"scheduled_start_time"`
	ScheduledEndTime   string `mapstructure:"scheduled_end_time"`

	JobWait        bool `mapstructure:"job_wait"`
	JobWaitTimeout int  `mapstructure:"job_wait_timeout"`

	Share *ShareParameters `mapstructure:"share_parameters"`

	ResourceID string `mapstructure:"resource_id"`
}

// DefaultOptions returns Options with the documented defaults applied.
func DefaultOptions() Options {
	return Options{
		RunMode:        RunModeExpress,
		RebootType:     RebootGraceful,
		JobWait:        true,
		JobWaitTimeout: DefaultJobWaitTimeout,
	}
}

// Timeout returns JobWaitTimeout as a duration.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.JobWaitTimeout) * time.Second
}

// Validate checks parameter combinations. It performs no I/O.
func (o Options) Validate() error {
	if !o.Run && !o.Export {
		return workflow.Validationf("run", "one of the following is required: run, export")
	}
	if o.Run {
		if _, ok := runModes[o.RunMode]; !ok {
			return workflow.Validationf("run_mode", "value of run_mode must be one of: express, extended, long_run, got: %s", o.RunMode)
		}
		if _, ok := rebootJobTypes[o.RebootType]; !ok {
			return workflow.Validationf("reboot_type", "value of reboot_type must be one of: force, graceful, power_cycle, got: %s", o.RebootType)
		}
		if o.RebootType == RebootPowerCycle {
			for _, v := range []string{o.ScheduledStartTime, o.ScheduledEndTime} {
				if v == "" {
					continue
				}
				if _, err := ParseScheduleTime(v); err != nil {
					return err
				}
			}
		}
	}
	if o.Export {
		if o.Share == nil {
			return workflow.Validationf("share_parameters", "export is True but all of the following are missing: share_parameters")
		}
		if err := o.Share.Validate(); err != nil {
			return err
		}
	}
	if o.JobWait && o.JobWaitTimeout <= 0 {
		return &workflow.InvalidTimeoutError{Timeout: o.Timeout()}
	}
	return nil
}
