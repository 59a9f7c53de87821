// Package storagecontroller submits DellRaidService actions against an iDRAC
// storage controller, physical disks and virtual disks.
package storagecontroller

import (
	"strings"
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// Command selects a DellRaidService operation.
type Command string

const (
	ResetConfig                Command = "ResetConfig"
	AssignSpare                Command = "AssignSpare"
	UnassignSpare              Command = "UnassignSpare"
	SetControllerKey           Command = "SetControllerKey"
	ReKey                      Command = "ReKey"
	RemoveControllerKey        Command = "RemoveControllerKey"
	EnableControllerEncryption Command = "EnableControllerEncryption"
	BlinkTarget                Command = "BlinkTarget"
	UnBlinkTarget              Command = "UnBlinkTarget"
	ConvertToRAID              Command = "ConvertToRAID"
	ConvertToNonRAID           Command = "ConvertToNonRAID"
	ChangePDStateToOnline      Command = "ChangePDStateToOnline"
	ChangePDStateToOffline     Command = "ChangePDStateToOffline"
	LockVirtualDisk            Command = "LockVirtualDisk"
)

// Commands lists every supported command.
var Commands = []Command{
	ResetConfig, AssignSpare, UnassignSpare, SetControllerKey, ReKey,
	RemoveControllerKey, EnableControllerEncryption, BlinkTarget, UnBlinkTarget,
	ConvertToRAID, ConvertToNonRAID, ChangePDStateToOnline, ChangePDStateToOffline,
	LockVirtualDisk,
}

// Key management modes.
const (
	ModeLKM  = "LKM"
	ModeSEKM = "SEKM"
)

// DefaultSystemID is the computer system hosting the controllers.
const DefaultSystemID = "System.Embedded.1"

// DefaultJobWaitTimeout is applied when job_wait_timeout is unset.
const DefaultJobWaitTimeout = 120

// Params are the user parameters of a storage-controller invocation.
type Params struct {
	Command      Command  `mapstructure:"command"`
	ControllerID string   `mapstructure:"controller_id"`
	VolumeID     []string `mapstructure:"volume_id"`
	Target       []string `mapstructure:"target"`
	Key          string   `mapstructure:"key"`
	KeyID        string   `mapstructure:"key_id"`
	OldKey       string   `mapstructure:"old_key"`
	Mode         string   `mapstructure:"mode"`

	JobWait        bool `mapstructure:"job_wait"`
	JobWaitTimeout int  `mapstructure:"job_wait_timeout"`

	SystemID string `mapstructure:"system_id"`
}

// DefaultParams returns Params with the documented defaults applied.
func DefaultParams() Params {
	return Params{
		Command:        AssignSpare,
		Mode:           ModeLKM,
		JobWaitTimeout: DefaultJobWaitTimeout,
		SystemID:       DefaultSystemID,
	}
}

// Timeout returns JobWaitTimeout as a duration.
func (p Params) Timeout() time.Duration {
	return time.Duration(p.JobWaitTimeout) * time.Second
}

func (p Params) system() string {
	if p.SystemID == "" {
		return DefaultSystemID
	}
	return p.SystemID
}

func (p Params) mode() string {
	if p.Mode == "" {
		return ModeLKM
	}
	return p.Mode
}

// validateCommon checks rules shared by every command.
func (p Params) validateCommon() error {
	switch p.mode() {
	case ModeLKM, ModeSEKM:
	default:
		return workflow.Validationf("mode", "value of mode must be one of: LKM, SEKM, got: %s", p.Mode)
	}
	if p.JobWait && p.JobWaitTimeout <= 0 {
		return &workflow.InvalidTimeoutError{Timeout: p.Timeout()}
	}
	return nil
}

func requireFields(cmd Command, fields map[string]string, order ...string) error {
	var missing []string
	for _, name := range order {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return workflow.Validationf(missing[0], "command is %s but all of the following are missing: %s", cmd, strings.Join(missing, ", "))
	}
	return nil
}

const (
	msgOneDisk   = "The Fully Qualified Device Descriptor (FQDD) of the target physical disk must be only one."
	msgOneVolume = "The Fully Qualified Device Descriptor (FQDD) of the target virtual drive must be only one."
)

func exactlyOneTarget(p Params) error {
	if len(p.Target) != 1 {
		return workflow.Validationf("target", msgOneDisk)
	}
	return nil
}
