// Package exportlog exports SupportAssist collections and application log
// bundles from OpenManage Enterprise to a network share.
package exportlog

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// LogType selects what is collected.
type LogType string

const (
	LogApplication        LogType = "application"
	LogSupportAssist      LogType = "support_assist_collection"
	LogSupportAssistAlias LogType = "supportassist_collection"
)

func (t LogType) supportAssist() bool {
	return t == LogSupportAssist || t == LogSupportAssistAlias
}

// Share types accepted by OME.
const (
	ShareNFS  = "NFS"
	ShareCIFS = "CIFS"
)

// logSelectors maps selector names to the ids OME expects in logSelector.
var logSelectors = map[string]int{
	"OS_LOGS":    1,
	"RAID_LOGS":  2,
	"DEBUG_LOGS": 3,
}

// DefaultJobWaitTimeout is in minutes.
const DefaultJobWaitTimeout = 60

// Options are the user parameters of an export-log invocation.
type Options struct {
	DeviceIDs         []int    `mapstructure:"device_ids"`
	DeviceServiceTags []string `mapstructure:"device_service_tags"`
	DeviceGroupName   string   `mapstructure:"device_group_name"`

	LogType           LogType  `mapstructure:"log_type"`
	MaskSensitiveInfo bool     `mapstructure:"mask_sensitive_info"`
	LogSelectors      []string `mapstructure:"log_selectors"`

	ShareAddress  string `mapstructure:"share_address"`
	ShareName     string `mapstructure:"share_name"`
	ShareType     string `mapstructure:"share_type"`
	ShareUser     string `mapstructure:"share_user"`
	SharePassword string `mapstructure:"share_password"`
	ShareDomain   string `mapstructure:"share_domain"`

	JobWait bool `mapstructure:"job_wait"`

	// JobWaitTimeout is in minutes.
	JobWaitTimeout int `mapstructure:"job_wait_timeout"`

	TestConnection  bool `mapstructure:"test_connection"`
	LeadChassisOnly bool `mapstructure:"lead_chassis_only"`
}

// DefaultOptions returns Options with the documented defaults applied.
func DefaultOptions() Options {
	return Options{
		LogType:        LogSupportAssist,
		JobWait:        true,
		JobWaitTimeout: DefaultJobWaitTimeout,
	}
}

// Timeout converts JobWaitTimeout to a duration.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.JobWaitTimeout) * time.Minute
}

// Validate checks parameter combinations without any I/O.
func (o Options) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"share_address", o.ShareAddress},
		{"share_name", o.ShareName},
		{"share_type", o.ShareType},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return workflow.Validationf(missing[0], "missing required arguments: %s", strings.Join(missing, ", "))
	}

	switch o.ShareType {
	case ShareNFS, ShareCIFS:
	default:
		return workflow.Validationf("share_type", "value of share_type must be one of: NFS, CIFS, got: %s", o.ShareType)
	}
	switch o.LogType {
	case LogApplication, LogSupportAssist, LogSupportAssistAlias:
	default:
		return workflow.Validationf("log_type", "value of log_type must be one of: application, support_assist_collection, supportassist_collection, got: %s", o.LogType)
	}
	var unknown []string
	for _, sel := range o.LogSelectors {
		if _, ok := logSelectors[sel]; !ok {
			unknown = append(unknown, sel)
		}
	}
	if len(unknown) > 0 {
		return workflow.Validationf("log_selectors", "value of log_selectors must be one or more of: OS_LOGS, RAID_LOGS, DEBUG_LOGS. Got no match for: %s", strings.Join(unknown, ", "))
	}

	given := 0
	if len(o.DeviceIDs) > 0 {
		given++
	}
	if len(o.DeviceServiceTags) > 0 {
		given++
	}
	if o.DeviceGroupName != "" {
		given++
	}
	if given > 1 {
		return workflow.Validationf("device_ids", "parameters are mutually exclusive: device_ids|device_service_tags|device_group_name")
	}
	if o.LogType.supportAssist() && given == 0 {
		return workflow.Validationf("device_ids", "log_type is %s but any of the following are missing: device_ids, device_service_tags, device_group_name", o.LogType)
	}

	if o.ShareType == ShareCIFS {
		missing = missing[:0]
		if o.ShareUser == "" {
			missing = append(missing, "share_user")
		}
		if o.SharePassword == "" {
			missing = append(missing, "share_password")
		}
		if len(missing) > 0 {
			return workflow.Validationf(missing[0], "share_type is CIFS but all of the following are missing: %s", strings.Join(missing, ", "))
		}
	}

	if o.JobWait && o.JobWaitTimeout <= 0 {
		return &workflow.InvalidTimeoutError{Timeout: o.Timeout()}
	}
	return nil
}

// logSelector renders the logSelector job parameter, or "" when none was requested.
func (o Options) logSelector() string {
	if len(o.LogSelectors) == 0 {
		return ""
	}
	ids := make([]int, 0, len(o.LogSelectors))
	for _, sel := range o.LogSelectors {
		ids = append(ids, logSelectors[sel])
	}
	sort.Ints(ids)
	parts := []string{"0"}
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}
