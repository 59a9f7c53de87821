package exportlog

import (
	"strings"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// OME job types used here.
var (
	jobTypeDebugLogs     = map[string]any{"Id": 18, "Name": "DebugLogs_Task"}
	jobTypeValidateShare = map[string]any{"Id": 56, "Name": "ValidateNWFileShare_Task"}
)

// Device type ids.
const (
	DeviceTypeServer  = 1000
	DeviceTypeChassis = 2000
)

// Target is a device the export job runs against.
type Target struct {
	ID       int
	TypeID   int
	TypeName string
}

func param(key, value string) map[string]any {
	return map[string]any{"Key": key, "Value": value}
}

// BuildJobPayload renders the DebugLogs_Task job creation body.
func BuildJobPayload(o Options, targets []Target) workflow.Payload {
	params := []map[string]any{
		param("shareAddress", o.ShareAddress),
		param("shareType", o.ShareType),
		param("OPERATION_NAME", "EXTRACT_LOGS"),
	}
	if o.ShareName != "" {
		params = append(params, param("shareName", o.ShareName))
	}
	if o.ShareUser != "" {
		params = append(params, param("userName", o.ShareUser))
	}
	if o.SharePassword != "" {
		params = append(params, param("password", o.SharePassword))
	}
	if o.ShareDomain != "" {
		params = append(params, param("domainName", o.ShareDomain))
	}
	if o.LogType == LogApplication {
		params = append(params, param("maskSensitiveInfo", strings.ToUpper(boolString(o.MaskSensitiveInfo))))
	}
	if sel := o.logSelector(); sel != "" && o.LogType.supportAssist() {
		params = append(params, param("logSelector", sel))
	}

	tgts := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		tgts = append(tgts, map[string]any{
			"Id":         t.ID,
			"Data":       "",
			"TargetType": map[string]any{"Id": t.TypeID, "Name": t.TypeName},
		})
	}

	return workflow.Payload{
		"JobName":        "Export Log",
		"JobDescription": "Export device log",
		"Schedule":       "startnow",
		"State":          "Enabled",
		"JobType":        jobTypeDebugLogs,
		"Targets":        tgts,
		"Params":         params,
	}
}

// BuildShareTestPayload renders the ValidateNWFileShare_Task job body.
func BuildShareTestPayload(o Options) workflow.Payload {
	params := []map[string]any{
		param("checkPathOnly", "false"),
		param("shareType", o.ShareType),
		param("ShareNetworkFilePath", o.ShareName),
		param("shareAddress", o.ShareAddress),
		param("testShareWriteAccess", "true"),
	}
	if o.ShareUser != "" {
		params = append(params, param("UserName", o.ShareUser))
	}
	if o.SharePassword != "" {
		params = append(params, param("Password", o.SharePassword))
	}
	if o.ShareDomain != "" {
		params = append(params, param("domainName", o.ShareDomain))
	}
	return workflow.Payload{
		"JobName":        "Validate Share",
		"JobDescription": "Validate Share",
		"Schedule":       "startnow",
		"State":          "Enabled",
		"JobType":        jobTypeValidateShare,
		"Params":         params,
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
