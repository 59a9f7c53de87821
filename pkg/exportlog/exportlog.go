package exportlog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/preflight"
	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// User-facing messages.
const (
	MsgSubmitted           = "Export log job submitted successfully."
	MsgCompleted           = "Export log job completed successfully."
	MsgCompletedWithErrors = "Export log job completed with errors."
	MsgTimeout             = "The export job is not complete because it has exceeded the configured timeout period."
	MsgAlreadyRunning      = "An export log job is already running. Wait for the job to finish."
	MsgUnsupported         = "Export log operation is not supported on the specified system."
	MsgShareUnreachable    = "Unable to access the share. Ensure that the share address, share name, share domain, and share credentials provided are correct."
	MsgNoChassis           = "There is no device(s) available to export application log."
	MsgEmptyGroup          = "There are no device(s) present in this group."
)

const (
	jobsURI    = "/api/JobService/Jobs"
	devicesURI = "/api/DeviceService/Devices"
	groupsURI  = "/api/GroupService/Groups"
	domainsURI = "/api/ManagementDomainService/Domains"

	// messageNoDomainService is returned by systems without chassis domains.
	messageNoDomainService = "CGEN1006"

	jobTypeName = "DebugLogs_Task"

	pollInterval      = 5 * time.Second
	shareProbeTimeout = 5 * time.Second
)

var completedWithErrors = regexp.MustCompile(`Job status for JID_\d+ is Completed with Errors\.`)

// JobURI returns the OME job resource for id.
func JobURI(id string) string {
	return fmt.Sprintf("%s(%s)", jobsURI, id)
}

// Service exports logs from one OME appliance.
type Service struct {
	client      transport.Client
	poller      *workflow.Poller
	logger      *zap.Logger
	onPreflight func(*output.PreflightRecord)
}

// Option configures a Service.
type Option func(*Service)

// WithPoller replaces the job poller. The poller must decode OME jobs.
func WithPoller(p *workflow.Poller) Option {
	return func(s *Service) {
		if p != nil {
			s.poller = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPreflightSink receives the share check record.
func WithPreflightSink(fn func(*output.PreflightRecord)) Option {
	return func(s *Service) {
		s.onPreflight = fn
	}
}

// New returns a Service for client.
func New(client transport.Client, opts ...Option) *Service {
	s := &Service{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.poller == nil {
		s.poller = workflow.NewPoller(client,
			workflow.WithDecoder(workflow.DecodeOMEJob),
			workflow.WithLogger(s.logger))
	}
	return s
}

// Execute validates o, checks the appliance and the share, resolves the
// target devices and submits the export job.
func (s *Service) Execute(ctx context.Context, o Options, checkMode bool) (workflow.Result, error) {
	if err := o.Validate(); err != nil {
		return workflow.Result{}, err
	}
	if o.LogType == LogApplication {
		if err := s.checkDomainService(ctx); err != nil {
			return workflow.Result{}, err
		}
	}
	if err := s.checkExistingJob(ctx); err != nil {
		return workflow.Result{}, err
	}
	if o.TestConnection {
		if err := s.checkShare(ctx, o, checkMode); err != nil {
			return workflow.Result{}, err
		}
	}

	targets, err := s.targets(ctx, o)
	if err != nil {
		return workflow.Result{}, err
	}

	d := workflow.Evaluate(nil, nil, workflow.GateOptions{CheckMode: checkMode, Kind: workflow.OperationAction})
	if d != workflow.Proceed {
		return workflow.GateResult(d), nil
	}

	id, body, err := s.submit(ctx, BuildJobPayload(o, targets))
	if err != nil {
		return workflow.Result{}, err
	}
	s.logger.Info("Export log job submitted",
		zap.String("job_id", id),
		zap.Int("targets", len(targets)))

	if !o.JobWait {
		return workflow.Result{Msg: MsgSubmitted, Changed: true, JobDetails: redfish.StripOData(body)}, nil
	}

	out, err := s.poller.Wait(ctx, JobURI(id), workflow.WaitOptions{Timeout: o.Timeout(), PollInterval: pollInterval})
	if err != nil {
		var wte *workflow.WaitTimeoutError
		if errors.As(err, &wte) {
			wte.Message = MsgTimeout
		}
		return workflow.Result{}, err
	}

	job := out.Job
	if job.State.IsFailure() || job.State == workflow.JobStateCompletedWithErrors {
		failed, err := s.failedHistory(ctx, id)
		if err != nil {
			return workflow.Result{}, err
		}
		return workflow.Result{Msg: MsgCompletedWithErrors, Changed: !failed, Failed: failed, JobDetails: job.Details()}, nil
	}
	return workflow.Report(out, workflow.ReportOptions{SuccessMsg: MsgCompleted, SubmittedMsg: MsgSubmitted}), nil
}

func (s *Service) submit(ctx context.Context, payload workflow.Payload) (string, map[string]any, error) {
	sub, err := workflow.Submit(ctx, s.client, http.MethodPost, jobsURI, payload)
	if err != nil {
		return "", nil, err
	}
	if id, ok := redfish.Int(sub.Body, "Id"); ok {
		return strconv.Itoa(id), sub.Body, nil
	}
	if id := redfish.String(sub.Body, "Id"); id != "" {
		return id, sub.Body, nil
	}
	return "", nil, fmt.Errorf("exportlog: job creation response has no Id")
}

// checkDomainService rejects appliances without chassis domain support.
func (s *Service) checkDomainService(ctx context.Context) error {
	_, err := redfish.Get(ctx, s.client, domainsURI)
	if err == nil {
		return nil
	}
	if pe, ok := workflow.AsProviderError(err); ok {
		if pe.HasMessageID(messageNoDomainService) {
			return &workflow.UnsupportedFirmwareError{Message: MsgUnsupported, Err: err}
		}
		return nil
	}
	if _, isHTTP := transport.AsHTTPError(err); isHTTP {
		return nil
	}
	return err
}

func (s *Service) checkExistingJob(ctx context.Context) error {
	jobs, err := s.collect(ctx, jobsURI)
	if err != nil {
		return err
	}
	for _, doc := range jobs {
		if redfish.String(doc, "JobType", "Name") != jobTypeName {
			continue
		}
		job := workflow.DecodeOMEJob(doc)
		if job.State.IsActive() {
			s.logger.Debug("Export log job already active",
				zap.String("job_id", job.ID),
				zap.String("state", string(job.State)))
			return &workflow.AlreadyRunningError{Message: MsgAlreadyRunning, Job: job}
		}
	}
	return nil
}

// checkShare runs the share validation job. Check mode records the plan
// without creating the job.
func (s *Service) checkShare(ctx context.Context, o Options, checkMode bool) error {
	spec := preflight.Spec{Mode: preflight.ModeWriteProbe}
	if checkMode {
		spec.Mode = preflight.ModeReadSafe
	}
	target := preflight.ShareTarget{
		TestURI: jobsURI,
		Payload: BuildShareTestPayload(o),
		Probe: func(ctx context.Context) error {
			id, _, err := s.submit(ctx, BuildShareTestPayload(o))
			if err != nil {
				return err
			}
			out, err := s.poller.Wait(ctx, JobURI(id), workflow.WaitOptions{Timeout: shareProbeTimeout, PollInterval: pollInterval})
			if err != nil || out.Job.State != workflow.JobStateCompleted {
				return workflow.Validationf("share_address", MsgShareUnreachable)
			}
			return nil
		},
	}
	rec, err := preflight.Share(ctx, s.client, target, spec)
	if s.onPreflight != nil && rec != nil {
		s.onPreflight(rec)
	}
	return err
}

// targets resolves the devices the export job runs against.
func (s *Service) targets(ctx context.Context, o Options) ([]Target, error) {
	if o.LogType == LogApplication {
		return s.chassisTargets(ctx, o.LeadChassisOnly)
	}
	var ids []int
	var err error
	if o.DeviceGroupName != "" {
		ids, err = s.groupDevices(ctx, o.DeviceGroupName)
	} else {
		ids, err = s.devices(ctx, o)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, Target{ID: id, TypeID: DeviceTypeServer, TypeName: "DEVICE"})
	}
	return out, nil
}

func (s *Service) chassisTargets(ctx context.Context, leadOnly bool) ([]Target, error) {
	leadID, haveLead := 0, false
	if leadOnly {
		domains, err := s.collect(ctx, domainsURI)
		if err != nil {
			return nil, err
		}
		for _, d := range domains {
			switch redfish.String(d, "DomainRoleTypeValue") {
			case "LEAD", "STANDALONE":
				leadID, haveLead = redfish.Int(d, "DeviceId")
			}
		}
		if !haveLead {
			return nil, workflow.Validationf("lead_chassis_only", MsgNoChassis)
		}
	}

	devices, err := s.collect(ctx, devicesURI)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, dev := range devices {
		id, _ := redfish.Int(dev, "Id")
		typ, _ := redfish.Int(dev, "Type")
		if leadOnly && id != leadID {
			continue
		}
		if !leadOnly && typ != DeviceTypeChassis {
			continue
		}
		out = append(out, Target{ID: id, TypeID: typ, TypeName: "CHASSIS"})
	}
	if len(out) == 0 {
		return nil, workflow.Validationf("log_type", MsgNoChassis)
	}
	return out, nil
}

func (s *Service) groupDevices(ctx context.Context, name string) ([]int, error) {
	groups, err := s.collect(ctx, groupsURI)
	if err != nil {
		return nil, err
	}
	groupID, found := 0, false
	for _, g := range groups {
		if redfish.String(g, "Name") == name {
			groupID, found = redfish.Int(g, "Id")
			break
		}
	}
	if !found {
		return nil, workflow.Validationf("device_group_name",
			"Unable to complete the operation because the entered target device group name '%s' is invalid.", name)
	}

	members, err := s.collect(ctx, fmt.Sprintf("%s(%d)/Devices", groupsURI, groupID))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, workflow.Validationf("device_group_name", MsgEmptyGroup)
	}
	var ids []int
	for _, m := range members {
		if typ, _ := redfish.Int(m, "Type"); typ == DeviceTypeServer {
			id, _ := redfish.Int(m, "Id")
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, workflow.Validationf("device_group_name",
			"The requested group '%s' does not contain devices that support export log.", name)
	}
	return ids, nil
}

// devices resolves device_ids or device_service_tags to server ids.
func (s *Service) devices(ctx context.Context, o Options) ([]int, error) {
	all, err := s.collect(ctx, devicesURI)
	if err != nil {
		return nil, err
	}

	label, field := "id", "Id"
	requested := make([]string, 0, len(o.DeviceIDs)+len(o.DeviceServiceTags))
	for _, id := range o.DeviceIDs {
		requested = append(requested, strconv.Itoa(id))
	}
	if len(o.DeviceIDs) == 0 {
		label, field = "service tag", "DeviceServiceTag"
		requested = append(requested, o.DeviceServiceTags...)
	}

	index := make(map[string]map[string]any, len(all))
	for _, dev := range all {
		key := redfish.String(dev, field)
		if field == "Id" {
			id, _ := redfish.Int(dev, "Id")
			key = strconv.Itoa(id)
		}
		index[key] = dev
	}

	var ids []int
	var invalid, otherTypes []string
	for _, want := range requested {
		dev, ok := index[want]
		if !ok {
			invalid = appendUnique(invalid, want)
			continue
		}
		if typ, _ := redfish.Int(dev, "Type"); typ != DeviceTypeServer {
			otherTypes = appendUnique(otherTypes, want)
			continue
		}
		id, _ := redfish.Int(dev, "Id")
		ids = append(ids, id)
	}
	if len(invalid) > 0 {
		return nil, workflow.Validationf("device_ids",
			"Unable to complete the operation because the entered target device %s(s) '%s' are invalid.", label, strings.Join(invalid, ","))
	}
	if len(ids) == 0 && len(otherTypes) > 0 {
		return nil, workflow.Validationf("device_ids",
			"The requested device %s(s) '%s' are not applicable for export log.", label, strings.Join(otherTypes, ","))
	}
	return ids, nil
}

// failedHistory inspects the latest execution history of job id. Per-device
// "Completed with Errors" lines are tolerated; any other detail fails the job.
func (s *Service) failedHistory(ctx context.Context, id string) (bool, error) {
	historyURI := JobURI(id) + "/ExecutionHistories"
	histories, err := s.collect(ctx, historyURI)
	if err != nil {
		return false, err
	}
	if len(histories) == 0 {
		return false, nil
	}
	hid, _ := redfish.Int(histories[0], "Id")
	details, err := s.collect(ctx, fmt.Sprintf("%s(%d)/ExecutionHistoryDetails", historyURI, hid))
	if err != nil {
		return false, err
	}
	for _, d := range details {
		if !completedWithErrors.MatchString(redfish.String(d, "Value")) {
			return true, nil
		}
	}
	return false, nil
}

// collect reads an OData collection, following @odata.nextLink.
func (s *Service) collect(ctx context.Context, uri string) ([]map[string]any, error) {
	var out []map[string]any
	seen := map[string]bool{}
	for uri != "" && !seen[uri] {
		seen[uri] = true
		doc, err := redfish.Get(ctx, s.client, uri)
		if err != nil {
			return nil, err
		}
		values, _ := doc["value"].([]any)
		for _, v := range values {
			if m, ok := v.(map[string]any); ok {
				out = append(out, m)
			}
		}
		uri = redfish.String(doc, "@odata.nextLink")
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
