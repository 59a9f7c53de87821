package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
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
	MsgExported          = "Successfully exported the diagnostics."
	MsgRan               = "Successfully ran the diagnostics operation."
	MsgRanAndExported    = "Successfully ran and exported the diagnostics."
	MsgRunTriggered      = "Successfully triggered the job to run diagnostics."
	MsgAlreadyRunning    = "The diagnostics job is already present."
	MsgUnsupportedFW     = "iDRAC firmware version is not supported."
	MsgNoDiagnosticsFile = "The diagnostics file does not exist."
)

const (
	lcService       = "DellLCService"
	actionRun       = "DellLCService.RunePSADiagnostics"
	actionExport    = "DellLCService.ExportePSADiagnosticsResult"
	actionTestShare = "DellLCService.TestNetworkShare"
	jobTypeDiag     = "RemoteDiagnostics"
	jobsExpand      = "?$expand=*($levels=1)"
)

// Overrides maps export-specific vendor message ids onto results.
var Overrides = []workflow.MessageOverride{
	{MessageID: "SYS099", Msg: MsgNoDiagnosticsFile, Skipped: true},
	{MessageID: "SYS098", Skipped: true},
}

// Service runs diagnostics against one controller.
type Service struct {
	client      transport.Client
	host        string
	poller      *workflow.Poller
	logger      *zap.Logger
	now         func() time.Time
	onPreflight func(*output.PreflightRecord)
}

// Option configures a Service.
type Option func(*Service)

// WithPoller replaces the job poller.
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

// WithNow sets the local clock used for generated file names.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPreflightSink receives share preflight records.
func WithPreflightSink(fn func(*output.PreflightRecord)) Option {
	return func(s *Service) {
		s.onPreflight = fn
	}
}

// New returns a Service. host is the controller address, used to derive
// default export file names.
func New(client transport.Client, host string, opts ...Option) *Service {
	s := &Service{
		client: client,
		host:   host,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poller == nil {
		s.poller = workflow.NewPoller(client, workflow.WithLogger(s.logger))
	}
	return s
}

// endpoints are the discovered URIs for one invocation.
type endpoints struct {
	manager   string
	run       string
	export    string
	testShare string
}

// Execute validates o and performs run, export, or run followed by export.
// In check mode no state-changing request is sent.
func (s *Service) Execute(ctx context.Context, o Options, checkMode bool) (workflow.Result, error) {
	if err := o.Validate(); err != nil {
		return workflow.Result{}, err
	}
	ep, err := s.discover(ctx, o.ResourceID)
	if err != nil {
		return workflow.Result{}, err
	}

	switch {
	case o.Run && o.Export:
		res, err := s.run(ctx, o, ep, checkMode)
		if err != nil || checkMode || !o.JobWait || res.Failed {
			return res, err
		}
		exp, err := s.export(ctx, o, ep, false)
		if err != nil || exp.Failed {
			return exp, err
		}
		exp.Msg = MsgRanAndExported
		return exp, nil
	case o.Run:
		return s.run(ctx, o, ep, checkMode)
	default:
		return s.export(ctx, o, ep, checkMode)
	}
}

func (s *Service) discover(ctx context.Context, resourceID string) (*endpoints, error) {
	manager, err := redfish.ResolveMemberURI(ctx, s.client, redfish.ManagersURI, resourceID)
	if err != nil {
		return nil, err
	}
	lc, err := workflow.DiscoverOemTarget(ctx, s.client, manager, "Dell", lcService, MsgUnsupportedFW)
	if err != nil {
		return nil, err
	}
	doc, err := redfish.Get(ctx, s.client, lc)
	if err != nil {
		return nil, err
	}
	ep := &endpoints{manager: manager}
	for name, dst := range map[string]*string{actionRun: &ep.run, actionExport: &ep.export, actionTestShare: &ep.testShare} {
		*dst, _ = redfish.ActionTarget(doc, name)
	}
	return ep, nil
}

func (s *Service) run(ctx context.Context, o Options, ep *endpoints, checkMode bool) (workflow.Result, error) {
	if ep.run == "" {
		return workflow.Result{}, &workflow.UnsupportedFirmwareError{Message: MsgUnsupportedFW}
	}
	if o.Export {
		if err := s.checkShare(ctx, *o.Share, ep, checkMode); err != nil {
			return workflow.Result{}, err
		}
	}
	if err := s.checkExistingJob(ctx, ep); err != nil {
		return workflow.Result{}, err
	}
	if d := workflow.Evaluate(nil, nil, workflow.GateOptions{CheckMode: checkMode, Kind: workflow.OperationAction}); d != workflow.Proceed {
		return workflow.GateResult(d), nil
	}

	var schedule workflow.Payload
	if o.RebootType == RebootPowerCycle && (o.ScheduledStartTime != "" || o.ScheduledEndTime != "") {
		now, err := redfish.ManagerDateTime(ctx, s.client, ep.manager)
		if err != nil {
			return workflow.Result{}, err
		}
		if schedule, err = ScheduleFields(o.ScheduledStartTime, o.ScheduledEndTime, now); err != nil {
			return workflow.Result{}, err
		}
	}

	sub, err := workflow.Submit(ctx, s.client, http.MethodPost, ep.run, BuildRunPayload(o, schedule))
	if err != nil {
		return workflow.Result{}, err
	}
	s.logger.Info("Diagnostics submitted", zap.String("job_uri", sub.JobURI), zap.Int("status", sub.StatusCode))

	opts := workflow.ReportOptions{SuccessMsg: MsgRan, SubmittedMsg: MsgRunTriggered}
	if !sub.Async() {
		return workflow.Report(nil, workflow.ReportOptions{SuccessMsg: MsgRan}), nil
	}
	jobURI := s.jobURI(ep, sub.JobURI)
	if !o.JobWait {
		doc, err := redfish.Get(ctx, s.client, jobURI)
		if err != nil {
			return workflow.Result{}, err
		}
		task := map[string]any{"id": workflow.JobIDFromURI(jobURI), "uri": jobURI}
		return workflow.Report(&workflow.JobOutcome{Job: workflow.DecodeDellJob(doc)}, opts).WithArtifact("task", task), nil
	}
	out, err := s.poller.Wait(ctx, jobURI, workflow.WaitOptions{Timeout: o.Timeout()})
	if err != nil {
		return workflow.Result{}, err
	}
	return workflow.Report(out, opts), nil
}

// checkExistingJob fails with AlreadyRunningError when a diagnostics job is
// already queued or running.
func (s *Service) checkExistingJob(ctx context.Context, ep *endpoints) error {
	doc, err := redfish.Get(ctx, s.client, ep.manager+"/Oem/Dell/Jobs"+jobsExpand)
	if err != nil {
		return err
	}
	for _, m := range redfish.Members(doc) {
		job := workflow.DecodeDellJob(m)
		if job.ID == "" || job.JobType != jobTypeDiag {
			continue
		}
		switch job.State {
		case workflow.JobStateScheduled, workflow.JobStateRunning, workflow.JobStateStarting, workflow.JobStateNew:
			return &workflow.AlreadyRunningError{Message: MsgAlreadyRunning, Job: job}
		}
	}
	return nil
}

// checkShare verifies the export destination. Local shares are checked on
// disk; remote shares are probed with TestNetworkShare outside check mode.
func (s *Service) checkShare(ctx context.Context, share ShareParameters, ep *endpoints, checkMode bool) error {
	p := share.withDefaults()
	spec := preflight.Spec{Mode: preflight.ModeWriteProbe}
	if checkMode {
		spec.Mode = preflight.ModeReadSafe
	}
	target := preflight.ShareTarget{TestURI: ep.testShare}
	if p.ShareType == ShareLocal {
		target.LocalDir = p.ShareName
	} else {
		payload := BuildSharePayload(p)
		delete(payload, "FileName")
		target.Payload = payload
	}
	rec, err := preflight.Share(ctx, s.client, target, spec)
	if s.onPreflight != nil && rec != nil && len(rec.Results) > 0 {
		s.onPreflight(rec)
	}
	return err
}

func (s *Service) export(ctx context.Context, o Options, ep *endpoints, checkMode bool) (workflow.Result, error) {
	if ep.export == "" {
		return workflow.Result{}, &workflow.UnsupportedFirmwareError{Message: MsgUnsupportedFW}
	}
	share := o.Share.withDefaults()
	if err := s.checkShare(ctx, share, ep, checkMode); err != nil {
		return workflow.Result{}, err
	}
	if d := workflow.Evaluate(nil, nil, workflow.GateOptions{CheckMode: checkMode, Kind: workflow.OperationAction}); d != workflow.Proceed {
		return workflow.GateResult(d), nil
	}

	fileName := share.FileName
	if fileName == "" {
		fileName = DefaultFileName(s.host, s.now())
	}

	var payload workflow.Payload
	switch share.ShareType {
	case ShareLocal:
		payload = workflow.Payload{"ShareType": "Local"}
	case ShareNFS:
		payload = BuildSharePayload(share)
		delete(payload, "UserName")
		delete(payload, "Password")
	case ShareCIFS:
		payload = BuildSharePayload(share)
		if share.Workgroup != "" {
			payload["Workgroup"] = share.Workgroup
		}
	default:
		payload = BuildSharePayload(share)
	}
	payload["FileName"] = fileName

	sub, err := workflow.Submit(ctx, s.client, http.MethodPost, ep.export, payload)
	if err != nil {
		return workflow.Result{}, err
	}
	location := ShareLocation(share)
	res := workflow.Result{Msg: MsgExported, Changed: true}

	if share.ShareType == ShareLocal {
		if !sub.Async() {
			return workflow.Result{}, errors.New("export did not return a file location")
		}
		resp, err := s.client.Invoke(ctx, http.MethodGet, sub.JobURI, nil)
		if err != nil {
			return workflow.Result{}, err
		}
		if _, err := writeLocalFile(share.ShareName, fileName, resp.Body); err != nil {
			return workflow.Result{}, err
		}
		s.logger.Info("Diagnostics exported", zap.String("path", location+"/"+fileName))
		return res.WithArtifact("diagnostics_file_path", location+"/"+fileName), nil
	}

	if sub.Async() {
		timeout := o.Timeout()
		if timeout <= 0 {
			timeout = DefaultJobWaitTimeout * time.Second
		}
		out, err := s.poller.Wait(ctx, s.jobURI(ep, sub.JobURI), workflow.WaitOptions{Timeout: timeout})
		if err != nil {
			return workflow.Result{}, err
		}
		rep := workflow.Report(out, workflow.ReportOptions{SuccessMsg: MsgExported})
		if rep.Failed {
			return rep, nil
		}
		res.JobDetails = rep.JobDetails
	}
	return res.WithArtifact("diagnostics_file_path", location+"/"+fileName), nil
}

func (s *Service) jobURI(ep *endpoints, location string) string {
	return fmt.Sprintf("%s/Oem/Dell/Jobs/%s", ep.manager, workflow.JobIDFromURI(location))
}
