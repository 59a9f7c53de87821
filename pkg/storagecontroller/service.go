package storagecontroller

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/preflight"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// MsgUnsupportedFW is reported when DellRaidService is absent.
const MsgUnsupportedFW = "Installed version of iDRAC does not support this feature using Redfish API"

// Service submits storage-controller commands.
type Service struct {
	client      transport.Client
	poller      *workflow.Poller
	logger      *zap.Logger
	handlers    map[Command]handler
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

// WithPreflightSink receives the RAID service preflight record.
func WithPreflightSink(fn func(*output.PreflightRecord)) Option {
	return func(s *Service) {
		s.onPreflight = fn
	}
}

// New returns a Service with the full command table.
func New(client transport.Client, opts ...Option) (*Service, error) {
	return newService(client, dispatch(), opts...)
}

func newService(client transport.Client, table map[Command]handler, opts ...Option) (*Service, error) {
	known := make(map[Command]bool, len(Commands))
	for _, c := range Commands {
		known[c] = true
		h, ok := table[c]
		if !ok || h.validate == nil || h.plan == nil {
			return nil, fmt.Errorf("storagecontroller: no handler for command %s", c)
		}
	}
	for c := range table {
		if !known[c] {
			return nil, fmt.Errorf("storagecontroller: handler for undeclared command %s", c)
		}
	}

	s := &Service{client: client, logger: zap.NewNop(), handlers: table}
	for _, opt := range opts {
		opt(s)
	}
	if s.poller == nil {
		s.poller = workflow.NewPoller(client, workflow.WithLogger(s.logger))
	}
	return s, nil
}

// SubmittedMsg is reported after a job was created.
func SubmittedMsg(cmd Command) string {
	return fmt.Sprintf("Successfully submitted the job that performs the '%s' operation.", cmd)
}

// PerformedMsg is reported after the job completed.
func PerformedMsg(cmd Command) string {
	return fmt.Sprintf("Successfully performed the '%s' operation.", cmd)
}

// Validate checks p without any I/O.
func (s *Service) Validate(p Params) error {
	return validateWith(s.handlers, p)
}

// ValidateParams checks p against the built-in command table without a
// controller connection.
func ValidateParams(p Params) error {
	return validateWith(dispatch(), p)
}

func validateWith(table map[Command]handler, p Params) error {
	h, ok := table[p.Command]
	if !ok {
		names := make([]string, 0, len(table))
		for c := range table {
			names = append(names, string(c))
		}
		sort.Strings(names)
		return workflow.Validationf("command", "value of command must be one of: %s, got: %s", strings.Join(names, ", "), p.Command)
	}
	if err := p.validateCommon(); err != nil {
		return err
	}
	return h.validate(p)
}

// Execute validates p, resolves current state, applies the check-mode gate
// and submits the command.
func (s *Service) Execute(ctx context.Context, p Params, checkMode bool) (workflow.Result, error) {
	if err := s.Validate(p); err != nil {
		return workflow.Result{}, err
	}
	if err := s.checkRaidService(ctx, p.system()); err != nil {
		return workflow.Result{}, err
	}

	r := &resources{client: s.client, system: p.system()}
	h := s.handlers[p.Command]
	pl, err := h.plan(ctx, r, p)
	if err != nil {
		return workflow.Result{}, err
	}

	d := workflow.Evaluate(pl.Current, pl.Desired, workflow.GateOptions{CheckMode: checkMode, Kind: h.kind})
	s.logger.Debug("Storage controller gate",
		zap.String("command", string(p.Command)),
		zap.String("decision", d.String()))
	if d != workflow.Proceed {
		return workflow.GateResult(d), nil
	}

	uri := fmt.Sprintf(raidActionURI, p.system(), pl.Action)
	sub, err := workflow.Submit(ctx, s.client, http.MethodPost, uri, pl.Payload)
	if err != nil {
		return workflow.Result{}, err
	}
	s.logger.Info("Storage controller command submitted",
		zap.String("command", string(p.Command)),
		zap.String("job_uri", sub.JobURI))

	opts := workflow.ReportOptions{SuccessMsg: PerformedMsg(p.Command), SubmittedMsg: SubmittedMsg(p.Command)}
	if !sub.Async() {
		return workflow.Result{Msg: PerformedMsg(p.Command), Changed: true}, nil
	}

	task := map[string]any{"id": workflow.JobIDFromURI(sub.JobURI), "uri": sub.JobURI}
	if !p.JobWait {
		return workflow.Report(nil, opts).WithArtifact("task", task), nil
	}
	out, err := s.poller.Wait(ctx, sub.JobURI, workflow.WaitOptions{Timeout: p.Timeout()})
	if err != nil {
		return workflow.Result{}, err
	}
	return workflow.Report(out, opts).WithArtifact("task", task), nil
}

// checkRaidService reports UnsupportedFirmwareError when DellRaidService
// cannot be read.
func (s *Service) checkRaidService(ctx context.Context, system string) error {
	spec := preflight.Spec{Mode: preflight.ModeReadSafe}
	rec, err := preflight.Service(ctx, s.client, fmt.Sprintf(raidServiceURI, system), spec)
	if s.onPreflight != nil && rec != nil {
		s.onPreflight(rec)
	}
	if err == nil {
		return nil
	}
	if _, isHTTP := transport.AsHTTPError(err); isHTTP {
		return &workflow.UnsupportedFirmwareError{Message: MsgUnsupportedFW, Err: err}
	}
	return err
}
