// Package preflight checks that a controller and an export destination are
// usable before any state-changing request is sent.
package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly records the plan without checking anything.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe performs GET requests and local filesystem checks only.
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe additionally sends non-mutating probe actions such as
	// TestNetworkShare.
	ModeWriteProbe Mode = "write-probe"
)

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode Mode
}

// Capability names are stable strings used in JSONL output.
const (
	CapService    = "controller.service"
	CapShareWrite = "share.write"
	CapShareReach = "share.reach"
)

// ShareTarget describes an export destination.
type ShareTarget struct {
	// LocalDir is set for exports written on this host.
	LocalDir string

	// TestURI is the TestNetworkShare action target for network shares.
	TestURI string

	// Payload is the share description sent to TestURI.
	Payload map[string]any

	// Probe replaces the TestURI POST when set. OME validates shares
	// through a job rather than a single action.
	Probe func(ctx context.Context) error
}

// Service verifies that uri answers a GET.
func Service(ctx context.Context, client transport.Client, uri string, spec Spec) (*output.PreflightRecord, error) {
	rec := newRecord(spec, uri)
	if spec.Mode == ModePlanOnly {
		return rec, nil
	}
	method := fmt.Sprintf("GET %s", uri)
	if _, err := redfish.Get(ctx, client, uri); err != nil {
		rec.Results = append(rec.Results, denied(CapService, method, err))
		return rec, err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{Capability: CapService, Allowed: true, Method: method})
	return rec, nil
}

// Share verifies an export destination. Local directories must exist and be
// writable; network shares are probed only in ModeWriteProbe.
func Share(ctx context.Context, client transport.Client, target ShareTarget, spec Spec) (*output.PreflightRecord, error) {
	if target.LocalDir != "" {
		rec := newRecord(spec, target.LocalDir)
		if spec.Mode == ModePlanOnly {
			return rec, nil
		}
		method := "stat+create-temp"
		if err := LocalDirectory(target.LocalDir); err != nil {
			rec.Results = append(rec.Results, denied(CapShareWrite, method, err))
			return rec, err
		}
		rec.Results = append(rec.Results, output.PreflightCheckResult{Capability: CapShareWrite, Allowed: true, Method: method})
		return rec, nil
	}

	rec := newRecord(spec, target.TestURI)
	if spec.Mode != ModeWriteProbe || target.TestURI == "" {
		return rec, nil
	}
	method := fmt.Sprintf("POST %s", target.TestURI)
	probe := func(ctx context.Context) error {
		_, err := workflow.Submit(ctx, client, http.MethodPost, target.TestURI, target.Payload)
		return err
	}
	if target.Probe != nil {
		probe = target.Probe
	}
	if err := probe(ctx); err != nil {
		rec.Results = append(rec.Results, denied(CapShareReach, method, err))
		return rec, err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{Capability: CapShareReach, Allowed: true, Method: method})
	return rec, nil
}

// LocalDirectory verifies that dir exists and is writable.
func LocalDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return workflow.Validationf("share_name", "Provided directory path '%s' is not valid.", dir)
	}
	probe, err := os.CreateTemp(dir, ".gobmc-probe-*")
	if err != nil {
		return workflow.Validationf("share_name", "Provided directory path '%s' is not writable. Please check if the directory has appropriate permissions", dir)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

func newRecord(spec Spec, target string) *output.PreflightRecord {
	return &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Target:  target,
		Results: []output.PreflightCheckResult{},
	}
}

func denied(capability, method string, err error) output.PreflightCheckResult {
	return output.PreflightCheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  output.ErrorCode(err),
		Detail:     err.Error(),
	}
}
