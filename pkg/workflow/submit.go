package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
)

// Payload is the provider request body built from user parameters.
type Payload map[string]any

// State is a snapshot of live provider attributes.
type State map[string]any

// SubmitResult is the response to a state-changing request.
type SubmitResult struct {
	StatusCode int
	Headers    http.Header

	// Body is the decoded JSON body, or nil when the body is not JSON.
	Body map[string]any

	// Raw is the undecoded body.
	Raw []byte

	// JobURI is the Location header. Empty means the action completed
	// synchronously and Body is the final result.
	JobURI string
}

// Async reports whether a job handle was returned.
func (r *SubmitResult) Async() bool {
	return r != nil && r.JobURI != ""
}

// Submit sends exactly one state-changing request. Errors are returned
// unmodified; classification happens in Classify.
func Submit(ctx context.Context, client transport.Client, method, uri string, payload Payload) (*SubmitResult, error) {
	body := map[string]any(payload)
	if body == nil {
		body = map[string]any{}
	}
	resp, err := client.Invoke(ctx, method, uri, body)
	if err != nil {
		return nil, err
	}

	out := &SubmitResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Raw:        resp.Body,
		JobURI:     resp.Location(),
	}
	var decoded map[string]any
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &decoded) == nil {
		out.Body = decoded
	}
	return out, nil
}

// DiscoverOemTarget resolves Links.Oem.<vendor>.<service> on resourceURI. A
// missing link is reported as UnsupportedFirmwareError carrying message.
func DiscoverOemTarget(ctx context.Context, client transport.Client, resourceURI, vendor, service, message string) (string, error) {
	uri, err := redfish.OemServiceURI(ctx, client, resourceURI, vendor, service)
	if err != nil {
		if errors.Is(err, redfish.ErrLinkNotFound) {
			return "", &UnsupportedFirmwareError{Message: message, Err: err}
		}
		return "", err
	}
	return uri, nil
}

// JobIDFromURI returns the job id from a Redfish (.../Jobs/JID_1) or OME
// (.../Jobs(1234)) job URI.
func JobIDFromURI(uri string) string {
	seg := path.Base(strings.TrimRight(uri, "/"))
	if open := strings.Index(seg, "("); open >= 0 && strings.HasSuffix(seg, ")") {
		return seg[open+1 : len(seg)-1]
	}
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}
