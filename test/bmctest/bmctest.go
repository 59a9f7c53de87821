// Package bmctest provides helpers for tests that talk to a controller.
//
// Client replays scripted responses per method and URI, and records every
// request so tests can assert which calls were (or were not) made. Clock is a
// deterministic clock for job polling.
//
// Tests that need a live Redfish endpoint should be tagged with
// //go:build bmcintegration and call SkipIfUnavailable.
package bmctest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3leaps/gobmc/pkg/transport"
)

// DefaultEndpoint is the default live endpoint for integration tests.
const DefaultEndpoint = "https://localhost:8443"

// Endpoint is the live endpoint, configurable via GOBMC_TEST_ENDPOINT.
var Endpoint = getEnvOrDefault("GOBMC_TEST_ENDPOINT", DefaultEndpoint)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// SkipIfUnavailable skips the test unless GOBMC_TEST_ENDPOINT is set.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if os.Getenv("GOBMC_TEST_ENDPOINT") == "" {
		t.Skipf("controller endpoint not configured (set GOBMC_TEST_ENDPOINT, default %s)", Endpoint)
	}
}

// Step is one scripted response. A zero Status means 200.
type Step struct {
	Status int
	Body   string
	Header http.Header
	Err    error
}

// JSON returns a 200 step with body encoded from v.
func JSON(v any) Step {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("bmctest: marshal step: %v", err))
	}
	return Step{Body: string(b)}
}

// Accepted returns a 202 step carrying a Location header.
func Accepted(location string) Step {
	return Step{Status: http.StatusAccepted, Header: http.Header{"Location": []string{location}}}
}

// Call is a recorded request.
type Call struct {
	Method  string
	URI     string
	Payload any
}

// Client is a scripted transport.Client. The last step for a key repeats once
// the others are consumed; an unscripted key answers 404.
type Client struct {
	mu    sync.Mutex
	steps map[string][]Step
	calls []Call
}

// NewClient returns an empty scripted client.
func NewClient() *Client {
	return &Client{steps: map[string][]Step{}}
}

// On scripts responses for method and uri.
func (c *Client) On(method, uri string, steps ...Step) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[method+" "+uri] = steps
	return c
}

// Invoke implements transport.Client.
func (c *Client) Invoke(_ context.Context, method, uri string, payload any) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := method + " " + uri
	c.calls = append(c.calls, Call{Method: method, URI: uri, Payload: payload})
	queue := c.steps[key]
	if len(queue) == 0 {
		return nil, &transport.HTTPError{StatusCode: http.StatusNotFound, Reason: http.StatusText(http.StatusNotFound), Method: method, URL: uri}
	}
	s := queue[0]
	if len(queue) > 1 {
		c.steps[key] = queue[1:]
	}
	if s.Err != nil {
		return nil, s.Err
	}
	status := s.Status
	if status == 0 {
		status = http.StatusOK
	}
	resp := &transport.Response{StatusCode: status, Headers: s.Header, Body: []byte(s.Body)}
	if !resp.Success() {
		return resp, &transport.HTTPError{StatusCode: status, Reason: http.StatusText(status), Method: method, URL: uri, Body: resp.Body}
	}
	return resp, nil
}

// Calls returns a copy of the recorded requests.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns the number of requests made.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// MutatingCalls returns requests whose method is not GET.
func (c *Client) MutatingCalls() []Call {
	var out []Call
	for _, call := range c.Calls() {
		if !strings.EqualFold(call.Method, http.MethodGet) {
			out = append(out, call)
		}
	}
	return out
}

// LastPayload returns the payload of the most recent request to method and uri.
func (c *Client) LastPayload(method, uri string) (any, bool) {
	calls := c.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && calls[i].URI == uri {
			return calls[i].Payload, true
		}
	}
	return nil, false
}

// Clock is a manual clock. Sleep advances time without blocking.
type Clock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

// NewClock returns a clock fixed at 2026-01-19T12:00:00Z.
func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Sleep records d and advances the clock.
func (c *Clock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

// Sleeps returns the recorded sleep durations.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
