// Package transport is the HTTP client used to talk to management controllers.
//
// A Client takes a method, a URI and an optional JSON payload and returns the
// status, headers and raw body. Non-2xx responses are returned as *HTTPError and
// network failures as *ConnectionError so callers can classify them once at the
// outermost boundary.
package transport

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/3leaps/gobmc/pkg/transport Client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client issues a single request against a controller.
type Client interface {
	Invoke(ctx context.Context, method, uri string, payload any) (*Response, error)
}

// Response is the result of a request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Location returns the Location header, which is the job handle for
// asynchronous actions.
func (r *Response) Location() string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return strings.TrimSpace(r.Headers.Get("Location"))
}

// JSON decodes the body into a generic map. An empty body yields an empty map.
func (r *Response) JSON() (map[string]any, error) {
	out := map[string]any{}
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return out, nil
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("response body is empty")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Config configures an HTTPClient.
type Config struct {
	// Host is the controller address (hostname, IPv4 or IPv6).
	Host string

	// Port is the HTTPS port. Zero means 443.
	Port int

	Username string
	Password string

	// ValidateCerts enables TLS certificate verification.
	ValidateCerts bool

	// CAPath is an optional PEM bundle used when ValidateCerts is set.
	CAPath string

	// Timeout bounds each request.
	Timeout time.Duration

	// RateLimit is the maximum number of requests per second. Zero disables pacing.
	RateLimit float64

	UserAgent string
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Port:          443,
		ValidateCerts: true,
		Timeout:       30 * time.Second,
		RateLimit:     10,
		UserAgent:     "gobmc",
	}
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides the scheme://host:port prefix derived from Config.
func WithBaseURL(base string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewHTTPClient builds a client from cfg.
func NewHTTPClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("controller host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}

	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
		},
		baseURL: BaseURL(cfg.Host, cfg.Port),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL renders https://host:port, bracketing IPv6 literals.
func BaseURL(host string, port int) string {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	return "https://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func tlsConfig(cfg Config) (*tls.Config, error) {
	if !cfg.ValidateCerts {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // operator opted out of verification
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAPath == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca bundle %s contains no certificates", cfg.CAPath)
	}
	tc.RootCAs = pool
	return tc, nil
}

// Invoke sends one request. It never retries.
func (c *HTTPClient) Invoke(ctx context.Context, method, uri string, payload any) (*Response, error) {
	target, err := c.resolve(uri)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{Method: method, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Method: method, URL: target, Err: fmt.Errorf("read response body: %w", err)}
	}

	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: raw}
	if !out.Success() {
		return out, &HTTPError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Method:     method,
			URL:        target,
			Body:       raw,
		}
	}
	return out, nil
}

// resolve joins uri to the base URL. Absolute URIs are accepted only for
// the controller itself so credentials never leave it.
func (c *HTTPClient) resolve(uri string) (string, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("parse uri %q: %w", uri, err)
		}
		base, err := url.Parse(c.baseURL)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		if !strings.EqualFold(u.Scheme, base.Scheme) || !sameHost(u, base) {
			return "", &ForeignURIError{URI: uri, Base: c.baseURL}
		}
		return uri, nil
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return c.baseURL + uri, nil
}

func sameHost(a, b *url.URL) bool {
	port := func(u *url.URL) string {
		if p := u.Port(); p != "" {
			return p
		}
		if strings.EqualFold(u.Scheme, "http") {
			return "80"
		}
		return "443"
	}
	return strings.EqualFold(a.Hostname(), b.Hostname()) && port(a) == port(b)
}
