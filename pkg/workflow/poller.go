package workflow

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/3leaps/gobmc/pkg/transport"
)

// Poller defaults.
const (
	DefaultPollInterval       = 5 * time.Second
	DefaultUnresponsiveWindow = 30 * time.Second
)

// WaitOptions bounds a single Wait call.
type WaitOptions struct {
	// Timeout is the total time to wait for a terminal state. Must be positive.
	Timeout time.Duration

	// PollInterval is the delay between status fetches.
	PollInterval time.Duration
}

// JobOutcome is the result of waiting on a job.
type JobOutcome struct {
	Job      Job
	TimedOut bool
	Elapsed  time.Duration

	// Timeout is the configured wait timeout.
	Timeout time.Duration
}

// Poller waits for controller jobs to reach a terminal state. It only reads
// job resources and never cancels or modifies a job.
type Poller struct {
	client       transport.Client
	decode       JobDecoder
	logger       *zap.Logger
	unresponsive time.Duration
	interval     time.Duration
	newBackOff   func() backoff.BackOff
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	observe      func(Job)
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithDecoder sets the job document decoder. Defaults to DecodeDellJob.
func WithDecoder(d JobDecoder) PollerOption {
	return func(p *Poller) {
		if d != nil {
			p.decode = d
		}
	}
}

// WithLogger sets the logger used for poll progress.
func WithLogger(l *zap.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithUnresponsiveWindow bounds how long transient fetch failures are
// tolerated before Wait gives up. Zero disables retries.
func WithUnresponsiveWindow(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.unresponsive = d
	}
}

// WithInterval sets the poll interval used when WaitOptions.PollInterval is zero.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRetryBackOff replaces the backoff policy used for transient fetch failures.
func WithRetryBackOff(f func() backoff.BackOff) PollerOption {
	return func(p *Poller) {
		p.newBackOff = f
	}
}

// WithClock replaces the time source and sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithObserver registers a callback invoked with every polled job snapshot.
func WithObserver(fn func(Job)) PollerOption {
	return func(p *Poller) {
		p.observe = fn
	}
}

// NewPoller creates a Poller reading jobs through client.
func NewPoller(client transport.Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:       client,
		decode:       DecodeDellJob,
		logger:       zap.NewNop(),
		unresponsive: DefaultUnresponsiveWindow,
		interval:     DefaultPollInterval,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newBackOff == nil {
		p.newBackOff = p.defaultBackOff
	}
	return p
}

// Wait polls jobURI until the job reaches a terminal state or opts.Timeout
// elapses.
//
// An empty jobURI returns an empty outcome without any request. A timeout
// returns the last observed job with TimedOut set together with a
// *WaitTimeoutError; the remote job keeps running.
func (p *Poller) Wait(ctx context.Context, jobURI string, opts WaitOptions) (*JobOutcome, error) {
	if jobURI == "" {
		return &JobOutcome{}, nil
	}
	if opts.Timeout <= 0 {
		return nil, &InvalidTimeoutError{Timeout: opts.Timeout}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = p.interval
	}

	start := p.now()
	deadline := start.Add(opts.Timeout)
	var last Job
	for {
		doc, err := p.fetch(ctx, jobURI, deadline)
		if err != nil {
			elapsed := p.now().Sub(start)
			if ctx.Err() != nil || !transport.IsTransient(err) || elapsed < opts.Timeout {
				return nil, err
			}
			p.logger.Warn("Job resource unresponsive until timeout",
				zap.String("job_uri", jobURI),
				zap.Duration("timeout", opts.Timeout),
				zap.Error(err))
			return &JobOutcome{Job: last, TimedOut: true, Elapsed: elapsed, Timeout: opts.Timeout},
				&WaitTimeoutError{Timeout: opts.Timeout, Elapsed: elapsed, Job: last}
		}
		job := p.decode(doc)
		last = job
		elapsed := p.now().Sub(start)
		if p.observe != nil {
			p.observe(job)
		}

		p.logger.Debug("Polled job",
			zap.String("job_uri", jobURI),
			zap.String("state", string(job.State)),
			zap.Duration("elapsed", elapsed))

		if job.State.IsTerminal() {
			return &JobOutcome{Job: job, Elapsed: elapsed, Timeout: opts.Timeout}, nil
		}
		if elapsed >= opts.Timeout {
			p.logger.Warn("Job did not reach a terminal state before timeout",
				zap.String("job_uri", jobURI),
				zap.Duration("timeout", opts.Timeout))
			return &JobOutcome{Job: job, TimedOut: true, Elapsed: elapsed, Timeout: opts.Timeout},
				&WaitTimeoutError{Timeout: opts.Timeout, Elapsed: elapsed, Job: job}
		}

		wait := interval
		if remaining := opts.Timeout - elapsed; remaining < wait {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// fetch GETs the job document, retrying transient failures within the
// unresponsive window. Retries never wait past deadline.
func (p *Poller) fetch(ctx context.Context, uri string, deadline time.Time) (map[string]any, error) {
	var doc map[string]any
	op := func() error {
		resp, err := p.client.Invoke(ctx, http.MethodGet, uri, nil)
		if err != nil {
			if ctx.Err() == nil && transport.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		doc, err = resp.JSON()
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		p.logger.Debug("Job resource unresponsive, retrying",
			zap.String("job_uri", uri),
			zap.Duration("increment", d),
			zap.Error(err))
	}
	b := &deadlineBackOff{BackOff: p.newBackOff(), now: p.now, deadline: deadline}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Poller) defaultBackOff() backoff.BackOff {
	if p.unresponsive <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = p.unresponsive
	b.RandomizationFactor = 0.1
	return b
}

// deadlineBackOff shortens the wrapped policy so no retry is scheduled after
// deadline.
type deadlineBackOff struct {
	backoff.BackOff
	now      func() time.Time
	deadline time.Time
}

func (b *deadlineBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	remaining := b.deadline.Sub(b.now())
	if remaining <= 0 {
		return backoff.Stop
	}
	if d > remaining {
		return remaining
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
