package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	defaultDispatchTimeout = 10 * time.Second
	defaultRetryBackoff    = 200 * time.Millisecond
)

// Status is the final state of one hook for one dispatch
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome records what happened to one registered hook
type Outcome struct {
	Hook     string
	Status   Status
	Attempts int
	Duration time.Duration
	Err      error
}

// Report lists one outcome per registration, in registration order
type Report struct {
	EventID  string
	Outcomes []Outcome
}

// Failed returns the outcomes that did not succeed, skipped ones included
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			failed = append(failed, o)
		}
	}
	return failed
}

// Dispatcher runs login hooks one after another in registration order. A failing hook
// is retried with a fixed backoff, then recorded and passed over; it never stops the
// remaining hooks and never fails the login. The whole dispatch is capped by a global
// timeout, after which the hooks not yet started are marked skipped.
type Dispatcher struct {
	registrations   []Registration
	dispatchTimeout time.Duration
	retryBackoff    time.Duration
	metrics         *metrics.Metrics
}

type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout caps the total time spent in one dispatch
func WithDispatchTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.dispatchTimeout = d }
}

// WithRetryBackoff sets the fixed wait between attempts of one hook
func WithRetryBackoff(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.retryBackoff = d }
}

// WithMetrics records hook outcomes on m
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// NewDispatcher creates a dispatcher for a fixed list of registrations
func NewDispatcher(registrations []Registration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registrations:   append([]Registration(nil), registrations...),
		dispatchTimeout: defaultDispatchTimeout,
		retryBackoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event to every registered hook
func (d *Dispatcher) Dispatch(ctx context.Context, event LoginEvent) Report {
	return d.DispatchTo(ctx, event, d.registrations)
}

// DispatchTo delivers event to the given registrations
func (d *Dispatcher) DispatchTo(ctx context.Context, event LoginEvent, registrations []Registration) Report {
	if d.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.dispatchTimeout)
		defer cancel()
	}

	report := Report{EventID: event.ID, Outcomes: make([]Outcome, 0, len(registrations))}
	for _, reg := range registrations {
		var outcome Outcome
		if ctx.Err() != nil {
			outcome = Outcome{Hook: reg.Hook.Name(), Status: StatusSkipped, Err: ctx.Err()}
			log.Warn().Str("hook", outcome.Hook).Str("event_id", event.ID).Msg("Login hook skipped, dispatch timeout reached")
		} else {
			outcome = d.run(ctx, event, reg)
		}
		d.metrics.ObserveHook(outcome.Hook, string(outcome.Status), outcome.Attempts)
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

func (d *Dispatcher) run(ctx context.Context, event LoginEvent, reg Registration) Outcome {
	name := reg.Hook.Name()
	start := time.Now()
	attempts := 0

	operation := func() (struct{}, error) {
		attempts++
		err := deliverWithTimeout(ctx, reg, event)
		if err != nil && ctx.Err() != nil {
			// Out of dispatch time; waiting for another attempt is pointless.
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	maxTries := reg.MaxRetries + 1
	if maxTries < 1 {
		maxTries = 1
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(d.retryBackoff)),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug().Err(err).Str("hook", name).Dur("wait", wait).Msg("Retrying login hook")
		}),
	)

	outcome := Outcome{Hook: name, Attempts: attempts, Duration: time.Since(start), Err: err}
	if err != nil {
		outcome.Status = StatusFailed
		log.Warn().Err(err).Str("hook", name).Str("event_id", event.ID).Int("attempts", attempts).Msg("Login hook delivery failed")
		return outcome
	}
	outcome.Status = StatusSucceeded
	return outcome
}

// deliverWithTimeout bounds one attempt by the hook's timeout even if the hook ignores its context.
func deliverWithTimeout(ctx context.Context, reg Registration, event LoginEvent) error {
	if reg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook panicked: %v", r)
			}
		}()
		done <- reg.Hook.Deliver(ctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("hook %s: %w", reg.Hook.Name(), ctx.Err())
	}
}
