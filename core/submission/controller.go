package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"payconfirm/core/readiness"
	"payconfirm/observability"
)

// ErrSubmitterRequired is returned by New when no payment submitter is given.
var ErrSubmitterRequired = errors.New("submission: payment submitter required")

// Controller owns the submission state machine for a single payment request.
// It admits at most one in-flight submission at a time; Submit calls made
// while a submission is pending, after completion, or while the node is not
// ready are ignored.
type Controller struct {
	submitter PaymentSubmitter
	refresher BalanceRefresher
	notifier  Notifier
	haptics   Haptics
	readiness readiness.Source
	metrics   *observability.SubmissionMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  func(State)
	now       func() time.Time

	refreshTimeout time.Duration

	mu    sync.Mutex
	state State

	leaveOnce sync.Once
	leave     chan struct{}
}

// Option customises the controller instance.
type Option func(*Controller)

// WithRefresher supplies the balance refresher invoked after a successful payment.
func WithRefresher(r BalanceRefresher) Option {
	return func(c *Controller) { c.refresher = r }
}

// WithNotifier supplies the notifier used to surface failures.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithHaptics supplies the haptic feedback sink.
func WithHaptics(h Haptics) Option {
	return func(c *Controller) { c.haptics = h }
}

// WithReadiness supplies the node readiness snapshot source.
func WithReadiness(src readiness.Source) Option {
	return func(c *Controller) { c.readiness = src }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.SubmissionMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver registers fn to receive every state the controller enters.
// fn is called without the controller lock held.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithRefreshTimeout overrides how long the post-payment balance refresh may
// run.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Controller) { c.refreshTimeout = d }
}

// WithClock sets the function used to measure submission latency.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.now = clock }
}

// New constructs an idle controller around the payment submitter.
func New(submitter PaymentSubmitter, opts ...Option) (*Controller, error) {
	if submitter == nil {
		return nil, ErrSubmitterRequired
	}
	c := &Controller{
		submitter: submitter,
		notifier:  noopNotifier{},
		haptics:   noopHaptics{},
		metrics:   observability.Submission(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("payconfirm/core/submission"),
		now:       time.Now,
		state:     Idle(),

		refreshTimeout: RefreshTimeout,
		leave:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.haptics == nil {
		c.haptics = noopHaptics{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = RefreshTimeout
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether a Submit call made now would be admitted, i.e. all
// node readiness signals are set and no submission is pending.
func (c *Controller) IsReady() bool {
	signals := readiness.Read(c.readiness)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admits(signals)
}

// Leave is closed once the payment has completed and the caller should leave
// the workflow.
func (c *Controller) Leave() <-chan struct{} {
	return c.leave
}

func (c *Controller) admits(signals readiness.Signals) bool {
	return c.state.Submittable() && readiness.IsReady(signals, c.state.Pending())
}

// Submit executes the payment if admitted. The submission itself runs
// detached from ctx cancellation: once pending it always runs to completion
// or failure. Submit blocks until the payment and balance refresh resolve.
func (c *Controller) Submit(ctx context.Context) Result {
	signals := readiness.Read(c.readiness)

	c.mu.Lock()
	if !c.admits(signals) {
		state := c.state
		c.mu.Unlock()
		c.metrics.RecordAttempt(string(OutcomeRejected))
		c.logger.Debug("submission not admitted",
			slog.String("status", state.Status.String()),
			slog.Any("missing", signals.Missing()))
		return Result{Outcome: OutcomeRejected}
	}
	c.state = State{Status: StatusPending}
	c.mu.Unlock()
	c.metrics.SetPending(true)
	c.publish(State{Status: StatusPending})

	runCtx := context.WithoutCancel(ctx)
	runCtx, span := c.tracer.Start(runCtx, "submission.submit")
	defer span.End()

	start := c.now()
	err := c.submitPayment(runCtx, span)
	c.metrics.ObserveLatency(c.now().Sub(start))
	c.metrics.SetPending(false)
	if err != nil {
		return c.fail(span, err)
	}
	return c.complete(runCtx, span)
}

// submitPayment calls the submitter. A panic leaves the controller Failed
// with the panic text so the payment can be retried, then propagates.
func (c *Controller) submitPayment(ctx context.Context, span trace.Span) error {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprintf("payment submitter panicked: %v", r)
		span.SetStatus(codes.Error, msg)
		c.metrics.SetPending(false)
		c.metrics.RecordAttempt(string(OutcomeFailed))
		c.logger.Error("payment submission panicked", slog.String("error", msg))
		c.setState(Failed(msg))
		panic(r)
	}()
	return c.submitter.SubmitPayment(ctx)
}

func (c *Controller) fail(span trace.Span, err error) Result {
	msg := err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	c.logger.Warn("payment submission failed", slog.String("error", msg))

	state := Failed(msg)
	c.setState(state)
	c.metrics.RecordAttempt(string(OutcomeFailed))
	c.notifier.Notify(Notification{
		Kind:       NotificationDanger,
		Text:       "Error: " + msg,
		ButtonText: "Okay",
		Duration:   NotificationTTL,
	})
	return Result{Outcome: OutcomeFailed, Message: msg}
}

func (c *Controller) complete(ctx context.Context, span trace.Span) Result {
	if c.refresher != nil {
		refreshCtx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
		err := c.refresher.RefreshBalance(refreshCtx)
		cancel()
		if err != nil {
			span.AddEvent("balance refresh failed", trace.WithAttributes(attribute.String("error", err.Error())))
			c.metrics.RecordRefreshFailure()
			c.logger.Warn("balance refresh after payment failed", slog.String("error", err.Error()))
		}
	}
	c.haptics.Vibrate(SuccessVibration)

	c.setState(State{Status: StatusCompleted})
	c.metrics.RecordAttempt(string(OutcomeCompleted))
	span.SetStatus(codes.Ok, "")
	c.logger.Info("payment completed")
	c.leaveOnce.Do(func() { close(c.leave) })
	return Result{Outcome: OutcomeCompleted}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.publish(state)
}

func (c *Controller) publish(state State) {
	if c.observer != nil {
		c.observer(state)
	}
}
