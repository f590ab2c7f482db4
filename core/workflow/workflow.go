package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"payconfirm/core/invoice"
	"payconfirm/core/submission"
	"payconfirm/observability"
)

// EndReason explains why a workflow was torn down.
type EndReason string

const (
	ReasonAbandoned  EndReason = "abandoned"
	ReasonCompleted  EndReason = "completed"
	ReasonSuperseded EndReason = "superseded"
	ReasonShutdown   EndReason = "shutdown"
)

// ErrControllerRequired is returned by Start when no controller is supplied.
var ErrControllerRequired = errors.New("workflow: submission controller required")

// Clearer releases the ambient payment request and any session state tied to
// it. Implementations must tolerate being called when nothing is stored.
type Clearer interface {
	Clear(ctx context.Context) error
}

// ClearFunc adapts a function to the Clearer interface.
type ClearFunc func(ctx context.Context) error

// Clear implements Clearer.
func (f ClearFunc) Clear(ctx context.Context) error { return f(ctx) }

// Workflow binds a submission controller to the lifetime of one confirmation
// screen. Ending the workflow clears the ambient request exactly once no
// matter how the screen was left.
type Workflow struct {
	id         string
	request    invoice.PaymentRequest
	controller *submission.Controller
	clearer    Clearer
	logger     *slog.Logger
	metrics    *observability.SubmissionMetrics

	endOnce sync.Once
	mu      sync.Mutex
	reason  EndReason
	done    chan struct{}
}

// Option customises a workflow.
type Option func(*Workflow)

// WithID overrides the generated workflow identifier.
func WithID(id string) Option {
	return func(w *Workflow) { w.id = id }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.SubmissionMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// Start begins a workflow for req. No setup happens beyond holding the
// request; clearer may be nil when there is no ambient state to release.
func Start(req invoice.PaymentRequest, controller *submission.Controller, clearer Clearer, opts ...Option) (*Workflow, error) {
	if controller == nil {
		return nil, ErrControllerRequired
	}
	w := &Workflow{
		id:         uuid.NewString(),
		request:    req,
		controller: controller,
		clearer:    clearer,
		logger:     slog.Default(),
		metrics:    observability.Submission(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With(slog.String("workflow_id", w.id))
	w.logger.Info("workflow started", slog.String("fingerprint", req.Fingerprint()))
	return w, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.id }

// Request returns the payment request the workflow was started with.
func (w *Workflow) Request() invoice.PaymentRequest { return w.request }

// Controller returns the submission controller bound to this workflow.
func (w *Workflow) Controller() *submission.Controller { return w.controller }

// Done is closed once the workflow has ended.
func (w *Workflow) Done() <-chan struct{} { return w.done }

// Ended reports whether End has been called.
func (w *Workflow) Ended() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// EndReason returns the reason passed to the first End call, or "" while the
// workflow is active.
func (w *Workflow) EndReason() EndReason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// End tears the workflow down, invoking the clearer exactly once. Later calls
// are no-ops returning nil. An in-flight submission is left running.
func (w *Workflow) End(ctx context.Context, reason EndReason) error {
	var err error
	w.endOnce.Do(func() {
		w.mu.Lock()
		w.reason = reason
		w.mu.Unlock()

		state := w.controller.State()
		if w.clearer != nil {
			err = w.clearer.Clear(ctx)
		}
		close(w.done)
		w.metrics.RecordWorkflowEnd(string(reason))
		if err != nil {
			w.logger.Error("workflow cleanup failed", slog.String("reason", string(reason)), slog.String("error", err.Error()))
			return
		}
		w.logger.Info("workflow ended", slog.String("reason", string(reason)), slog.String("status", state.Status.String()))
	})
	return err
}
