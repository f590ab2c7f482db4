package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoWorkflow is returned when an operation needs an active workflow.
var ErrNoWorkflow = errors.New("workflow: no active workflow")

// Manager keeps at most one active workflow. Beginning a new workflow
// supersedes the current one, and a workflow whose payment completes is ended
// automatically.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	current *Workflow
	onEnd   func(*Workflow, EndReason)
}

// NewManager constructs an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// OnEnd registers fn to run after the manager ends a workflow, including the
// automatic end after completion and a supersede from Begin.
func (m *Manager) OnEnd(fn func(*Workflow, EndReason)) {
	m.mu.Lock()
	m.onEnd = fn
	m.mu.Unlock()
}

// Begin ends any active workflow with ReasonSuperseded and installs next.
func (m *Manager) Begin(ctx context.Context, next *Workflow) error {
	if next == nil {
		return errors.New("workflow: nil workflow")
	}
	m.mu.Lock()
	prev := m.current
	m.current = next
	m.mu.Unlock()

	if prev != nil {
		if err := prev.End(ctx, ReasonSuperseded); err != nil {
			m.logger.Warn("superseded workflow cleanup failed", slog.String("workflow_id", prev.ID()), slog.String("error", err.Error()))
		}
		m.ended(prev)
	}
	go m.watch(next)
	return nil
}

// watch ends w once its controller signals completion. The clear runs on a
// fresh context since the request that triggered the payment may be gone.
func (m *Manager) watch(w *Workflow) {
	select {
	case <-w.Controller().Leave():
		if err := m.end(context.Background(), w, ReasonCompleted); err != nil {
			m.logger.Warn("completed workflow cleanup failed", slog.String("workflow_id", w.ID()), slog.String("error", err.Error()))
		}
	case <-w.Done():
	}
}

// Current returns the active workflow or nil.
func (m *Manager) Current() *Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// End ends the active workflow with reason.
func (m *Manager) End(ctx context.Context, reason EndReason) error {
	m.mu.Lock()
	w := m.current
	m.mu.Unlock()
	if w == nil {
		return ErrNoWorkflow
	}
	return m.end(ctx, w, reason)
}

func (m *Manager) end(ctx context.Context, w *Workflow, reason EndReason) error {
	m.mu.Lock()
	if m.current == w {
		m.current = nil
	}
	m.mu.Unlock()
	err := w.End(ctx, reason)
	m.ended(w)
	return err
}

func (m *Manager) ended(w *Workflow) {
	m.mu.Lock()
	fn := m.onEnd
	m.mu.Unlock()
	if fn != nil {
		fn(w, w.EndReason())
	}
}
