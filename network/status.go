package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"payconfirm/core/readiness"
	"payconfirm/observability"
)

// NodeInfo is the subset of the node's info call that drives readiness.
type NodeInfo struct {
	Ready         bool   `json:"ready"`
	SyncedToChain bool   `json:"synced_to_chain"`
	SyncedToGraph bool   `json:"synced_to_graph"`
	Alias         string `json:"alias,omitempty"`
	BlockHeight   uint32 `json:"block_height,omitempty"`
}

// InfoFetcher returns the node's current info.
type InfoFetcher interface {
	GetInfo(ctx context.Context) (NodeInfo, error)
}

// ControlProbe reports whether the control channel is serving.
type ControlProbe interface {
	ControlReady(ctx context.Context) (bool, error)
}

// StatusTracker polls the node and keeps the latest readiness snapshot. It is
// the only writer of the snapshot; readers get copies through Snapshot.
type StatusTracker struct {
	info     InfoFetcher
	control  ControlProbe
	interval time.Duration
	timeout  time.Duration
	metrics  *observability.NodeStatusMetrics
	logger   *slog.Logger

	mu       sync.RWMutex
	signals  readiness.Signals
	lastPoll time.Time
	subs     []chan readiness.Signals
}

// TrackerOption customises the tracker.
type TrackerOption func(*StatusTracker)

// WithInterval sets the polling cadence.
func WithInterval(d time.Duration) TrackerOption {
	return func(t *StatusTracker) { t.interval = d }
}

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(d time.Duration) TrackerOption {
	return func(t *StatusTracker) { t.timeout = d }
}

// WithTrackerLogger overrides the default logger.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *StatusTracker) { t.logger = l }
}

// NewStatusTracker constructs a tracker. Either probe may be nil, in which
// case the signals it feeds stay false.
func NewStatusTracker(info InfoFetcher, control ControlProbe, opts ...TrackerOption) *StatusTracker {
	t := &StatusTracker{
		info:     info,
		control:  control,
		interval: 2 * time.Second,
		timeout:  5 * time.Second,
		metrics:  observability.NodeStatus(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 {
		t.interval = 2 * time.Second
	}
	if t.timeout <= 0 {
		t.timeout = 5 * time.Second
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Snapshot implements readiness.Source.
func (t *StatusTracker) Snapshot() readiness.Signals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signals
}

// LastPoll returns when the snapshot was last refreshed.
func (t *StatusTracker) LastPoll() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPoll
}

// Subscribe returns a channel receiving every changed snapshot. The channel
// is buffered by one and slow readers only see the latest value.
func (t *StatusTracker) Subscribe() <-chan readiness.Signals {
	ch := make(chan readiness.Signals, 1)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

// Run polls until ctx is cancelled.
func (t *StatusTracker) Run(ctx context.Context) {
	t.Poll(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll probes the node once and updates the snapshot. Probe failures clear
// the signals they feed.
func (t *StatusTracker) Poll(ctx context.Context) readiness.Signals {
	var next readiness.Signals
	if t.info != nil {
		probeCtx, cancel := context.WithTimeout(ctx, t.timeout)
		info, err := t.info.GetInfo(probeCtx)
		cancel()
		if err != nil {
			t.metrics.RecordPollError("info")
			t.logger.Debug("node info probe failed", slog.String("error", err.Error()))
		} else {
			next.EngineReady = info.Ready
			next.ChainSynced = info.SyncedToChain
			next.GraphSynced = info.SyncedToGraph
		}
	}
	if t.control != nil {
		probeCtx, cancel := context.WithTimeout(ctx, t.timeout)
		ok, err := t.control.ControlReady(probeCtx)
		cancel()
		if err != nil {
			t.metrics.RecordPollError("control")
			t.logger.Debug("control channel probe failed", slog.String("error", err.Error()))
		} else {
			next.ControlReady = ok
		}
	}
	t.store(next)
	return next
}

func (t *StatusTracker) store(next readiness.Signals) {
	t.mu.Lock()
	changed := next != t.signals
	t.signals = next
	t.lastPoll = time.Now()
	subs := append([]chan readiness.Signals(nil), t.subs...)
	t.mu.Unlock()

	t.metrics.SetSignal("engine", next.EngineReady)
	t.metrics.SetSignal("control", next.ControlReady)
	t.metrics.SetSignal("chain", next.ChainSynced)
	t.metrics.SetSignal("graph", next.GraphSynced)
	if !changed {
		return
	}
	t.logger.Info("node readiness changed",
		slog.Bool("engine", next.EngineReady),
		slog.Bool("control", next.ControlReady),
		slog.Bool("chain", next.ChainSynced),
		slog.Bool("graph", next.GraphSynced))
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
