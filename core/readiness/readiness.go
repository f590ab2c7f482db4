package readiness

// Signals is a point-in-time snapshot of the node health signals that gate a
// payment submission. The zero value admits nothing.
type Signals struct {
	EngineReady  bool `json:"engineReady"`
	ControlReady bool `json:"controlReady"`
	ChainSynced  bool `json:"chainSynced"`
	GraphSynced  bool `json:"graphSynced"`
}

// Source supplies the current readiness snapshot. Implementations own the
// signals; callers only read them.
type Source interface {
	Snapshot() Signals
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func() Signals

// Snapshot implements Source.
func (f SourceFunc) Snapshot() Signals {
	if f == nil {
		return Signals{}
	}
	return f()
}

// Static returns a Source that always reports the supplied snapshot.
func Static(signals Signals) Source {
	return SourceFunc(func() Signals { return signals })
}

// All reports whether every signal is set.
func (s Signals) All() bool {
	return s.EngineReady && s.ControlReady && s.ChainSynced && s.GraphSynced
}

// Missing lists the signals that are not yet set, in a stable order.
func (s Signals) Missing() []string {
	var missing []string
	if !s.EngineReady {
		missing = append(missing, "engine")
	}
	if !s.ControlReady {
		missing = append(missing, "control")
	}
	if !s.ChainSynced {
		missing = append(missing, "chain")
	}
	if !s.GraphSynced {
		missing = append(missing, "graph")
	}
	return missing
}

// IsReady combines the readiness signals with the pending flag of the
// submission controller. A submission is admitted only when all signals are
// set and nothing is in flight.
func IsReady(signals Signals, pending bool) bool {
	return signals.All() && !pending
}

// Read returns the snapshot from src, treating a nil source as not ready.
func Read(src Source) Signals {
	if src == nil {
		return Signals{}
	}
	return src.Snapshot()
}
