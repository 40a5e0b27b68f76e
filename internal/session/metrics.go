package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

// Metrics counts scheduler activity. A nil *Metrics records nothing.
type Metrics struct {
	Completions     *prometheus.CounterVec
	Rotations       *prometheus.CounterVec
	CyclesCompleted prometheus.Counter
	Rejected        *prometheus.CounterVec
	BusyRejections  prometheus.Counter
	StorageFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "completions_total",
			Help:      "Graded attempts applied, by result.",
		}, []string{"result"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "rotations_total",
			Help:      "Active tube changes, by kind.",
		}, []string{"kind"}),
		CyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "cycles_completed_total",
			Help:      "Rotations that wrapped from tube 3 back to tube 1.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "rejected_operations_total",
			Help:      "Operations refused before mutating state, by reason.",
		}, []string{"reason"}),
		BusyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "busy_rejections_total",
			Help:      "Operations refused because another was in flight.",
		}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "storage_failures_total",
			Help:      "Failed persistence calls, by operation.",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		m.Completions, m.Rotations, m.CyclesCompleted, m.Rejected, m.BusyRejections, m.StorageFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) completion(perfect bool) {
	if m == nil {
		return
	}
	if perfect {
		m.Completions.WithLabelValues("perfect").Inc()
	} else {
		m.Completions.WithLabelValues("partial").Inc()
	}
}

func (m *Metrics) rotation(kind string, wrapped bool) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(kind).Inc()
	if wrapped {
		m.CyclesCompleted.Inc()
	}
}

func (m *Metrics) rejected(err error) {
	if m == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, spacedrep.ErrValidation):
		reason = "validation"
	case errors.Is(err, spacedrep.ErrStateMismatch):
		reason = "state_mismatch"
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) busy() {
	if m == nil {
		return
	}
	m.BusyRejections.Inc()
}

func (m *Metrics) storageFailure(op string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(op).Inc()
}
