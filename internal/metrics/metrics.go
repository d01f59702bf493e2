// Package metrics records the outcome of traffic operations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a rebalance operation.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeDryRun    = "dry_run"
	OutcomeUnsafe    = "unsafe"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeInconsist = "inconsistent"
)

// Recorder receives traffic operation events.
type Recorder interface {
	RecordRebalance(application, outcome string)
	RecordChange(action string)
	ObserveApply(d time.Duration)
}

// Nop discards every event.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordRebalance(string, string) {}
func (Nop) RecordChange(string)            {}
func (Nop) ObserveApply(time.Duration)     {}

// Prometheus implements Recorder backed by Prometheus.
// Collectors are registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	rebalances *prometheus.CounterVec
	changes    *prometheus.CounterVec
	apply      prometheus.Histogram
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates a Prometheus recorder. A nil registerer selects
// prometheus.DefaultRegisterer and an empty namespace selects "stack_traffic".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "stack_traffic"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.rebalances = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "rebalance_total",
			Help:      "Total traffic rebalance operations by application and outcome.",
		}, []string{"application", "outcome"})
		p.changes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "record_changes_total",
			Help:      "Total weighted record changes submitted by action.",
		}, []string{"action"})
		p.apply = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "store_apply_seconds",
			Help:      "Latency of record store change batches in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		})

		p.reg.MustRegister(p.rebalances)
		p.reg.MustRegister(p.changes)
		p.reg.MustRegister(p.apply)
	})
}

func (p *Prometheus) RecordRebalance(application, outcome string) {
	p.ensureRegistered()
	p.rebalances.WithLabelValues(application, outcome).Inc()
}

func (p *Prometheus) RecordChange(action string) {
	p.ensureRegistered()
	p.changes.WithLabelValues(action).Inc()
}

func (p *Prometheus) ObserveApply(d time.Duration) {
	p.ensureRegistered()
	p.apply.Observe(d.Seconds())
}
