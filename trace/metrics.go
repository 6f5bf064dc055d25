package trace

import (
	"github.com/prometheus/client_golang/prometheus"

	"portguard/filter"
)

// Metrics counts drop events per hook.
type Metrics struct {
	Drops      *prometheus.CounterVec
	Lost       prometheus.Counter
	ReadErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portguard_drops_total",
			Help: "Total number of packets and socket operations rejected, by hook",
		}, []string{"hook"}),
		Lost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portguard_events_lost_total",
			Help: "Total number of drop events discarded because the consumer lagged",
		}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portguard_event_read_errors_total",
			Help: "Total number of event records that could not be read or decoded",
		}, []string{"source"}),
	}
	reg.MustRegister(m.Drops, m.Lost, m.ReadErrors)
	// Hooks show up with a zero value before the first drop.
	for h := filter.HookXDP; h <= filter.HookBind6; h++ {
		m.Drops.WithLabelValues(h.String())
	}
	return m
}
