package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tributary-ai/adaptive-router/internal/events"
)

const namespace = "adaptive_router"

// Collector holds the engine's Prometheus collectors. It is fed exclusively
// by events, so components never import it.
type Collector struct {
	RouteAttempts      *prometheus.CounterVec
	RoutesExhausted    prometheus.Counter
	AttemptLatency     *prometheus.HistogramVec
	Plans              *prometheus.CounterVec
	ShadowExperiments  *prometheus.CounterVec
	ChallengerWins     *prometheus.CounterVec
	QUpdates           *prometheus.CounterVec
	ExplorationEpsilon prometheus.Gauge
}

// NewCollector registers all collectors with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RouteAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_attempts_total",
				Help:      "Provider attempts made by the waterfall router",
			},
			[]string{"provider", "outcome"},
		),
		RoutesExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routes_exhausted_total",
				Help:      "Requests for which every candidate failed",
			},
		),
		AttemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_latency_seconds",
				Help:      "Latency of individual provider attempts",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		Plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Routing plans built by type and lane",
			},
			[]string{"type", "lane"},
		),
		ShadowExperiments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shadow_experiments_total",
				Help:      "Finished shadow experiments by status",
			},
			[]string{"status"},
		),
		ChallengerWins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "challenger_wins_total",
				Help:      "Adopted challenger wins by challenger",
			},
			[]string{"challenger"},
		),
		QUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "q_updates_total",
				Help:      "Q-table updates by strategy",
			},
			[]string{"strategy"},
		),
		ExplorationEpsilon: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "exploration_epsilon",
				Help:      "Current exploration rate of the learning optimizer",
			},
		),
	}
}

// Observe updates collectors from one event. Register it with Bus.Observe.
func (c *Collector) Observe(event events.Event) {
	p := event.Payload

	switch event.Topic {
	case events.TopicRouterSuccess:
		provider := str(p, "provider")
		c.RouteAttempts.WithLabelValues(provider, "success").Inc()
		if ms, ok := number(p, "latency_ms"); ok {
			c.AttemptLatency.WithLabelValues(provider).Observe(ms / 1000)
		}
	case events.TopicRouterFailure:
		if exhausted, _ := p["exhausted"].(bool); exhausted {
			c.RoutesExhausted.Inc()
			return
		}
		provider := str(p, "provider")
		outcome := "failure"
		if timedOut, _ := p["timed_out"].(bool); timedOut {
			outcome = "timeout"
		}
		c.RouteAttempts.WithLabelValues(provider, outcome).Inc()
		if ms, ok := number(p, "latency_ms"); ok {
			c.AttemptLatency.WithLabelValues(provider).Observe(ms / 1000)
		}
	case events.TopicRoutingPlan:
		c.Plans.WithLabelValues(str(p, "type"), str(p, "lane")).Inc()
	case events.TopicExperimentCompleted:
		c.ShadowExperiments.WithLabelValues(str(p, "status")).Inc()
	case events.TopicChallengerWon:
		c.ChallengerWins.WithLabelValues(str(p, "challenger")).Inc()
	case events.TopicQUpdate:
		c.QUpdates.WithLabelValues(str(p, "strategy")).Inc()
		if eps, ok := number(p, "epsilon"); ok {
			c.ExplorationEpsilon.Set(eps)
		}
	}
}

func str(p map[string]interface{}, key string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func number(p map[string]interface{}, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}
