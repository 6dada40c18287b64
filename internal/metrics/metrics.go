package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation paths.
const (
	PathChain    = "chain"
	PathCooldown = "cooldown"
)

// Recorder owns every collector the service exports. It satisfies
// chain.Observer.
type Recorder struct {
	// ProviderCalls counts provider calls by provider and outcome
	ProviderCalls *prometheus.CounterVec

	// ProviderLatency tracks provider call latency
	ProviderLatency *prometheus.HistogramVec

	// CooldownTrips counts rate-limit signals, by credential (never the key)
	CooldownTrips *prometheus.CounterVec

	// ShortCircuits counts requests answered without any provider call
	ShortCircuits prometheus.Counter

	// ParseResults counts repaired responses by shape
	ParseResults *prometheus.CounterVec

	// GenerationDuration tracks end-to-end handling time by path
	GenerationDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ProviderCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bakebake_provider_calls_total",
				Help: "Total number of generative provider calls",
			},
			[]string{"provider", "outcome"},
		),
		ProviderLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bakebake_provider_latency_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),
		CooldownTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bakebake_cooldown_trips_total",
				Help: "Total number of rate-limit signals that engaged the cooldown",
			},
			[]string{"credential"},
		),
		ShortCircuits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bakebake_cooldown_short_circuits_total",
				Help: "Total number of requests answered by the cooldown placeholder",
			},
		),
		ParseResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bakebake_parse_results_total",
				Help: "Total number of parsed provider responses by shape",
			},
			[]string{"shape"},
		),
		GenerationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bakebake_generation_duration_seconds",
				Help:    "Concept generation handling time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

func (r *Recorder) ObserveCall(provider, outcome string, elapsed time.Duration) {
	r.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	r.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveCooldownTrip(credential string) {
	r.CooldownTrips.WithLabelValues(credential).Inc()
}

func (r *Recorder) ObserveShortCircuit() {
	r.ShortCircuits.Inc()
}

func (r *Recorder) ObserveParse(shape string) {
	r.ParseResults.WithLabelValues(shape).Inc()
}

func (r *Recorder) ObserveGeneration(path string, elapsed time.Duration) {
	r.GenerationDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}
