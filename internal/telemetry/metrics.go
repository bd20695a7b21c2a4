package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the simulation counters and histograms. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SessionsStarted     *prometheus.CounterVec
	SessionsCompleted   *prometheus.CounterVec
	Turns               *prometheus.CounterVec
	PhaseTransitions    *prometheus.CounterVec
	Fallbacks           *prometheus.CounterVec
	CollaboratorErrors  *prometheus.CounterVec
	CollaboratorLatency *prometheus.HistogramVec
	FinalScore          *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_sessions_started_total",
			Help: "Simulation sessions started, by scenario.",
		}, []string{"scenario"}),
		SessionsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_sessions_completed_total",
			Help: "Simulation sessions ended, by scenario.",
		}, []string{"scenario"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_turns_total",
			Help: "User responses processed, by scenario.",
		}, []string{"scenario"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_phase_transitions_total",
			Help: "Phase transitions, by scenario and target phase.",
		}, []string{"scenario", "phase"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_collaborator_fallbacks_total",
			Help: "Collaborator replies replaced by fallback values, by role.",
		}, []string{"role"}),
		CollaboratorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_collaborator_failures_total",
			Help: "Collaborator calls that returned an error, by role.",
		}, []string{"role"}),
		CollaboratorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simulation_collaborator_duration_seconds",
			Help:    "Collaborator call latency, by role.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"role"}),
		FinalScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simulation_final_overall_score",
			Help:    "Overall score of ended sessions, by scenario.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}, []string{"scenario"}),
	}
}

func (m *Metrics) SessionStarted(scenario string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(scenario).Inc()
}

func (m *Metrics) SessionCompleted(scenario string, overall float64) {
	if m == nil {
		return
	}
	m.SessionsCompleted.WithLabelValues(scenario).Inc()
	m.FinalScore.WithLabelValues(scenario).Observe(overall)
}

func (m *Metrics) Turn(scenario string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(scenario).Inc()
}

func (m *Metrics) Transition(scenario, phase string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(scenario, phase).Inc()
}

func (m *Metrics) Fallback(role string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(role).Inc()
}

// Collaborator records one collaborator call.
func (m *Metrics) Collaborator(role string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.CollaboratorLatency.WithLabelValues(role).Observe(took.Seconds())
	if err != nil {
		m.CollaboratorErrors.WithLabelValues(role).Inc()
	}
}

// RegisterLiveGauges exposes point-in-time counts sampled at scrape time.
func RegisterLiveGauges(reg prometheus.Registerer, hotSessions, connections func() int) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "simulation_hot_sessions",
		Help: "Sessions held in the in-process hot tier.",
	}, func() float64 { return float64(hotSessions()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "simulation_websocket_connections",
		Help: "Open simulation WebSocket connections.",
	}, func() float64 { return float64(connections()) })
}
