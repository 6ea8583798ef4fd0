package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Draw outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeUnknownParticipant = "unknown_participant"
	OutcomeAlreadyAssigned    = "already_assigned"
	OutcomeNoCandidates       = "no_candidates"
	OutcomeContention         = "contention"
	OutcomeError              = "error"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	DrawsTotal              *prometheus.CounterVec
	DrawConflictRetries     prometheus.Counter
	DeadlockRuleEngagements prometheus.Counter
	DrawDuration            prometheus.Histogram
	NotificationsDropped    prometheus.Counter
	HTTPRequestDuration     *prometheus.HistogramVec
}

// New registers all collectors on reg. Passing a fresh registry per test
// avoids duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DrawsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "santa_draws_total",
			Help: "Draw attempts by final outcome",
		}, []string{"outcome"}),
		DrawConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "santa_draw_conflict_retries_total",
			Help: "Draw transactions retried after a concurrent writer conflict",
		}),
		DeadlockRuleEngagements: factory.NewCounter(prometheus.CounterOpts{
			Name: "santa_draw_deadlock_rule_engaged_total",
			Help: "Draws whose candidate set was forced to the last other pending giver",
		}),
		DrawDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "santa_draw_duration_seconds",
			Help:    "Wall time of a draw including retries",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "santa_notifications_dropped_total",
			Help: "Notifications dropped because the buffer was full or the sink circuit was open",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "santa_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) ObserveDraw(outcome string, elapsed time.Duration) {
	m.DrawsTotal.WithLabelValues(outcome).Inc()
	m.DrawDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncrementConflictRetries() {
	m.DrawConflictRetries.Inc()
}

func (m *Metrics) IncrementDeadlockRule() {
	m.DeadlockRuleEngagements.Inc()
}

func (m *Metrics) IncrementNotificationsDropped() {
	m.NotificationsDropped.Inc()
}

func (m *Metrics) ObserveHTTPRequest(route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(route, statusLabel(status)).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
