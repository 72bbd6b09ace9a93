package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the birthday reminder.
type Metrics struct {
	// Notifications by kind (celebration, upcoming) and result (sent, failed)
	Notifications *prometheus.CounterVec

	SchedulerRuns     prometheus.Counter
	SchedulerDuration prometheus.Histogram

	BirthdaysCreated prometheus.Counter
	BirthdaysDeleted prometheus.Counter

	// Commands dropped by the throttle
	Throttled prometheus.Counter
}

// New registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "birthday_notifications_total",
			Help: "Total notifications by kind and delivery result",
		}, []string{"kind", "result"}),

		SchedulerRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "birthday_scheduler_runs_total",
			Help: "Total birthday checks",
		}),

		SchedulerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "birthday_scheduler_duration_seconds",
			Help:    "Duration of a birthday check including deliveries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		BirthdaysCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "birthday_created_total",
			Help: "Total birthdays added",
		}),

		BirthdaysDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "birthday_deleted_total",
			Help: "Total birthdays deleted",
		}),

		Throttled: f.NewCounter(prometheus.CounterOpts{
			Name: "birthday_throttled_commands_total",
			Help: "Total commands dropped for coming too fast",
		}),
	}
}

// IncrementNotification records a delivery attempt.
func (m *Metrics) IncrementNotification(kind string, sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

// ObserveSchedulerRun records a finished birthday check.
func (m *Metrics) ObserveSchedulerRun(d time.Duration) {
	if m != nil {
		m.SchedulerRuns.Inc()
		m.SchedulerDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.BirthdaysCreated.Inc()
	}
}

func (m *Metrics) IncrementDeleted() {
	if m != nil {
		m.BirthdaysDeleted.Inc()
	}
}

func (m *Metrics) IncrementThrottled() {
	if m != nil {
		m.Throttled.Inc()
	}
}
