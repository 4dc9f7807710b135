package sharepoint

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments token exchanges. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// AttemptsTotal counts single exchange attempts by result
	// ("success", "failure").
	AttemptsTotal *prometheus.CounterVec

	// ExhaustedTotal counts retry loops that gave up.
	ExhaustedTotal prometheus.Counter

	// Duration observes the wall time of one attempt.
	Duration prometheus.Histogram
}

// NewMetrics creates token exchange metrics and registers them with reg
// when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "token_exchange",
			Name:      "attempts_total",
			Help:      "SharePoint Online token exchange attempts by result",
		}, []string{"result"}),
		ExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "token_exchange",
			Name:      "exhausted_total",
			Help:      "Token exchange retry loops that exhausted every attempt",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reporoute",
			Subsystem: "token_exchange",
			Name:      "duration_seconds",
			Help:      "Duration of a single token exchange attempt",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.AttemptsTotal, m.ExhaustedTotal, m.Duration} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	}

	return m
}

func (m *Metrics) recordAttempt(ok bool, d time.Duration) {
	if m == nil {
		return
	}

	result := "failure"
	if ok {
		result = "success"
	}

	m.AttemptsTotal.WithLabelValues(result).Inc()
	m.Duration.Observe(d.Seconds())
}

func (m *Metrics) recordExhausted() {
	if m == nil {
		return
	}

	m.ExhaustedTotal.Inc()
}
