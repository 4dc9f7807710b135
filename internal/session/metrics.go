package session

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the session cache. All methods are nil-safe.
type Metrics struct {
	HitsTotal          prometheus.Counter
	MissesTotal        prometheus.Counter
	ExpiredTotal       prometheus.Counter
	InvalidationsTotal prometheus.Counter

	// BuildsTotal counts builds by result ("success", "failure").
	BuildsTotal *prometheus.CounterVec

	BuildDuration prometheus.Histogram
	Entries       prometheus.Gauge
}

// NewMetrics creates session cache metrics and registers them with reg
// when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "session_cache",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		HitsTotal:          counter("hits_total", "Session lookups served from the cache"),
		MissesTotal:        counter("misses_total", "Session lookups that required a build"),
		ExpiredTotal:       counter("expired_total", "Cached sessions evicted after their TTL"),
		InvalidationsTotal: counter("invalidations_total", "Explicit session invalidations"),
		BuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "session_cache",
			Name:      "builds_total",
			Help:      "Session builds by result",
		}, []string{"result"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reporoute",
			Subsystem: "session_cache",
			Name:      "build_duration_seconds",
			Help:      "Duration of session builds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reporoute",
			Subsystem: "session_cache",
			Name:      "entries",
			Help:      "Sessions currently cached",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.HitsTotal, m.MissesTotal, m.ExpiredTotal, m.InvalidationsTotal,
			m.BuildsTotal, m.BuildDuration, m.Entries,
		}

		for _, c := range collectors {
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

func (m *Metrics) recordHit() {
	if m == nil {
		return
	}

	m.HitsTotal.Inc()
}

func (m *Metrics) recordMiss() {
	if m == nil {
		return
	}

	m.MissesTotal.Inc()
}

func (m *Metrics) recordExpired() {
	if m == nil {
		return
	}

	m.ExpiredTotal.Inc()
}

func (m *Metrics) recordInvalidation() {
	if m == nil {
		return
	}

	m.InvalidationsTotal.Inc()
}

func (m *Metrics) recordBuild(ok bool, d time.Duration) {
	if m == nil {
		return
	}

	result := "failure"
	if ok {
		result = "success"
	}

	m.BuildsTotal.WithLabelValues(result).Inc()
	m.BuildDuration.Observe(d.Seconds())
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}

	m.Entries.Set(float64(n))
}
