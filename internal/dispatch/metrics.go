package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/reporoute/internal/repository"
)

// Metrics instruments path resolution. All methods are nil-safe.
type Metrics struct {
	// ResolutionsTotal counts resolutions by repository type and result
	// ("ok", "not_found", "error").
	ResolutionsTotal *prometheus.CounterVec

	// ReauthTotal counts reauthentications by result.
	ReauthTotal *prometheus.CounterVec

	ResolveDuration prometheus.Histogram
}

// NewMetrics creates dispatcher metrics and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "dispatch",
			Name:      "resolutions_total",
			Help:      "Path resolutions by repository type and result",
		}, []string{"type", "result"}),
		ReauthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporoute",
			Subsystem: "dispatch",
			Name:      "reauthentications_total",
			Help:      "Session reauthentications triggered by rejected operations",
		}, []string{"result"}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reporoute",
			Subsystem: "dispatch",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of path resolution including session setup",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.ResolutionsTotal, m.ReauthTotal, m.ResolveDuration} {
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

func (m *Metrics) recordResolve(typ repository.Type, err error, d time.Duration) {
	if m == nil {
		return
	}

	result := "ok"

	switch {
	case errors.Is(err, ErrNoRepository):
		result = "not_found"
	case err != nil:
		result = "error"
	}

	m.ResolutionsTotal.WithLabelValues(string(typ), result).Inc()
	m.ResolveDuration.Observe(d.Seconds())
}

func (m *Metrics) recordReauth(ok bool) {
	if m == nil {
		return
	}

	result := "failure"
	if ok {
		result = "success"
	}

	m.ReauthTotal.WithLabelValues(result).Inc()
}
