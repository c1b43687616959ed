package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of admission-control metrics.
type MetricsCollector interface {
	// IncAllowed increments the number of admitted reservations for the tier.
	IncAllowed(tier Tier)

	// IncRejectedConcurrency increments the number of reservations rejected
	// because the tier's running-set was full.
	IncRejectedConcurrency(tier Tier)

	// IncRejectedCooldown increments the number of reservations rejected
	// because the user was in cooldown.
	IncRejectedCooldown()

	// IncOrphansCleaned increments the number of running-set members removed
	// after their safety key expired.
	IncOrphansCleaned()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the admission controller.
type PrometheusMetrics struct {
	AllowedTotal             *prometheus.CounterVec
	RejectedConcurrencyTotal *prometheus.CounterVec
	RejectedCooldownTotal    prometheus.Counter
	OrphansCleanedTotal      prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	allowedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "import_admissions_allowed_total",
			Help:        "Number of admitted import job reservations.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"tier"},
	)
	rejectedConcurrencyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "import_admissions_rejected_concurrency_total",
			Help:        "Number of reservations rejected due to the tier concurrency limit.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"tier"},
	)
	rejectedCooldownTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "import_admissions_rejected_cooldown_total",
			Help:        "Number of reservations rejected due to an active user cooldown.",
			ConstLabels: opts.ConstLabels,
		},
	)
	orphansCleanedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "import_orphaned_reservations_cleaned_total",
			Help:        "Number of running-set members removed after their safety key expired.",
			ConstLabels: opts.ConstLabels,
		},
	)
	return &PrometheusMetrics{
		AllowedTotal:             allowedTotal,
		RejectedConcurrencyTotal: rejectedConcurrencyTotal,
		RejectedCooldownTotal:    rejectedCooldownTotal,
		OrphansCleanedTotal:      orphansCleanedTotal,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.AllowedTotal,
		pm.RejectedConcurrencyTotal,
		pm.RejectedCooldownTotal,
		pm.OrphansCleanedTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AllowedTotal)
	prometheus.Unregister(pm.RejectedConcurrencyTotal)
	prometheus.Unregister(pm.RejectedCooldownTotal)
	prometheus.Unregister(pm.OrphansCleanedTotal)
}

// IncAllowed implements MetricsCollector.
func (pm *PrometheusMetrics) IncAllowed(tier Tier) {
	pm.AllowedTotal.WithLabelValues(tier.String()).Inc()
}

// IncRejectedConcurrency implements MetricsCollector.
func (pm *PrometheusMetrics) IncRejectedConcurrency(tier Tier) {
	pm.RejectedConcurrencyTotal.WithLabelValues(tier.String()).Inc()
}

// IncRejectedCooldown implements MetricsCollector.
func (pm *PrometheusMetrics) IncRejectedCooldown() {
	pm.RejectedCooldownTotal.Inc()
}

// IncOrphansCleaned implements MetricsCollector.
func (pm *PrometheusMetrics) IncOrphansCleaned() {
	pm.OrphansCleanedTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncAllowed(Tier)             {}
func (disabledMetrics) IncRejectedConcurrency(Tier) {}
func (disabledMetrics) IncRejectedCooldown()        {}
func (disabledMetrics) IncOrphansCleaned()          {}
