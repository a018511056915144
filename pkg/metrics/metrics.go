package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery engine metrics
type Metrics struct {
	DeliveriesDispatched *prometheus.CounterVec
	DeliveriesFailed     *prometheus.CounterVec
	DeliveriesDeadLetter prometheus.Counter
	DispatchLatency      *prometheus.HistogramVec
	BatchSize            *prometheus.HistogramVec
}

// New creates and registers all delivery engine metrics
func New(namespace string) *Metrics {
	return &Metrics{
		DeliveriesDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dispatched_total",
			Help:      "Total number of successfully delivered events by delivery method",
		}, []string{"delivery_method"}),
		DeliveriesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of failed delivery attempts by delivery method",
		}, []string{"delivery_method"}),
		DeliveriesDeadLetter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dead_lettered_total",
			Help:      "Total number of deliveries moved to the dead letter queue",
		}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent on a single delivery attempt",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"delivery_method"}),
		BatchSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of delivery logs picked up per batch run",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}, []string{"batch_type"}),
	}
}
