package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "farm_assistant"

// Collector records webhook call outcomes. It satisfies webhook.Recorder.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	parses   *prometheus.CounterVec
}

// New registers the webhook collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Total number of webhook calls by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_request_duration_seconds",
				Help:      "Duration of webhook calls in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"outcome"},
		),
		parses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_parse_total",
				Help:      "Total number of webhook bodies by recovered shape",
			},
			[]string{"shape"},
		),
	}
}

func (c *Collector) ObserveRequest(outcome string, elapsed time.Duration) {
	c.requests.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveParse(shape string) {
	c.parses.WithLabelValues(shape).Inc()
}
