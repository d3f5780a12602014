// Package metrics exposes Prometheus instrumentation for the loader and the
// dispatch service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Collector owns a private registry so tests and embedded uses never collide
// on the global one.
type Collector struct {
	registry *prometheus.Registry

	hookCalls     *prometheus.CounterVec
	hookDuration  *prometheus.HistogramVec
	loadFailures  *prometheus.CounterVec
	loadedParsers prometheus.Gauge
	utterances    prometheus.Counter
	contextKeys   prometheus.Histogram
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		hookCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parser_hook_calls_total",
				Help:      "Parser hook invocations by parser, event and outcome",
			},
			[]string{"parser", "event", "outcome"},
		),
		hookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "parser_hook_duration_seconds",
				Help:      "Parser hook latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"parser", "event"},
		),
		loadFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parser_load_failures_total",
				Help:      "Parsers excluded from the loaded set by stage",
			},
			[]string{"parser", "stage"},
		),
		loadedParsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parsers_loaded",
			Help:      "Number of active parsers",
		}),
		utterances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Utterances reduced into a merged context",
		}),
		contextKeys: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_context_keys",
			Help:      "Number of keys in each merged utterance context",
			Buckets:   prometheus.LinearBuckets(0, 4, 8),
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHook records one parser hook call.
func (c *Collector) ObserveHook(parser, event string, d time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	c.hookCalls.WithLabelValues(parser, event, outcome).Inc()
	c.hookDuration.WithLabelValues(parser, event).Observe(d.Seconds())
}

func (c *Collector) LoadFailed(parser, stage string) {
	c.loadFailures.WithLabelValues(parser, stage).Inc()
}

func (c *Collector) LoadedParsers(n int) {
	c.loadedParsers.Set(float64(n))
}

// UtteranceFinalized records one completed reduction.
func (c *Collector) UtteranceFinalized(keys int) {
	c.utterances.Inc()
	c.contextKeys.Observe(float64(keys))
}
