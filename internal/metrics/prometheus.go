package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shroomload"

// Collector exports an Engine's live state to Prometheus.
//
// Values are read from the engine on every scrape, so the collector adds no
// cost to the request path.
type Collector struct {
	engine *Engine

	requests      *prometheus.Desc
	failed        *prometheus.Desc
	bytes         *prometheus.Desc
	iterations    *prometheus.Desc
	activeVUs     *prometheus.Desc
	latency       *prometheus.Desc
	requestP95    *prometheus.Desc
	ratePasses    *prometheus.Desc
	rateFails     *prometheus.Desc
	checkOutcomes *prometheus.Desc
}

// NewCollector creates a collector for the given engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_reqs_total"),
			"Total HTTP requests issued", nil, nil),
		failed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_req_failed_total"),
			"HTTP requests that failed (transport error or status >= 400)", nil, nil),
		bytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "data_received_bytes_total"),
			"Response bytes received", nil, nil),
		iterations: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "iterations_total"),
			"Completed scenario iterations", nil, nil),
		activeVUs: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "vus"),
			"Currently active virtual users", nil, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_req_duration_seconds"),
			"HTTP request latency quantiles", nil, nil),
		requestP95: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "request_duration_p95_seconds"),
			"95th percentile latency per request name", []string{"name"}, nil),
		ratePasses: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "rate_passes_total"),
			"True samples recorded into a rate metric", []string{"metric"}, nil),
		rateFails: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "rate_fails_total"),
			"False samples recorded into a rate metric", []string{"metric"}, nil),
		checkOutcomes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "checks_total"),
			"Check outcomes by check name", []string{"check", "result"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.bytes
	ch <- c.iterations
	ch <- c.activeVUs
	ch <- c.latency
	ch <- c.requestP95
	ch <- c.ratePasses
	ch <- c.rateFails
	ch <- c.checkOutcomes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.GetSnapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(snap.ActiveVUs))

	ch <- prometheus.MustNewConstSummary(c.latency,
		uint64(snap.Latency.Count),
		snap.Latency.Mean.Seconds()*float64(snap.Latency.Count),
		map[float64]float64{
			0.5:  snap.Latency.P50.Seconds(),
			0.9:  snap.Latency.P90.Seconds(),
			0.95: snap.Latency.P95.Seconds(),
			0.99: snap.Latency.P99.Seconds(),
		},
	)

	for name, stats := range c.engine.GetRequestStats() {
		ch <- prometheus.MustNewConstMetric(c.requestP95, prometheus.GaugeValue, stats.P95.Seconds(), name)
	}

	for name, rate := range snap.Rates {
		ch <- prometheus.MustNewConstMetric(c.ratePasses, prometheus.CounterValue, float64(rate.Passes), name)
		ch <- prometheus.MustNewConstMetric(c.rateFails, prometheus.CounterValue, float64(rate.Fails), name)
	}

	for _, cs := range c.engine.GetCheckStats() {
		ch <- prometheus.MustNewConstMetric(c.checkOutcomes, prometheus.CounterValue, float64(cs.Passes), cs.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checkOutcomes, prometheus.CounterValue, float64(cs.Fails), cs.Name, "fail")
	}
}

// NewRegistry returns a registry with the engine collector registered.
func NewRegistry(engine *Engine) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(engine))
	return reg
}

var _ prometheus.Collector = (*Collector)(nil)
