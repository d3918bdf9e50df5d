// Package metrics exposes internal gauges (queue depth, rate-limit
// exhaustion, crawl duration) through rcrowley/go-metrics, mirrored onto a
// prometheus/client_golang registry for the /metrics HTTP endpoint.
// Grounded on the teacher's gauge-per-event-type idiom in
// datasync/chaindatafetcher/chaindata_fetcher.go (getTimeGauge/
// getRetryGauge, gauge.Update(...) on each event).
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process's named gauges, the way the teacher keeps one
// package-level metrics.Registry per subsystem.
var Registry = gometrics.NewRegistry()

var (
	FailedQueueDepthGauge       = gometrics.GetOrRegisterGauge("queue.failed_accounts.depth", Registry)
	UnprocessedQueueDepthGauge  = gometrics.GetOrRegisterGauge("queue.unprocessed_accounts.depth", Registry)
	RateLimitExhaustionGauge    = gometrics.GetOrRegisterGauge("rpcpool.rate_limit_exhaustion_count", Registry)
	CrawlDurationGauge          = gometrics.GetOrRegisterGauge("crawl.duration_ms", Registry)
	InFlightCrawlsGauge         = gometrics.GetOrRegisterGauge("crawl.in_flight", Registry)
)

// ObserveCrawlDuration records how long one full crawl took, in milliseconds.
func ObserveCrawlDuration(d time.Duration) {
	CrawlDurationGauge.Update(d.Milliseconds())
}

// promCollector adapts the gometrics registry's gauges onto a prometheus
// Collector so both libraries can report the same numbers without keeping
// two sets of counters in sync by hand.
type promCollector struct{}

func (promCollector) Describe(ch chan<- *prometheus.Desc) {}

func (promCollector) Collect(ch chan<- prometheus.Metric) {
	Registry.Each(func(name string, i interface{}) {
		gauge, ok := i.(gometrics.Gauge)
		if !ok {
			return
		}
		desc := prometheus.NewDesc("alhafiz_"+sanitize(name), name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(gauge.Value()))
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// Handler returns the /metrics HTTP handler, registering the gometrics
// bridge collector exactly once per call site.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(promCollector{})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
