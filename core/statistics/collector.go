package statistics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collector struct {
	counter *Counter
	desc    *prometheus.Desc
}

// NewCollector exports the counter table as rproxy_events_total{worker,name}.
func NewCollector(c *Counter) prometheus.Collector {
	return &collector{
		counter: c,
		desc: prometheus.NewDesc(
			"rproxy_events_total",
			"Proxy events counted per worker.",
			[]string{"worker", "name"},
			nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for key, v := range c.counter.GetTable() {
		worker, name := SplitKey(key)
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), worker, name)
	}
}

// Handler serves the counter table, plus Go runtime metrics, in the
// Prometheus exposition format.
func Handler(c *Counter) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
