// Package metrics exposes sensor transactions to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/dht11-httpd/internal/models"
)

// Collector holds the process's collectors on its own registry.
type Collector struct {
	registry    *prometheus.Registry
	txTotal     *prometheus.CounterVec
	txDuration  prometheus.Histogram
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// build info collectors, on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		txTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dht_transactions_total",
				Help: "Sensor transactions by result.",
			},
			[]string{"result"},
		),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "dht_transaction_duration_seconds",
			Help: "Time the sensor line was held per transaction.",
			// start signal alone is 19ms; the full frame lands around 23ms
			Buckets: []float64{.005, .01, .02, .022, .024, .026, .03, .04, .05, .1},
		}),
		temperature: newGauge("dht_temperature_celsius", "Last valid temperature reading (units: degrees Celsius)"),
		humidity:    newGauge("dht_relative_humidity_percent", "Last valid humidity reading (units: % of relative humidity)"),
	}

	c.registry.MustRegister(
		c.txTotal,
		c.txDuration,
		c.temperature,
		c.humidity,
		collectors.NewGoCollector(),
		collectors.NewBuildInfoCollector(),
	)
	for _, o := range models.Outcomes {
		c.txTotal.WithLabelValues(string(o))
	}
	return c
}

func newGauge(name string, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})
}

// Record counts a transaction. Gauges only move on valid readings.
func (c *Collector) Record(result models.Result) {
	c.txTotal.WithLabelValues(string(result.Outcome)).Inc()
	c.txDuration.Observe(result.Duration.Seconds())

	if result.Outcome == models.OutcomeOK && result.Reading != nil {
		c.temperature.Set(float64(result.Reading.TemperatureInteger))
		c.humidity.Set(float64(result.Reading.HumidityInteger))
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry:          c.registry,
		EnableOpenMetrics: true,
	})
}
