// Package metrics instruments simulator runs for Prometheus: packets and
// bytes emitted per direction, padding overhead, and blocking time, each
// registered against an explicit *prometheus.Registry rather than the
// global default one so a host process can run several simulations without
// metric collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jihwankim/maybenot/pkg/simulator"
)

// Collector holds the Prometheus instruments for one simulator run.
type Collector struct {
	recordsTotal   *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	paddingBytes   prometheus.Counter
	blockingTotal  prometheus.Counter
	simIterations  prometheus.Counter
}

// Register creates a Collector and registers its instruments against reg.
func Register(reg *prometheus.Registry) *Collector {
	c := &Collector{
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maybenot",
			Subsystem: "simulator",
			Name:      "records_total",
			Help:      "Number of emitted trace records, by direction.",
		}, []string{"direction"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maybenot",
			Subsystem: "simulator",
			Name:      "bytes_total",
			Help:      "Bytes of emitted trace records, by direction.",
		}, []string{"direction"}),
		paddingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maybenot",
			Subsystem: "simulator",
			Name:      "padding_bytes_total",
			Help:      "Bytes of padding overhead added by machine actions.",
		}),
		blockingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maybenot",
			Subsystem: "simulator",
			Name:      "blocking_microseconds_total",
			Help:      "Total microseconds of outgoing traffic blocked across both sides.",
		}),
		simIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maybenot",
			Subsystem: "simulator",
			Name:      "iterations_total",
			Help:      "Main-loop iterations consumed across simulator runs.",
		}),
	}

	reg.MustRegister(c.recordsTotal, c.bytesTotal, c.paddingBytes, c.blockingTotal, c.simIterations)
	return c
}

// ObserveTrace records one simulator run's emitted trace: a counter
// increment per record, split by direction, plus the padding-specific
// overhead total.
func (c *Collector) ObserveTrace(records []simulator.TraceRecord) {
	for _, r := range records {
		label := string(r.Direction)
		c.recordsTotal.WithLabelValues(label).Inc()
		c.bytesTotal.WithLabelValues(label).Add(float64(r.Size))
		if r.Direction.IsPadding() {
			c.paddingBytes.Add(float64(r.Size))
		}
	}
}

// ObserveBlockingMicros adds to the cumulative blocked-traffic duration.
func (c *Collector) ObserveBlockingMicros(micros float64) {
	c.blockingTotal.Add(micros)
}

// ObserveIterations adds to the cumulative main-loop iteration count.
func (c *Collector) ObserveIterations(n int) {
	c.simIterations.Add(float64(n))
}

// Handler returns an http.Handler exposing reg's metrics in the Prometheus
// exposition format, suitable for mounting at e.g. "/metrics".
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
