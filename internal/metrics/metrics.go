// Package metrics holds the prometheus collectors shared by streams and
// adapters. They are registered on the default registry served by
// http/health.
package metrics

import (
	"github.com/go-pantheon/fabrica-stream/errcode"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "fabrica"
	subsystem = "stream"

	OpWrite    = "write"
	OpShutdown = "shutdown"

	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Completed handle requests by operation and status.",
	}, []string{"op", "status"})

	backpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "backpressure_total",
		Help:      "Writes that left the adapter waiting for drain.",
	})

	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bytes_total",
		Help:      "Bytes moved through wrapped streams.",
	}, []string{"direction"})

	streamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "errors_total",
		Help:      "Errors surfaced by streams and adapters.",
	}, []string{"kind"})

	openAdapters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "open_adapters",
		Help:      "Adapters created and not yet closed.",
	})
)

func init() {
	prometheus.MustRegister(requests, backpressure, bytesTotal, streamErrors, openAdapters)
}

func ObserveRequest(op string, code errcode.Code) {
	requests.WithLabelValues(op, code.Name()).Inc()
}

func ObserveBackpressure() {
	backpressure.Inc()
}

func ObserveBytes(direction string, n int) {
	if n <= 0 {
		return
	}

	bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func ObserveError(kind string) {
	streamErrors.WithLabelValues(kind).Inc()
}

func AdapterOpened() {
	openAdapters.Inc()
}

func AdapterClosed() {
	openAdapters.Dec()
}
