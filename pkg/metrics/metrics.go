// Package metrics holds the process-wide go-metrics registry that the reaper and the
// orphan queue report into, and an HTTP handler exposing it.
package metrics

import (
	"net/http"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/rcrowley/go-metrics/exp"
)

var (
	m        sync.Mutex
	registry metrics.Registry
	handler  http.Handler
)

func init() {
	SetMetricsRegistry(metrics.NewRegistry())
}

// Registry returns the current global registry.
func Registry() metrics.Registry {
	m.Lock()
	defer m.Unlock()
	return registry
}

// ExpHandler returns an http handler that publishes the contents of the global registry
// as JSON.
func ExpHandler() http.Handler {
	m.Lock()
	defer m.Unlock()
	return handler
}

// SetMetricsRegistry replaces the global registry. Metrics already fetched from the
// previous registry keep reporting there.
func SetMetricsRegistry(r metrics.Registry) {
	m.Lock()
	defer m.Unlock()
	registry = r
	handler = exp.ExpHandler(r)
}

func Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, Registry())
}

func Gauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(name, Registry())
}

func Timer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, Registry())
}
