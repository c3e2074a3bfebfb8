package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	. "github.com/anthonybishopric/gotcha"
	"github.com/rcrowley/go-metrics"
)

func TestExpHandlerPublishesRegisteredMetrics(t *testing.T) {
	SetMetricsRegistry(metrics.NewRegistry())
	Counter("reaper.test.counter").Inc(3)
	Gauge("reaper.test.gauge").Update(7)

	rec := httptest.NewRecorder()
	ExpHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/metrics", nil))

	var body map[string]interface{}
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	Assert(t).IsNil(err, "metrics output should be JSON")
	Assert(t).AreEqual(float64(3), body["reaper.test.counter"], "counter should have been published")
	Assert(t).AreEqual(float64(7), body["reaper.test.gauge"], "gauge should have been published")
}

func TestCounterIsSharedByName(t *testing.T) {
	SetMetricsRegistry(metrics.NewRegistry())
	Counter("reaper.shared").Inc(1)
	Counter("reaper.shared").Inc(1)
	Assert(t).AreEqual(int64(2), Counter("reaper.shared").Count(), "counters with the same name should be the same counter")
}
