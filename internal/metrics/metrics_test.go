package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SensorRead("bme", "ok")
	m.SerialForward("sent")
	m.ConditionalCheck("true")
	m.RuleEdit("Activate Conditional", true)
	m.SetActiveControllers(3)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.SerialForward("sent")
	m.SerialForward("sent")
	m.SerialForward("failed")
	m.RuleEdit("Delete Conditional", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.serialForwards.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serialForwards.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleEdits.WithLabelValues("Delete Conditional", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "greenhouse_sensor_serial_forwards_total"))
}
