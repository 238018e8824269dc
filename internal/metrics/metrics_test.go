package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusImplementsRecorder(t *testing.T) {
	var _ Recorder = NewPrometheus()
	var _ Recorder = Nop{}
}

func TestPrometheusExposesRecordedValues(t *testing.T) {
	p := NewPrometheus()
	p.BuildStarted("manual")
	p.BuildStarted("auto")
	p.BuildFinished("succeeded", 3*time.Second)
	p.ObserveStageDuration("clone", time.Second)
	p.SetQueueDepth(4)
	p.SetBusyWorkers(2)
	p.ObserveMonitorSweep(500 * time.Millisecond)
	p.IncMonitorEnqueue()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `docfleet_builds_started_total{trigger="manual"} 1`)
	assert.Contains(t, body, `docfleet_builds_finished_total{outcome="succeeded"} 1`)
	assert.Contains(t, body, "docfleet_queue_depth 4")
	assert.Contains(t, body, "docfleet_busy_workers 2")
	assert.Contains(t, body, "docfleet_monitor_enqueues_total 1")
}
