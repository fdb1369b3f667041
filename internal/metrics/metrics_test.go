package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndHelpers(t *testing.T) {
	require.NoError(t, Register(prometheus.DefaultRegisterer))
	// double registration must be a no-op
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	IncPollPass("run")
	IncPollPass("skipped")
	IncProbe("live")
	IncRecordingStart()
	IncRecordingFinished("clean")
	IncRemux("ok")
	SetActiveRecordings(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "streamwatch_poll_passes_total")
	assert.Contains(t, body, "streamwatch_recording_active 2")
}
