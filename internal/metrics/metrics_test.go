package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWrite(t *testing.T) {
	m := New()

	m.RecordWrite(pipeline.Entry{Route: "direct_write", Outcome: pipeline.OutcomeSent, Duration: 20 * time.Millisecond})
	m.RecordWrite(pipeline.Entry{Route: "direct_write", Outcome: pipeline.OutcomeSent})
	m.RecordWrite(pipeline.Entry{Outcome: pipeline.OutcomeValidationError})

	assert.Equal(t, 2.0, promtest.ToFloat64(m.writes.WithLabelValues("direct_write", "sent")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.writes.WithLabelValues("none", "validation_error")))
}

func TestSessionStateGauge(t *testing.T) {
	m := New()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.sessionState.WithLabelValues("DISCONNECTED")))

	m.OnStateChange(session.StateDisconnected, session.StatePriming, nil)
	m.OnStateChange(session.StatePriming, session.StateLive, nil)

	assert.Equal(t, 0.0, promtest.ToFloat64(m.sessionState.WithLabelValues("DISCONNECTED")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.sessionState.WithLabelValues("LIVE")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.transitions.WithLabelValues("LIVE")))
}

func TestObserveDelta(t *testing.T) {
	m := New()

	m.ObserveDelta(state.Update{Symbol: "Mode"}, state.Applied)
	m.ObserveDelta(state.Update{Symbol: "Nope"}, state.DroppedUnknown)
	m.ObserveDelta(state.Update{Symbol: "Mode"}, state.Applied)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.deltas.WithLabelValues(state.Applied.String())))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.deltas.WithLabelValues(state.DroppedUnknown.String())))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetKnownValues(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bragersync_known_values 7")
	assert.Contains(t, rec.Body.String(), `bragersync_session_state{state="DISCONNECTED"} 1`)
}
