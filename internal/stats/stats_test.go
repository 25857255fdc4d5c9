package stats

import (
	"expvar"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	for _, name := range []string{NumActiveClients, NumActiveRooms, MessagesSent, NotificationsPushed} {
		assert.NotNil(t, su.vars.Get(name), "expected metric %q to be registered", name)
	}
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.Run()
	t.Cleanup(su.Stop)

	su.Incr(MessagesSent)
	su.Incr(MessagesSent)
	su.Decr(MessagesSent)
	su.Incr("unknown")

	assert.Eventually(t, func() bool {
		return su.vars.Get(MessagesSent).(*expvar.Int).Value() == 1
	}, time.Second, 10*time.Millisecond, "expected counter to settle at 1")
}

func TestStatsUpdater_Handler(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	t.Cleanup(su.Stop)

	su.Incr(NumActiveClients)
	require.Eventually(t, func() bool {
		return su.vars.Get(NumActiveClients).(*expvar.Int).Value() == 1
	}, time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body[NumActiveClients])
	assert.Contains(t, body, "Uptime")
}
