package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amoylab/gameroom/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	m := New(config.MetricsConfig{Namespace: "test"})

	m.RoleAssigned("seat_a", false)
	m.RoleAssigned("seat_a", true)
	m.TransitionApplied("seat_b")
	m.Denied("not_your_turn")
	m.StoreConflict()
	m.SessionClosed("draw")
	m.Reclaimed(2)
	m.Purged(3)
	m.Connections().Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.roleAssigned.WithLabelValues("seat_a", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("seat_b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("not_your_turn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues("draw")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reclaimed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "test"})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/sessions/:id/stats", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/stats", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpReqCnt.WithLabelValues("GET", "/api/sessions/:id/stats", "204")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}
