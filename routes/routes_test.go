package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-civicreport/logger"
	"go-civicreport/metrics"
	"go-civicreport/processor"
)

func newHandler(t *testing.T, frontend string, allowAll bool) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	p := processor.NewPipeline(processor.Options{}, logger.Nop())
	return WithCORS(SetupRouter(p, nil, reg), frontend, allowAll)
}

func preflight(h http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/report/submit", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSAllowsKnownOrigins(t *testing.T) {
	h := newHandler(t, "https://civic.example.org", false)

	for _, origin := range []string{"https://civic.example.org", "http://localhost:5173", "http://127.0.0.1:5174"} {
		w := preflight(h, origin)
		assert.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
	assert.Empty(t, preflight(h, "https://evil.example.com").Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDevAllowAll(t *testing.T) {
	h := newHandler(t, "", true)
	assert.NotEmpty(t, preflight(h, "https://anything.example.com").Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutesRegistered(t *testing.T) {
	h := newHandler(t, "", false)

	for _, path := range []string{"/", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/reports", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Database not connected")
}
