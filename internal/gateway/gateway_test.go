package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/handlers"
)

type fakeResolver map[string]string

func (f fakeResolver) GetServiceURL(name string) (string, error) {
	if u, ok := f[name]; ok {
		return u, nil
	}
	return "", errors.New("not registered")
}

func newRouter(g *Gateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers.RequestLogger(zap.NewNop()))
	g.Register(r)
	return r
}

func TestProxyRoutesByPrefix(t *testing.T) {
	var gotPath string
	orders := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusTeapot)
	}))
	defer orders.Close()

	g := New(fakeResolver{"order-service": orders.URL}, nil, zap.NewNop())
	g.Discover()

	// ReverseProxy needs a real connection, not a ResponseRecorder.
	front := httptest.NewServer(newRouter(g))
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/orders/123")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "/api/orders/123", gotPath)
}

func TestDiscoverFallsBack(t *testing.T) {
	g := New(fakeResolver{}, map[string]string{"stock-service": "http://localhost:9999"}, zap.NewNop())
	g.Discover()

	assert.Equal(t, "http://localhost:9999", g.services["stock-service"])
	assert.Equal(t, DefaultURLs["order-service"], g.services["order-service"])
}

func TestNilResolverUsesDefaults(t *testing.T) {
	g := New(nil, nil, zap.NewNop())
	g.Discover()
	assert.Len(t, g.services, len(Routes))
}

func TestUnavailableUpstream(t *testing.T) {
	g := New(nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/stocks", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	newRouter(g).ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var res handlers.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.IsSuccessful)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "req-7", res.TraceID)
	require.NotNil(t, res.Error)
	assert.Equal(t, []string{"stock-service unavailable"}, res.Error.Errors)
}

func TestProxyErrorUsesResultEnvelope(t *testing.T) {
	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	g := New(fakeResolver{"order-service": goneURL}, nil, zap.NewNop())
	g.Discover()
	front := httptest.NewServer(newRouter(g))
	defer front.Close()

	req, err := http.NewRequest(http.MethodGet, front.URL+"/api/orders", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-9")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var res handlers.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "req-9", res.TraceID)
	assert.Equal(t, "order-service unavailable", res.Message)
}

func TestHealthCheckDegraded(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	g := New(fakeResolver{
		"order-service":        up.URL,
		"stock-service":        up.URL,
		"notification-service": down.URL,
	}, nil, zap.NewNop())
	g.Discover()

	w := httptest.NewRecorder()
	newRouter(g).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unhealthy", body.Services["notification-service"])
	assert.Equal(t, "healthy", body.Services["order-service"])
}
