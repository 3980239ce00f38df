// Package gateway routes /api traffic to the saga services it discovers in
// Consul.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/handlers"
)

// Route maps a path prefix to the service that owns it.
type Route struct {
	Prefix  string
	Service string
}

var Routes = []Route{
	{Prefix: "/api/orders", Service: "order-service"},
	{Prefix: "/api/stocks", Service: "stock-service"},
	{Prefix: "/api/notifications", Service: "notification-service"},
}

// DefaultURLs are used when a service is not registered in Consul.
var DefaultURLs = map[string]string{
	"order-service":        "http://order-service:8082",
	"stock-service":        "http://stock-service:8081",
	"notification-service": "http://notification-service:8083",
}

// Resolver looks up a healthy instance of a service.
type Resolver interface {
	GetServiceURL(name string) (string, error)
}

type Gateway struct {
	resolver  Resolver
	fallbacks map[string]string
	client    *http.Client
	log       *zap.Logger

	mutex    sync.RWMutex
	proxies  map[string]*httputil.ReverseProxy
	services map[string]string
}

// New builds a gateway. resolver may be nil, in which case only fallbacks
// are used. Entries in fallbacks override DefaultURLs.
func New(resolver Resolver, fallbacks map[string]string, log *zap.Logger) *Gateway {
	urls := make(map[string]string, len(DefaultURLs))
	for k, v := range DefaultURLs {
		urls[k] = v
	}
	for k, v := range fallbacks {
		urls[k] = v
	}
	return &Gateway{
		resolver:  resolver,
		fallbacks: urls,
		client:    &http.Client{Timeout: 2 * time.Second},
		log:       log,
		proxies:   make(map[string]*httputil.ReverseProxy),
		services:  make(map[string]string),
	}
}

// Discover refreshes every route's upstream.
func (g *Gateway) Discover() {
	for _, r := range Routes {
		target := g.fallbacks[r.Service]
		if g.resolver != nil {
			u, err := g.resolver.GetServiceURL(r.Service)
			if err == nil {
				target = u
			} else {
				g.log.Debug("⚠️ Service not in Consul, using fallback",
					zap.String("service", r.Service), zap.String("url", target), zap.Error(err))
			}
		}
		g.updateProxy(r.Service, target)
	}
}

// Watch re-runs Discover every interval until ctx is cancelled.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Discover()
		}
	}
}

func (g *Gateway) updateProxy(serviceName, serviceURL string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.services[serviceName] == serviceURL {
		return
	}
	target, err := url.Parse(serviceURL)
	if err != nil || target.Host == "" {
		g.log.Error("❌ Invalid service URL", zap.String("service", serviceName), zap.String("url", serviceURL))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(r.Header))
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.log.Error("❌ Proxy error", zap.String("service", serviceName), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(handlers.NewErrorResult(http.StatusBadGateway,
			handlers.RequestTraceID(r), serviceName+" unavailable"))
	}

	g.proxies[serviceName] = proxy
	g.services[serviceName] = serviceURL
	g.log.Info("✅ Updated route", zap.String("service", serviceName), zap.String("url", serviceURL))
}

func (g *Gateway) getProxy(serviceName string) *httputil.ReverseProxy {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.proxies[serviceName]
}

// Proxy forwards the request to serviceName.
func (g *Gateway) Proxy(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxy := g.getProxy(serviceName)
		if proxy == nil {
			handlers.RespondError(c, http.StatusServiceUnavailable, serviceName+" unavailable")
			return
		}
		g.log.Debug("🔀 Routing",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("service", serviceName))
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

// Register mounts the proxy routes plus /health and /services.
func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/health", g.HealthCheck)
	r.GET("/services", g.ListServices)
	for _, route := range Routes {
		h := g.Proxy(route.Service)
		r.Any(route.Prefix, h)
		r.Any(route.Prefix+"/*path", h)
	}
}

// HealthCheck reports "degraded" when any upstream /health is not 200.
func (g *Gateway) HealthCheck(c *gin.Context) {
	g.mutex.RLock()
	services := make(map[string]string, len(g.services))
	for k, v := range g.services {
		services[k] = v
	}
	g.mutex.RUnlock()

	statuses := make(map[string]string, len(services))
	allHealthy := true
	for name, u := range services {
		if g.healthy(c.Request.Context(), u) {
			statuses[name] = "healthy"
		} else {
			statuses[name] = "unhealthy"
			allHealthy = false
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "api-gateway",
		"services": statuses,
	})
}

func (g *Gateway) healthy(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *Gateway) ListServices(c *gin.Context) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	names := make([]string, 0, len(g.services))
	for name := range g.services {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		out = append(out, gin.H{"name": name, "url": g.services[name]})
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}
