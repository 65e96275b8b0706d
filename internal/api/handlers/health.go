package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/cache"
	"github.com/irfndi/decoupling-detector/internal/telemetry"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheStatsProvider reports price cache counters.
type CacheStatsProvider interface {
	GetStats() cache.PriceCacheStats
}

type HealthHandler struct {
	db        HealthChecker
	redis     HealthChecker
	stats     CacheStatsProvider
	source    string
	version   string
	startTime time.Time
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Source    string            `json:"source"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Cache     *CacheHealth      `json:"cache,omitempty"`
}

// CacheHealth is the price cache section of the health response.
type CacheHealth struct {
	cache.PriceCacheStats
	HitRate float64 `json:"hit_rate"`
}

// NewHealthHandler creates a health handler. db is nil when prices are
// served from a file and redis is nil when the price cache is off.
func NewHealthHandler(db, redis HealthChecker, source string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redis,
		source:    source,
		version:   telemetry.ServiceVersion,
		startTime: time.Now(),
	}
}

// WithCacheStats adds price cache counters to the health response.
func (h *HealthHandler) WithCacheStats(stats CacheStatsProvider) *HealthHandler {
	h.stats = stats
	return h
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "ok"

	for name, checker := range map[string]HealthChecker{"database": h.db, "redis": h.redis} {
		if checker == nil {
			services[name] = "not configured"
		} else if err := checker.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			services[name] = "healthy"
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
		Source:    h.source,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	if h.stats != nil {
		stats := h.stats.GetStats()
		response.Cache = &CacheHealth{PriceCacheStats: stats, HitRate: stats.HitRate()}
	}

	c.JSON(code, response)
}
