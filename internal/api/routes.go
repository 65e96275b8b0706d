package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/decoupling-detector/internal/api/handlers"
	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/metrics"
	"github.com/irfndi/decoupling-detector/internal/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Dependencies are the services the HTTP API is built on.
type Dependencies struct {
	Config  *config.Config
	Service handlers.DecouplingAnalyzer
	Assets  handlers.AssetLister
	// Database is nil when prices come from a file.
	Database handlers.HealthChecker
	// Cache and CacheStats are nil unless the Redis price cache is enabled.
	Cache      handlers.HealthChecker
	CacheStats handlers.CacheStatsProvider
	Source     string
	Metrics    *metrics.MetricsRegistry
	Logger     *logrus.Logger
}

// NewRouter returns a gin engine with the standard middleware chain and
// all routes registered.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(deps.Config.Telemetry.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.TraceRequestID())
	router.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))

	if err := SetupRoutes(router, deps); err != nil {
		return nil, err
	}
	return router, nil
}

func SetupRoutes(router *gin.Engine, deps Dependencies) error {
	timeout, err := deps.Config.Server.Timeout()
	if err != nil {
		return err
	}

	healthHandler := handlers.NewHealthHandler(deps.Database, deps.Cache, deps.Source)
	if deps.CacheStats != nil {
		healthHandler.WithCacheStats(deps.CacheStats)
	}
	analysisHandler := handlers.NewAnalysisHandler(deps.Service, deps.Assets, deps.Config.Analysis, timeout, deps.Logger)

	// Health check endpoint
	router.GET("/health", healthHandler.HealthCheck)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/assets", analysisHandler.GetAssets)

		analysis := v1.Group("/analysis")
		{
			analysis.GET("/decoupling", analysisHandler.GetDecoupling)
			analysis.GET("/defaults", analysisHandler.GetDefaults)
		}
	}

	return nil
}
