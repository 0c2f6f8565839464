package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/curator/internal/api/handler"
	"github.com/timmy/curator/internal/api/middleware"
	"github.com/timmy/curator/internal/config"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
)

// Dependencies groups what the router wires into handlers.
type Dependencies struct {
	Enrichment   handler.EnrichmentRunner
	LinkHealth   handler.LinkHealthRunner
	HealthChecks map[string]handler.HealthCheck
	Logger       *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps Dependencies) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.HealthChecks)
	enrichmentHandler := handler.NewEnrichmentHandler(deps.Enrichment)
	linkHealthHandler := handler.NewLinkHealthHandler(deps.LinkHealth)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin := r.Group("/api/v1/admin", middleware.AdminAuth(cfg.AdminToken))
	{
		jobs := admin.Group("/enrichment/jobs")
		jobs.POST("", enrichmentHandler.StartJob)
		jobs.GET("", enrichmentHandler.ListJobs)
		jobs.GET("/:id", enrichmentHandler.GetJob)
		jobs.POST("/:id/cancel", enrichmentHandler.CancelJob)

		links := admin.Group("/link-health")
		links.POST("/check", linkHealthHandler.Check)
		links.GET("/results", linkHealthHandler.Results)
		links.GET("/history", linkHealthHandler.History)
		links.GET("/status", linkHealthHandler.Status)
	}

	return r
}
