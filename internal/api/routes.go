package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, gatherer prometheus.Gatherer, log *zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Trigger and serve
	router.POST("/nudge", handler.Nudge)
	router.GET("/data/:name", handler.GetArtifact)

	// API v1
	v1 := router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", handler.ListRuns)
			runs.GET("/:id", handler.GetRun)
		}
	}

	return router
}
