package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the admin API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, registry *prometheus.Registry) {
	router.GET("/health", handler.HealthCheck)

	if registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")

	v1.POST("/seeds", handler.SeedURLs)
	v1.GET("/stats", handler.GetStats)

	v1.GET("/strategy", handler.GetStrategy)
	v1.PUT("/strategy", handler.PutStrategy)

	v1.GET("/pagerank", handler.GetTopPages)
	v1.POST("/pagerank/recalculate", handler.TriggerRank)

	v1.GET("/dedup/stats", handler.GetDedupStats)

	v1.GET("/ratelimit/:domain", handler.GetRateLimit)
	v1.DELETE("/ratelimit/:domain", handler.ResetRateLimit)
}
