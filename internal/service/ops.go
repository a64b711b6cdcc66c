package service

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertbridge/internal/state"
)

// NewOpsRouter builds the operational HTTP surface: liveness plus
// store counts on /healthz, Prometheus metrics on /metrics. The
// webhook and the upstream feed never pass through it.
func NewOpsRouter(registry *prometheus.Registry, store state.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeadersMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		total, err := store.TotalCount()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"reason": "state store unavailable",
			})
			return
		}
		pending, _ := store.PendingCount()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"tracked": total,
			"pending": pending,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}

// securityHeadersMiddleware adds security headers to all responses
// Reference: https://gin-gonic.com/en/docs/examples/security-headers
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}
