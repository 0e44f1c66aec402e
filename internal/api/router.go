package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartlocker/internal/httpmiddleware"
)

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitPerMin int
	Metrics         http.Handler
}

// NewRouter builds the gin engine with middleware, health, metrics and /v1 routes.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	if cfg.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())
	}

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	r.GET("/healthz", h.Health)
	h.RegisterRoutes(r.Group("/v1"))
	return r
}
