package server

import (
	"strings"

	"github.com/eriker75/onenglish-sub002/internal/auth"
	"github.com/eriker75/onenglish-sub002/internal/config"
	"github.com/eriker75/onenglish-sub002/internal/file"
	"github.com/eriker75/onenglish-sub002/internal/logger"
	"github.com/eriker75/onenglish-sub002/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config      config.Config
	FileService *file.Service
	// Verifier is nil when bearer authentication is disabled.
	Verifier *auth.Verifier
	// Checks are pinged by the readiness probe in order.
	Checks []Check
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps.Checks)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	if deps.FileService == nil {
		return router
	}

	if base := localServePath(deps.Config.Storage); base != "" {
		file.RegisterPublicRoutes(router, base, deps.FileService)
	}

	api := router.Group("/v1")
	if deps.Verifier != nil {
		api.Use(auth.Middleware(deps.Verifier))
	}
	file.RegisterRoutes(api, deps.FileService, file.HandlerConfig{
		UploadTempDir: deps.Config.Storage.UploadTempDir,
		MaxUploadSize: deps.Config.Storage.MaxUploadSize,
		PresignTTL:    deps.Config.S3.PresignTTL,
	})

	return router
}

// localServePath returns the route prefix for serving local objects, or ""
// when the public base URL points at another host.
func localServePath(cfg config.StorageConfig) string {
	if cfg.Mode != config.StorageModeLocal {
		return ""
	}
	base := strings.TrimRight(cfg.LocalBaseURL, "/")
	if !strings.HasPrefix(base, "/") {
		return ""
	}
	return base
}
