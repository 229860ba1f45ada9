package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/services/health"
	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/server/middleware"
	"docvault-backend/internal/shared/server/respond"
)

// RouteRegistrar mounts a feature's routes on the authenticated API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries the handlers NewRouter mounts. SignedBlobs is set only
// for the local blob store, whose presigned URLs point back at this API.
type RouterDeps struct {
	Config      config.Config
	Verifier    middleware.TokenVerifier
	Documents   RouteRegistrar
	Attachments RouteRegistrar
	SignedBlobs gin.HandlerFunc
	RateLimiter middleware.Limiter
	Health      *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())
	if deps.SignedBlobs != nil {
		r.GET("/blobs/*key", deps.SignedBlobs)
	}

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))

	protected := api.Group("")
	protected.Use(
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    middleware.DefaultRateLimitRules(),
			GroupFor: middleware.UploadGroupFor,
			Limiter:  deps.RateLimiter,
		}),
	)
	registerMeRoutes(protected)
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(protected)
	}
	if deps.Attachments != nil {
		deps.Attachments.RegisterRoutes(protected)
	}

	return r
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		ok, checks := svc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": checks})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
