package handler

import (
	"strings"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/middleware"
	"github.com/bobby854854854/LexiSense/pkg/ratelimit"
	"github.com/bobby854854854/LexiSense/service"
	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Config    *config.Config
	Limiter   *ratelimit.Limiter
	Ingestor  *service.Ingestor
	Contracts service.ContractStore
	Blobs     service.BlobStore
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	policies := cfg.RateLimit.Policies
	limit := func(name string) gin.HandlerFunc {
		return middleware.RateLimit(d.Limiter, name, policies[name])
	}

	router := gin.New()
	if len(cfg.Server.TrustedProxies) > 0 {
		router.SetTrustedProxies(cfg.Server.TrustedProxies)
	} else {
		router.SetTrustedProxies(nil)
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())

	router.GET("/health", Health)

	authHandler := NewAuthHandler(cfg)
	contractHandler := NewContractHandler(d.Ingestor, d.Contracts, d.Blobs, cfg.Storage.SignedURLTTL)

	api := router.Group("/api")
	api.POST("/auth/login", limit(config.PolicyAPI), limit(config.PolicyAuth), authHandler.Login)

	// rejected tokens count against the client IP before identity is known,
	// authenticated requests are refunded there and keyed per user after
	preAuth := policies[config.PolicyAPI]
	preAuth.CountOnlyFailures = true

	protected := api.Group("/")
	protected.Use(
		middleware.RateLimit(d.Limiter, config.PolicyAPI, preAuth),
		middleware.AuthMiddleware(&cfg.Auth),
		limit(config.PolicyAPI),
	)
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/contracts/upload", limit(config.PolicyUpload), contractHandler.Upload)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/analytics", contractHandler.Analytics)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.GET("/contracts/:id/status", contractHandler.GetStatus)
		protected.GET("/contracts/:id/download", contractHandler.Download)
		protected.POST("/contracts/:id/analyze", limit(config.PolicyAI), contractHandler.Analyze)
		protected.DELETE("/contracts/:id", limit(config.PolicyStrict), contractHandler.Delete)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset, Retry-After")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// cacheMiddleware disables caching of API responses
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
