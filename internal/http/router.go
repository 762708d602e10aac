// Package httpapi wires the HTTP transport (Gin) to the handlers and the
// cross-cutting middleware: tracing, correlation ids, redacting access logs,
// panic recovery, compression, metrics, idempotency keys, bearer
// authentication, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/notify-bot/internal/config"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/http/handlers"
	"github.com/tbourn/notify-bot/internal/http/middleware"
	"github.com/tbourn/notify-bot/internal/repo"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// IdempotencyStore reads stored idempotency records.
type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, scope, key string, now time.Time) (domain.IdempotencyRecord, error)
}

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Handlers    *handlers.Handlers
	Tokens      middleware.TokenValidator
	Idempotency IdempotencyStore
	// Ping backs /health; nil reports healthy.
	Ping func(context.Context) error
}

// IdempotencyLookup adapts s to the middleware's lookup: a live, completed
// record is a hit. A missing, expired or still pending one is a miss.
func IdempotencyLookup(s IdempotencyStore) middleware.IdempotencyLookup {
	return func(ctx context.Context, scope, key string, now time.Time) (bool, error) {
		rec, err := s.GetIdempotency(ctx, scope, key, now)
		switch {
		case err == nil:
			return !rec.Pending(), nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// RegisterRoutes attaches the middleware chain and all endpoints to r.
//
// Global order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit
//  6. gzip
//  7. Metrics
//  8. Idempotency validator (flags replays so the limiter lets them through)
//  9. CORS and security headers
//
// The admin and Power Automate groups add BearerAuth and then the rate
// limiter, so buckets are keyed by token subject. The bot endpoint is never
// limited.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics(
		middleware.Surface{Name: "admin", Prefix: cfg.APIBasePath},
		middleware.Surface{Name: "bot", Prefix: cfg.APIBasePath + "/messages"},
		middleware.Surface{Name: "health", Prefix: cfg.APIBasePath + "/health-check"},
		middleware.Surface{Name: "health", Prefix: "/health"},
		middleware.Surface{Name: "pa", Prefix: cfg.PABasePath},
	))

	var lookup middleware.IdempotencyLookup
	if d.Idempotency != nil {
		lookup = IdempotencyLookup(d.Idempotency)
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
		LockdownCSP:  true,
		CSPExempt:    []string{"/swagger/"},
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Operational endpoints sit outside the base paths and need no token.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		if d.Ping != nil {
			if err := d.Ping(c.Request.Context()); err != nil {
				middleware.LoggerFrom(c).Error().Err(err).Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := d.Handlers
	// one limiter, so a caller shares its bucket across both groups
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySubjectOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Channel traffic; authenticated by the channel token inside the
		// handler, not by BearerAuth.
		api.POST("/messages", h.PostMessages)
		api.GET("/health-check", h.HealthCheck)
		// No subject before login: keyed by client IP.
		api.POST("/auth", limiter.Handler(), h.PostAuth)

		admin := api.Group("", middleware.BearerAuth(d.Tokens), limiter.Handler())
		admin.POST("/notification", h.PostNotification)
		admin.GET("/notification/:id", h.GetNotification)
		admin.GET("/initiations/:id", h.GetInitiations)
	}

	// Power Automate connector; same token as the admin API.
	pa := groupWithPrefix(r, cfg.PABasePath)
	pa.Use(middleware.BearerAuth(d.Tokens), limiter.Handler())
	{
		pa.POST("/message", h.PostPAMessage)
		pa.POST("/authorize", h.PostPAAuthorize)
	}
}

// corsMiddleware allows every origin when none are configured and echoes
// allow-listed origins otherwise.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", handlers.HeaderIdempotencyReplayed},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Also for requests without an Origin header (health checks, tests).
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	// Echo the origin ourselves so it is set even when cors.New skips the
	// request.
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body at maxBytes; reads beyond it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
