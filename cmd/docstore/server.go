package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gogotex/docstore/internal/config"
	"github.com/gogotex/docstore/internal/docstore"
	"github.com/gogotex/docstore/internal/docstore/handler"
	"github.com/gogotex/docstore/pkg/logger"
	"github.com/gogotex/docstore/pkg/middleware"
)

var startTime = time.Now()

// deps are the process-wide collaborators built once in main.
type deps struct {
	cfg      *config.Config
	store    *docstore.Store
	redis    *redis.Client
	verifier middleware.Verifier
	gatherer prometheus.Gatherer
}

func newRouter(d deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery())

	// public routes are limited per client IP
	public := r.Group("/")
	if lim := rateLimiter(d); lim != nil {
		public.Use(lim)
	}

	public.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// ready only when the store has a database and, if the limiter depends on
	// Redis, Redis answers
	public.GET("/ready", func(c *gin.Context) {
		checks := gin.H{"database": d.store.Configured()}
		ready := d.store.Configured()
		if d.cfg.RateLimit.Enabled && d.cfg.RateLimit.UseRedis {
			ok := d.redis != nil && d.redis.Ping(c.Request.Context()).Err() == nil
			checks["redis"] = ok
			ready = ready && ok
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": checks, "uptime": time.Since(startTime).String()})
	})

	public.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/")
	if d.verifier != nil {
		api.Use(middleware.AuthMiddleware(d.verifier))
	} else {
		logger.Warnf("no token verifier configured; /api is unauthenticated")
	}
	// after auth, so callers are limited per token subject
	if lim := rateLimiter(d); lim != nil {
		api.Use(lim)
	}
	handler.RegisterDocumentRoutes(api, d.store)

	return r
}

// rateLimiter builds a fresh limiter, or nil when rate limiting is off.
func rateLimiter(d deps) gin.HandlerFunc {
	rl := d.cfg.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.UseRedis && d.redis != nil {
		return middleware.RedisRateLimitMiddleware(d.redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second)
	}
	return middleware.RateLimitMiddleware(rl.RPS, rl.Burst)
}
