package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gogotex/docstore/internal/config"
	"github.com/gogotex/docstore/internal/docstore"
	"github.com/gogotex/docstore/internal/oidc"
	"github.com/gogotex/docstore/pkg/logger"
	"github.com/gogotex/docstore/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()
	logger.Infof("config loaded: database=%v redis=%v keycloak=%v", cfg.Database.Enabled(), cfg.Redis.Addr() != "", cfg.Keycloak.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("failed to open document store: %v", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warnf("closing document store: %v", err)
		}
	}()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis %s unreachable: %v", addr, err)
		} else {
			logger.Infof("connected to redis %s", addr)
		}
		defer rdb.Close()
	}

	verifier, err := oidc.FromConfig(ctx, cfg.Keycloak)
	if err != nil {
		logger.Fatalf("failed to initialize token verifier: %v", err)
	}
	if cfg.Keycloak.URL == "" && cfg.Keycloak.AllowInsecure {
		logger.Warn("ALLOW_INSECURE_TOKEN set: bearer tokens are decoded without signature checks")
	}

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(deps{cfg: cfg, store: store, redis: rdb, verifier: verifier, gatherer: prometheus.DefaultGatherer})

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("docstore listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
}
