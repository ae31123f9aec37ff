package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/query"
	"github.com/jeongwoohan/grantcat/internal/query/cache"
	"github.com/jeongwoohan/grantcat/internal/server"
	"github.com/jeongwoohan/grantcat/pkg/config"
	"github.com/jeongwoohan/grantcat/pkg/health"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
	pkgredis "github.com/jeongwoohan/grantcat/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting catalog service", "port", cfg.Server.Port, "data_dir", cfg.Store.DataDir)

	m := metrics.New()

	coord, err := coordinator.Open(cfg.Store, m)
	if err != nil {
		slog.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog loaded")

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if queryCache != nil {
		coord.OnCommit(func() {
			if err := queryCache.Invalidate(context.Background()); err != nil {
				slog.Warn("cache invalidation failed", "error", err)
			}
		})
	}

	checker := health.NewChecker()
	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		if _, err := coord.Stats(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		if coord.Diverged() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index diverged, rebuild required"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	engine := query.New(coord, m)
	h := server.NewHandler(coord, engine, queryCache, cfg.Query, m)
	router := server.NewRouter(h, checker, m, *cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	if err := coord.Flush(flushCtx); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	slog.Info("stopped")
}
