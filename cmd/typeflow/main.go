// Command typeflow runs the multi-tenant AI keyboard backend process.
// It is the composition root: every component is constructed here,
// once, and passed by reference; nothing in the tree reaches for a
// global.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/BaSui01/typeflow/config"
	"github.com/BaSui01/typeflow/gateway"
	"github.com/BaSui01/typeflow/gateway/factory"
	"github.com/BaSui01/typeflow/internal/metrics"
	"github.com/BaSui01/typeflow/tenant"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "typeflow: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "typeflow: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	registry := factory.NewRegistry(logger)

	store, err := buildStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	source := tenant.NewSource(store)
	pools := gateway.NewPoolManager(registry, source, logger)

	collector := metrics.NewCollector("typeflow", prometheus.DefaultRegisterer, logger)
	orchestrator := gateway.NewOrchestrator(pools, collector, logger,
		gateway.WithDefaultTimeout(cfg.Gateway.DefaultTimeout))

	opts := []gateway.ServiceOption{gateway.WithObserver(collector)}
	if cfg.Cache.Enabled {
		cache, closeCache, err := buildCache(cfg, logger)
		if err != nil {
			return err
		}
		defer closeCache()
		opts = append(opts,
			gateway.WithCache(cache, cfg.Cache.TTL),
			gateway.WithCachePolicy(source.CachePolicy),
		)
	}
	if cfg.Gateway.RatePerTenant > 0 {
		opts = append(opts, gateway.WithTenantRateLimit(cfg.Gateway.RatePerTenant, cfg.Gateway.RateBurst))
	}
	service := gateway.NewService(orchestrator, logger, opts...)

	logger.Info("typeflow gateway ready",
		zap.Strings("provider_types", registry.Types()),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend))

	return serveOps(cfg.Server, service, logger)
}

// serveOps exposes /metrics, /healthz and the internal generate
// endpoint, then blocks until a shutdown signal. The authenticated
// public transport in front of this process is an external
// collaborator; this surface is for the internal network only.
func serveOps(cfg config.ServerConfig, service *gateway.Service, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/generate", generateHandler(service, logger))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// generateHandler adapts the gateway contract to JSON over HTTP.
func generateHandler(service *gateway.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req gateway.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &gateway.Error{
				Code:       gateway.ErrInvalidRequest,
				Message:    "malformed request body",
				HTTPStatus: http.StatusBadRequest,
			})
			return
		}
		resp, err := service.Generate(r.Context(), &req)
		if err != nil {
			ge, ok := gateway.AsError(err)
			if !ok {
				logger.Error("generate failed", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeError(w, ge)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeError(w http.ResponseWriter, ge *gateway.Error) {
	status := ge.HTTPStatus
	if status == 0 {
		switch ge.Code {
		case gateway.ErrInvalidRequest:
			status = http.StatusBadRequest
		case gateway.ErrNoProviderConfigured:
			status = http.StatusNotFound
		case gateway.ErrRateLimited:
			status = http.StatusTooManyRequests
		default:
			status = http.StatusBadGateway
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ge)
}

func buildStore(cfg config.DatabaseConfig, logger *zap.Logger) (tenant.Store, error) {
	if cfg.DSN == "" {
		logger.Warn("no database configured, tenant settings are in-memory only")
		return tenant.NewMemoryStore(), nil
	}
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening tenant database: %w", err)
	}
	return tenant.NewGormStore(db, logger)
}

func buildCache(cfg *config.Config, logger *zap.Logger) (gateway.ResponseCache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		cache := gateway.NewRedisCache(client, "", cfg.Cache.TTL, logger)
		return cache, func() { _ = client.Close() }, nil
	default:
		cache := gateway.NewMemoryCache(logger,
			gateway.WithDefaultTTL(cfg.Cache.TTL),
			gateway.WithSweepInterval(cfg.Cache.SweepInterval),
		)
		return cache, cache.Close, nil
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
