package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ocrs/api-gateway/internal/admin"
	"github.com/ocrs/api-gateway/internal/gateway"
	"github.com/ocrs/api-gateway/internal/logger"
	"github.com/ocrs/api-gateway/internal/ratelimit"
)

const version = "1.0.0"

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	environment := os.Getenv("APP_ENV")
	if environment == "" {
		environment = "production"
	}

	// Default: JSON in production, text in development
	logJSONEnv := os.Getenv("LOG_JSON")
	var logJSON bool
	if logJSONEnv != "" {
		logJSON = logJSONEnv == "true"
	} else {
		logJSON = environment != "development"
	}

	appLogger := logger.InitLogger(environment, logJSON)

	cfg, err := gateway.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	table, err := gateway.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		appLogger.Error("failed to load routes", "file", cfg.RoutesFile, "error", err)
		os.Exit(1)
	}

	appLogger.Info("gateway configuration loaded",
		"listen_address", cfg.ListenAddress,
		"admin_address", cfg.AdminAddress,
		"routes", len(table.Routes()),
		"allowed_origins", len(cfg.AllowedOrigins),
		"redis", cfg.RedisURL != "",
	)

	registry := gateway.NewServiceRegistry(table.Services(), cfg.ProbeInterval, appLogger)
	registry.Start()
	defer registry.Stop()

	var memoryLimiters []*ratelimit.MemoryLimiter
	var limiters gateway.LimiterFactory
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			appLogger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		limiters = func(routeID string, rps, burst int) ratelimit.Limiter {
			return ratelimit.NewRedisLimiter(client, routeID, rps, burst)
		}
	} else {
		limiters = func(routeID string, rps, burst int) ratelimit.Limiter {
			l := ratelimit.NewMemoryLimiter(rps, burst, appLogger)
			memoryLimiters = append(memoryLimiters, l)
			return l
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := gateway.NewMetrics(promRegistry)

	breaker := gateway.NewBreaker(appLogger)
	pipeline := gateway.NewPipeline(cfg, table, registry, breaker, limiters, metrics, appLogger)
	defer func() {
		for _, l := range memoryLimiters {
			l.Close()
		}
	}()

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      pipeline,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	adminServer := &http.Server{
		Addr:         cfg.AdminAddress,
		Handler:      admin.NewServer(environment, version, table, registry, breaker, promRegistry, appLogger).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		appLogger.Info("gateway listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("gateway server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		appLogger.Info("admin server listening", "address", cfg.AdminAddress)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down gateway...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("gateway shutdown error", "error", err)
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		appLogger.Error("admin shutdown error", "error", err)
	}
	appLogger.Info("gateway stopped")
}
