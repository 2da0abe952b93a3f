// Command server starts the media streaming gateway HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"telestream/internal/api"
	"telestream/internal/auth"
	"telestream/internal/config"
	"telestream/internal/directory"
	"telestream/internal/observability/logging"
	"telestream/internal/server"
	"telestream/internal/stream"
	"telestream/internal/telegram"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides the configured port)")
	configPath := flag.String("config", "", "path to JSON config file")
	configDriver := flag.String("config-driver", "", "config store driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the config store")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP (0 uses the configured value)")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	driver, err := resolveConfigDriver(*configDriver, os.Getenv("TELESTREAM_CONFIG_DRIVER"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var store config.Store
	switch driver {
	case "json":
		path := firstNonEmpty(*configPath, os.Getenv("TELESTREAM_CONFIG"), "config.json")
		store, err = config.NewFileStore(path)
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("TELESTREAM_POSTGRES_DSN"))
		if dsn == "" {
			fmt.Fprintln(os.Stderr, "postgres config store selected without DSN")
			os.Exit(1)
		}
		openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = config.NewPostgresStore(openCtx, dsn)
		cancel()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open config store: %v\n", err)
		os.Exit(1)
	}

	settings := store.Snapshot()
	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("TELESTREAM_LOG_LEVEL"), settings.LogLevel),
		Format: firstNonEmpty(*logFormat, os.Getenv("TELESTREAM_LOG_FORMAT")),
	})

	client := telegram.NewMTProto(store, logging.WithComponent(logger, "telegram"))
	manager := auth.NewManager(client, store, logging.WithComponent(logger, "auth"))
	dir := directory.New(client)

	chunkSize := settings.Streaming.ChunkSize
	engine := stream.New(client,
		stream.WithChunkSize(chunkSize),
		stream.WithLogger(logging.WithComponent(logger, "stream")),
	)

	handler := api.NewHandler(manager, dir, engine, logging.WithComponent(logger, "api"))
	handler.MaxFileSize = settings.Streaming.MaxFileSize

	listenAddr := firstNonEmpty(*addr, os.Getenv("TELESTREAM_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", settings.Port)
	}

	limit := resolveInt(*loginLimit, "TELESTREAM_RATE_LOGIN_LIMIT")
	if limit <= 0 {
		limit = settings.Auth.MaxLoginAttempts
	}
	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "TELESTREAM_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "TELESTREAM_RATE_GLOBAL_BURST"),
		LoginLimit:    limit,
		LoginWindow:   resolveDuration(*loginWindow, "TELESTREAM_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("TELESTREAM_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("TELESTREAM_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "TELESTREAM_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		RateLimit: rateCfg,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", listenAddr, "config_driver", driver, "chunk_size", chunkSize)
		if settings.Configured() {
			logger.Info("api credentials loaded", "phone_set", settings.PhoneNumber != "", "session_saved", settings.StringSession != "")
		} else {
			logger.Info("api credentials missing, POST /auth/setup to configure")
		}
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := client.Close(ctx); err != nil {
		logger.Warn("failed to close telegram client", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close config store", "error", err)
	}

	logger.Info("server stopped")
}

func resolveConfigDriver(flagValue, envValue string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	switch driver {
	case "":
		return "json", nil
	case "json", "postgres":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported config driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
