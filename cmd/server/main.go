package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "torrentstream/qbtcontrol/internal/api/http"
	"torrentstream/qbtcontrol/internal/app"
	"torrentstream/qbtcontrol/internal/control"
	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/metrics"
	"torrentstream/qbtcontrol/internal/qbt"
	mongorepo "torrentstream/qbtcontrol/internal/repository/mongo"
	redisrepo "torrentstream/qbtcontrol/internal/repository/redis"
	"torrentstream/qbtcontrol/internal/search"
	"torrentstream/qbtcontrol/internal/settings"
	"torrentstream/qbtcontrol/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "qbtcontrol",
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTLPSampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", slog.String("endpoint", cfg.OTLPEndpoint), slog.String("error", err.Error()))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("trace flush failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "qbtcontrol"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("qbtHost", cfg.QBTHost),
		slog.Bool("hasPassword", cfg.QBTPassword != ""),
		slog.Int("searchMaxAttempts", cfg.SearchMaxAttempts),
		slog.Duration("searchRetryDelay", cfg.SearchRetryDelay),
		slog.Float64("searchMaxSizeGb", cfg.SearchMaxSizeGB),
		slog.String("settingsStore", cfg.SettingsStore),
		slog.Bool("rateLimitDisabled", cfg.RateLimitDisabled),
		slog.Bool("tracing", cfg.OTLPEndpoint != ""),
		slog.Float64("traceSampleRatio", cfg.OTLPSampleRatio),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildSettingsStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("settings store unavailable", slog.String("store", cfg.SettingsStore), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	settingsService := settings.NewService(domain.ConnectionSettings{
		Host:     cfg.QBTHost,
		Username: cfg.QBTUsername,
		Password: cfg.QBTPassword,
	}, store, settings.WithLogger(logger))

	client := qbt.NewClient(qbt.Config{
		UserAgent: cfg.UserAgent,
		Client:    &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:    logger,
	})

	searchService := search.NewService(client, settingsService,
		search.WithLogger(logger),
		search.WithPollConfig(search.PollConfig{
			MaxAttempts:        cfg.SearchMaxAttempts,
			Delay:              cfg.SearchRetryDelay,
			EarlyAcceptAttempt: cfg.SearchEarlyAcceptAttempt,
		}),
	)
	commandService := control.NewService(client, settingsService,
		control.WithLogger(logger),
		control.WithUploadConcurrency(cfg.UploadConcurrency),
	)

	rateLimitRPS := cfg.RateLimitRPS
	if cfg.RateLimitDisabled {
		rateLimitRPS = 0
	}
	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithCommands(commandService),
		apihttp.WithSettings(settingsService),
		apihttp.WithSearchDefaults(domain.GBToBytes(cfg.SearchMaxSizeGB), cfg.SearchResultLimit),
		apihttp.WithRateLimit(rateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithCORS(cfg.CORSAllowedOrigins),
	).Handler()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// /search/stream holds the connection for the whole poll loop.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("qbtcontrol started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("qbtcontrol stopped")
}

// buildSettingsStore opens the backend selected by SETTINGS_STORE. The
// returned close func is always safe to call.
func buildSettingsStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (settings.Store, func(), error) {
	noop := func() {}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.SettingsStore {
	case app.SettingsStoreRedis:
		redisURL := strings.TrimSpace(cfg.RedisURL)
		if redisURL == "" {
			return nil, noop, errors.New("REDIS_URL is required for the redis settings store")
		}
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, noop, err
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(connectCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
		return redisrepo.NewSettingsRepository(client, ""), func() { _ = client.Close() }, nil

	case app.SettingsStoreMongo:
		client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, noop, err
		}
		if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, err
		}
		logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		return mongorepo.NewSettingsRepository(client.Database(cfg.MongoDatabase)), closeFn, nil

	default:
		return settings.NewMemoryStore(), noop, nil
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
