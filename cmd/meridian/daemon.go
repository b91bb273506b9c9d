// ABOUTME: Daemon command for running meridian as a service
// ABOUTME: Wires the refresher, HTTP API, NATS bridge, and rate limiter together

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-io/meridian/internal/api"
	"github.com/meridian-io/meridian/internal/config"
	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/observability"
	"github.com/meridian-io/meridian/internal/queue"
	internalredis "github.com/meridian-io/meridian/internal/redis"
	"github.com/meridian-io/meridian/internal/refresh"
)

func newDaemonCmd() *cobra.Command {
	var (
		dataDir         string
		dbURL           string
		httpAddr        string
		refreshInterval time.Duration
		corsOrigins     string
		anonymizeIPs    bool
		cacheDir        string
		cacheTTL        time.Duration
		natsURL         string
		redisAddr       string
		rateLimit       int
		tracingEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the lookup daemon",
		Long: `Start the meridian daemon that serves GeoIP lookups over HTTP and keeps
its database current.

The first refresh cycle runs before the listener binds: when no database
can be fetched and none is on disk, the daemon exits instead of serving
empty responses. After that the source is re-checked on a timer, and
SIGHUP forces a fresh download and hot swap at any time.

Flags override the corresponding environment variables (MAXMIND_DB_URL,
DATA_DIR, HOST, PORT, CA_BUNDLE, CORS_ALLOWED_ORIGINS, NATS_URL,
REDIS_ADDR).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			cfg.ApplyEnv()
			cfg.Log.Level = logLevel
			cfg.Log.Format = logFormat

			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if flags.Changed("db-url") {
				cfg.Refresh.URL = dbURL
			}
			if flags.Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if flags.Changed("refresh-interval") {
				cfg.Refresh.Interval = refreshInterval
			}
			if flags.Changed("cors-origins") {
				cfg.HTTP.CORSAllowedOrigins = config.SplitOrigins(corsOrigins)
			}
			if flags.Changed("anonymize-ips") {
				cfg.HTTP.AnonymizeClientIPs = anonymizeIPs
			}
			if flags.Changed("cache-dir") {
				cfg.Cache.Dir = cacheDir
			}
			if flags.Changed("cache-ttl") {
				cfg.Cache.TTL = cacheTTL.String()
			}
			if flags.Changed("nats-url") {
				cfg.NATS.URL = natsURL
			}
			if flags.Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if flags.Changed("rate-limit") {
				cfg.Redis.RequestsPerMinute = rateLimit
			}
			if flags.Changed("tracing-endpoint") {
				cfg.Tracing.Endpoint = tracingEndpoint
				cfg.Tracing.Enabled = tracingEndpoint != ""
			}

			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory for the database artifact")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "database source URL (http(s):// or gs://); empty serves the on-disk file as-is")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", refresh.DefaultInterval, "how often to check the source for a new database")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "comma-separated CORS origins, or * for any (empty disables CORS)")
	cmd.Flags().BoolVar(&anonymizeIPs, "anonymize-ips", false, "mask client addresses in access logs")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "lookup cache directory (empty keeps the cache in memory)")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 15*time.Minute, "lookup cache entry lifetime")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL for the lookup bridge (empty disables)")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address for rate limiting (empty disables)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "lookups allowed per client per minute (0 uses the limiter default)")
	cmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces (empty disables)")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	// Set up logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "meridian",
		Version:     version,
	}, os.Stdout)

	slog.SetDefault(logger)
	logger.Info("starting meridian daemon",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.Bool("static_mode", cfg.Refresh.URL == ""),
	)

	// Set up tracing before anything that opens spans.
	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   "meridian",
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", slog.String("error", err.Error()))
		}
	}()
	if tracer.IsEnabled() {
		logger.Info("tracing enabled", slog.String("endpoint", cfg.Tracing.Endpoint))
	}

	layout := refresh.NewLayout(cfg.DataDir)
	if err := layout.EnsureDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	registry := geodb.NewRegistry()
	defer registry.Close()

	// Lookup response cache.
	var cache *geodb.LookupCache
	if cfg.Cache.Enabled {
		ttl, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("parsing cache ttl %q: %w", cfg.Cache.TTL, err)
		}
		cache, err = geodb.NewLookupCache(geodb.CacheOptions{
			Dir:           cfg.Cache.Dir,
			TTL:           ttl,
			BloomCapacity: cfg.Cache.BloomCapacity,
			BloomFPRate:   cfg.Cache.BloomFPRate,
		})
		if err != nil {
			return fmt.Errorf("creating lookup cache: %w", err)
		}
		defer cache.Close()
		logger.Info("lookup cache initialized",
			slog.Duration("ttl", ttl),
			slog.Bool("in_memory", cfg.Cache.Dir == ""),
		)
	}

	source, err := newSource(ctx, cfg.Refresh)
	if err != nil {
		return fmt.Errorf("creating database source: %w", err)
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	audit := observability.NewAuditLogger(logger)

	retry := cfg.Refresh.GetRetry()
	refresher, err := refresh.NewRefresher(refresh.RefresherConfig{
		Source:   source,
		Layout:   layout,
		Registry: registry,
		Cache:    cache,
		Interval: cfg.Refresh.Interval,
		Retry: refresh.BackoffConfig{
			MaxRetries:     retry.MaxRetries,
			InitialDelay:   retry.InitialDelay,
			MaxDelay:       retry.MaxDelay,
			Multiplier:     retry.Multiplier,
			JitterFraction: retry.JitterFraction,
		},
		Audit:  audit,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating refresher: %w", err)
	}

	// The first cycle must finish before the listener binds. A daemon
	// without a database has nothing to serve.
	if err := refresher.RunStartup(ctx); err != nil {
		return fmt.Errorf("startup refresh: %w", err)
	}

	meta, err := registry.Metadata()
	if err != nil {
		return fmt.Errorf("no database after startup cycle: %w", err)
	}
	logger.Info("database ready",
		slog.String("type", meta.DatabaseType),
		slog.Int64("build_epoch", meta.BuildEpoch),
	)

	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("starting refresh scheduler: %w", err)
	}

	// Rate limiting is optional and never load-bearing: when redis is down
	// or misconfigured the daemon serves unthrottled rather than not at all.
	var limiter *internalredis.RateLimiter
	if cfg.Redis.Addr != "" {
		limit := cfg.Redis.RequestsPerMinute
		if limit == 0 {
			limit = internalredis.DefaultRateLimit
		}

		redisClient, err := internalredis.NewClient(internalredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			logger.Error("failed to connect to redis, rate limiting disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer redisClient.Close()
			limiter = internalredis.NewRateLimiter(redisClient, internalredis.RateLimiterConfig{
				Limit:  limit,
				Window: time.Minute,
				Audit:  audit,
				Logger: logger,
			})
			logger.Info("rate limiting enabled",
				slog.String("redis_addr", cfg.Redis.Addr),
				slog.Int("limit_per_minute", limit),
			)
		}
	}

	// NATS lookup bridge, also optional: a broken broker should not take
	// HTTP lookups down with it.
	var queueClient *queue.Client
	if cfg.NATS.URL != "" {
		natsCfg := queue.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.Subject != "" {
			natsCfg.Subject = cfg.NATS.Subject
			natsCfg.BatchSubject = cfg.NATS.Subject + ".batch"
		}
		if cfg.NATS.Queue != "" {
			natsCfg.QueueGroup = cfg.NATS.Queue
		}

		client, err := queue.NewClient(natsCfg, queue.NewHandlerWithCache(registry, cache), logger)
		if err != nil {
			logger.Error("failed to create NATS client", slog.String("error", err.Error()))
		} else if err := client.Connect(ctx); err != nil {
			logger.Error("failed to connect to NATS, lookup bridge disabled",
				slog.String("error", err.Error()),
			)
		} else if err := client.Subscribe(ctx); err != nil {
			logger.Error("failed to subscribe to NATS, lookup bridge disabled",
				slog.String("error", err.Error()),
			)
			_ = client.Close()
		} else {
			queueClient = client
		}
	}

	// Assemble the HTTP API.
	handlerCfg := api.HandlerConfig{
		Registry: registry,
		Cache:    cache,
		Refresh:  refresher,
		Limiter:  limiter,
	}
	if queueClient != nil {
		handlerCfg.Queue = queueClient
	}
	handler := api.NewHandler(handlerCfg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// Middleware nests innermost to outermost: rate limit, CORS, server
	// header, access log, correlation ID.
	var httpHandler http.Handler = mux
	if limiter != nil {
		httpHandler = api.RateLimitMiddleware(limiter, httpHandler)
	}
	if len(cfg.HTTP.CORSAllowedOrigins) > 0 {
		httpHandler = api.CORSMiddleware(api.CORSConfig{
			AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		}, httpHandler)
		logger.Info("CORS enabled", slog.Any("origins", cfg.HTTP.CORSAllowedOrigins))
	}
	httpHandler = api.ServerHeaderMiddleware(version, httpHandler)
	httpHandler = api.AccessLogMiddleware(logger, cfg.HTTP.AnonymizeClientIPs, httpHandler)
	httpHandler = observability.CorrelationMiddleware(httpHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpHandler,
	}

	go func() {
		logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	// SIGHUP forces a download and hot swap; SIGINT/SIGTERM stop the daemon.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("daemon ready, serving lookups")

loop:
	for {
		select {
		case <-reload:
			logger.Info("reload signal received, triggering refresh")
			if !refresher.TriggerRefresh(refresh.TriggerSignal) {
				logger.Warn("refresh already in flight, reload dropped")
			}
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("shutting down daemon")

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
	}

	if queueClient != nil {
		_ = queueClient.Close()
	}

	refresher.Stop()

	logger.Info("daemon stopped")

	return nil
}

// newSource builds the upstream source for the configured URL. An empty URL
// returns nil, which runs the refresher in static-file mode.
func newSource(ctx context.Context, cfg config.RefreshConfig) (refresh.Source, error) {
	switch {
	case cfg.URL == "":
		return nil, nil
	case strings.HasPrefix(cfg.URL, "gs://"):
		return refresh.NewGCSSource(ctx, cfg.URL, cfg.MaxSize)
	default:
		return refresh.NewHTTPSource(refresh.HTTPSourceConfig{
			URL:                cfg.URL,
			Timeout:            cfg.Timeout,
			UserAgent:          cfg.UserAgent,
			MaxSize:            cfg.MaxSize,
			CABundle:           cfg.CABundle,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
	}
}
