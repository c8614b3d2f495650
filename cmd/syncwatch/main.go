package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rental-admin-sync/middleware/coordination"
	"rental-admin-sync/middleware/coordination/domain"
	"rental-admin-sync/middleware/coordination/infra"
)

// version é sobrescrito no build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "syncwatch",
		Short:        "Watch rental backend resources for changes made by someone else",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newWatchCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "syncwatch", version)
		},
	})
	return root
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll resource timestamps and report stale ones",
		Long: `Poll the backend last-modified endpoint for one or more resources.

One resource id runs the single monitor; several ids run the batch monitor
(first max-ids only). Every flag can also be set as SYNCWATCH_<FLAG>, e.g.
SYNCWATCH_BACKEND_URL or SYNCWATCH_MAX_CONCURRENT.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			cfg, err := readConfig(v)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger, err := newLogger(cfg.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, cfg, logger)
		},
	}
	addWatchFlags(cmd)
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func runWatch(ctx context.Context, cfg config, logger *zap.Logger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	memStats := infra.NewMemoryStatsStore()
	stats := infra.MultiStats{memStats}

	if cfg.statsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		_, err := backoff.Retry(ctx, func() (string, error) {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Result()
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(10*time.Second))
		if err != nil {
			return fmt.Errorf("redis stats ping error: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}

	if cfg.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promStats, err := infra.NewPrometheusStatsStore(reg, "syncwatch")
		if err != nil {
			return fmt.Errorf("prometheus stats: %w", err)
		}
		stats = append(stats, promStats)

		srv := newMetricsServer(cfg.metricsAddr, reg)
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	gate := infra.NewGate(cfg.maxConcurrent, cfg.delayBetween,
		infra.WithGateStats(stats),
		infra.WithGateLogger(logger.Named("gate")))
	defer gate.Clear()

	var limiters domain.LimiterStore
	if cfg.rateEnabled {
		store := infra.NewStore(cfg.rateRPS, cfg.rateBurst)
		store.StartJanitor(ctx)
		limiters = store
	}

	client, err := infra.NewHTTPClient(infra.HTTPClientConfig{
		Timeout:            cfg.httpTimeout,
		EnableHTTP2:        cfg.http2,
		InsecureSkipVerify: cfg.insecureSkipVerify,
		Wrap: func(rt http.RoundTripper) http.RoundTripper {
			// throttle por fora: esperar token não ocupa vaga do gate
			return coordination.Chain(rt,
				coordination.ThrottleTransport(coordination.ThrottleOptions{
					Store:     limiters,
					Stats:     stats,
					KeyHeader: cfg.rateKeyHeader,
					MaxWait:   cfg.throttleMaxWait,
				}),
				coordination.GateTransport(coordination.GateTransportOptions{Gate: gate}),
			)
		},
	})
	if err != nil {
		return err
	}

	fetchOpts := []infra.HTTPFetcherOption{infra.WithPathTemplate(cfg.pathTemplate)}
	if cfg.authToken != "" {
		fetchOpts = append(fetchOpts, infra.WithHeader("Authorization", "Bearer "+cfg.authToken))
	}
	fetcher, err := infra.NewHTTPFetcher(client, cfg.backendURL, fetchOpts...)
	if err != nil {
		return err
	}

	if cfg.readyTimeout > 0 {
		if err := waitBackend(ctx, fetcher, cfg.resourceIDs[0], cfg.readyTimeout); err != nil {
			return fmt.Errorf("backend not ready: %w", err)
		}
	}

	bus := infra.NewBus(infra.WithBusLogger(logger.Named("bus")), infra.WithBusStats(stats))
	unsubscribe := bus.SubscribeFunc(domain.TopicResourceUpdated, func(_ context.Context, ev domain.Event) error {
		rec, ok := ev.Payload.(domain.StalenessRecord)
		if !ok {
			return fmt.Errorf("unexpected payload %T", ev.Payload)
		}
		logger.Warn("resource was modified by someone else",
			zap.String("resource_id", rec.ResourceID),
			zap.String("modified_by", rec.ModifiedBy),
			zap.Time("server_timestamp", rec.ServerTimestamp),
			zap.String("event_id", ev.ID))
		return nil
	})
	defer unsubscribe()

	logger.Info("syncwatch started",
		zap.String("backend", cfg.backendURL),
		zap.Strings("resources", cfg.resourceIDs),
		zap.Int("max_concurrent", cfg.maxConcurrent),
		zap.Duration("delay_between", cfg.delayBetween),
		zap.Bool("rate_enabled", cfg.rateEnabled),
		zap.Float64("rate_rps", cfg.rateRPS),
		zap.Int("rate_burst", cfg.rateBurst),
		zap.Bool("redis_stats", cfg.statsRedisAddr != ""))

	if len(cfg.resourceIDs) == 1 {
		id := cfg.resourceIDs[0]
		m := coordination.NewMonitor(fetcher,
			coordination.WithInterval(cfg.interval),
			coordination.WithMonitorLogger(logger.Named("monitor")),
			coordination.WithMonitorStats(stats),
			coordination.WithPublisher(bus, domain.TopicResourceUpdated),
			coordination.WithFailureHook(func(resourceID string, consecutive int, err error) {
				if consecutive%5 == 0 {
					logger.Warn("resource polling keeps failing",
						zap.String("resource_id", resourceID),
						zap.Int("consecutive_failures", consecutive),
						zap.Error(err))
				}
			}))
		w := m.Watch(ctx, id, cfg.known[id])
		defer w.Stop()
	} else {
		b := coordination.NewBatchMonitor(fetcher,
			coordination.WithBatchInterval(cfg.batchInterval),
			coordination.WithMaxIDs(cfg.maxIDs),
			coordination.WithBatchLogger(logger.Named("batch")),
			coordination.WithBatchStats(stats),
			coordination.WithBatchPublisher(bus, domain.TopicResourceUpdated))
		if len(cfg.resourceIDs) > cfg.maxIDs {
			logger.Warn("only the first ids are checked",
				zap.Int("max_ids", cfg.maxIDs),
				zap.Int("requested", len(cfg.resourceIDs)))
		}
		w := b.Watch(ctx, cfg.resourceIDs, cfg.known)
		defer w.Stop()
	}

	<-ctx.Done()

	logger.Info("syncwatch stopping",
		zap.Int64("requests_succeeded", memStats.Count(domain.ComponentGate, domain.OutcomeSucceeded)),
		zap.Int64("requests_failed", memStats.Count(domain.ComponentGate, domain.OutcomeFailed)),
		zap.Int64("stale_reports", memStats.Count(domain.ComponentMonitor, domain.OutcomeStale)+
			memStats.Count(domain.ComponentBatch, domain.OutcomeStale)))
	return nil
}

// waitBackend repete a primeira busca até o backend responder. Respostas 4xx
// (menos 429) não melhoram com retry.
func waitBackend(ctx context.Context, f domain.TimestampFetcher, id string, maxElapsed time.Duration) error {
	_, err := backoff.Retry(ctx, func() (domain.ResourceTimestamp, error) {
		ts, err := f.FetchTimestamp(ctx, id)
		var httpErr *infra.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests {
			return ts, backoff.Permanent(err)
		}
		return ts, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxElapsed))
	return err
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
