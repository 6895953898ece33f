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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/l0p7/gatewarden/internal/appeal"
	"github.com/l0p7/gatewarden/internal/config"
	"github.com/l0p7/gatewarden/internal/denylist"
	"github.com/l0p7/gatewarden/internal/denylist/cache"
	"github.com/l0p7/gatewarden/internal/discord"
	"github.com/l0p7/gatewarden/internal/enforcement"
	"github.com/l0p7/gatewarden/internal/logging"
	"github.com/l0p7/gatewarden/internal/metrics"
	"github.com/l0p7/gatewarden/internal/server"
)

const shutdownTimeout = 3 * time.Second

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, cfg config.Config, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type gateway interface {
	Run(ctx context.Context) error
	Ready() error
}

type runnableServer interface {
	Run(ctx context.Context) error
}

type loaderAdapter struct {
	*config.Loader
}

func (l loaderAdapter) Watch(ctx context.Context, cfg config.Config, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	return l.Loader.Watch(ctx, cfg, onChange, onError)
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return loaderAdapter{config.NewLoader(envPrefix, configFile)}
	}
	newGateway = func(logger *slog.Logger, opts discord.Options) (gateway, error) {
		return discord.New(logger, opts)
	}
	newOpsServer = func(cfg config.ListenConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "GATEWARDEN", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	store := buildLookupStore(logger.With(slog.String("agent", "cache_factory")), cfg.Cache)
	subsystem, err := denylist.NewSubsystem(logger, cfg.Denylist, cfg.Cache, denylist.SubsystemOptions{
		Store:   store,
		Metrics: recorder,
	})
	if err != nil {
		_ = store.Close(context.Background())
		return fmt.Errorf("denylist subsystem: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := subsystem.Close(shutdownCtx); err != nil {
			logger.Error("denylist shutdown failed", slog.Any("error", err))
		}
	}()

	loc, err := cfg.Appeals.Location()
	if err != nil {
		return fmt.Errorf("appeal timezone: %w", err)
	}
	appeals, err := appeal.NewStore(logger, appeal.StoreOptions{
		Path:     cfg.Appeals.Path,
		Location: loc,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("appeal store: %w", err)
	}

	policy, err := enforcement.NewPolicy(logger, enforcement.PolicyOptions{
		Lookups:     subsystem.Lookups(),
		Enforcement: cfg.Enforcement,
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("enforcement policy: %w", err)
	}

	bot, err := newGateway(logger, discord.Options{
		Discord:     cfg.Discord,
		NoticeTTL:   cfg.Enforcement.NoticeTTL(),
		Reviewers:   cfg.Appeals.Reviewers,
		Adapters:    enforcement.NewAdapters(policy, cfg.Enforcement.NotifyOnJoin),
		Appeals:     appeals,
		Invalidator: subsystem.Lookups(),
	})
	if err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}

	if cfg.Source != "" {
		watcher, err := loader.Watch(ctx, cfg, func(next config.Config) {
			subsystem.Reconfigure(next.Denylist)
		}, func(err error) {
			logger.Error("config watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	var ops runnableServer
	if cfg.Server.Listen.Port > 0 {
		ops, err = newOpsServer(cfg.Server.Listen, logger, server.NewOpsHandler(recorder.Handler(), bot))
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return bot.Run(groupCtx)
	})
	if ops != nil {
		group.Go(func() error {
			if err := ops.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	logger.Info("gatewarden started",
		slog.String("denylist", cfg.Denylist.BaseURL),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("appeals", cfg.Appeals.Path),
	)
	if err := group.Wait(); err != nil {
		logger.Error("gatewarden terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("gatewarden shutdown complete")
	return nil
}

func buildLookupStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory lookup cache", slog.Duration("ttl", cfg.TTL()))
		return cache.NewMemory()
	case "redis":
		redisStore, err := cache.NewRedis(cache.RedisConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL(),
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using redis lookup cache", slog.String("address", cfg.Redis.Address))
		return redisStore
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}
