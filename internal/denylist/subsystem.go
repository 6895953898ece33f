package denylist

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/l0p7/gatewarden/internal/config"
	"github.com/l0p7/gatewarden/internal/denylist/cache"
	"github.com/l0p7/gatewarden/internal/metrics"
)

// Subsystem owns the long-lived denylist resources: one remote client with its
// connection pool, one gate, and one lookup cache. Construct it once at
// startup and Close it at shutdown.
type Subsystem struct {
	client *Client
	gate   *Gate
	cache  *Cache
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// SubsystemOptions carries optional collaborators for NewSubsystem.
type SubsystemOptions struct {
	Store   cache.Store
	Metrics *metrics.Recorder
	// HTTPClient replaces the owned connection pool, mainly for tests.
	HTTPClient httpDoer
}

// NewSubsystem acquires the remote client and builds the gate and cache from
// configuration.
func NewSubsystem(logger *slog.Logger, dl config.DenylistConfig, cc config.CacheConfig, opts SubsystemOptions) (*Subsystem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewClient(logger, ClientOptions{
		BaseURL:    dl.BaseURL,
		APIKey:     dl.APIKey,
		Timeout:    dl.Timeout(),
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	gate := NewGate(dl.MinInterval(), opts.Metrics)
	lookups := NewCache(logger, CacheOptions{
		Client:  client,
		Gate:    gate,
		Store:   opts.Store,
		TTL:     cc.TTL(),
		Metrics: opts.Metrics,
	})
	return &Subsystem{
		client: client,
		gate:   gate,
		cache:  lookups,
		logger: logger.With(slog.String("agent", "denylist")),
	}, nil
}

// Lookups exposes the cache used by enforcement.
func (s *Subsystem) Lookups() *Cache {
	return s.cache
}

// Reconfigure applies the runtime-tunable parts of a new snapshot. The base
// URL, gate spacing, and cache backend require a restart.
func (s *Subsystem) Reconfigure(dl config.DenylistConfig) {
	s.client.SetAPIKey(dl.APIKey)
	s.client.SetTimeout(dl.Timeout())
	s.logger.Info("denylist client reconfigured", slog.Duration("timeout", dl.Timeout()))
}

// Close releases the connection pool and the cache store. It is safe to call
// more than once.
func (s *Subsystem) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.client.Close()
		if err := s.cache.Close(ctx); err != nil {
			s.closeErr = errors.Join(s.closeErr, err)
		}
	})
	return s.closeErr
}
