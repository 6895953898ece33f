package denylist

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/gatewarden/internal/denylist/cache"
	"github.com/l0p7/gatewarden/internal/metrics"
)

// DefaultTTL is the freshness window applied when none is configured.
const DefaultTTL = 10 * time.Second

// Lookuper performs one remote denylist lookup.
type Lookuper interface {
	Lookup(ctx context.Context, userID uint64) (*Entry, bool)
}

// CacheOptions wires the lookup cache.
type CacheOptions struct {
	Client  Lookuper
	Gate    *Gate
	Store   cache.Store
	TTL     time.Duration
	Metrics *metrics.Recorder
}

// Cache answers "is this user denylisted" from fresh records, consulting the
// remote service through the gate only when the record is missing or stale.
type Cache struct {
	client  Lookuper
	gate    *Gate
	store   cache.Store
	ttl     time.Duration
	metrics *metrics.Recorder
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

type lookupResult struct {
	entry *Entry
	ok    bool
}

// NewCache constructs the lookup cache. A nil store falls back to memory and
// a nil gate to a gate without spacing.
func NewCache(logger *slog.Logger, opts CacheOptions) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = cache.NewMemory()
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewGate(0, opts.Metrics)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client:  opts.Client,
		gate:    gate,
		store:   store,
		ttl:     ttl,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("agent", "denylist_cache")),
		now:     time.Now,
	}
}

// Get returns the denylist entry for userID, or nil when the user is not
// denylisted or no answer could be obtained.
func (c *Cache) Get(ctx context.Context, userID uint64) *Entry {
	started := c.now()
	key := strconv.FormatUint(userID, 10)

	if record, ok := c.fresh(ctx, key); ok {
		entry := recordToEntry(record)
		c.metrics.ObserveLookup(metrics.LookupSourceCache, resultLabel(entry, true), c.now().Sub(started))
		return entry
	}

	flight := c.group.DoChan(key, func() (any, error) {
		return c.fetch(ctx, userID, key), nil
	})
	select {
	case <-ctx.Done():
		c.metrics.ObserveLookup(metrics.LookupSourceRemote, resultLabel(nil, false), c.now().Sub(started))
		return nil
	case shared := <-flight:
		res := shared.Val.(lookupResult)
		source := metrics.LookupSourceRemote
		if shared.Shared {
			source = metrics.LookupSourceShared
		}
		c.metrics.ObserveLookup(source, resultLabel(res.entry, res.ok), c.now().Sub(started))
		return res.entry
	}
}

// Invalidate drops the cached record so the next Get consults the remote
// service.
func (c *Cache) Invalidate(ctx context.Context, userID uint64) error {
	return c.store.Delete(ctx, strconv.FormatUint(userID, 10))
}

// Size reports how many records the backing store currently holds.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	return c.store.Size(ctx)
}

// Close releases the backing store.
func (c *Cache) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}

func (c *Cache) fresh(ctx context.Context, key string) (cache.Record, bool) {
	record, found, err := c.store.Lookup(ctx, key)
	if err != nil {
		c.logger.Warn("denylist cache read failed", slog.String("user_id", key), slog.Any("error", err))
		return cache.Record{}, false
	}
	if !found {
		return cache.Record{}, false
	}
	if c.now().Sub(record.FetchedAt) >= c.ttl {
		return cache.Record{}, false
	}
	return record, true
}

func (c *Cache) fetch(ctx context.Context, userID uint64, key string) lookupResult {
	var res lookupResult
	err := c.gate.Run(ctx, func(runCtx context.Context) {
		res.entry, res.ok = c.client.Lookup(runCtx, userID)
	})
	if err != nil {
		c.logger.Warn("denylist lookup abandoned while queued", slog.String("user_id", key), slog.Any("error", err))
		return lookupResult{}
	}
	if !res.ok {
		return res
	}
	record := entryToRecord(res.entry, c.now())
	if err := c.store.Store(ctx, key, record); err != nil {
		c.logger.Warn("denylist cache write failed", slog.String("user_id", key), slog.Any("error", err))
	}
	return res
}

func entryToRecord(entry *Entry, fetchedAt time.Time) cache.Record {
	if entry == nil {
		return cache.Record{Listed: false, FetchedAt: fetchedAt}
	}
	return cache.Record{
		Listed:    true,
		Mode:      string(entry.Mode),
		Reason:    entry.Reason,
		FetchedAt: fetchedAt,
	}
}

func recordToEntry(record cache.Record) *Entry {
	if !record.Listed {
		return nil
	}
	return &Entry{Mode: ParseMode(record.Mode), Reason: record.Reason}
}

func resultLabel(entry *Entry, ok bool) metrics.LookupResult {
	switch {
	case !ok:
		return metrics.LookupFailed
	case entry != nil:
		return metrics.LookupListed
	default:
		return metrics.LookupClear
	}
}
