package cache

import (
	"context"
	"time"
)

// Record is the cached outcome of one successful remote lookup. Listed=false
// is a real answer ("not denylisted") and is distinct from a missing record.
type Record struct {
	Listed    bool      `json:"listed"`
	Mode      string    `json:"mode,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Store persists lookup records keyed by user id. Freshness is decided by the
// caller from Record.FetchedAt; stores only overwrite in place.
type Store interface {
	Lookup(ctx context.Context, key string) (Record, bool, error)
	Store(ctx context.Context, key string, record Record) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
