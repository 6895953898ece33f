package appeal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/gatewarden/internal/metrics"
)

// ErrUnknownStatus is returned by Review for outcomes other than approved or
// rejected.
var ErrUnknownStatus = errors.New("appeal: unknown review outcome")

// Status is the lifecycle state of an appeal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// legacyPending is the pending marker written by earlier deployments.
const legacyPending = "待處理"

// ParseStatus maps a stored or user-supplied status onto the closed set.
// Unrecognised values are returned unchanged and are neither pending nor a
// valid review outcome.
func ParseStatus(raw string) Status {
	trimmed := strings.TrimSpace(raw)
	if trimmed == legacyPending {
		return StatusPending
	}
	switch Status(strings.ToLower(trimmed)) {
	case StatusPending:
		return StatusPending
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	}
	return Status(trimmed)
}

// UnmarshalJSON accepts legacy and mixed-case spellings.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// Resolved reports whether the status is terminal.
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusRejected
}

// Record is one user's appeal.
type Record struct {
	UserID     uint64     `json:"user_id"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at"`
	ReviewedBy *uint64    `json:"reviewed_by"`
}

// Store persists appeals in a single JSON document. Every operation re-reads
// the file; mutations are serialised and replace the file atomically.
type Store struct {
	path    string
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu sync.Mutex
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Path     string
	Location *time.Location
	Metrics  *metrics.Recorder
}

// NewStore binds a store to the document at opts.Path. The file is created on
// the first write.
func NewStore(logger *slog.Logger, opts StoreOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("appeal: path required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		path:    opts.Path,
		loc:     loc,
		logger:  logger.With(slog.String("agent", "appeal_store"), slog.String("path", opts.Path)),
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Submit files a new pending appeal. It returns false when the user already
// has a pending appeal. A previously resolved appeal is replaced.
func (s *Store) Submit(ctx context.Context, userID uint64, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatUint(userID, 10)
	doc := s.load()
	if existing, ok := s.record(doc, key); ok && existing.Status == StatusPending {
		s.metrics.ObserveAppeal("submit", "duplicate")
		return false, nil
	}

	raw, err := marshalUnescaped(Record{
		UserID:    userID,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: s.now().In(s.loc),
	})
	if err != nil {
		s.metrics.ObserveAppeal("submit", "error")
		return false, fmt.Errorf("appeal: encode record: %w", err)
	}
	doc.set(key, raw)
	if err := s.write(doc); err != nil {
		s.metrics.ObserveAppeal("submit", "error")
		return false, err
	}
	s.metrics.ObserveAppeal("submit", "accepted")
	s.logger.Info("appeal submitted", slog.Uint64("user_id", userID))
	return true, nil
}

// Get returns the user's appeal, or nil when none exists.
func (s *Store) Get(ctx context.Context, userID uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, ok := s.record(s.load(), strconv.FormatUint(userID, 10))
	s.metrics.ObserveAppeal("get", "ok")
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Review resolves the user's appeal. It returns false, leaving the document
// untouched, when the user has no appeal. Reviewing an already resolved
// appeal overwrites the earlier outcome.
func (s *Store) Review(ctx context.Context, userID uint64, outcome Status, reviewerID uint64) (bool, error) {
	if !outcome.Resolved() {
		return false, fmt.Errorf("%w: %q", ErrUnknownStatus, outcome)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatUint(userID, 10)
	doc := s.load()
	raw, ok := doc.get(key)
	if !ok {
		s.metrics.ObserveAppeal("review", "missing")
		return false, nil
	}
	record, err := decodeRecord(raw)
	if err != nil {
		s.metrics.ObserveAppeal("review", "missing")
		s.logger.Warn("appeal record malformed", slog.String("user_id", key), slog.Any("error", err))
		return false, nil
	}
	if record.Status.Resolved() {
		s.logger.Warn("appeal already resolved; overwriting",
			slog.Uint64("user_id", userID),
			slog.String("previous", string(record.Status)),
			slog.String("outcome", string(outcome)),
		)
	}

	reviewedAt := s.now().In(s.loc)
	reviewer := reviewerID
	record.Status = outcome
	record.ReviewedAt = &reviewedAt
	record.ReviewedBy = &reviewer

	updated, err := marshalUnescaped(record)
	if err != nil {
		s.metrics.ObserveAppeal("review", "error")
		return false, fmt.Errorf("appeal: encode record: %w", err)
	}
	doc.set(key, updated)
	if err := s.write(doc); err != nil {
		s.metrics.ObserveAppeal("review", "error")
		return false, err
	}
	s.metrics.ObserveAppeal("review", string(outcome))
	s.logger.Info("appeal reviewed",
		slog.Uint64("user_id", userID),
		slog.String("outcome", string(outcome)),
		slog.Uint64("reviewer_id", reviewerID),
	)
	return true, nil
}

// ListPending returns pending appeals in document order.
func (s *Store) ListPending(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pending []Record
	doc := s.load()
	doc.each(func(key string, raw json.RawMessage) {
		record, err := decodeRecord(raw)
		if err != nil {
			s.logger.Warn("appeal record malformed", slog.String("user_id", key), slog.Any("error", err))
			return
		}
		if record.Status == StatusPending {
			pending = append(pending, record)
		}
	})
	s.metrics.ObserveAppeal("list_pending", "ok")
	return pending, nil
}

func (s *Store) record(doc *document, key string) (Record, bool) {
	raw, ok := doc.get(key)
	if !ok {
		return Record{}, false
	}
	record, err := decodeRecord(raw)
	if err != nil {
		s.logger.Warn("appeal record malformed", slog.String("user_id", key), slog.Any("error", err))
		return Record{}, false
	}
	return record, true
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// load reads the whole document. A missing or unreadable document is empty.
func (s *Store) load() *document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("appeal document unreadable; treating as empty", slog.Any("error", err))
		}
		return newDocument()
	}
	doc, err := parseDocument(data)
	if err != nil {
		s.logger.Error("appeal document corrupt; treating as empty", slog.Any("error", err))
		return newDocument()
	}
	return doc
}

// write replaces the document via a temp file in the same directory.
func (s *Store) write(doc *document) error {
	data, err := doc.encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("appeal: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("appeal: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("appeal: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("appeal: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("appeal: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("appeal: replace %s: %w", s.path, err)
	}
	return nil
}
