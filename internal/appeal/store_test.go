package appeal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var taipei = time.FixedZone("UTC+08:00", 8*60*60)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage", "appeals.json")
	store, err := NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)), StoreOptions{Path: path, Location: taipei})
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC) }
	return store, path
}

func TestSubmitRejectsSecondPendingAppeal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Submit(ctx, 42, "mistake")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Submit(ctx, 42, "mistake")
	require.NoError(t, err)
	require.False(t, ok)

	record, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, uint64(42), record.UserID)
	require.Equal(t, "mistake", record.Reason)
	require.Equal(t, StatusPending, record.Status)
	require.Nil(t, record.ReviewedAt)
	require.Nil(t, record.ReviewedBy)
	_, offset := record.CreatedAt.Zone()
	require.Equal(t, 8*60*60, offset)
}

func TestReviewResolvesAndAllowsNewAppeal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Submit(ctx, 42, "mistake")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Review(ctx, 42, StatusApproved, 1)
	require.NoError(t, err)
	require.True(t, ok)

	record, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, record.Status)
	require.NotNil(t, record.ReviewedAt)
	require.NotNil(t, record.ReviewedBy)
	require.Equal(t, uint64(1), *record.ReviewedBy)

	ok, err = store.Submit(ctx, 42, "new reason")
	require.NoError(t, err)
	require.True(t, ok)

	record, err = store.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.Equal(t, "new reason", record.Reason)
	require.Nil(t, record.ReviewedAt)
}

func TestReviewWithoutRecordLeavesDocumentUnchanged(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Review(ctx, 7, StatusRejected, 1)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "no document is created for a missing appeal")

	_, err = store.Submit(ctx, 42, "mistake")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ok, err = store.Review(ctx, 7, StatusRejected, 1)
	require.NoError(t, err)
	require.False(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestReviewOverwritesResolvedAppeal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Submit(ctx, 42, "mistake")
	require.NoError(t, err)
	ok, err := store.Review(ctx, 42, StatusApproved, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Review(ctx, 42, StatusRejected, 2)
	require.NoError(t, err)
	require.True(t, ok)

	record, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, record.Status)
	require.Equal(t, uint64(2), *record.ReviewedBy)
}

func TestReviewRejectsUnknownOutcome(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Review(context.Background(), 42, StatusPending, 1)
	require.ErrorIs(t, err, ErrUnknownStatus)
	_, err = store.Review(context.Background(), 42, Status("maybe"), 1)
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestListPendingKeepsDocumentOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []uint64{30, 10, 20} {
		ok, err := store.Submit(ctx, id, "please")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := store.Review(ctx, 10, StatusRejected, 1)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(30), pending[0].UserID)
	require.Equal(t, uint64(20), pending[1].UserID)

	// Resubmitting keeps the user's original position.
	ok, err = store.Submit(ctx, 10, "again")
	require.NoError(t, err)
	require.True(t, ok)
	pending, err = store.ListPending(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{30, 10, 20}, []uint64{pending[0].UserID, pending[1].UserID, pending[2].UserID})
}

func TestDocumentFormatPreservesTextAndLegacyRecords(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	legacy := `{
  "99": {"user_id": 99, "reason": "誤封 <please>", "status": "待處理", "created_at": "2024-04-30T10:00:00.123456+08:00", "reviewed_at": null, "reviewed_by": null, "extra": true}
}`
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "誤封 <please>", pending[0].Reason)

	ok, err := store.Submit(ctx, 99, "dup")
	require.NoError(t, err)
	require.False(t, ok, "legacy pending marker counts as pending")

	ok, err = store.Submit(ctx, 42, "我沒有 & spam")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "誤封 <please>")
	require.Contains(t, text, "我沒有 & spam")
	require.Contains(t, text, `"status": "待處理"`, "untouched records are written back as they were")
	require.Contains(t, text, `"extra": true`)
	require.Contains(t, text, "\n  \"42\": {\n    \"user_id\": 42,")
	require.Less(t, strings.Index(text, `"99"`), strings.Index(text, `"42"`))
}

func TestCorruptDocumentReadsAsEmpty(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`{"42": {"user_id": 42,`), 0o600))

	record, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, record)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	ok, err := store.Submit(ctx, 42, "retry")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriteFailurePropagates(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "storage")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))
	store, err := NewStore(nil, StoreOptions{Path: filepath.Join(blocker, "appeals.json")})
	require.NoError(t, err)

	ok, err := store.Submit(context.Background(), 42, "mistake")
	require.Error(t, err)
	require.False(t, ok)
}

func TestConcurrentSubmitsForSameUser(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Submit(context.Background(), 42, "race")
			if err == nil {
				results <- ok
			}
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	total := 0
	for ok := range results {
		total++
		if ok {
			accepted++
		}
	}
	require.Equal(t, 16, total)
	require.Equal(t, 1, accepted)
}

func TestCancelledContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Submit(ctx, 1, "x")
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.Get(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.ListPending(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusPending, ParseStatus("待處理"))
	require.Equal(t, StatusApproved, ParseStatus("Approved"))
	require.Equal(t, StatusRejected, ParseStatus(" rejected "))
	require.Equal(t, Status("other"), ParseStatus("other"))
	require.False(t, ParseStatus("other").Resolved())
}
