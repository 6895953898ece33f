package denylist

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(quietLogger(), ClientOptions{
		BaseURL: server.URL + "/blacklist",
		APIKey:  "secret",
		Timeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClientLookup(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantOK    bool
		wantEntry *Entry
	}{
		{
			name:      "standard entry",
			status:    http.StatusOK,
			body:      `{"users":[1],"entries":{"42":{"mode":"standard","reason":"spam"}}}`,
			wantOK:    true,
			wantEntry: &Entry{Mode: ModeStandard, Reason: "spam"},
		},
		{
			name:      "global ban entry",
			status:    http.StatusOK,
			body:      `{"users":["42"],"entries":{"42":{"mode":"global_ban","reason":"raid"}}}`,
			wantOK:    true,
			wantEntry: &Entry{Mode: ModeGlobalBan, Reason: "raid"},
		},
		{
			name:      "unknown mode",
			status:    http.StatusOK,
			body:      `{"users":[1],"entries":{"42":{"mode":"shadow","reason":"x"}}}`,
			wantOK:    true,
			wantEntry: &Entry{Mode: ModeUnspecified, Reason: "x"},
		},
		{
			name:   "empty users",
			status: http.StatusOK,
			body:   `{"users":[]}`,
			wantOK: true,
		},
		{
			name:   "users without matching entry",
			status: http.StatusOK,
			body:   `{"users":[1],"entries":{"7":{"mode":"standard","reason":"spam"}}}`,
			wantOK: true,
		},
		{
			name:   "null entry",
			status: http.StatusOK,
			body:   `{"users":[1],"entries":{"42":null}}`,
			wantOK: true,
		},
		{
			name:   "missing users key",
			status: http.StatusOK,
			body:   `{"entries":{"42":{"mode":"standard","reason":"spam"}}}`,
			wantOK: true,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"users":[1],"entries":{"42":{"mode":"standard","reason":"spam"}}}`,
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"users":`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/blacklist", r.URL.Path)
				assert.Equal(t, "42", r.URL.Query().Get("id"))
				assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, time.Second)

			entry, ok := client.Lookup(context.Background(), 42)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantEntry, entry)
		})
	}
}

func TestClientLookupTimesOut(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	started := time.Now()
	entry, ok := client.Lookup(context.Background(), 99)
	require.Nil(t, entry)
	require.False(t, ok)
	require.Less(t, time.Since(started), time.Second)
}

func TestClientSetTimeoutRaisesBound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		_, _ = io.WriteString(w, `{"users":[1],"entries":{"42":{"mode":"standard","reason":"spam"}}}`)
	}, 50*time.Millisecond)

	client.SetTimeout(2 * time.Second)
	entry, ok := client.Lookup(context.Background(), 42)
	require.True(t, ok)
	require.Equal(t, &Entry{Mode: ModeStandard, Reason: "spam"}, entry)
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client, err := NewClient(quietLogger(), ClientOptions{BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)
	defer client.Close()

	entry, ok := client.Lookup(context.Background(), 42)
	require.Nil(t, entry)
	require.False(t, ok)
}

func TestClientRotatesAPIKey(t *testing.T) {
	seen := make(chan string, 2)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-API-Key")
		_, _ = io.WriteString(w, `{"users":[]}`)
	}, time.Second)

	_, ok := client.Lookup(context.Background(), 1)
	require.True(t, ok)
	client.SetAPIKey("rotated")
	_, ok = client.Lookup(context.Background(), 1)
	require.True(t, ok)

	require.Equal(t, "secret", <-seen)
	require.Equal(t, "rotated", <-seen)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(quietLogger(), ClientOptions{BaseURL: "/blacklist"})
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	require.Equal(t, ModeStandard, ParseMode("standard"))
	require.Equal(t, ModeGlobalBan, ParseMode(" GLOBAL_BAN "))
	require.Equal(t, ModeUnspecified, ParseMode(""))
	require.Equal(t, ModeUnspecified, ParseMode("permanent"))
}
