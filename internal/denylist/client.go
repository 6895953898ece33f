package denylist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	apiKeyHeader       = "X-API-Key"
	defaultTimeout     = 5 * time.Second
	maxLookupBodyBytes = 1 << 20
)

// httpDoer is the minimal client contract used for remote lookups.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	// Timeout bounds every lookup. Zero selects the default.
	Timeout time.Duration
	// HTTPClient overrides the owned connection pool, mainly for tests.
	HTTPClient httpDoer
}

// Client performs lookups against the remote denylist service. It owns one
// connection pool for its whole lifetime; Close releases it.
type Client struct {
	base      *url.URL
	http      httpDoer
	transport *http.Transport
	logger    *slog.Logger

	mu      sync.RWMutex
	apiKey  string
	timeout time.Duration
}

// NewClient acquires the connection pool used by every subsequent lookup.
func NewClient(logger *slog.Logger, opts ClientOptions) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("denylist: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("denylist: base url must be absolute: %q", opts.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		base:    base,
		logger:  logger.With(slog.String("agent", "denylist_client")),
		apiKey:  opts.APIKey,
		timeout: timeout,
	}
	if opts.HTTPClient != nil {
		c.http = opts.HTTPClient
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 4
		c.transport = transport
		// No client-level timeout: every lookup is bounded by its own context
		// so SetTimeout applies in full.
		c.http = &http.Client{Transport: transport}
	}
	return c, nil
}

// SetAPIKey rotates the credential used for subsequent lookups.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// SetTimeout changes the per-lookup bound for subsequent lookups.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

func (c *Client) settings() (string, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey, c.timeout
}

// Close releases idle pooled connections. Lookups after Close still work but
// open fresh connections.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

type lookupPayload struct {
	Users   []json.RawMessage        `json:"users"`
	Entries map[string]*payloadEntry `json:"entries"`
}

type payloadEntry struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// Lookup asks the remote service whether userID is denylisted. It never
// returns an error: ok reports whether the service produced a usable answer,
// and every failure reads as "not denylisted".
func (c *Client) Lookup(ctx context.Context, userID uint64) (entry *Entry, ok bool) {
	apiKey, timeout := c.settings()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := strconv.FormatUint(userID, 10)
	logger := c.logger.With(slog.String("user_id", id))

	target := *c.base
	query := target.Query()
	query.Set("id", id)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		logger.Warn("denylist request build failed", slog.Any("error", err))
		return nil, false
	}
	req.Header.Set(apiKeyHeader, apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("denylist lookup timed out", slog.Duration("timeout", timeout))
		} else {
			logger.Warn("denylist lookup failed", slog.Any("error", err))
		}
		return nil, false
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxLookupBodyBytes))
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("denylist lookup rejected", slog.Int("status", resp.StatusCode))
		return nil, false
	}
	if readErr != nil {
		logger.Warn("denylist lookup read failed", slog.Any("error", readErr))
		return nil, false
	}

	var payload lookupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("denylist payload malformed", slog.Any("error", err))
		return nil, false
	}
	if len(payload.Users) == 0 {
		return nil, true
	}
	hit := payload.Entries[id]
	if hit == nil {
		return nil, true
	}
	mode := ParseMode(hit.Mode)
	if mode == ModeUnspecified {
		logger.Warn("denylist entry has unrecognised mode", slog.String("mode", hit.Mode))
	}
	return &Entry{Mode: mode, Reason: hit.Reason}, true
}
