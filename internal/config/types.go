package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/gatewarden/internal/expr"
	"github.com/l0p7/gatewarden/internal/templates"
)

// Config holds every option consumed by the bot and its enforcement subsystem.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Denylist    DenylistConfig    `koanf:"denylist"`
	Cache       CacheConfig       `koanf:"cache"`
	Appeals     AppealsConfig     `koanf:"appeals"`
	Enforcement EnforcementConfig `koanf:"enforcement"`
	Discord     DiscordConfig     `koanf:"discord"`

	// Source records the configuration file the snapshot was read from, if any.
	Source string `koanf:"-"`
}

// ServerConfig collects the operational HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the ops listener about bind address and port. A zero
// port disables the listener.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DenylistConfig points at the remote denylist lookup service.
type DenylistConfig struct {
	BaseURL           string `koanf:"baseURL"`
	APIKey            string `koanf:"apiKey"`
	TimeoutSeconds    int    `koanf:"timeoutSeconds"`
	MinIntervalMillis int    `koanf:"minIntervalMillis"`
}

// Timeout returns the bounded lookup timeout.
func (c DenylistConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MinInterval returns the optional spacing between upstream lookups.
func (c DenylistConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMillis) * time.Millisecond
}

type CacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttlSeconds"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// TTL returns the freshness window of cached lookups.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisCacheConfig struct {
	Address   string         `koanf:"address"`
	Username  string         `koanf:"username"`
	Password  string         `koanf:"password"`
	DB        int            `koanf:"db"`
	KeyPrefix string         `koanf:"keyPrefix"`
	TLS       RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// AppealsConfig locates the appeal document and the reviewers allowed to
// resolve appeals.
type AppealsConfig struct {
	Path      string   `koanf:"path"`
	Timezone  string   `koanf:"timezone"`
	Reviewers []string `koanf:"reviewers"`
}

// Location resolves the timezone used to stamp appeal records. Fixed offsets
// such as "+08:00" are accepted alongside IANA names.
func (c AppealsConfig) Location() (*time.Location, error) {
	return parseLocation(c.Timezone)
}

// EnforcementConfig shapes the denial notices and the optional exemption rule.
type EnforcementConfig struct {
	NoticeTTLSeconds int          `koanf:"noticeTTLSeconds"`
	NotifyOnJoin     bool         `koanf:"notifyOnJoin"`
	Exempt           string       `koanf:"exempt"`
	Notice           NoticeConfig `koanf:"notice"`
}

// NoticeTTL returns how long inline denial replies stay visible.
func (c EnforcementConfig) NoticeTTL() time.Duration {
	return time.Duration(c.NoticeTTLSeconds) * time.Second
}

type NoticeConfig struct {
	Title    string `koanf:"title"`
	Template string `koanf:"template"`
}

// DiscordConfig carries the gateway credentials.
type DiscordConfig struct {
	Token   string `koanf:"token"`
	GuildID string `koanf:"guildID"`
	Prefix  string `koanf:"prefix"`
}

// Validate enforces invariants that keep the runtime predictable before
// connecting to the gateway.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	var errs []error
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.listen.port invalid: %d", c.Server.Listen.Port))
	}
	base := strings.TrimSpace(c.Denylist.BaseURL)
	if base == "" {
		errs = append(errs, errors.New("config: denylist.baseURL required"))
	} else if parsed, err := url.Parse(base); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("config: denylist.baseURL invalid: %s", c.Denylist.BaseURL))
	}
	if c.Denylist.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: denylist.timeoutSeconds must be positive: %d", c.Denylist.TimeoutSeconds))
	}
	if c.Denylist.MinIntervalMillis < 0 {
		errs = append(errs, fmt.Errorf("config: denylist.minIntervalMillis invalid: %d", c.Denylist.MinIntervalMillis))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: cache.ttlSeconds must be positive: %d", c.Cache.TTLSeconds))
	}
	switch strings.TrimSpace(strings.ToLower(c.Cache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			errs = append(errs, errors.New("config: cache.redis.address required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend))
	}
	if strings.TrimSpace(c.Appeals.Path) == "" {
		errs = append(errs, errors.New("config: appeals.path required"))
	}
	if _, err := c.Appeals.Location(); err != nil {
		errs = append(errs, err)
	}
	for i, reviewer := range c.Appeals.Reviewers {
		if strings.TrimSpace(reviewer) == "" {
			errs = append(errs, fmt.Errorf("config: appeals.reviewers[%d] empty", i))
		}
	}
	if c.Enforcement.NoticeTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("config: enforcement.noticeTTLSeconds invalid: %d", c.Enforcement.NoticeTTLSeconds))
	}
	if rule := strings.TrimSpace(c.Enforcement.Exempt); rule != "" {
		env, err := expr.NewEnvironment()
		if err == nil {
			_, err = env.Compile(rule)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config: enforcement.exempt: %w", err))
		}
	}
	if _, err := templates.NewRenderer().Compile("notice", c.Enforcement.Notice.Template); err != nil {
		errs = append(errs, fmt.Errorf("config: enforcement.notice.template: %w", err))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    9464,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Denylist: DenylistConfig{
			BaseURL:        "https://api.cathome.shop/blacklist",
			TimeoutSeconds: 5,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 10,
			Redis: RedisCacheConfig{
				KeyPrefix: "gatewarden:denylist:v1:",
			},
		},
		Appeals: AppealsConfig{
			Path:     "data/storage/appeals.json",
			Timezone: "+08:00",
		},
		Enforcement: EnforcementConfig{
			NoticeTTLSeconds: 10,
			NotifyOnJoin:     true,
			Notice: NoticeConfig{
				Title:    "[Denied] Access blocked",
				Template: DefaultNoticeTemplate,
			},
		},
		Discord: DiscordConfig{
			Prefix: "!",
		},
	}
}

// DefaultNoticeTemplate renders the body of a denial notice.
const DefaultNoticeTemplate = "You have been added to the denylist.\n\nReason: {{ .Reason | default \"no reason provided\" }}\nMode: {{ .Mode }}"

func parseLocation(value string) (*time.Location, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "utc") {
		return time.UTC, nil
	}
	if trimmed[0] == '+' || trimmed[0] == '-' {
		ref, err := time.Parse("-07:00", trimmed)
		if err != nil {
			return nil, fmt.Errorf("config: appeals.timezone invalid: %s", value)
		}
		_, offset := ref.Zone()
		return time.FixedZone("UTC"+trimmed, offset), nil
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("config: appeals.timezone invalid: %s: %w", value, err)
	}
	return loc, nil
}
