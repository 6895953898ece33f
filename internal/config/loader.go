package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// canonicalKeys restores camelCase keys that the env transform lowercases.
var canonicalKeys = map[string]string{
	"denylist.baseurl":             "denylist.baseURL",
	"denylist.apikey":              "denylist.apiKey",
	"denylist.timeoutseconds":      "denylist.timeoutSeconds",
	"denylist.minintervalmillis":   "denylist.minIntervalMillis",
	"cache.ttlseconds":             "cache.ttlSeconds",
	"cache.redis.keyprefix":        "cache.redis.keyPrefix",
	"cache.redis.tls.cafile":       "cache.redis.tls.caFile",
	"enforcement.noticettlseconds": "enforcement.noticeTTLSeconds",
	"enforcement.notifyonjoin":     "enforcement.notifyOnJoin",
	"discord.guildid":              "discord.guildID",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	source := ""
	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		source = path
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (DENYLIST__API_KEY -> denylist.apikey).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Source = source
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"denylist": map[string]any{
			"baseURL":           cfg.Denylist.BaseURL,
			"apiKey":            cfg.Denylist.APIKey,
			"timeoutSeconds":    cfg.Denylist.TimeoutSeconds,
			"minIntervalMillis": cfg.Denylist.MinIntervalMillis,
		},
		"cache": map[string]any{
			"backend":    cfg.Cache.Backend,
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"redis": map[string]any{
				"address":   cfg.Cache.Redis.Address,
				"username":  cfg.Cache.Redis.Username,
				"password":  cfg.Cache.Redis.Password,
				"db":        cfg.Cache.Redis.DB,
				"keyPrefix": cfg.Cache.Redis.KeyPrefix,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"appeals": map[string]any{
			"path":      cfg.Appeals.Path,
			"timezone":  cfg.Appeals.Timezone,
			"reviewers": cfg.Appeals.Reviewers,
		},
		"enforcement": map[string]any{
			"noticeTTLSeconds": cfg.Enforcement.NoticeTTLSeconds,
			"notifyOnJoin":     cfg.Enforcement.NotifyOnJoin,
			"exempt":           cfg.Enforcement.Exempt,
			"notice": map[string]any{
				"title":    cfg.Enforcement.Notice.Title,
				"template": cfg.Enforcement.Notice.Template,
			},
		},
		"discord": map[string]any{
			"token":   cfg.Discord.Token,
			"guildID": cfg.Discord.GuildID,
			"prefix":  cfg.Discord.Prefix,
		},
	}
}
