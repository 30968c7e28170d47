package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports required settings that are absent at startup.
// It is fatal and never retried.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

type Config struct {
	Line    LineConfig    `json:"line" yaml:"line"`
	Discord DiscordConfig `json:"discord" yaml:"discord"`
	Media   MediaConfig   `json:"media" yaml:"media"`
	State   StateConfig   `json:"state" yaml:"state"`
	Health  HealthConfig  `json:"health" yaml:"health"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

type LineConfig struct {
	Email         string          `env:"LINE_EMAIL"                    json:"email" yaml:"email"`
	Password      string          `env:"LINE_PASSWORD"                 json:"password" yaml:"password"`
	AuthToken     string          `env:"LINE_AUTHTOKEN"                json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	GatewayURL    string          `env:"LINECORD_LINE_GATEWAY_URL"     json:"gateway_url" yaml:"gateway_url"`
	SquareChatMID string          `env:"LINECORD_LINE_SQUARE_CHAT_MID" json:"square_chat_mid" yaml:"square_chat_mid"`
	RateLimit     RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	// GatewayCommand, when set, is spawned and supervised by the relay.
	// Arguments are split on whitespace; no shell quoting.
	GatewayCommand string `env:"LINECORD_LINE_GATEWAY_COMMAND" json:"gateway_command,omitempty" yaml:"gateway_command,omitempty"`
}

func (l LineConfig) GatewayArgv() []string {
	return strings.Fields(l.GatewayCommand)
}

// RateLimitConfig bounds requests to the square messaging subsystem.
type RateLimitConfig struct {
	Permits  int `env:"LINECORD_LINE_RATE_LIMIT_PERMITS"   json:"permits" yaml:"permits"`
	WindowMS int `env:"LINECORD_LINE_RATE_LIMIT_WINDOW_MS" json:"window_ms" yaml:"window_ms"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMS) * time.Millisecond
}

type DiscordConfig struct {
	Token       string `env:"DISCORD_TOKEN"                 json:"token" yaml:"token"`
	ServerID    string `env:"LINECORD_DISCORD_SERVER_ID"    json:"server_id" yaml:"server_id"`
	ChannelID   string `env:"LINECORD_DISCORD_CHANNEL_ID"   json:"channel_id" yaml:"channel_id"`
	WebhookName string `env:"LINECORD_DISCORD_WEBHOOK_NAME" json:"webhook_name" yaml:"webhook_name"`
}

type MediaConfig struct {
	StorageBaseURL string `env:"LINECORD_MEDIA_STORAGE_BASE_URL" json:"storage_base_url" yaml:"storage_base_url"`
	StickerBaseURL string `env:"LINECORD_MEDIA_STICKER_BASE_URL" json:"sticker_base_url" yaml:"sticker_base_url"`
}

type StateConfig struct {
	Backend  string `env:"LINECORD_STATE_BACKEND"   json:"backend" yaml:"backend"` // "file" or "redis"
	Path     string `env:"LINECORD_STATE_PATH"      json:"path" yaml:"path"`
	RedisURL string `env:"LINECORD_STATE_REDIS_URL" json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	RedisKey string `env:"LINECORD_STATE_REDIS_KEY" json:"redis_key,omitempty" yaml:"redis_key,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `env:"LINECORD_HEALTH_ENABLED" json:"enabled" yaml:"enabled"`
	Host    string `env:"LINECORD_HEALTH_HOST"    json:"host" yaml:"host"`
	Port    int    `env:"LINECORD_HEALTH_PORT"    json:"port" yaml:"port"`
}

type HTTPConfig struct {
	TimeoutSeconds int `env:"LINECORD_HTTP_TIMEOUT_SECONDS" json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level string `env:"LINECORD_LOG_LEVEL" json:"level" yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Line: LineConfig{
			GatewayURL:    "ws://127.0.0.1:7710/gateway",
			SquareChatMID: "m45c50782d24820a6288b24f7a07365cc",
			RateLimit: RateLimitConfig{
				Permits:  4,
				WindowMS: 2000,
			},
		},
		Discord: DiscordConfig{
			ServerID:    "1255359848644608035",
			ChannelID:   "1280752398968815728",
			WebhookName: "Linecord - Webhook",
		},
		Media: MediaConfig{
			StorageBaseURL: "https://storage.evex.land",
			StickerBaseURL: "https://stickershop.line-scdn.net/stickershop/v1/sticker",
		},
		State: StateConfig{
			Backend:  "file",
			Path:     "./storage.json",
			RedisKey: "linecord:storage",
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18790,
		},
		HTTP: HTTPConfig{TimeoutSeconds: 30},
		Log:  LogConfig{Level: "info"},
	}
}

// LoadConfig builds the effective configuration: defaults, then the JSON
// file at path (optional), then a .env file in the working directory, then
// the process environment. Variables already set in the environment take
// precedence over the .env file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshalFile(path, data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// unmarshalFile decodes YAML for .yaml/.yml paths and JSON otherwise.
func unmarshalFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func SaveConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the settings the relay cannot start without. The auth
// token is optional; email and password are required even when a token is
// present, so a stale token can fall back to password login.
func (c *Config) Validate() error {
	var missing []string
	if c.Line.Email == "" {
		missing = append(missing, "LINE_EMAIL")
	}
	if c.Line.Password == "" {
		missing = append(missing, "LINE_PASSWORD")
	}
	if c.Discord.Token == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.Line.SquareChatMID == "" {
		missing = append(missing, "line.square_chat_mid")
	}
	if c.Discord.ChannelID == "" {
		missing = append(missing, "discord.channel_id")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	if c.Line.RateLimit.Permits <= 0 || c.Line.RateLimit.WindowMS <= 0 {
		return fmt.Errorf("line.rate_limit: permits and window_ms must be positive")
	}
	switch c.State.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("state.backend: unknown backend %q", c.State.Backend)
	}
	if c.State.Backend == "redis" && c.State.RedisURL == "" {
		return &ConfigurationError{Missing: []string{"LINECORD_STATE_REDIS_URL"}}
	}
	return nil
}

func (c *Config) StatePath() string {
	return expandHome(c.State.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
