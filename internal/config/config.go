// ABOUTME: Configuration loading and parsing for the hub server
// ABOUTME: YAML with env expansion, env overrides and self-healing defaults

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM provider modes.
const (
	LLMModeMock   = "mock"
	LLMModeRemote = "remote"
)

// Config represents the complete hub configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Auth        AuthConfig        `yaml:"auth"`
	Chat        ChatConfig        `yaml:"chat"`
	LLM         LLMConfig         `yaml:"llm"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds listen address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the message log location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AttachmentsConfig holds the attachment blob store location.
type AttachmentsConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds bearer authentication configuration. When JWTSecret
// is set, tokens are verified as HS256 JWTs; otherwise Token is
// compared directly.
type AuthConfig struct {
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds turn orchestration settings.
type ChatConfig struct {
	ContextLimit int    `yaml:"context_limit"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LLMConfig holds text generation provider configuration. The fields
// are OpenAI-compatible so remote mode can point at OpenAI, Azure (via
// a gateway) or any compatible proxy.
type LLMConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	StreamPath string `yaml:"stream_path"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file exists
// and as the base that file and environment values override.
func Default() *Config {
	return &Config{
		Server:      ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database:    DatabaseConfig{Path: "data/hub.db"},
		Attachments: AttachmentsConfig{Dir: "data/attachments"},
		Chat: ChatConfig{
			ContextLimit: 30,
			SystemPrompt: "You are a helpful assistant.",
		},
		LLM: LLMConfig{
			Enabled:    true,
			Mode:       LLMModeMock,
			Model:      "gpt-4o-mini",
			StreamPath: "/v1/chat/completions",
			Timeout:    30 * time.Second,
			TimeoutRaw: "30s",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path, expands ${VAR} references,
// applies HUB_* environment overrides and validates the result.
//
// Config problems never take the server down: a missing file is
// replaced with written defaults (best-effort), and a corrupt file is
// backed up alongside before defaults are written. Load only returns
// an error when the merged configuration fails validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if yerr := yaml.Unmarshal([]byte(expanded), cfg); yerr != nil {
			slog.Warn("config file is corrupt, healing with defaults", "path", path, "error", yerr)
			backupBadConfig(path)
			cfg = Default()
			writeDefault(path)
		}
	case os.IsNotExist(err):
		slog.Info("config file missing, writing defaults", "path", path)
		writeDefault(path)
	default:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// backupBadConfig moves a corrupt config file aside so the healed
// default does not silently destroy what the operator wrote.
func backupBadConfig(path string) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	if err := os.Rename(path, path+".bad-"+ts); err != nil {
		slog.Warn("could not back up corrupt config", "path", path, "error", err)
	}
}

// writeDefault writes the default config to path, best-effort.
func writeDefault(path string) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		slog.Warn("could not write default config", "path", path, "error", err)
	}
}

// applyEnvOverrides layers HUB_* environment variables over the file
// values. Environment always wins: default < file < environment.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString(&cfg.Server.HTTPAddr, "HUB_HTTP_ADDR")
	setString(&cfg.Database.Path, "HUB_DB_PATH")
	setString(&cfg.Attachments.Dir, "HUB_ATTACHMENTS_DIR")
	setString(&cfg.Auth.Token, "HUB_TOKEN")
	setString(&cfg.Auth.JWTSecret, "HUB_JWT_SECRET")
	setString(&cfg.Chat.SystemPrompt, "HUB_SYSTEM_PROMPT")
	setString(&cfg.Logging.Level, "HUB_LOG_LEVEL")
	setString(&cfg.Logging.Format, "HUB_LOG_FORMAT")

	if v := os.Getenv("HUB_CONTEXT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chat.ContextLimit = n
		}
	}
	if v := os.Getenv("HUB_LLM_ENABLED"); v != "" {
		cfg.LLM.Enabled = isTruthy(v)
	}
	setString(&cfg.LLM.Mode, "HUB_LLM_MODE")
	setString(&cfg.LLM.BaseURL, "HUB_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "HUB_LLM_API_KEY")
	setString(&cfg.LLM.Model, "HUB_LLM_MODEL")
	setString(&cfg.LLM.StreamPath, "HUB_LLM_STREAM_PATH")
	setString(&cfg.LLM.TimeoutRaw, "HUB_LLM_TIMEOUT")
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// normalize parses raw duration fields and clamps values into valid
// ranges. Returns an error only for settings that cannot be healed.
func (c *Config) normalize() error {
	if c.Chat.ContextLimit < 1 {
		c.Chat.ContextLimit = 1
	}

	c.LLM.Mode = strings.ToLower(strings.TrimSpace(c.LLM.Mode))
	if c.LLM.Mode == "" {
		c.LLM.Mode = LLMModeMock
	}
	if c.LLM.Mode != LLMModeMock && c.LLM.Mode != LLMModeRemote {
		return fmt.Errorf("llm.mode must be %q or %q, got %q", LLMModeMock, LLMModeRemote, c.LLM.Mode)
	}

	if c.LLM.TimeoutRaw != "" {
		d, err := time.ParseDuration(c.LLM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing llm.timeout %q: %w", c.LLM.TimeoutRaw, err)
		}
		c.LLM.Timeout = d
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 30 * time.Second
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Attachments.Dir == "" {
		return fmt.Errorf("attachments.dir is required")
	}
	return nil
}
