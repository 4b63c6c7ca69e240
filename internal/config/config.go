package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for pricebot.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Catalog    CatalogConfig    `json:"catalog" yaml:"catalog"`
	Indicators IndicatorsConfig `json:"indicators" yaml:"indicators"`
	Delivery   DeliveryConfig   `json:"delivery" yaml:"delivery"`
	API        APIConfig        `json:"api" yaml:"api"`
	MCP        MCPConfig        `json:"mcp" yaml:"mcp"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
}

type GeneralConfig struct {
	LogLevel         string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat        string `json:"logFormat" yaml:"logFormat"` // text | json
	LogFile          string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxParallelTools int    `json:"maxParallelTools" yaml:"maxParallelTools"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// CatalogConfig tunes the answers of the handler set.
type CatalogConfig struct {
	BotDescription string `json:"botDescription,omitempty" yaml:"botDescription,omitempty"`
	Timezone       string `json:"timezone" yaml:"timezone"` // IANA name or "Local"; used for upload times
}

// IndicatorsConfig points at the technical-indicator service. When URL is
// empty the Static summary is served instead.
type IndicatorsConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Static         string `json:"static,omitempty" yaml:"static,omitempty"`
}

type DeliveryConfig struct {
	Driver       string         `json:"driver" yaml:"driver"` // log | redis | telegram
	SourceLabel  string         `json:"sourceLabel" yaml:"sourceLabel"`
	SettleMillis int            `json:"settleMillis" yaml:"settleMillis"`
	Redis        RedisConfig    `json:"redis" yaml:"redis"`
	Telegram     TelegramConfig `json:"telegram" yaml:"telegram"`
}

type RedisConfig struct {
	URL    string `json:"url" yaml:"url"`
	Stream string `json:"stream" yaml:"stream"`
	MaxLen int64  `json:"maxLen,omitempty" yaml:"maxLen,omitempty"`
}

type TelegramConfig struct {
	Token     string `json:"token" yaml:"token"`
	ParseMode string `json:"parseMode,omitempty" yaml:"parseMode,omitempty"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Host               string   `json:"host" yaml:"host"`
	Port               int      `json:"port" yaml:"port"`
	AuthToken          string   `json:"authToken,omitempty" yaml:"authToken,omitempty"`
	RateLimitPerMinute float64  `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty"` // 0 disables
	RateBurst          int      `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`
	CORSOrigins        []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty"`
}

// MCPConfig configures the stdio MCP server. MCP calls carry no conversation,
// so every call is attributed to ConversationID.
type MCPConfig struct {
	Name           string `json:"name" yaml:"name"`
	Version        string `json:"version" yaml:"version"`
	ConversationID string `json:"conversationId" yaml:"conversationId"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LLMConfig configures the OpenAI-compatible model used by `pricebot chat`.
type LLMConfig struct {
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	MaxRounds    int    `json:"maxRounds" yaml:"maxRounds"`
}

// SettleInterval is the pause after each deferred image delivery.
func (d DeliveryConfig) SettleInterval() time.Duration {
	return time.Duration(d.SettleMillis) * time.Millisecond
}

// Location resolves the configured timezone.
func (c CatalogConfig) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Timezone)
	}
}

// DefaultConfigDir returns the default config directory (~/.pricebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pricebot"
	}
	return filepath.Join(home, ".pricebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML (by extension) config file over the defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep unresolved references visible
		}
		return val
	})
}

// Save writes cfg as JSON or YAML depending on the path extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxParallelTools < 1 || cfg.General.MaxParallelTools > 64 {
		errs = append(errs, "general.maxParallelTools must be between 1 and 64")
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}
	if _, err := cfg.Catalog.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("catalog.timezone: %v", err))
	}

	if cfg.Indicators.TimeoutSeconds < 1 {
		errs = append(errs, "indicators.timeoutSeconds must be >= 1")
	}
	if cfg.Indicators.Static != "" && !json.Valid([]byte(cfg.Indicators.Static)) {
		errs = append(errs, "indicators.static must be valid JSON")
	}

	switch cfg.Delivery.Driver {
	case "log":
	case "redis":
		if cfg.Delivery.Redis.URL == "" {
			errs = append(errs, "delivery.redis.url is required for the redis driver")
		}
		if cfg.Delivery.Redis.Stream == "" {
			errs = append(errs, "delivery.redis.stream is required for the redis driver")
		}
	case "telegram":
		if cfg.Delivery.Telegram.Token == "" {
			errs = append(errs, "delivery.telegram.token is required for the telegram driver")
		}
	default:
		errs = append(errs, "delivery.driver must be one of: log, redis, telegram")
	}
	if cfg.Delivery.SettleMillis < 0 {
		errs = append(errs, "delivery.settleMillis must be >= 0")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.API.RateLimitPerMinute < 0 {
		errs = append(errs, "api.rateLimitPerMinute must be >= 0")
	}
	if cfg.MCP.ConversationID == "" {
		errs = append(errs, "mcp.conversationId is required")
	}
	if cfg.LLM.MaxRounds < 1 {
		errs = append(errs, "llm.maxRounds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
