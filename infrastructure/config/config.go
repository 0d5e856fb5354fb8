package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PluginConfig is the declaration of one source plugin. The source
// function itself is registered in code; configuration carries the
// per-plugin knobs.
type PluginConfig struct {
	Name       string         `yaml:"name" validate:"required"`
	Strategy   string         `yaml:"strategy" validate:"omitempty,oneof=sync refetch"`
	IDField    string         `yaml:"idField"`
	Options    map[string]any `yaml:"options"`
	WatchPaths []string       `yaml:"watchPaths"`
}

// WebsocketConfig tunes the remote subscription's reconnect behavior.
type WebsocketConfig struct {
	ReconnectDelayMs     int `yaml:"reconnectDelayMs" validate:"omitempty,min=1"`
	MaxReconnectAttempts int `yaml:"maxReconnectAttempts" validate:"omitempty,min=1"`
}

// RemoteConfig points at a peer data layer. An empty URL disables
// remote sync entirely.
type RemoteConfig struct {
	URL       string          `yaml:"url" validate:"omitempty,url"`
	Websocket WebsocketConfig `yaml:"websocket"`
}

// WebhooksConfig tunes the debounced webhook queue.
type WebhooksConfig struct {
	DebounceMs   int `yaml:"debounceMs" validate:"omitempty,min=1"`
	MaxQueueSize int `yaml:"maxQueueSize" validate:"omitempty,min=1"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string `validate:"oneof=development staging production"`

	// Logging
	LogLevel string

	// Cache configuration. Caching is on unless explicitly disabled.
	CacheEnabled bool
	CacheDir     string
	CacheBackend string `validate:"oneof=file dynamodb"`

	// AWS configuration, used when CacheBackend is dynamodb.
	AWSRegion     string
	DynamoDBTable string

	// Watch re-sources plugins when their declared paths change.
	Watch bool

	// UseMocks routes plugin outbound I/O to mock data.
	UseMocks bool

	// Feature flags
	EnableCORS bool

	Plugins  []PluginConfig `validate:"dive"`
	Remote   RemoteConfig
	Webhooks WebhooksConfig
}

// fileOverlay is the shape of the optional udl.yaml config file. The
// file carries the structured sections that are awkward as env vars.
type fileOverlay struct {
	Plugins  []PluginConfig  `yaml:"plugins"`
	Remote   *RemoteConfig   `yaml:"remote"`
	Webhooks *WebhooksConfig `yaml:"webhooks"`
	Cache    *bool           `yaml:"cache"`
	CacheDir string          `yaml:"cacheDir"`
}

// LoadConfig loads configuration from environment variables, then
// overlays the optional config file (UDL_CONFIG_FILE, default ./udl.yaml).
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		CacheEnabled: getEnvBool("CACHE_ENABLED", true),
		CacheDir:     getEnv("CACHE_DIR", defaultCacheDir()),
		CacheBackend: getEnv("CACHE_BACKEND", "file"),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "udl-cache"),

		Watch:      getEnvBool("WATCH", false),
		EnableCORS: getEnvBool("ENABLE_CORS", true),

		Remote: RemoteConfig{
			URL: getEnv("REMOTE_URL", ""),
			Websocket: WebsocketConfig{
				ReconnectDelayMs:     getEnvInt("REMOTE_RECONNECT_DELAY_MS", 1000),
				MaxReconnectAttempts: getEnvInt("REMOTE_MAX_RECONNECT_ATTEMPTS", 10),
			},
		},
		Webhooks: WebhooksConfig{
			DebounceMs:   getEnvInt("WEBHOOK_DEBOUNCE_MS", 5000),
			MaxQueueSize: getEnvInt("WEBHOOK_MAX_QUEUE_SIZE", 100),
		},
	}

	if err := applyOverlay(cfg, ConfigFilePath()); err != nil {
		return nil, err
	}

	cfg.UseMocks = resolveMockMode(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is an alias for LoadConfig.
func Load() (*Config, error) {
	return LoadConfig()
}

// ConfigFilePath returns the config file location being honored.
func ConfigFilePath() string {
	return getEnv("UDL_CONFIG_FILE", "udl.yaml")
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if len(overlay.Plugins) > 0 {
		cfg.Plugins = overlay.Plugins
	}
	if overlay.Remote != nil {
		cfg.Remote = *overlay.Remote
	}
	if overlay.Webhooks != nil {
		if overlay.Webhooks.DebounceMs > 0 {
			cfg.Webhooks.DebounceMs = overlay.Webhooks.DebounceMs
		}
		if overlay.Webhooks.MaxQueueSize > 0 {
			cfg.Webhooks.MaxQueueSize = overlay.Webhooks.MaxQueueSize
		}
	}
	if overlay.Cache != nil {
		cfg.CacheEnabled = *overlay.Cache
	}
	if overlay.CacheDir != "" {
		cfg.CacheDir = overlay.CacheDir
	}
	return nil
}

// resolveMockMode decides whether plugin outbound I/O is mocked.
// Precedence: real credentials present wins; then an explicit USE_MOCKS
// toggle; development defaults to mocks, everything else to real.
func resolveMockMode(environment string) bool {
	if credentialsPresent() {
		return false
	}
	if raw, ok := os.LookupEnv("USE_MOCKS"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return environment == "development"
}

func credentialsPresent() bool {
	return os.Getenv("UDL_API_KEY") != "" || os.Getenv("UDL_API_TOKEN") != ""
}

func defaultCacheDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ".udl-cache"
	}
	return filepath.Join(wd, ".udl-cache")
}

var validate = validator.New()

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.CacheBackend == "dynamodb" && c.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required with the dynamodb cache backend")
	}
	return nil
}

// WebhookDebounce returns the queue debounce as a duration.
func (c *Config) WebhookDebounce() time.Duration {
	return time.Duration(c.Webhooks.DebounceMs) * time.Millisecond
}

// RemoteReconnectDelay returns the initial reconnect backoff.
func (c *Config) RemoteReconnectDelay() time.Duration {
	return time.Duration(c.Remote.Websocket.ReconnectDelayMs) * time.Millisecond
}

// IsDevelopment returns true in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
