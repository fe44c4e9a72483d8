package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion is the expected version of the config file.
const CurrentVersion = 1

// EnvPrefix namespaces environment overrides, e.g. TANDEM_POSTGRESQL__HOST.
const EnvPrefix = "TANDEM_"

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version       int           `koanf:"version"`
	Debug         Debug         `koanf:"debug"`
	PostgreSQL    PostgreSQL    `koanf:"postgresql"`
	Redis         Redis         `koanf:"redis"`
	Retry         Retry         `koanf:"retry"`
	API           API           `koanf:"api"`
	Auth          Auth          `koanf:"auth"`
	Notifications Notifications `koanf:"notifications"`
	Feed          Feed          `koanf:"feed"`
	Presence      Presence      `koanf:"presence"`
	Telemetry     Telemetry     `koanf:"telemetry"`
	Loki          Loki          `koanf:"loki"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
	// Serve net/http/pprof on localhost.
	EnablePprof bool `koanf:"enable_pprof"`
	// Port of the pprof server.
	PprofPort int `koanf:"pprof_port"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Retry contains store retry configuration.
type Retry struct {
	// Per-attempt store timeout in milliseconds.
	QueryTimeout int `koanf:"query_timeout"`
	// Retries after the first attempt.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// API contains the REST and WebSocket listener configuration.
type API struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Allowed origins for WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string  `koanf:"allowed_origins"`
	RateLimit      RateLimit `koanf:"rate_limit"`
}

// RateLimit contains per-user request limits for the REST API.
type RateLimit struct {
	// Sustained requests per second.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Maximum burst size.
	BurstSize int `koanf:"burst_size"`
	// Violations before a temporary block.
	StrikeLimit int `koanf:"strike_limit"`
	// Block duration in seconds.
	BlockDuration int `koanf:"block_duration"`
}

// Auth contains bearer token verification settings.
type Auth struct {
	// HMAC secret shared with the identity service.
	JWTSecret string `koanf:"jwt_secret"`
	// Expected token issuer. Empty skips the check.
	Issuer string `koanf:"issuer"`
}

// Notifications contains push provider configuration.
type Notifications struct {
	// Push endpoint of the provider.
	Endpoint string `koanf:"endpoint"`
	// Optional access token for the provider.
	AccessToken string `koanf:"access_token"`
	// Maximum recipients per dispatch request.
	ChunkSize int `koanf:"chunk_size"`
	// Maximum chunks dispatched concurrently.
	MaxConcurrent int `koanf:"max_concurrent"`
	// Provider requests allowed per second.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Timeout in milliseconds for one background dispatch.
	DispatchTimeout int `koanf:"dispatch_timeout"`
	// Maximum characters of a message body used as the notification preview.
	PreviewLength int `koanf:"preview_length"`
}

// Feed contains feed assembly configuration.
type Feed struct {
	// Posts taken from each source per page.
	PageSize int `koanf:"page_size"`
}

// Presence contains chat session tracking configuration.
type Presence struct {
	// Session marker lifetime in minutes, refreshed on every join.
	SessionTTL int `koanf:"session_ttl"`
}

// Telemetry contains OpenTelemetry export configuration.
type Telemetry struct {
	// Uptrace DSN. Empty disables trace export.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Service name reported with every span.
	ServiceName string `koanf:"service_name"`
	// Deployment environment label.
	Environment string `koanf:"environment"`
}

// Loki contains log shipping configuration.
type Loki struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// Static labels attached to every stream.
	Labels map[string]string `koanf:"labels"`
	// Entries per push request.
	BatchMaxSize int `koanf:"batch_max_size"`
	// Maximum wait in milliseconds before a partial batch is pushed.
	BatchMaxWaitMS int `koanf:"batch_max_wait_ms"`
}

// Default returns the configuration used for fields absent from the config file.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Debug: Debug{
			LogLevel:      "info",
			MaxLogsToKeep: 10,
			MaxLogLines:   100000,
			PprofPort:     6060,
		},
		PostgreSQL: PostgreSQL{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			DBName:       "tandem",
			MaxOpenConns: 20,
			MaxIdleConns: 10,
			MaxLifetime:  30,
			MaxIdleTime:  5,
		},
		Redis: Redis{
			Host: "localhost",
			Port: 6379,
		},
		Retry: Retry{
			QueryTimeout: 5000,
			MaxRetries:   1,
			Delay:        200,
			MaxDelay:     1000,
		},
		API: API{
			Host: "0.0.0.0",
			Port: 8080,
			RateLimit: RateLimit{
				RequestsPerSecond: 10,
				BurstSize:         30,
				StrikeLimit:       5,
				BlockDuration:     60,
			},
		},
		Notifications: Notifications{
			Endpoint:          "https://exp.host/--/api/v2/push/send",
			ChunkSize:         100,
			MaxConcurrent:     4,
			RequestsPerSecond: 6,
			DispatchTimeout:   15000,
			PreviewLength:     100,
		},
		Feed: Feed{
			PageSize: 10,
		},
		Presence: Presence{
			SessionTTL: 1440,
		},
		Telemetry: Telemetry{
			ServiceName: "tandem",
			Environment: "production",
		},
		Loki: Loki{
			BatchMaxSize:   500,
			BatchMaxWaitMS: 1000,
		},
	}
}

// LoadConfig loads config.toml from the search paths and applies environment overrides.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".tandem",
		homeDir + "/.tandem/config",
		"/etc/tandem/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path+"/config.toml"), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
	}

	config, err := load(k)
	if err != nil {
		return nil, "", err
	}

	return config, usedConfigPath, nil
}

// LoadFile loads a single config file and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return load(k)
}

// load applies environment overrides, unmarshals over the defaults and checks the version.
func load(k *koanf.Koanf) (*Config, error) {
	// TANDEM_POSTGRESQL__HOST -> postgresql.host
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	config := Default()
	config.Version = 0
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version, CurrentVersion); err != nil {
		return nil, err
	}

	return &config, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: config.toml", ErrConfigVersionMissing)
	}

	if current != expected {
		return fmt.Errorf("%w: config.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, current, expected)
	}

	return nil
}
