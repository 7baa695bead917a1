package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cloudflare    CloudflareConfig    `yaml:"cloudflare"`
	Engine        EngineConfig        `yaml:"engine"`
	Logger        LoggerConfig        `yaml:"logger"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Notify        NotifyConfig        `yaml:"notify"`
}

type ServerConfig struct {
	HTTPPort int    `yaml:"http_port"`
	Host     string `yaml:"host"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type CloudflareConfig struct {
	APIBase  string `yaml:"api_base"` // GraphQL endpoint
	APIToken string `yaml:"api_token"`
	ZoneTag  string `yaml:"zone_tag"` // default zone for rules without an explicit scope
}

type EngineConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"` // evaluation cadence
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"` // per-rule metric query timeout
	CooldownMinutes     int `yaml:"cooldown_minutes"`      // restart-resume window
	Workers             int `yaml:"workers"`               // per-tick query fan-out
}

type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Output string `yaml:"output"` // stdout, stderr, or file path
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"index_prefix"` // e.g. "cfwatch-alerts"
}

type NotifyConfig struct {
	Enabled    bool              `yaml:"enabled"`
	WebhookURL string            `yaml:"webhook_url"`
	Headers    map[string]string `yaml:"headers"`
}

// LoadFromFile loads configuration from a yaml file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&config)

	return &config, nil
}

// Load builds configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			Host:     getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "cfwatch.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Cloudflare: CloudflareConfig{
			APIBase:  getEnv("CF_API_BASE", "https://api.cloudflare.com/client/v4/graphql"),
			APIToken: getEnv("CF_API_TOKEN", ""),
			ZoneTag:  getEnv("CF_ZONE_TAG", ""),
		},
		Engine: EngineConfig{
			TickIntervalSeconds: getEnvInt("ENGINE_TICK_INTERVAL", 60),
			QueryTimeoutSeconds: getEnvInt("ENGINE_QUERY_TIMEOUT", 10),
			CooldownMinutes:     getEnvInt("ENGINE_COOLDOWN", 10),
			Workers:             getEnvInt("ENGINE_WORKERS", 10),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:     getEnvBool("ES_ENABLED", false),
			Addresses:   getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:    getEnv("ES_USERNAME", ""),
			Password:    getEnv("ES_PASSWORD", ""),
			IndexPrefix: getEnv("ES_INDEX_PREFIX", "cfwatch-alerts"),
		},
		Notify: NotifyConfig{
			Enabled:    getEnvBool("NOTIFY_ENABLED", false),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}
}

func setDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "cfwatch.db"
	}
	if config.Cloudflare.APIBase == "" {
		config.Cloudflare.APIBase = "https://api.cloudflare.com/client/v4/graphql"
	}
	if config.Engine.TickIntervalSeconds == 0 {
		config.Engine.TickIntervalSeconds = 60
	}
	if config.Engine.QueryTimeoutSeconds == 0 {
		config.Engine.QueryTimeoutSeconds = 10
	}
	if config.Engine.CooldownMinutes == 0 {
		config.Engine.CooldownMinutes = 10
	}
	if config.Engine.Workers == 0 {
		config.Engine.Workers = 10
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Elasticsearch.IndexPrefix == "" {
		config.Elasticsearch.IndexPrefix = "cfwatch-alerts"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		var result []string
		for _, part := range strings.Split(val, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// Validate checks the configuration for obvious mistakes before startup.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	validDrivers := map[string]bool{
		"sqlite":   true,
		"mysql":    true,
		"postgres": true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	} else {
		if c.Database.DBName == "" {
			return fmt.Errorf("database file path cannot be empty for sqlite")
		}
	}

	if c.Cloudflare.APIToken == "" {
		return fmt.Errorf("cloudflare api token cannot be empty")
	}
	if c.Cloudflare.ZoneTag == "" {
		return fmt.Errorf("cloudflare zone tag cannot be empty")
	}

	if c.Engine.TickIntervalSeconds < 1 {
		return fmt.Errorf("engine tick interval must be at least 1 second")
	}
	if c.Engine.QueryTimeoutSeconds < 1 {
		return fmt.Errorf("engine query timeout must be at least 1 second")
	}
	if c.Engine.QueryTimeoutSeconds >= c.Engine.TickIntervalSeconds {
		return fmt.Errorf("engine query timeout must be shorter than the tick interval")
	}
	if c.Engine.CooldownMinutes < 0 {
		return fmt.Errorf("engine cooldown cannot be negative")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	if c.Elasticsearch.Enabled {
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
		}
	}

	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify webhook url cannot be empty when enabled")
	}

	return nil
}
