package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service  ServiceConfig
	Engine   EngineConfig
	Redis    RedisConfig
	Database DatabaseConfig
	LLM      LLMServiceConfig
	Notion   NotionServiceConfig
}

// ServiceConfig holds service-level settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds execution defaults. Per-run options override these.
type EngineConfig struct {
	MaxParallelNodes int
	MaxIterations    int
	TimeoutSeconds   int
	PollInterval     time.Duration
	MaxPollRetries   int
	DebugMode        bool
	FilesDir         string // base directory for the file service
}

// RedisConfig holds the hot-state store settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DatabaseConfig holds Postgres archive settings
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// LLMServiceConfig holds the model backend settings
type LLMServiceConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NotionServiceConfig holds the Notion integration settings
type NotionServiceConfig struct {
	Token string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			MaxParallelNodes: getEnvInt("ENGINE_MAX_PARALLEL_NODES", 10),
			MaxIterations:    getEnvInt("ENGINE_MAX_ITERATIONS", 1000),
			TimeoutSeconds:   getEnvInt("ENGINE_TIMEOUT_SECONDS", 0),
			PollInterval:     getEnvDuration("ENGINE_POLL_INTERVAL", 20*time.Millisecond),
			MaxPollRetries:   getEnvInt("ENGINE_MAX_POLL_RETRIES", 100),
			DebugMode:        getEnvBool("ENGINE_DEBUG", false),
			FilesDir:         getEnv("ENGINE_FILES_DIR", "./files"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("POSTGRES_ENABLED", false),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "diaflow"),
			User:        getEnv("POSTGRES_USER", "diaflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "diaflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		LLM: LLMServiceConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			DefaultModel: getEnv("OPENAI_DEFAULT_MODEL", ""),
		},
		Notion: NotionServiceConfig{
			Token: getEnv("NOTION_TOKEN", ""),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Engine.MaxParallelNodes < 1 {
		return fmt.Errorf("engine max_parallel_nodes must be at least 1")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required when postgres is enabled")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
