package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Pipeline PipelineConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Outbox   OutboxConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	HideWebdriver  bool
}

type PipelineConfig struct {
	NavigationTimeout time.Duration
	ContentTimeout    time.Duration
	ScrollCycles      int
	ScrollPause       time.Duration
	SettlePause       time.Duration
	ImageTimeout      time.Duration
	MaxImageBytes     int64
	DebugDir          string
}

type JobsConfig struct {
	Workers      int
	QueueSize    int
	RateLimitMin time.Duration
	RateLimitMax time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type OutboxConfig struct {
	Enabled      bool
	Stream       string
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Paris"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "fr-FR"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			HideWebdriver:  getBoolOrDefault("BROWSER_HIDE_WEBDRIVER", true),
		},
		Pipeline: PipelineConfig{
			NavigationTimeout: getDurationOrDefault("PIPELINE_NAVIGATION_TIMEOUT", 25*time.Second),
			ContentTimeout:    getDurationOrDefault("PIPELINE_CONTENT_TIMEOUT", 8*time.Second),
			ScrollCycles:      getIntOrDefault("PIPELINE_SCROLL_CYCLES", 3),
			ScrollPause:       getDurationOrDefault("PIPELINE_SCROLL_PAUSE", 800*time.Millisecond),
			SettlePause:       getDurationOrDefault("PIPELINE_SETTLE_PAUSE", 1500*time.Millisecond),
			ImageTimeout:      getDurationOrDefault("PIPELINE_IMAGE_TIMEOUT", 2500*time.Millisecond),
			MaxImageBytes:     int64(getIntOrDefault("PIPELINE_MAX_IMAGE_BYTES", 5*1024*1024)),
			DebugDir:          getEnvOrDefault("PIPELINE_DEBUG_DIR", ""),
		},
		Jobs: JobsConfig{
			Workers:      getIntOrDefault("JOBS_WORKERS", 2),
			QueueSize:    getIntOrDefault("JOBS_QUEUE_SIZE", 100),
			RateLimitMin: getDurationOrDefault("JOBS_RATE_LIMIT_MIN", 3*time.Second),
			RateLimitMax: getDurationOrDefault("JOBS_RATE_LIMIT_MAX", 8*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "listing_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Outbox: OutboxConfig{
			Enabled:      getBoolOrDefault("OUTBOX_RELAY_ENABLED", false),
			Stream:       getEnvOrDefault("OUTBOX_STREAM", "stream:listing_extracted"),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
			StreamMaxLen: int64(getIntOrDefault("OUTBOX_STREAM_MAXLEN", 100000)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// RequestTimeout is the per-request handler deadline. It ends ahead of
// WriteTimeout so the timeout response can still be written.
func (s ServerConfig) RequestTimeout() time.Duration {
	margin := s.WriteTimeout / 10
	if margin > 5*time.Second {
		margin = 5 * time.Second
	}
	return s.WriteTimeout - margin
}

// PipelineBudget is the longest one extraction run can take when every wait
// runs to its limit.
func (c *Config) PipelineBudget() time.Duration {
	p := c.Pipeline
	return p.NavigationTimeout +
		p.ContentTimeout +
		time.Duration(p.ScrollCycles)*p.ScrollPause +
		p.SettlePause +
		10*p.ImageTimeout
}

func (c *Config) Validate() error {
	if c.Pipeline.NavigationTimeout <= 0 {
		return fmt.Errorf("PIPELINE_NAVIGATION_TIMEOUT must be positive")
	}

	if c.Pipeline.ScrollCycles < 0 {
		return fmt.Errorf("PIPELINE_SCROLL_CYCLES cannot be negative")
	}

	if c.Pipeline.MaxImageBytes <= 0 {
		return fmt.Errorf("PIPELINE_MAX_IMAGE_BYTES must be positive")
	}

	if budget, limit := c.PipelineBudget(), c.Server.RequestTimeout(); budget >= limit {
		return fmt.Errorf("pipeline waits (%s) must stay below the request timeout (%s, derived from SERVER_WRITE_TIMEOUT)", budget, limit)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}

	if c.Jobs.RateLimitMin > c.Jobs.RateLimitMax {
		return fmt.Errorf("JOBS_RATE_LIMIT_MIN cannot be greater than JOBS_RATE_LIMIT_MAX")
	}

	if c.Outbox.Enabled && !c.Database.Enabled {
		return fmt.Errorf("OUTBOX_RELAY_ENABLED requires DB_ENABLED")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
