package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/business-contact-scraper/internal/ai"
	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/scraper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Browser  BrowserConfig
	Scraper  ScraperConfig
	AI       AIConfig
	Consumer ConsumerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	Migrate  bool
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Locale         string
	TimezoneID     string
	AcceptLanguage string
	Proxy          string
	SettleDelay    time.Duration
}

type ScraperConfig struct {
	MapMaxResults    int
	RegistryBaseURL  string
	ItemsPerPage     int
	SkipDetails      bool
	RateLimitMin     time.Duration
	RateLimitMax     time.Duration
	RequestsPerMin   int
	Workers          int
	SearchMaxResults int
}

type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ConsumerConfig configures the run event consumer.
type ConsumerConfig struct {
	Group     string
	Name      string
	ExportDir string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. Values from a .env file
// in the working directory are used for variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	defaults := browser.DefaultOptions()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "business_contacts"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			Migrate:  getEnvBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			Stream:       getEnv("REDIS_STREAM", database.RunEventStream),
			PollInterval: getEnvDuration("RELAY_POLL_INTERVAL", 5*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getEnvBool("BROWSER_HEADLESS", true),
			Timeout:        getEnvDuration("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", defaults.ViewportWidth),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", defaults.ViewportHeight),
			UserAgent:      getEnv("BROWSER_USER_AGENT", defaults.UserAgent),
			Locale:         getEnv("BROWSER_LOCALE", defaults.Locale),
			TimezoneID:     getEnv("BROWSER_TIMEZONE", defaults.TimezoneID),
			AcceptLanguage: getEnv("BROWSER_ACCEPT_LANGUAGE", defaults.AcceptLanguage),
			Proxy:          getEnv("BROWSER_PROXY", ""),
			SettleDelay:    getEnvDuration("BROWSER_SETTLE_DELAY", defaults.SettleDelay),
		},
		Scraper: ScraperConfig{
			MapMaxResults:    getEnvInt("SCRAPER_MAP_MAX_RESULTS", 20),
			SearchMaxResults: getEnvInt("SCRAPER_SEARCH_MAX_RESULTS", 20),
			RegistryBaseURL:  getEnv("SCRAPER_REGISTRY_BASE_URL", scraper.DefaultRegistryBaseURL),
			ItemsPerPage:     getEnvInt("SCRAPER_REGISTRY_ITEMS_PER_PAGE", scraper.DefaultItemsPerPage),
			SkipDetails:      getEnvBool("SCRAPER_REGISTRY_SKIP_DETAILS", false),
			RateLimitMin:     getEnvDuration("SCRAPER_RATE_LIMIT_MIN", time.Second),
			RateLimitMax:     getEnvDuration("SCRAPER_RATE_LIMIT_MAX", 3*time.Second),
			RequestsPerMin:   getEnvInt("SCRAPER_REQUESTS_PER_MINUTE", 30),
			Workers:          getEnvInt("SCRAPER_WORKERS", 2),
		},
		AI: AIConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Model:   getEnv("GEMINI_MODEL_NAME", ai.DefaultModel),
			BaseURL: getEnv("GEMINI_BASE_URL", ""),
			Timeout: getEnvDuration("GEMINI_TIMEOUT", 30*time.Second),
		},
		Consumer: ConsumerConfig{
			Group:     getEnv("CONSUMER_GROUP", "run-export-group"),
			Name:      getEnv("CONSUMER_NAME", "consumer-1"),
			ExportDir: getEnv("EXPORT_DIR", "exports"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPER_WORKERS must be at least 1")
	}
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}
	if c.Scraper.ItemsPerPage < 1 {
		return fmt.Errorf("SCRAPER_REGISTRY_ITEMS_PER_PAGE must be at least 1")
	}
	if c.Scraper.MapMaxResults < 1 {
		return fmt.Errorf("SCRAPER_MAP_MAX_RESULTS must be at least 1")
	}
	if c.Scraper.SearchMaxResults < 1 {
		return fmt.Errorf("SCRAPER_SEARCH_MAX_RESULTS must be at least 1")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// BrowserOptions converts the browser section for browser.New.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.UserAgent = c.Browser.UserAgent
	opts.Locale = c.Browser.Locale
	opts.TimezoneID = c.Browser.TimezoneID
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.ProxyServer = c.Browser.Proxy
	opts.SettleDelay = c.Browser.SettleDelay
	return opts
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.Name,
		SSLMode:  c.Database.SSLMode,
		MaxConns: c.Database.MaxConns,
	}
}

func (c *Config) AIConfig() ai.Config {
	return ai.Config{
		APIKey:  c.AI.APIKey,
		Model:   c.AI.Model,
		BaseURL: c.AI.BaseURL,
		Timeout: c.AI.Timeout,
	}
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
