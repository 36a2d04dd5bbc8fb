package config

import (
	"fmt"
	"strings" // For LogLevel normalization
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"mediscout/internal/domain/auth"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	Username string `env:"MEDICOVER_USER"`
	Password string `env:"MEDICOVER_PASS"`

	RefreshTimeSeconds int    `env:"REFRESH_TIME_S" envDefault:"60"`
	PollCron           string `env:"POLL_CRON"` // Overrides REFRESH_TIME_S when set, e.g. "*/2 7-22 * * *"

	DatabaseURL string `env:"DATABASE_URL" envDefault:"db/appointments.db"` // File path for SQLite or postgres:// URL

	TelegramToken  string `env:"NOTIFIERS_TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"NOTIFIERS_TELEGRAM_CHAT_ID"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	LoginURL    string        `env:"MEDICOVER_LOGIN_URL" envDefault:"https://login-online24.medicover.pl"`
	RedirectURL string        `env:"MEDICOVER_REDIRECT_URL" envDefault:"https://online24.medicover.pl/signin-oidc"`
	APIURL      string        `env:"MEDICOVER_API_URL" envDefault:"https://api-gateway-online24.medicover.pl"`
	UserAgent   string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	MaxReauth   int           `env:"MAX_REAUTH" envDefault:"1"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if cfg.RefreshTimeSeconds <= 0 {
		return nil, fmt.Errorf("invalid REFRESH_TIME_S: must be positive, got %d", cfg.RefreshTimeSeconds)
	}
	if cfg.MaxReauth < 0 {
		return nil, fmt.Errorf("invalid MAX_REAUTH: must not be negative, got %d", cfg.MaxReauth)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	return cfg, nil
}

// Identity returns the login secrets, failing when either one is unset.
// Only commands that talk to the API need it.
func (c *AppConfig) Identity() (auth.Identity, error) {
	id := auth.Identity{Username: c.Username, Password: c.Password}
	if c.Username == "" {
		return id, fmt.Errorf("MEDICOVER_USER is not set")
	}
	if c.Password == "" {
		return id, fmt.Errorf("MEDICOVER_PASS is not set")
	}
	return id, nil
}

// PollInterval is REFRESH_TIME_S as a duration.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.RefreshTimeSeconds) * time.Second
}

// TelegramEnabled reports whether both Telegram settings are present.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
