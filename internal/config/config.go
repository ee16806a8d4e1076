package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Zachkp/portfolio/internal/contact"
	"github.com/Zachkp/portfolio/internal/logging"
	"github.com/Zachkp/portfolio/internal/mailer"
)

const (
	ProviderResend = "resend"
	ProviderSMTP   = "smtp"
)

// Config holds all configuration for the application
type Config struct {
	// Server Configuration
	Environment    string   `env:"ENV" envDefault:"development" validate:"oneof=development production test"`
	Port           string   `env:"PORT" envDefault:"8080" validate:"required,numeric"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Logging Configuration
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSize    int    `env:"LOG_MAX_SIZE" envDefault:"100" validate:"gt=0"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3" validate:"gte=0"`
	LogMaxAge     int    `env:"LOG_MAX_AGE" envDefault:"7" validate:"gte=0"`

	// Email Configuration. Missing addresses or credentials are reported per
	// request by the contact endpoint, not at startup.
	EmailProvider  string        `env:"EMAIL_PROVIDER" envDefault:"resend" validate:"oneof=resend smtp"`
	EmailTimeout   time.Duration `env:"EMAIL_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	ResendAPIKey   string        `env:"RESEND_API_KEY"`
	ResendEndpoint string        `env:"RESEND_ENDPOINT" validate:"omitempty,url"`
	ToEmail        string        `env:"CONTACT_TO_EMAIL"`
	FromEmail      string        `env:"CONTACT_FROM_EMAIL"`
	DirectEmail    string        `env:"CONTACT_DIRECT_EMAIL"`
	SMTPHost       string        `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort       string        `env:"SMTP_PORT" envDefault:"587" validate:"numeric"`
	SMTPUser       string        `env:"SMTP_USER"`
	SMTPPass       string        `env:"SMTP_PASS"`

	// Site Configuration
	SiteName string `env:"SITE_NAME"`
	SiteURL  string `env:"SITE_URL" validate:"omitempty,url"`
	LogoPath string `env:"LOGO_PATH" envDefault:"/logo.png" validate:"startswith=/"`

	// Abuse Protection
	ContactRatePerMinute float64 `env:"CONTACT_RATE_PER_MINUTE" envDefault:"5" validate:"gt=0"`
	ContactRateBurst     int     `env:"CONTACT_RATE_BURST" envDefault:"3" validate:"gt=0"`

	// Metrics Configuration
	StatsDBPath    string        `env:"STATS_DB_PATH"`
	StatsRetention time.Duration `env:"STATS_RETENTION" envDefault:"8760h" validate:"gt=0"`
	AdminToken     string        `env:"ADMIN_TOKEN"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	envFile := ".env"
	if name := os.Getenv("ENV"); name != "" {
		if _, err := os.Stat(".env." + name); err == nil {
			envFile = ".env." + name
		}
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	return Parse(nil)
}

// Parse builds a Config from the process environment, or from environment
// when it is non-nil.
func Parse(environment map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Logging maps the log settings onto the logger config.
func (c *Config) Logging() *logging.Config {
	return &logging.Config{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSize:    c.LogMaxSize,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAge,
		NoColor:    c.IsProduction(),
	}
}

// ContactSettings returns the relay settings. The provider credential is
// the Resend API key or the SMTP password depending on EMAIL_PROVIDER.
func (c *Config) ContactSettings() contact.Settings {
	apiKey := c.ResendAPIKey
	if c.EmailProvider == ProviderSMTP {
		apiKey = c.SMTPPass
	}
	return contact.Settings{
		APIKey:      apiKey,
		ToEmail:     c.ToEmail,
		FromEmail:   c.FromEmail,
		DirectEmail: c.DirectEmail,
		SiteName:    c.SiteName,
		SiteURL:     c.SiteURL,
		LogoPath:    c.LogoPath,
	}
}

// Sender builds the configured email provider.
func (c *Config) Sender() mailer.Sender {
	if c.EmailProvider == ProviderSMTP {
		return mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUser,
			Password: c.SMTPPass,
			Timeout:  c.EmailTimeout,
		})
	}
	return mailer.NewResendSender(c.ResendAPIKey, c.ResendEndpoint, c.EmailTimeout)
}
