// Package config loads process configuration. Values come from, in
// precedence order: explicit environment variables, a .env file in the
// working directory, an optional YAML config file, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all backend configuration.
type Config struct {
	// HTTP server
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`

	// SQLite database file
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH" envDefault:"data/khyanalt.db"`

	// Image storage
	StoragePath     string `yaml:"storage_path" env:"FTP_STORAGE_PATH" envDefault:"data/uploads"`
	PublicURLBase   string `yaml:"public_url_base" env:"PUBLIC_URL_BASE" envDefault:"http://localhost:8080"`
	PublicURLPrefix string `yaml:"public_url_prefix" env:"PUBLIC_URL_PREFIX" envDefault:"uploads"`

	// Report template
	TemplateDir  string `yaml:"template_dir" env:"REPORT_TEMPLATE_DIR" envDefault:"templates"`
	TemplateFile string `yaml:"template_file" env:"REPORT_TEMPLATE_FILE" envDefault:"inspection_report.docx"`

	// Embedded image bounding boxes (pixels)
	ReportImageWidth  int `yaml:"report_image_width" env:"REPORT_IMAGE_WIDTH" envDefault:"150"`
	ReportImageHeight int `yaml:"report_image_height" env:"REPORT_IMAGE_HEIGHT" envDefault:"200"`

	// SMTP
	SMTP SMTPConfig `yaml:"smtp"`

	// Auth
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTTTL    time.Duration `yaml:"jwt_ttl" env:"JWT_TTL" envDefault:"72h"`

	// Logging
	LogDir    string `yaml:"log_dir" env:"LOG_DIR" envDefault:"data/logs"`
	DebugMode bool   `yaml:"debug_mode" env:"DEBUG_MODE" envDefault:"false"`
}

// SMTPConfig configures the completion/assignment mail transport.
type SMTPConfig struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env:"SMTP_PORT" envDefault:"587"`
	UseTLS   bool          `yaml:"use_tls" env:"SMTP_TLS" envDefault:"true"`
	Username string        `yaml:"username" env:"SMTP_USERNAME"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	From     string        `yaml:"from" env:"SMTP_FROM"`
	Timeout  time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a transport is configured at all.
func (s *SMTPConfig) Enabled() bool { return s.Host != "" && s.From != "" }

// Addr returns host:port.
func (s *SMTPConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Load builds the configuration. path may name a YAML file applied between
// defaults and the environment; pass "" to skip the overlay.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		// Re-apply only the variables that are set, without defaults, so
		// the environment still beats the file.
		if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "envNoDefault"}); err != nil {
			return nil, fmt.Errorf("failed to parse environment: %w", err)
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides handles legacy variable names kept for deployment
// compatibility. env.Parse has already run; these only fill gaps.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" && os.Getenv("LISTEN_ADDR") == "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.ListenAddr = fmt.Sprintf(":%d", p)
		}
	}
	if v := os.Getenv("MAIL_FROM"); v != "" && c.SMTP.From == "" {
		c.SMTP.From = v
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ReportImageWidth <= 0 || c.ReportImageHeight <= 0 {
		return fmt.Errorf("report image dimensions must be positive")
	}
	return nil
}
