package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Public      PublicConfig      `mapstructure:"public"`
	Email       EmailConfig       `mapstructure:"email"`
	SMS         SMSConfig         `mapstructure:"sms"`
	Lark        LarkConfig        `mapstructure:"lark"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AuthConfig holds the secret used to verify bearer tokens
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// WorkflowConfig holds purchase order workflow knobs
type WorkflowConfig struct {
	AutoCommitDefault   bool          `mapstructure:"auto_commit_default"`
	ResponseTokenTTL    time.Duration `mapstructure:"response_token_ttl"`
	FulfillmentTokenTTL time.Duration `mapstructure:"fulfillment_token_ttl"`
	HybridTopN          int           `mapstructure:"hybrid_top_n"`
	HandlerTimeout      time.Duration `mapstructure:"handler_timeout"`
}

// PublicConfig holds settings for the supplier-facing token routes
type PublicConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// EmailConfig holds SMTP configuration
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	GatewayURL    string        `mapstructure:"gateway_url"`
	APIKey        string        `mapstructure:"api_key"`
	Sender        string        `mapstructure:"sender"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	BaseURL     string `mapstructure:"base_url"`
	PromptsPath string `mapstructure:"prompts_path"`
}

// MaintenanceConfig holds the cron schedules of the maintenance worker
type MaintenanceConfig struct {
	TokenSweepSpec string        `mapstructure:"token_sweep_spec"`
	ReminderSpec   string        `mapstructure:"reminder_spec"`
	ReminderAge    time.Duration `mapstructure:"reminder_age"`
	ReminderBatch  int           `mapstructure:"reminder_batch"`
	TokenRetention time.Duration `mapstructure:"token_retention"`
}

// Load loads configuration from file and environment variables.
// Variables from envFiles (default ".env") are exported first and never
// override the process environment; a missing env file is ignored.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := gotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/purchase_orders.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 7)
	v.SetDefault("logger.max_age_days", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("auth.jwt_secret", "")

	// Workflow defaults
	v.SetDefault("workflow.auto_commit_default", true)
	v.SetDefault("workflow.response_token_ttl", 7*24*time.Hour)
	v.SetDefault("workflow.fulfillment_token_ttl", 30*24*time.Hour)
	v.SetDefault("workflow.hybrid_top_n", 3)
	v.SetDefault("workflow.handler_timeout", 30*time.Second)

	v.SetDefault("public.base_url", "http://localhost:8080")
	v.SetDefault("public.rate_per_second", 1.0)
	v.SetDefault("public.burst", 10)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "Purchasing")

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.gateway_url", "")
	v.SetDefault("sms.api_key", "")
	v.SetDefault("sms.sender", "")
	v.SetDefault("sms.rate_per_second", 1.0)
	v.SetDefault("sms.burst", 5)
	v.SetDefault("sms.timeout", 10*time.Second)

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.base_url", "")

	v.SetDefault("openai.enabled", false)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.prompts_path", "")

	// Maintenance defaults
	v.SetDefault("maintenance.token_sweep_spec", "@hourly")
	v.SetDefault("maintenance.reminder_spec", "0 8 * * *")
	v.SetDefault("maintenance.reminder_age", 72*time.Hour)
	v.SetDefault("maintenance.reminder_batch", 100)
	v.SetDefault("maintenance.token_retention", 30*24*time.Hour)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("email.password", "SMTP_PASSWORD")
	_ = v.BindEnv("sms.api_key", "SMS_API_KEY")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Workflow.ResponseTokenTTL <= 0 {
		return fmt.Errorf("workflow.response_token_ttl must be positive")
	}
	if c.Workflow.FulfillmentTokenTTL <= 0 {
		return fmt.Errorf("workflow.fulfillment_token_ttl must be positive")
	}
	if c.Workflow.HybridTopN <= 0 {
		return fmt.Errorf("workflow.hybrid_top_n must be positive")
	}

	if _, err := url.ParseRequestURI(c.Public.BaseURL); err != nil {
		return fmt.Errorf("public.base_url must be an absolute URL: %w", err)
	}
	if c.Public.RatePerSecond <= 0 || c.Public.Burst <= 0 {
		return fmt.Errorf("public.rate_per_second and public.burst must be positive")
	}

	if c.Email.Enabled {
		if c.Email.Host == "" {
			return fmt.Errorf("email.host is required when email is enabled")
		}
		if c.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}
	}

	if c.SMS.Enabled {
		if c.SMS.GatewayURL == "" {
			return fmt.Errorf("sms.gateway_url is required when sms is enabled")
		}
		if c.SMS.APIKey == "" {
			return fmt.Errorf("sms.api_key is required when sms is enabled")
		}
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required when openai is enabled")
	}

	for key, spec := range map[string]string{
		"maintenance.token_sweep_spec": c.Maintenance.TokenSweepSpec,
		"maintenance.reminder_spec":    c.Maintenance.ReminderSpec,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s is not a valid cron expression: %w", key, err)
		}
	}

	return nil
}
