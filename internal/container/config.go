// Package container provides dependency injection and lifecycle management
// for the purchase order workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/po-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/sms"
	"github.com/garyjia/po-workflow/internal/infrastructure/worker"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Workflow WorkflowConfig

	// Channels that are nil stay disabled
	Email  *email.Config
	SMS    *sms.Config
	Lark   *lark.Config
	OpenAI *OpenAIConfig

	Maintenance worker.MaintenanceConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// JWTSecret verifies bearer tokens on the authenticated routes
	JWTSecret string
	Version   string

	// PublicBaseURL prefixes the supplier links sent by email and SMS
	PublicBaseURL       string
	PublicRatePerSecond float64
	PublicBurst         int
}

// WorkflowConfig holds purchase order workflow settings.
type WorkflowConfig struct {
	AutoCommitDefault   bool
	ResponseTokenTTL    time.Duration
	FulfillmentTokenTTL time.Duration
	HybridTopN          int

	// HandlerTimeout bounds each asynchronous side effect
	HandlerTimeout time.Duration
}

// OpenAIConfig holds rejection classifier settings.
type OpenAIConfig struct {
	openai.Config

	// PromptsPath overrides the embedded prompts when set
	PromptsPath string
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/purchase_orders.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        30 * time.Second,
			ShutdownTimeout:     10 * time.Second,
			Version:             "dev",
			PublicBaseURL:       "http://localhost:8080",
			PublicRatePerSecond: 1,
			PublicBurst:         10,
		},
		Workflow: WorkflowConfig{
			AutoCommitDefault:   true,
			ResponseTokenTTL:    7 * 24 * time.Hour,
			FulfillmentTokenTTL: 30 * 24 * time.Hour,
			HybridTopN:          3,
			HandlerTimeout:      30 * time.Second,
		},
		Maintenance: worker.DefaultMaintenanceConfig(),
	}
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Workflow.ResponseTokenTTL <= 0 || c.Workflow.FulfillmentTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Workflow.HybridTopN <= 0 {
		return fmt.Errorf("hybrid top-n must be positive")
	}
	if c.SMS != nil && (c.SMS.GatewayURL == "" || c.SMS.APIKey == "") {
		return fmt.Errorf("sms gateway url and api key are required when sms is enabled")
	}
	if c.Lark != nil && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark app id and secret are required when lark is enabled")
	}
	if c.OpenAI != nil && c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key is required when classification is enabled")
	}
	return nil
}
