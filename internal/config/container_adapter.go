package config

import (
	"github.com/garyjia/po-workflow/internal/container"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/sms"
	"github.com/garyjia/po-workflow/internal/infrastructure/worker"
)

// ToContainerConfig converts the file-based configuration into the
// container's configuration. Disabled channels are left nil.
func (c *Config) ToContainerConfig(version string) *container.Config {
	cfg := &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:                c.Server.Host,
			Port:                c.Server.Port,
			ReadTimeout:         c.Server.ReadTimeout,
			WriteTimeout:        c.Server.WriteTimeout,
			ShutdownTimeout:     c.Server.ShutdownTimeout,
			JWTSecret:           c.Auth.JWTSecret,
			Version:             version,
			PublicBaseURL:       c.Public.BaseURL,
			PublicRatePerSecond: c.Public.RatePerSecond,
			PublicBurst:         c.Public.Burst,
		},
		Workflow: container.WorkflowConfig{
			AutoCommitDefault:   c.Workflow.AutoCommitDefault,
			ResponseTokenTTL:    c.Workflow.ResponseTokenTTL,
			FulfillmentTokenTTL: c.Workflow.FulfillmentTokenTTL,
			HybridTopN:          c.Workflow.HybridTopN,
			HandlerTimeout:      c.Workflow.HandlerTimeout,
		},
		Maintenance: worker.MaintenanceConfig{
			TokenSweepSpec: c.Maintenance.TokenSweepSpec,
			ReminderSpec:   c.Maintenance.ReminderSpec,
			ReminderAge:    c.Maintenance.ReminderAge,
			ReminderBatch:  c.Maintenance.ReminderBatch,
			TokenRetention: c.Maintenance.TokenRetention,
		},
	}

	if c.Email.Enabled {
		cfg.Email = &email.Config{
			Host:     c.Email.Host,
			Port:     c.Email.Port,
			Username: c.Email.Username,
			Password: c.Email.Password,
			From:     c.Email.From,
			FromName: c.Email.FromName,
		}
	}

	if c.SMS.Enabled {
		cfg.SMS = &sms.Config{
			GatewayURL:    c.SMS.GatewayURL,
			APIKey:        c.SMS.APIKey,
			Sender:        c.SMS.Sender,
			RatePerSecond: c.SMS.RatePerSecond,
			Burst:         c.SMS.Burst,
			Timeout:       c.SMS.Timeout,
		}
	}

	if c.Lark.Enabled {
		cfg.Lark = &lark.Config{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		}
	}

	if c.OpenAI.Enabled {
		cfg.OpenAI = &container.OpenAIConfig{
			Config: openai.Config{
				APIKey:  c.OpenAI.APIKey,
				Model:   c.OpenAI.Model,
				BaseURL: c.OpenAI.BaseURL,
			},
			PromptsPath: c.OpenAI.PromptsPath,
		}
	}

	return cfg
}
