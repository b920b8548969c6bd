package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears variables for the duration of the test
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalYAML = `
auth:
  jwt_secret: yaml-secret
public:
  base_url: https://po.example.com
email:
  enabled: true
  host: smtp.example.com
  from: orders@example.com
`

func TestLoad_FileAndDefaults(t *testing.T) {
	unsetEnv(t, "JWT_SECRET", "PO_SERVER_PORT")
	path := writeFile(t, "config.yaml", minimalYAML)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "yaml-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "https://po.example.com", cfg.Public.BaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Workflow.AutoCommitDefault)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.ResponseTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Workflow.FulfillmentTokenTTL)
	assert.Equal(t, 3, cfg.Workflow.HybridTopN)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.Equal(t, "@hourly", cfg.Maintenance.TokenSweepSpec)
	assert.Equal(t, 72*time.Hour, cfg.Maintenance.ReminderAge)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", minimalYAML)
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PO_SERVER_PORT", "9090")
	t.Setenv("PO_WORKFLOW_RESPONSE_TOKEN_TTL", "48h")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Workflow.ResponseTokenTTL)
}

func TestLoad_EnvFile(t *testing.T) {
	unsetEnv(t, "JWT_SECRET", "PO_SERVER_PORT", "OPENAI_API_KEY")
	envFile := writeFile(t, ".env", "JWT_SECRET=file-secret\nOPENAI_API_KEY=sk-test\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.Public.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	unsetEnv(t, "JWT_SECRET", "PO_SERVER_PORT")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := writeFile(t, "config.yaml", "server:\n  port: 8081\n")
	_, err = Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "po.db"},
		Auth:     AuthConfig{JWTSecret: "s"},
		Workflow: WorkflowConfig{
			ResponseTokenTTL:    time.Hour,
			FulfillmentTokenTTL: time.Hour,
			HybridTopN:          3,
		},
		Public:      PublicConfig{BaseURL: "https://po.example.com", RatePerSecond: 1, Burst: 1},
		Maintenance: MaintenanceConfig{TokenSweepSpec: "@hourly", ReminderSpec: "0 8 * * *"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"zero ttl", func(c *Config) { c.Workflow.ResponseTokenTTL = 0 }, "response_token_ttl"},
		{"relative base url", func(c *Config) { c.Public.BaseURL = "po.example.com" }, "public.base_url"},
		{"email without host", func(c *Config) { c.Email.Enabled = true; c.Email.From = "a@b.c" }, "email.host"},
		{"sms without key", func(c *Config) { c.SMS.Enabled = true; c.SMS.GatewayURL = "https://sms" }, "sms.api_key"},
		{"lark without secret", func(c *Config) { c.Lark.Enabled = true; c.Lark.AppID = "cli_x" }, "lark.app_secret"},
		{"openai without key", func(c *Config) { c.OpenAI.Enabled = true }, "openai.api_key"},
		{"disabled channels need nothing", func(c *Config) { c.SMS.GatewayURL = ""; c.Lark.AppID = "" }, ""},
		{"bad cron", func(c *Config) { c.Maintenance.ReminderSpec = "every morning" }, "maintenance.reminder_spec"},
		{"empty cron disables job", func(c *Config) { c.Maintenance.TokenSweepSpec = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToContainerConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Workflow.AutoCommitDefault = true
	cfg.Email = EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 2525, From: "po@example.com"}
	cfg.SMS = SMSConfig{Enabled: false, GatewayURL: "https://sms.example.com"}
	cfg.OpenAI = OpenAIConfig{Enabled: true, APIKey: "sk-test", Model: "gpt-4o-mini", PromptsPath: "prompts.yaml"}

	out := cfg.ToContainerConfig("1.2.3")

	assert.Equal(t, "po.db", out.Database.Path)
	assert.Equal(t, "s", out.Server.JWTSecret)
	assert.Equal(t, "1.2.3", out.Server.Version)
	assert.Equal(t, "https://po.example.com", out.Server.PublicBaseURL)
	assert.True(t, out.Workflow.AutoCommitDefault)
	assert.Equal(t, "@hourly", out.Maintenance.TokenSweepSpec)

	require.NotNil(t, out.Email)
	assert.Equal(t, 2525, out.Email.Port)
	assert.Nil(t, out.SMS)
	assert.Nil(t, out.Lark)
	require.NotNil(t, out.OpenAI)
	assert.Equal(t, "sk-test", out.OpenAI.APIKey)
	assert.Equal(t, "prompts.yaml", out.OpenAI.PromptsPath)
}
