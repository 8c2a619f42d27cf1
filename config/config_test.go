package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/lending"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No config file and no environment
	// WHEN: Loaded
	// THEN: Defaults match the default lending policy

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "credits.db", cfg.Database.Path)
	assert.Equal(t, "America/Mexico_City", cfg.Business.Timezone)
	assert.Equal(t, "@every 1h", cfg.Sweep.Schedule)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Empty(t, cfg.Auth.JWTSecret)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	def := lending.DefaultPolicy()
	assert.True(t, def.DailyPenaltyRate.Equal(policy.DailyPenaltyRate))
	assert.Equal(t, def.MaxCycles, policy.MaxCycles)
	assert.True(t, policy.RollDueDateOnInterest)
	assert.ElementsMatch(t, def.DiscountRoles, policy.DiscountRoles)
	assert.ElementsMatch(t, def.ManualRateRoles, policy.ManualRateRoles)
	assert.True(t, decimal.RequireFromString("0.10").Equal(policy.RateOptions[lending.RateReduced]))
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A YAML file and an environment override
	// WHEN: Loaded
	// THEN: The environment wins over the file, the file over defaults

	path := writeConfig(t, `
server:
  port: 9090
database:
  path: ":memory:"
business:
  timezone: UTC
lending:
  daily_penalty_rate: "0.03"
  max_cycles: 6
  roll_due_date_on_interest: false
  discount_roles: [admin]
refinance:
  rate_options:
    standard: "0.25"
sweep:
  schedule: "@daily"
`)
	t.Setenv("CREDIT_SERVER_PORT", "7070")
	t.Setenv("CREDIT_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "@daily", cfg.Sweep.Schedule)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.03").Equal(policy.DailyPenaltyRate))
	assert.Equal(t, 6, policy.MaxCycles)
	assert.False(t, policy.RollDueDateOnInterest)
	assert.Equal(t, []lending.Role{lending.RoleAdmin}, policy.DiscountRoles)
	assert.True(t, decimal.RequireFromString("0.25").Equal(policy.RateOptions[lending.RateStandard]))
	_, hasReduced := policy.RateOptions[lending.RateReduced]
	assert.False(t, hasReduced)

	clock, err := cfg.Clock()
	require.NoError(t, err)
	assert.Equal(t, "UTC", clock.Location.String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestPolicy_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unparseable penalty rate", func(c *Config) { c.Lending.DailyPenaltyRate = "two percent" }},
		{"negative penalty rate", func(c *Config) { c.Lending.DailyPenaltyRate = "-0.01" }},
		{"unknown role", func(c *Config) { c.Lending.DiscountRoles = []string{"janitor"} }},
		{"manual as menu entry", func(c *Config) { c.Refinance.RateOptions = map[string]string{"manual": "0.3"} }},
		{"zero menu rate", func(c *Config) { c.Refinance.RateOptions = map[string]string{"standard": "0"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			_, err = cfg.Policy()
			require.Error(t, err)
			assert.True(t, lending.IsClientError(err))
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"}, "")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logFile := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err = NewLogger(LoggingConfig{Format: "json", OutputFile: logFile}, "warn")
	require.NoError(t, err)
	logger.Warn("written")
	_ = logger.Sync()
	_, err = os.Stat(logFile)
	assert.NoError(t, err)

	_, err = NewLogger(LoggingConfig{Level: "loud"}, "")
	assert.Error(t, err)
	_, err = NewLogger(LoggingConfig{Format: "xml"}, "")
	assert.Error(t, err)
}
