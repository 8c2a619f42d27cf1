// Package config loads the server configuration from an optional YAML file
// and CREDIT_-prefixed environment variables, and turns it into the values
// the rest of the engine consumes: a lending policy, a business clock and a
// zap logger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/lending"
)

// EnvPrefix prefixes every environment override, e.g. CREDIT_SERVER_PORT.
const EnvPrefix = "CREDIT"

// Config holds all configuration for the credit engine server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Business  BusinessConfig  `mapstructure:"business"`
	Lending   LendingConfig   `mapstructure:"lending"`
	Refinance RefinanceConfig `mapstructure:"refinance"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // ":memory:" for an in-memory database
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputFile string `mapstructure:"output_file"` // optional file output
}

// BusinessConfig fixes where penalty days start and end.
type BusinessConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LendingConfig mirrors lending.Policy. Rates are strings so they reach
// decimal without a float round trip.
type LendingConfig struct {
	DailyPenaltyRate      string   `mapstructure:"daily_penalty_rate"`
	MaxCycles             int      `mapstructure:"max_cycles"`
	RollDueDateOnInterest bool     `mapstructure:"roll_due_date_on_interest"`
	DiscountRoles         []string `mapstructure:"discount_roles"`
	ManualRateRoles       []string `mapstructure:"manual_rate_roles"`
}

type RefinanceConfig struct {
	// RateOptions maps menu entries to monthly rates. A configured menu
	// replaces the default one as a whole.
	RateOptions map[string]string `mapstructure:"rate_options"`
}

type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

type AuthConfig struct {
	// JWTSecret switches role extraction to HS256 bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.path", "credits.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_file", "")
	v.SetDefault("business.timezone", "America/Mexico_City")
	v.SetDefault("lending.daily_penalty_rate", "0.025")
	v.SetDefault("lending.max_cycles", 3)
	v.SetDefault("lending.roll_due_date_on_interest", true)
	v.SetDefault("lending.discount_roles", []string{"admin", "supervisor"})
	v.SetDefault("lending.manual_rate_roles", []string{"admin"})
	v.SetDefault("sweep.schedule", "@every 1h")
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("auth.jwt_secret", "")
}

// Load reads the YAML file at path, if any, applies environment overrides
// and returns the merged configuration. An empty path uses defaults and
// the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Policy builds the lending policy through the policy factory, so the file
// and the JSON policy definitions share one set of validation rules.
func (c *Config) Policy() (lending.Policy, error) {
	pj := factory.PolicyJSON{
		MaxCycles:             c.Lending.MaxCycles,
		RollDueDateOnInterest: &c.Lending.RollDueDateOnInterest,
		DiscountRoles:         c.Lending.DiscountRoles,
		ManualRateRoles:       c.Lending.ManualRateRoles,
	}

	if c.Lending.DailyPenaltyRate != "" {
		rate, err := decimal.NewFromString(c.Lending.DailyPenaltyRate)
		if err != nil {
			return lending.Policy{}, &lending.ValidationError{Field: "lending.daily_penalty_rate", Message: err.Error()}
		}
		pj.DailyPenaltyRate = &rate
	}

	if len(c.Refinance.RateOptions) > 0 {
		pj.RateOptions = make(map[string]decimal.Decimal, len(c.Refinance.RateOptions))
		for name, raw := range c.Refinance.RateOptions {
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return lending.Policy{}, &lending.ValidationError{Field: "refinance.rate_options." + name, Message: err.Error()}
			}
			pj.RateOptions[name] = rate
		}
	}

	policy, err := factory.NewPolicyFactory().FromJSON(pj)
	if err != nil {
		return lending.Policy{}, fmt.Errorf("failed to build lending policy: %w", err)
	}
	return policy, nil
}

// Clock returns the business clock for the configured timezone.
func (c *Config) Clock() (*lending.BusinessClock, error) {
	return lending.NewBusinessClock(c.Business.Timezone)
}

// NewLogger creates a zap logger from the logging configuration. A non-empty
// levelOverride takes precedence over the configured level.
func NewLogger(cfg LoggingConfig, levelOverride string) (*zap.Logger, error) {
	level := cfg.Level
	if levelOverride != "" {
		level = levelOverride
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	format := cfg.Format
	if format == "" {
		format = "json"
	}

	var zc zap.Config
	switch format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel)

	if cfg.OutputFile != "" {
		if dir := filepath.Dir(cfg.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		zc.OutputPaths = []string{cfg.OutputFile}
		zc.ErrorOutputPaths = []string{cfg.OutputFile}
	}

	return zc.Build()
}
