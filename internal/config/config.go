// Package config provides configuration loading for the Slack data mirror.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the mirror reads.
const EnvPrefix = "SLACKDATA"

// ErrSlackNotConfigured is returned when an operation needs the Slack bot token
// and none is configured.
var ErrSlackNotConfigured = errors.New("SLACKDATA_SLACK_BOT_TOKEN is not set")

// ErrSummaryNotConfigured is returned when summarization is requested without an
// Anthropic API key.
var ErrSummaryNotConfigured = errors.New("SLACKDATA_ANTHROPIC_API_KEY is not set")

// Config holds all configuration for the mirror.
type Config struct {
	// Storage
	DatabaseURL string
	AutoMigrate bool

	// Slack settings
	SlackBotToken    string
	APIRatePerMinute int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Ingestion settings
	BackfillDays         int
	PageSize             int
	MaxThreadsPollPerRun int
	Workers              int
	ChannelPatterns      []string
	Schedule             string
	ReportChannelID      string
	MetricsAddr          string

	// Summarization settings
	AnthropicAPIKey       string
	SummaryModel          string
	SummaryLanguage       string
	SummaryLookbackDays   int
	MaxMessagesForSummary int

	LogLevel string
}

// Load loads configuration from an optional .env file and environment variables.
func Load() (*Config, error) {
	LoadDotEnv()

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		DatabaseURL:           v.GetString("DATABASE_URL"),
		AutoMigrate:           v.GetBool("AUTO_MIGRATE"),
		SlackBotToken:         v.GetString("SLACK_BOT_TOKEN"),
		APIRatePerMinute:      v.GetInt("API_RATE_PER_MINUTE"),
		RetryMaxAttempts:      v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBaseDelay:        v.GetDuration("RETRY_BASE_DELAY"),
		RetryMaxDelay:         v.GetDuration("RETRY_MAX_DELAY"),
		BackfillDays:          v.GetInt("BACKFILL_DAYS"),
		PageSize:              v.GetInt("PAGE_SIZE"),
		MaxThreadsPollPerRun:  v.GetInt("MAX_THREADS_POLL_PER_RUN"),
		Workers:               v.GetInt("WORKERS"),
		ChannelPatterns:       splitList(v.GetString("CHANNEL_PATTERNS")),
		Schedule:              v.GetString("SCHEDULE"),
		ReportChannelID:       v.GetString("REPORT_CHANNEL_ID"),
		MetricsAddr:           v.GetString("METRICS_ADDR"),
		AnthropicAPIKey:       v.GetString("ANTHROPIC_API_KEY"),
		SummaryModel:          v.GetString("SUMMARY_MODEL"),
		SummaryLanguage:       v.GetString("SUMMARY_LANGUAGE"),
		SummaryLookbackDays:   v.GetInt("SUMMARY_LOOKBACK_DAYS"),
		MaxMessagesForSummary: v.GetInt("MAX_MESSAGES_PER_THREAD_FOR_SUMMARY"),
		LogLevel:              v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads an optional .env file from the working directory. Variables
// already present in the environment win.
func LoadDotEnv() {
	// A missing .env is the normal case in deployed environments.
	_ = godotenv.Load()
}

// LogLevel returns the level named by SLACKDATA_LOG_LEVEL. Call LoadDotEnv
// first so a level set only in .env is seen.
func LogLevel() slog.Level {
	return ParseLogLevel(os.Getenv(EnvPrefix + "_LOG_LEVEL"))
}

// ParseLogLevel maps debug, warn and error to their slog levels; anything
// else is info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("API_RATE_PER_MINUTE", 50)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "8s")
	v.SetDefault("BACKFILL_DAYS", 14)
	v.SetDefault("PAGE_SIZE", 200)
	v.SetDefault("MAX_THREADS_POLL_PER_RUN", 300)
	v.SetDefault("WORKERS", 1)
	v.SetDefault("SCHEDULE", "*/30 * * * *")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("SUMMARY_MODEL", "claude-sonnet-4-5")
	v.SetDefault("SUMMARY_LANGUAGE", "en")
	v.SetDefault("SUMMARY_LOOKBACK_DAYS", 14)
	v.SetDefault("MAX_MESSAGES_PER_THREAD_FOR_SUMMARY", 80)
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "SLACKDATA_DATABASE_URL is required")
	}
	if c.BackfillDays < 1 || c.BackfillDays > 90 {
		errs = append(errs, fmt.Sprintf("SLACKDATA_BACKFILL_DAYS %d out of range [1, 90]", c.BackfillDays))
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("SLACKDATA_PAGE_SIZE %d out of range [1, 1000]", c.PageSize))
	}
	if c.MaxThreadsPollPerRun < 1 {
		errs = append(errs, "SLACKDATA_MAX_THREADS_POLL_PER_RUN must be positive")
	}
	if c.Workers < 1 {
		errs = append(errs, "SLACKDATA_WORKERS must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, "SLACKDATA_RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, "SLACKDATA_RETRY_BASE_DELAY must be positive and not exceed SLACKDATA_RETRY_MAX_DELAY")
	}
	if c.APIRatePerMinute < 0 {
		errs = append(errs, "SLACKDATA_API_RATE_PER_MINUTE must not be negative")
	}
	for _, pattern := range c.ChannelPatterns {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Sprintf("SLACKDATA_CHANNEL_PATTERNS entry %q is not a valid glob", pattern))
		}
	}
	g := gronx.New()
	if !g.IsValid(c.Schedule) {
		errs = append(errs, fmt.Sprintf("SLACKDATA_SCHEDULE %q is not a valid cron expression", c.Schedule))
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireSlack reports whether the Slack bot token is configured.
func (c *Config) RequireSlack() error {
	if c.SlackBotToken == "" {
		return ErrSlackNotConfigured
	}
	return nil
}

// RequireSummary reports whether summarization credentials are configured.
func (c *Config) RequireSummary() error {
	if c.AnthropicAPIKey == "" {
		return ErrSummaryNotConfigured
	}
	return nil
}

// BackfillWindow returns the configured backfill as a duration.
func (c *Config) BackfillWindow() time.Duration {
	return time.Duration(c.BackfillDays) * 24 * time.Hour
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
