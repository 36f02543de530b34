// Package config provides YAML-based configuration loading for the mentor bot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level bot configuration, loaded from config.yaml.
type Config struct {
	Slack       SlackConfig       `yaml:"slack"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	FollowUp    FollowUpConfig    `yaml:"followup"`
	Reservation ReservationConfig `yaml:"reservation"`
	Mention     MentionConfig     `yaml:"mention"`
	Retry       RetryConfig       `yaml:"retry"`
	HTTP        HTTPConfig        `yaml:"http"`
	Digest      DigestConfig      `yaml:"digest"`
	Log         LogConfig         `yaml:"log"`
}

// SlackConfig holds Slack credentials and the default mentor channel.
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	MentorChannel string `yaml:"mentor_channel"`
}

// DatabaseConfig selects the gorm dialect and DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the optional mentor roster cache. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl_sec"`
}

// FollowUpConfig holds the two follow-up delays in minutes.
type FollowUpConfig struct {
	ShortMin int `yaml:"short_min"`
	LongMin  int `yaml:"long_min"`
}

// ReservationConfig controls reservation dispatch.
type ReservationConfig struct {
	AutoResolveMin int    `yaml:"auto_resolve_min"`
	MorningHour    int    `yaml:"morning_hour"`
	Timezone       string `yaml:"timezone"`
}

// MentionConfig caps the number of mentors mentioned per question post.
type MentionConfig struct {
	MaxMentions int `yaml:"max_mentions"`
}

// RetryConfig bounds the retry wrapper around repository and chat calls.
type RetryConfig struct {
	TimeoutSec     int `yaml:"timeout_sec"`
	RepoAttempts   int `yaml:"repo_attempts"`
	NotifyAttempts int `yaml:"notify_attempts"`
}

// HTTPConfig configures the health and metrics server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// DigestConfig configures the daily unresolved-question digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first, if present, so
// that secrets can stay out of the YAML.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv("MENTOR_CHANNEL_ID"); v != "" {
		c.Slack.MentorChannel = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = p
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "mentorbot.db"
	}
	if c.Redis.TTLSec == 0 {
		c.Redis.TTLSec = 60
	}
	if c.FollowUp.ShortMin == 0 {
		c.FollowUp.ShortMin = 30
	}
	if c.FollowUp.LongMin == 0 {
		c.FollowUp.LongMin = 120
	}
	if c.Reservation.AutoResolveMin == 0 {
		c.Reservation.AutoResolveMin = 5
	}
	if c.Reservation.MorningHour == 0 {
		c.Reservation.MorningHour = 9
	}
	if c.Reservation.Timezone == "" {
		c.Reservation.Timezone = "Asia/Tokyo"
	}
	if c.Mention.MaxMentions == 0 {
		c.Mention.MaxMentions = 10
	}
	if c.Retry.TimeoutSec == 0 {
		c.Retry.TimeoutSec = 10
	}
	if c.Retry.RepoAttempts == 0 {
		c.Retry.RepoAttempts = 3
	}
	if c.Retry.NotifyAttempts == 0 {
		c.Retry.NotifyAttempts = 2
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 18 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required")
	}
	if c.Slack.AppToken == "" {
		errs = append(errs, "slack.app_token is required")
	}
	if c.Slack.MentorChannel == "" {
		errs = append(errs, "slack.mentor_channel is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.FollowUp.ShortMin < 0 || c.FollowUp.LongMin < 0 {
		errs = append(errs, "followup delays must not be negative")
	} else if c.FollowUp.LongMin <= c.FollowUp.ShortMin {
		errs = append(errs, "followup.long_min must be greater than followup.short_min")
	}
	if c.Reservation.AutoResolveMin < 0 {
		errs = append(errs, "reservation.auto_resolve_min must not be negative")
	}
	if c.Reservation.MorningHour < 0 || c.Reservation.MorningHour > 23 {
		errs = append(errs, "reservation.morning_hour must be between 0 and 23")
	}
	if _, err := time.LoadLocation(c.Reservation.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("reservation.timezone %q: %v", c.Reservation.Timezone, err))
	}
	if c.Mention.MaxMentions < 0 {
		errs = append(errs, "mention.max_mentions must not be negative")
	}
	if c.Retry.TimeoutSec < 0 || c.Retry.RepoAttempts < 0 || c.Retry.NotifyAttempts < 0 {
		errs = append(errs, "retry values must not be negative")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("digest.cron %q: %v", c.Digest.Cron, err))
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FollowUpDelays returns the short and long follow-up delays.
func (c *Config) FollowUpDelays() (time.Duration, time.Duration) {
	return time.Duration(c.FollowUp.ShortMin) * time.Minute, time.Duration(c.FollowUp.LongMin) * time.Minute
}

// AutoResolveDelay returns the reservation self-resolve window.
func (c *Config) AutoResolveDelay() time.Duration {
	return time.Duration(c.Reservation.AutoResolveMin) * time.Minute
}

// Location returns the reservation time zone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reservation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetryTimeout returns the per-attempt timeout.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.Retry.TimeoutSec) * time.Second
}

// CacheTTL returns the roster cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}
