// Package config loads planner settings from defaults, an optional YAML file and
// environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the planner.
type Config struct {
	DatabasePath   string         `yaml:"database_path"`
	Timezone       string         `yaml:"timezone"`
	Backup         BackupConfig   `yaml:"backup"`
	Cache          CacheConfig    `yaml:"cache"`
	IntegrityAt    string         `yaml:"integrity_at"`
	Log            LogConfig      `yaml:"log"`
	MetricsEnabled bool           `yaml:"metrics_enabled"`
	Telegram       TelegramConfig `yaml:"telegram"`
}

type BackupConfig struct {
	Dir       string          `yaml:"dir"`
	Interval  time.Duration   `yaml:"interval"`
	OnStartup bool            `yaml:"on_startup"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig mirrors service.RetentionPolicy; zero values keep nothing by that rule.
type RetentionConfig struct {
	KeepLast    int `yaml:"keep_last"`
	DailyDays   int `yaml:"daily_days"`
	WeeklyWeeks int `yaml:"weekly_weeks"`
}

type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelegramConfig struct {
	Token          string        `yaml:"token"`
	AllowedChatID  int64         `yaml:"allowed_chat_id"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		DatabasePath: "planner.db",
		Timezone:     "Local",
		Backup: BackupConfig{
			Dir:      "backups",
			Interval: 6 * time.Hour,
			Retention: RetentionConfig{
				KeepLast:    10,
				DailyDays:   7,
				WeeklyWeeks: 4,
			},
		},
		Cache: CacheConfig{
			Size: 256,
			TTL:  10 * time.Minute,
		},
		IntegrityAt: "03:30",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			ReportInterval: 5 * time.Hour,
		},
	}
}

// Load reads configuration. path may be empty, in which case PLANNER_CONFIG is consulted;
// a missing file at an implicit path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("PLANNER_CONFIG"))
		explicit = path != ""
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := env("DATABASE_URL"); v != "" {
		cfg.DatabasePath = v
	}
	if v := env("PLANNER_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := env("PLANNER_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if d := parseDuration(env("PLANNER_BACKUP_INTERVAL")); d > 0 {
		cfg.Backup.Interval = d
	}
	if v, ok := parseBool(env("PLANNER_BACKUP_ON_STARTUP")); ok {
		cfg.Backup.OnStartup = v
	}
	if v := env("PLANNER_INTEGRITY_AT"); v != "" {
		cfg.IntegrityAt = v
	}
	if n, ok := parseInt(env("PLANNER_CACHE_SIZE")); ok {
		cfg.Cache.Size = n
	}
	if v := env("PLANNER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("PLANNER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v, ok := parseBool(env("PLANNER_METRICS")); ok {
		cfg.MetricsEnabled = v
	}
	if v := env("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if n, ok := parseInt(env("TELEGRAM_CHAT_ID")); ok {
		cfg.Telegram.AllowedChatID = int64(n)
	}
	if d := parseInterval(env("REPORT_INTERVAL_HOURS")); d > 0 {
		cfg.Telegram.ReportInterval = d
	}
}

// Validate rejects settings the planner cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}
	r := c.Backup.Retention
	if r.KeepLast < 0 || r.DailyDays < 0 || r.WeeklyWeeks < 0 {
		return fmt.Errorf("backup.retention values must not be negative")
	}
	if r.KeepLast == 0 && r.DailyDays == 0 && r.WeeklyWeeks == 0 {
		return fmt.Errorf("backup.retention keeps nothing; set keep_last, daily_days or weekly_weeks")
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; "Local" and "" map to the process zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BackupDir resolves a relative backup dir against the database's directory.
func (c Config) BackupDir() string {
	if filepath.IsAbs(c.Backup.Dir) {
		return c.Backup.Dir
	}
	return filepath.Join(filepath.Dir(c.DatabasePath), c.Backup.Dir)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func parseBool(raw string) (bool, bool) {
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func parseInt(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
