package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	coreagg "github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "KLAVIYO_SYNC_"

	// APIKeyEnv is read when klaviyo.api_key is not configured.
	APIKeyEnv = "KLAVIYO_API_KEY"
)

// Warehouse backends.
const (
	WarehousePostgres   = "postgres"
	WarehouseBigQuery   = "bigquery"
	WarehouseClickHouse = "clickhouse"
	WarehouseMemory     = "memory"
)

// Config represents the top-level application config.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Klaviyo    KlaviyoConfig    `koanf:"klaviyo"`
	Report     ReportConfig     `koanf:"report"`
	Warehouse  WarehouseConfig  `koanf:"warehouse"`
	Database   DatabaseConfig   `koanf:"database"`
	BigQuery   BigQueryConfig   `koanf:"bigquery"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type KlaviyoConfig struct {
	APIKey            string  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	Revision          string  `koanf:"revision"`
	Timeout           string  `koanf:"timeout"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// EffectiveAPIKey returns the configured key, falling back to $KLAVIYO_API_KEY.
func (c KlaviyoConfig) EffectiveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(APIKeyEnv)
}

type ReportConfig struct {
	MessageID         string `koanf:"message_id"`
	WindowStart       string `koanf:"window_start"` // YYYY-MM-DD, inclusive
	WindowEnd         string `koanf:"window_end"`   // YYYY-MM-DD, exclusive
	Interval          string `koanf:"interval"`
	SubscriberSegment string `koanf:"subscriber_segment"`
	Timezone          string `koanf:"timezone"` // IANA name; run days are computed here
}

// Window parses the reporting window.
func (c ReportConfig) Window() (coreagg.Window, error) {
	return coreagg.ParseWindow(c.WindowStart, c.WindowEnd)
}

// Location resolves Timezone. "Local" and empty both mean the host zone.
func (c ReportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

type WarehouseConfig struct {
	Type  string `koanf:"type"`
	Table string `koanf:"table"` // bigquery, clickhouse and memory; postgres uses its migrated table
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type BigQueryConfig struct {
	ProjectID       string `koanf:"project_id"`
	Dataset         string `koanf:"dataset"`
	Location        string `koanf:"location"`
	CredentialsFile string `koanf:"credentials_file"`
}

type ClickHouseConfig struct {
	DSN string `koanf:"dsn"`
}

type SchedulerConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Interval   string `koanf:"interval"`
	RunOnStart bool   `koanf:"run_on_start"`
}

var validIntervals = map[string]bool{"hour": true, "day": true, "week": true, "month": true}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Klaviyo.EffectiveAPIKey()) == "" {
		return fmt.Errorf("klaviyo.api_key is required (or set %s)", APIKeyEnv)
	}
	if strings.TrimSpace(c.Klaviyo.BaseURL) == "" {
		return fmt.Errorf("klaviyo.base_url is required")
	}
	if _, err := time.ParseDuration(c.Klaviyo.Timeout); err != nil {
		return fmt.Errorf("invalid klaviyo.timeout %q: %w", c.Klaviyo.Timeout, err)
	}
	if c.Klaviyo.RequestsPerSecond < 0 {
		return fmt.Errorf("klaviyo.requests_per_second must be >= 0")
	}
	if c.Klaviyo.RequestsPerSecond > 0 && c.Klaviyo.Burst <= 0 {
		return fmt.Errorf("klaviyo.burst must be > 0 when rate limiting is enabled")
	}

	if strings.TrimSpace(c.Report.MessageID) == "" {
		return fmt.Errorf("report.message_id is required")
	}
	if _, err := c.Report.Window(); err != nil {
		return fmt.Errorf("invalid report window: %w", err)
	}
	if !validIntervals[c.Report.Interval] {
		return fmt.Errorf("invalid report.interval %q (must be hour, day, week or month)", c.Report.Interval)
	}
	if _, err := c.Report.Location(); err != nil {
		return fmt.Errorf("invalid report.timezone %q: %w", c.Report.Timezone, err)
	}

	switch c.Warehouse.Type {
	case WarehousePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres warehouse")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	case WarehouseBigQuery:
		if c.BigQuery.ProjectID == "" || c.BigQuery.Dataset == "" {
			return fmt.Errorf("bigquery.project_id and bigquery.dataset are required for the bigquery warehouse")
		}
	case WarehouseClickHouse:
		if strings.TrimSpace(c.ClickHouse.DSN) == "" {
			return fmt.Errorf("clickhouse.dsn is required for the clickhouse warehouse")
		}
	case WarehouseMemory:
	default:
		return fmt.Errorf("unsupported warehouse.type %q", c.Warehouse.Type)
	}

	if c.Scheduler.Enabled {
		interval, err := time.ParseDuration(c.Scheduler.Interval)
		if err != nil {
			return fmt.Errorf("invalid scheduler.interval %q: %w", c.Scheduler.Interval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("scheduler.interval must be > 0")
		}
	}

	return nil
}

// Load reads envFile (if present) into the process environment, then parses
// defaults, the YAML file and KLAVIYO_SYNC_ env vars in that order, and validates.
// Nested keys use a double underscore: KLAVIYO_SYNC_REPORT__MESSAGE_ID.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.mode":                 "release",
		"klaviyo.base_url":            "https://a.klaviyo.com/api",
		"klaviyo.revision":            "2024-02-15",
		"klaviyo.timeout":             "30s",
		"klaviyo.requests_per_second": 3.0,
		"klaviyo.burst":               3,
		"report.message_id":           "UjjW7L",
		"report.window_start":         "2023-12-01",
		"report.window_end":           "2024-04-30",
		"report.interval":             "month",
		"report.subscriber_segment":   "All Subscribers Segment",
		"report.timezone":             "Local",
		"warehouse.type":              WarehousePostgres,
		"warehouse.table":             "email_metrics",
		"database.max_open_conns":     5,
		"database.max_idle_conns":     5,
		"scheduler.enabled":           false,
		"scheduler.interval":          "24h",
		"scheduler.run_on_start":      false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
