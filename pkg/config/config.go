// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the YAML configuration of the platform and its
// load pipeline: parse, expand environment variables, apply defaults,
// validate.
package config

import (
	"fmt"

	"github.com/zetherion/zetherion/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Logging       LoggingConfig        `yaml:"logging"`
	Scheduler     SchedulerConfig      `yaml:"scheduler"`
	Health        HealthConfig         `yaml:"health"`
	Update        UpdateConfig         `yaml:"update"`
	Extraction    ExtractionConfig     `yaml:"extraction"`
	Observability observability.Config `yaml:"observability"`

	// OwnerID is bootstrapped as the owner role and receives critical
	// notifications.
	OwnerID string `yaml:"owner_id"`
}

// ServerConfig configures the skills HTTP server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APISecret guards every route except /health and /metrics. Empty
	// means the server runs open.
	APISecret string `yaml:"api_secret,omitempty"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	// Dialect is one of sqlite, postgres, mysql.
	Dialect string `yaml:"dialect,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty"`

	// File receives a copy of the log stream when set.
	File string `yaml:"file,omitempty"`
}

// SchedulerConfig seeds the heartbeat cadence. The live interval is a
// persisted setting; these values only apply on first boot.
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`

	// HeartbeatBudgetSeconds is the per-skill soft deadline. Zero means
	// interval divided by the number of skills.
	HeartbeatBudgetSeconds int `yaml:"heartbeat_budget_seconds,omitempty"`
}

// HealthConfig configures the health monitor skill.
type HealthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RetentionDays  int    `yaml:"retention_days,omitempty"`
	HealingEnabled bool   `yaml:"healing_enabled"`
	OllamaURL      string `yaml:"ollama_url,omitempty"`
}

// UpdateConfig configures the update watcher skill.
type UpdateConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OracleURL string `yaml:"oracle_url,omitempty"`

	// OraclePath defaults to /releases/latest.
	OraclePath string `yaml:"oracle_path,omitempty"`
	AutoApply  bool   `yaml:"auto_apply"`
}

// ExtractionConfig configures the tiered extraction pipeline.
type ExtractionConfig struct {
	// Tier2URL and Tier3URL point at the local and cloud model providers.
	// Empty disables the tier; tier 1 regex extraction always runs.
	Tier2URL   string `yaml:"tier2_url,omitempty"`
	Tier2Model string `yaml:"tier2_model,omitempty"`
	Tier3URL   string `yaml:"tier3_url,omitempty"`
	Tier3Model string `yaml:"tier3_model,omitempty"`

	// Tier3APIKey is sent as a bearer token; usually an env reference like
	// ${OPENAI_API_KEY}.
	Tier3APIKey string `yaml:"tier3_api_key,omitempty"`
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Dialect == "" {
		c.Database.Dialect = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "zetherion.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Scheduler.IntervalSeconds == 0 {
		c.Scheduler.IntervalSeconds = 300
	}
	if c.Health.RetentionDays == 0 {
		c.Health.RetentionDays = 7
	}
	if c.Update.OraclePath == "" {
		c.Update.OraclePath = "/releases/latest"
	}
}

// Validate checks the document for contradictions. Call after SetDefaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Database.Dialect {
	case "sqlite", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("database.dialect must be sqlite, postgres, or mysql, got %q", c.Database.Dialect)
	}
	switch c.Logging.Format {
	case "simple", "verbose":
	default:
		return fmt.Errorf("logging.format must be simple or verbose, got %q", c.Logging.Format)
	}
	if c.Scheduler.IntervalSeconds < 0 {
		return fmt.Errorf("scheduler.interval_seconds must not be negative")
	}
	if c.Scheduler.HeartbeatBudgetSeconds < 0 {
		return fmt.Errorf("scheduler.heartbeat_budget_seconds must not be negative")
	}
	if c.Health.RetentionDays < 1 {
		return fmt.Errorf("health.retention_days must be at least 1")
	}
	if c.Update.Enabled && c.Update.OracleURL == "" {
		return fmt.Errorf("update.oracle_url is required when update.enabled is true")
	}
	return nil
}
