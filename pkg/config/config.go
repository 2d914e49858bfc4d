// Package config loads runtime configuration. Values come from the
// environment first, with an optional YAML file filling in what the
// environment leaves unset. Credentials never appear here; they resolve
// through pkg/secrets at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Timezone names the location used for daily-note keys and digest windows.
	Timezone string `yaml:"timezone" validate:"required"`

	// BatchSize caps how many candidates one invocation processes.
	BatchSize int `yaml:"batch_size" validate:"min=1,max=100"`

	Vault     VaultConfig     `yaml:"vault"`
	Classify  ClassifyConfig  `yaml:"classify"`
	TickTick  TickTickConfig  `yaml:"ticktick"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	GCP       GCPConfig       `yaml:"gcp"`
	Journal   JournalConfig   `yaml:"journal"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// VaultConfig locates the vault and its fixed folders.
type VaultConfig struct {
	// Backend selects the document store: "drive" or "local".
	Backend string `yaml:"backend" validate:"oneof=drive local"`

	// RootID is the vault root: a Drive folder ID, or a directory path for
	// the local backend.
	RootID string `yaml:"root_id" validate:"required"`

	// InboxID and ArchiveID are store IDs for the capture inbox and archive.
	InboxID   string `yaml:"inbox_id" validate:"required"`
	ArchiveID string `yaml:"archive_id" validate:"required"`

	// ClaimsID is the folder holding claim markers.
	ClaimsID string `yaml:"claims_id" validate:"required"`

	// DailyNotesFolder is the daily-notes path relative to the vault root.
	DailyNotesFolder string `yaml:"daily_notes_folder" validate:"required"`
}

type ClassifyConfig struct {
	Model string `yaml:"model" validate:"required"`
}

type TickTickConfig struct {
	BaseURL string `yaml:"base_url"`
}

type TelegramConfig struct {
	ChatID string `yaml:"chat_id"`
}

type GCPConfig struct {
	// ProjectID enables the Secret Manager source when set.
	ProjectID string `yaml:"project_id"`
}

type JournalConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// Interval is the periodic batch trigger in serve mode. Zero disables it.
	Interval time.Duration `yaml:"interval"`

	// WatchPath, when set with the local backend, triggers a batch on
	// filesystem events under the inbox.
	WatchPath string `yaml:"watch_path"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Timezone:  "Europe/Rome",
		BatchSize: 15,
		Vault: VaultConfig{
			Backend:          "drive",
			DailyNotesFolder: "Daily Notes",
		},
		Classify: ClassifyConfig{Model: "gemini-2.0-flash"},
		Journal:  JournalConfig{Path: "snapvault.db"},
		Server: ServerConfig{
			Addr:     ":8080",
			Interval: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{LogLevel: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

// Location resolves the configured timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyEnv(cfg *Config) {
	setString(&cfg.Timezone, "SNAPVAULT_TIMEZONE")
	setInt(&cfg.BatchSize, "SNAPVAULT_BATCH_SIZE")

	setString(&cfg.Vault.Backend, "SNAPVAULT_VAULT_BACKEND")
	setString(&cfg.Vault.RootID, "DRIVE_VAULT_ROOT_FOLDER_ID")
	setString(&cfg.Vault.InboxID, "DRIVE_INBOX_FOLDER_ID")
	setString(&cfg.Vault.ArchiveID, "DRIVE_ARCHIVE_FOLDER_ID")
	setString(&cfg.Vault.ClaimsID, "DRIVE_CLAIMS_FOLDER_ID")
	setString(&cfg.Vault.DailyNotesFolder, "SNAPVAULT_DAILY_NOTES_FOLDER")

	setString(&cfg.Classify.Model, "GEMINI_MODEL")
	setString(&cfg.TickTick.BaseURL, "TICKTICK_API_BASE")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.GCP.ProjectID, "GCP_PROJECT_ID")

	setString(&cfg.Journal.Path, "SNAPVAULT_JOURNAL_PATH")
	setString(&cfg.Server.Addr, "SNAPVAULT_LISTEN_ADDR")
	setDuration(&cfg.Server.Interval, "SNAPVAULT_RUN_INTERVAL")
	setString(&cfg.Server.WatchPath, "SNAPVAULT_WATCH_PATH")

	setString(&cfg.Telemetry.LogLevel, "LOG_LEVEL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
