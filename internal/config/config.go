// =============================================================================
// NF-e Supplier Classifier - Configuration Module
// =============================================================================
//
// This module loads the main application configuration (config.yaml).
//
// CONFIGURATION SOURCES (later wins):
//   1. Built-in defaults (Default)
//   2. The YAML file, when present
//   3. Environment: LOOKUP_DSN replaces lookup.dsn so credentials can stay
//      out of the file
//
// The result is validated once with go-playground/validator. Messages use
// the YAML key names.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "config.yaml"

// EnvLookupDSN overrides lookup.dsn.
const EnvLookupDSN = "LOOKUP_DSN"

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputDirName is the folder created next to the input directory that
	// receives the classified tree.
	// Default: "ARQUIVOS CLASSIFICADOS"
	OutputDirName string `yaml:"output_dir_name" validate:"required,excludesall=/\\"`

	// MaxPath is the longest destination path accepted without truncation.
	// Default: 250
	MaxPath int `yaml:"max_path" validate:"gte=32"`

	// TruncWidth is the width the supplier folder is cut to when MaxPath is exceeded.
	// Default: 20
	TruncWidth int `yaml:"trunc_width" validate:"gte=1,ltefield=NameLimit"`

	// NameLimit is the maximum length of a cleaned supplier or accumulator name.
	// Default: 80
	NameLimit int `yaml:"name_limit" validate:"gte=1"`

	// =========================================================================
	// CLASSIFICATION SETTINGS
	// =========================================================================

	// RegistryFile optionally replaces the built-in CFOP group table.
	RegistryFile string `yaml:"registry_file" validate:"omitempty,file"`

	// Workers is the number of documents classified concurrently in Stage-1.
	// Set to 1 for sequential processing.
	// Default: 4
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Default: "info"
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// LogFormat is "console" or "json".
	// Default: "console"
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// =========================================================================
	// COLLABORATORS
	// =========================================================================

	Lookup LookupConfig `yaml:"lookup"`
	Server ServerConfig `yaml:"server"`
	Upload UploadConfig `yaml:"upload"`
}

// LookupConfig selects the ledger and supplier master source.
type LookupConfig struct {
	// Driver is pgx, sqlite, workbook or csv. Required only when a run defers
	// documents to Stage-2.
	Driver string `yaml:"driver" validate:"omitempty,oneof=pgx sqlite workbook csv"`

	// DSN is the connection string, the workbook path or the CSV folder.
	DSN string `yaml:"dsn"`

	// Schema qualifies the accounting tables.
	// Default: "bethadba"
	Schema string `yaml:"schema" validate:"omitempty,identifier"`

	// DocumentKind is the species code of the invoices read from the ledger.
	// Default: 36
	DocumentKind int `yaml:"document_kind" validate:"gte=0"`

	// Timeout bounds each lookup query. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ServerConfig configures the HTTP job endpoint.
type ServerConfig struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string `yaml:"addr" validate:"required"`

	// WorkDir holds the per-job folders and the finished bundles.
	// Default: "./tmp"
	WorkDir string `yaml:"work_dir" validate:"required"`

	// AllowedOrigins feeds the CORS middleware. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ArchiveRetention is how long finished bundles are kept for download.
	// Default: 24h
	ArchiveRetention time.Duration `yaml:"archive_retention" validate:"gte=0"`

	// MaxUploadMB bounds the multipart body.
	// Default: 512
	MaxUploadMB int64 `yaml:"max_upload_mb" validate:"gte=1"`
}

// UploadConfig optionally publishes each bundle to Cloud Storage.
type UploadConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the built-in configuration.
func Default() *MainConfig {
	c := &MainConfig{}
	applyMainConfigDefaults(c)
	return c
}

// LoadMainConfig reads configPath, applies defaults and environment overrides
// and validates the result.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(&config)
}

// LoadOrDefault is LoadMainConfig, except that a missing file yields the
// defaults (still subject to environment overrides).
func LoadOrDefault(configPath string) (*MainConfig, error) {
	cfg, err := LoadMainConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(&MainConfig{})
	}
	return cfg, err
}

func finish(config *MainConfig) (*MainConfig, error) {
	applyMainConfigDefaults(config)
	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.OutputDirName == "" {
		config.OutputDirName = "ARQUIVOS CLASSIFICADOS"
	}
	if config.MaxPath == 0 {
		config.MaxPath = 250
	}
	if config.TruncWidth == 0 {
		config.TruncWidth = 20
	}
	if config.NameLimit == 0 {
		config.NameLimit = 80
	}
	if config.Workers == 0 {
		config.Workers = 4
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "console"
	}
	if config.Lookup.Schema == "" {
		config.Lookup.Schema = "bethadba"
	}
	if config.Lookup.DocumentKind == 0 {
		config.Lookup.DocumentKind = 36
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.WorkDir == "" {
		config.Server.WorkDir = "./tmp"
	}
	if config.Server.ArchiveRetention == 0 {
		config.Server.ArchiveRetention = 24 * time.Hour
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 512
	}
}

func applyEnvOverrides(config *MainConfig) {
	if dsn, ok := os.LookupEnv(EnvLookupDSN); ok && dsn != "" {
		config.Lookup.DSN = dsn
	}
}
