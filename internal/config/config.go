package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/gmcnew/migrate-chests/internal/migrate/match"
	"github.com/gmcnew/migrate-chests/internal/persistence/staging"
)

//go:embed config.schema.json
var schemaJSON string

type Config struct {
	StagingPath string `yaml:"staging_path" json:"staging_path"`
	SearchLimit int    `yaml:"search_limit" json:"search_limit"`
	LedgerPath  string `yaml:"ledger_path" json:"ledger_path"`
	BackupDir   string `yaml:"backup_dir" json:"backup_dir"`
	Progress    bool   `yaml:"progress" json:"progress"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
}

func Defaults() Config {
	return Config{
		StagingPath: staging.DefaultPath,
		SearchLimit: match.SearchLimit,
		Progress:    true,
		LogLevel:    "info",
	}
}

// Load reads a YAML config on top of Defaults. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := validateSchema(b); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.StagingPath = strings.TrimSpace(c.StagingPath)
	c.LedgerPath = strings.TrimSpace(c.LedgerPath)
	c.BackupDir = strings.TrimSpace(c.BackupDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.StagingPath == "" {
		c.StagingPath = staging.DefaultPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c Config) Validate() error {
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search_limit must be positive, got %d", c.SearchLimit)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

var schema = jsonschema.MustCompileString("config.schema.json", schemaJSON)

// validateSchema checks the raw YAML document against the embedded schema.
// The document goes through JSON so the validator sees JSON value types.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	jb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not a plain mapping: %w", err)
	}
	var v any
	d := json.NewDecoder(bytes.NewReader(jb))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}
