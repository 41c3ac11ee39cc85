// Package config loads the YAML pipeline document and turns it into the
// collaborators the engine runs with.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/notify"
	"github.com/loykin/piperun/internal/secret"
	"github.com/loykin/piperun/internal/store"
	"github.com/loykin/piperun/internal/store/postgresql"
	"github.com/loykin/piperun/pkg/env"
	"github.com/loykin/piperun/pkg/stage"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load.
const (
	DefaultArtifactRoot = ".piperun"
	DefaultServiceName  = "piperun"
)

// DefaultPassEnv are the process variables copied into the base environment
// when pass_env is not set.
var DefaultPassEnv = []string{"PATH", "HOME", "TMPDIR", "LANG"}

type EnvConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Value        string `mapstructure:"value" yaml:"value"`
	ValueFromEnv string `mapstructure:"valueFromEnv" yaml:"valueFromEnv"`
}

type SQLiteStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type StoreConfig struct {
	Disabled    bool              `mapstructure:"disabled" yaml:"disabled"`
	Type        string            `mapstructure:"type" yaml:"type"`
	TablePrefix string            `mapstructure:"table_prefix" yaml:"table_prefix"`
	SQLite      SQLiteStoreConfig `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres    postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
}

type NotifyConfig struct {
	Transport  string                 `mapstructure:"transport" yaml:"transport"`
	Config     map[string]interface{} `mapstructure:"config" yaml:"config"`
	Recipients []string               `mapstructure:"recipients" yaml:"recipients"`
	Templates  notify.Templates       `mapstructure:"templates" yaml:"templates"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // default true
	Color         *bool  `mapstructure:"color" yaml:"color"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string `mapstructure:"exporter" yaml:"exporter"` // stdout, none
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Document is a pipeline definition file.
type Document struct {
	Version      string          `yaml:"version"`
	Name         string          `yaml:"name"`
	Workspace    string          `yaml:"workspace"`
	ArtifactRoot string          `yaml:"artifact_root"`
	DashboardURL string          `yaml:"dashboard_url"`
	EnvFile      string          `yaml:"env_file"`
	PassEnv      []string        `yaml:"pass_env"`
	Env          []EnvConfig     `yaml:"env"`
	Secrets      []secret.Spec   `yaml:"secrets"`
	Stages       []stage.Stage   `yaml:"stages"`
	Notify       NotifyConfig    `yaml:"notify"`
	Store        StoreConfig     `yaml:"store"`
	Logging      LoggingConfig   `yaml:"logging"`
	Telemetry    TelemetryConfig `yaml:"telemetry"`

	// BaseDir is the directory relative paths are resolved against.
	BaseDir string `yaml:"-"`
}

// Load reads, schema-checks and decodes the document at path. Relative paths
// inside it are resolved against the document's directory.
func Load(path string) (*Document, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- the pipeline path is chosen by the operator
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(clean))
	if err != nil {
		return nil, err
	}
	return Parse(data, abs)
}

// Parse validates data against the schema and decodes it.
func Parse(data []byte, baseDir string) (*Document, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	d.BaseDir = baseDir
	d.applyDefaults()
	return &d, nil
}

func (d *Document) applyDefaults() {
	if d.BaseDir == "" {
		d.BaseDir = "."
	}
	d.Workspace = d.resolve(d.Workspace, ".")
	d.ArtifactRoot = d.resolve(d.ArtifactRoot, DefaultArtifactRoot)
	if d.EnvFile != "" {
		d.EnvFile = d.resolve(d.EnvFile, "")
	}
	if d.PassEnv == nil {
		d.PassEnv = append([]string(nil), DefaultPassEnv...)
	}
	if d.Store.SQLite.Path == "" {
		d.Store.SQLite.Path = filepath.Join(d.ArtifactRoot, store.DbFileName)
	} else {
		d.Store.SQLite.Path = d.resolve(d.Store.SQLite.Path, "")
	}
	if d.Telemetry.ServiceName == "" {
		d.Telemetry.ServiceName = DefaultServiceName
	}
}

func (d *Document) resolve(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(d.BaseDir, p)
}

// Registry validates the stage list.
func (d *Document) Registry() (*stage.Registry, error) {
	return stage.NewRegistry(d.Stages...)
}

// BaseEnv builds the sealed base environment: pass_env variables from the
// process, then env_file entries, then env entries. Later sources win.
func (d *Document) BaseEnv() (*env.Env, error) {
	m := map[string]string{}
	for _, n := range d.PassEnv {
		if v, ok := os.LookupEnv(n); ok {
			m[n] = v
		}
	}
	if d.EnvFile != "" {
		file, err := godotenv.Read(d.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("env_file %s: %w", d.EnvFile, err)
		}
		for k, v := range file {
			m[k] = v
		}
	}
	logger := common.GetLogger().WithComponent("config")
	for i, kv := range d.Env {
		name := strings.TrimSpace(kv.Name)
		if name == "" {
			return nil, fmt.Errorf("env[%d]: missing name", i)
		}
		val := kv.Value
		if from := strings.TrimSpace(kv.ValueFromEnv); val == "" && from != "" {
			val = os.Getenv(from)
			if val == "" {
				logger.Warn("env variable requested but empty or not set", "name", name, "env_var", from)
			}
		}
		m[name] = val
	}
	return env.NewBase(m), nil
}

// SecretProvider builds the provider chain. With no providers configured the
// env provider with its default prefix is used.
func (d *Document) SecretProvider() (secret.Provider, error) {
	if len(d.Secrets) == 0 {
		return secret.New("env", nil)
	}
	return secret.FromSpecs(d.Secrets)
}

// Dispatcher builds the notification dispatcher.
func (d *Document) Dispatcher() (*notify.Dispatcher, error) {
	t, err := notify.NewTransport(d.Notify.Transport, d.Notify.Config)
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(t, d.Notify.Recipients, d.Notify.Templates)
}

// StoreConfig returns the run store settings, or nil when the store is
// disabled.
func (d *Document) StoreConfig() *store.Config {
	if d.Store.Disabled {
		return nil
	}
	cfg := &store.Config{Driver: d.Store.Type, TablePrefix: d.Store.TablePrefix}
	switch strings.ToLower(strings.TrimSpace(d.Store.Type)) {
	case store.DriverPostgresql, "postgres":
		pg := d.Store.Postgres
		cfg.Driver = store.DriverPostgresql
		cfg.DriverConfig = &pg
	default:
		cfg.Driver = store.DriverSqlite
		cfg.DriverConfig = &store.SqliteConfig{Path: d.Store.SQLite.Path}
	}
	return cfg
}

// SetupLogging configures the global logger from the logging section.
func (d *Document) SetupLogging() error {
	return d.Logging.Apply()
}

// Apply installs a logger built from c as the process default.
func (c LoggingConfig) Apply() error {
	level, ok := common.ParseLogLevel(c.Level)
	if !ok {
		return fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Level)
	}
	format := strings.ToLower(strings.TrimSpace(c.Format))
	switch format {
	case "", "text":
		if c.Color != nil && *c.Color {
			format = "color"
		} else {
			format = "text"
		}
	case "json", "color", "colour":
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Format)
	}
	masking := true
	if c.MaskSensitive != nil {
		masking = *c.MaskSensitive
	}
	common.EnableMasking(masking)
	logger := common.NewLoggerTo(os.Stderr, format, level)
	common.SetDefaultLogger(logger)
	logger.Debug("logging configured", "level", level.String(), "format", format, "mask_sensitive", masking)
	return nil
}

// ErrNoStages is returned by Check for a document without stages.
var ErrNoStages = errors.New("pipeline declares no stages")

// Check runs every validation short of executing anything: the registry,
// the base environment, secret providers and the notification transport.
func (d *Document) Check() (*stage.Registry, error) {
	if len(d.Stages) == 0 {
		return nil, ErrNoStages
	}
	reg, err := d.Registry()
	if err != nil {
		return nil, err
	}
	var errs []error
	if _, err := d.BaseEnv(); err != nil {
		errs = append(errs, err)
	}
	if _, err := d.SecretProvider(); err != nil {
		errs = append(errs, err)
	}
	if _, err := d.Dispatcher(); err != nil {
		errs = append(errs, err)
	}
	if cfg := d.StoreConfig(); cfg != nil {
		if _, err := store.TableNamesFor(cfg.TablePrefix); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, errors.Join(errs...)
}
