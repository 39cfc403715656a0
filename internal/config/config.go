// Package config assembles the service configuration from defaults, an
// optional YAML file and SEGTAG_* environment variables. Command-line flags
// are applied by the caller on top of Load's result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"segtag/internal/blob"
	"segtag/internal/category"
	"segtag/internal/logging"
	"segtag/internal/persistence"
	"segtag/internal/traverse"
)

// Categories selects the category table.
type Categories struct {
	// Version names a built-in table. Ignored when File is set.
	Version string `yaml:"version"`
	// File is a YAML table {version, categories: [{name, display}]}.
	File string `yaml:"file"`
}

// Config is the full service configuration.
type Config struct {
	Listen     string             `yaml:"listen" validate:"required"`
	Document   string             `yaml:"document"`
	Tags       string             `yaml:"tags"`
	Watch      bool               `yaml:"watch"`
	Restore    bool               `yaml:"restore"`
	SplitBase  int                `yaml:"split_base" validate:"oneof=0 1"`
	Policy     string             `yaml:"policy" validate:"omitempty,oneof=all unlabeled unlabeled-only"`
	Categories Categories         `yaml:"categories"`
	Root       blob.Config        `yaml:"root"`
	Artifacts  blob.Config        `yaml:"artifacts"`
	Storage    persistence.Config `yaml:"storage"`
	Log        logging.Config     `yaml:"log"`
	TraceFile  string             `yaml:"trace_file"`
	Expvar     bool               `yaml:"expvar"`
	// ExportsPerMinute caps export job submissions; zero disables the cap.
	ExportsPerMinute int `yaml:"exports_per_minute" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:     "127.0.0.1:8080",
		SplitBase:  1,
		Policy:     "all",
		Restore:    true,
		Categories: Categories{Version: category.DefaultVersion},
		Root:       blob.Config{Driver: blob.DriverFilesystem},
		Artifacts:  blob.Config{Driver: blob.DriverFilesystem, Root: "segtag-artifacts", Create: true},
		Storage:    persistence.Config{Driver: persistence.DriverSQLite, SQLitePath: "segtag.db"},
		Log:        logging.Config{Level: "info", Format: "auto"},
	}
}

var validate = validator.New()

// Load reads path (optional) over the defaults, applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := traverse.ParsePolicy(c.Policy); !ok {
		return fmt.Errorf("invalid config: unknown policy %q", c.Policy)
	}
	if c.Storage.Driver == persistence.DriverPostgres && c.Storage.PostgresDSN == "" {
		return errors.New("invalid config: storage.postgres_dsn is required for the postgres driver")
	}
	if c.Root.Driver == blob.DriverS3 && c.Root.S3.Bucket == "" {
		return errors.New("invalid config: root.s3.bucket is required for the s3 driver")
	}
	if c.Artifacts.Driver == blob.DriverS3 && c.Artifacts.S3.Bucket == "" {
		return errors.New("invalid config: artifacts.s3.bucket is required for the s3 driver")
	}
	return nil
}

// TraversalPolicy parses Policy.
func (c Config) TraversalPolicy() traverse.Policy {
	p, _ := traverse.ParsePolicy(c.Policy)
	return p
}

// CategoryTable loads the configured table.
func (c Config) CategoryTable() (*category.Table, error) {
	if c.Categories.File != "" {
		return category.LoadFile(c.Categories.File)
	}
	version := c.Categories.Version
	if version == "" {
		version = category.DefaultVersion
	}
	return category.Builtin(version)
}

// ApplyEnv overrides cfg from SEGTAG_* variables looked up through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	driver := func(name string, dst *blob.Driver) {
		if v, ok := lookup(name); ok {
			*dst = blob.Driver(v)
		}
	}

	str("SEGTAG_LISTEN", &cfg.Listen)
	str("SEGTAG_DOCUMENT", &cfg.Document)
	str("SEGTAG_TAGS", &cfg.Tags)
	boolean("SEGTAG_WATCH", &cfg.Watch)
	boolean("SEGTAG_RESTORE", &cfg.Restore)
	integer("SEGTAG_SPLIT_BASE", &cfg.SplitBase)
	str("SEGTAG_POLICY", &cfg.Policy)
	str("SEGTAG_CATEGORIES_VERSION", &cfg.Categories.Version)
	str("SEGTAG_CATEGORIES_FILE", &cfg.Categories.File)

	driver("SEGTAG_ROOT_DRIVER", &cfg.Root.Driver)
	str("SEGTAG_ROOT", &cfg.Root.Root)
	str("SEGTAG_ROOT_S3_BUCKET", &cfg.Root.S3.Bucket)
	str("SEGTAG_ROOT_S3_PREFIX", &cfg.Root.S3.Prefix)
	str("SEGTAG_ROOT_S3_REGION", &cfg.Root.S3.Region)
	str("SEGTAG_ROOT_S3_ENDPOINT", &cfg.Root.S3.Endpoint)
	boolean("SEGTAG_ROOT_S3_PATH_STYLE", &cfg.Root.S3.PathStyle)

	driver("SEGTAG_ARTIFACTS_DRIVER", &cfg.Artifacts.Driver)
	str("SEGTAG_ARTIFACTS_DIR", &cfg.Artifacts.Root)
	str("SEGTAG_ARTIFACTS_S3_BUCKET", &cfg.Artifacts.S3.Bucket)
	str("SEGTAG_ARTIFACTS_S3_PREFIX", &cfg.Artifacts.S3.Prefix)
	str("SEGTAG_ARTIFACTS_S3_REGION", &cfg.Artifacts.S3.Region)
	str("SEGTAG_ARTIFACTS_S3_ENDPOINT", &cfg.Artifacts.S3.Endpoint)
	boolean("SEGTAG_ARTIFACTS_S3_PATH_STYLE", &cfg.Artifacts.S3.PathStyle)

	if v, ok := lookup("SEGTAG_STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = persistence.Driver(v)
	}
	str("SEGTAG_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("SEGTAG_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("SEGTAG_BADGER_PATH", &cfg.Storage.BadgerPath)

	str("SEGTAG_LOG_LEVEL", &cfg.Log.Level)
	str("SEGTAG_LOG_FORMAT", &cfg.Log.Format)
	str("SEGTAG_TRACE_FILE", &cfg.TraceFile)
	boolean("SEGTAG_EXPVAR", &cfg.Expvar)
	integer("SEGTAG_EXPORTS_PER_MINUTE", &cfg.ExportsPerMinute)
	return errors.Join(errs...)
}
