package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the runner's output directory, relative to the
	// project root. It is cleared before every run.
	DefaultOutputDir = "test-results"

	// DefaultTestDir is the directory spec files are materialized into,
	// relative to the project root.
	DefaultTestDir = "tests"

	// DefaultConfigFile is the Playwright configuration file name.
	DefaultConfigFile = "playwright.config.ts"

	// DefaultBrowser is the browser project used when a run request does
	// not specify one.
	DefaultBrowser = "chromium"

	// DefaultVideosDir is the durable storage directory for run videos.
	DefaultVideosDir = "./public/videos"

	// DefaultListen is the API server listen address.
	DefaultListen = ":8080"
)

// Browsers is the set of supported browser projects.
var Browsers = map[string]struct{}{
	"chromium": {},
	"firefox":  {},
	"webkit":   {},
}

// Config is the root configuration for runnoor.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Project  ProjectConfig  `yaml:"project" mapstructure:"project"`
	Runner   RunnerConfig   `yaml:"runner" mapstructure:"runner"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Schedule ScheduleConfig `yaml:"schedule,omitempty" mapstructure:"schedule"`
}

// ProjectConfig describes the Playwright project directory layout.
type ProjectConfig struct {
	Root       string `yaml:"root" mapstructure:"root"`
	TestDir    string `yaml:"test_dir,omitempty" mapstructure:"test_dir"`
	OutputDir  string `yaml:"output_dir,omitempty" mapstructure:"output_dir"`
	ConfigFile string `yaml:"config_file,omitempty" mapstructure:"config_file"`
	BaseURL    string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// RunnerConfig controls how the external runner process is invoked.
type RunnerConfig struct {
	// Command is the argument vector used to launch the runner.
	Command        []string `yaml:"command,omitempty" mapstructure:"command"`
	DefaultBrowser string   `yaml:"default_browser,omitempty" mapstructure:"default_browser"`
	Workers        int      `yaml:"workers,omitempty" mapstructure:"workers"`
	Retries        int      `yaml:"retries,omitempty" mapstructure:"retries"`
	TimeoutMS      int      `yaml:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
}

// StorageConfig selects the durable artifact storage backend.
type StorageConfig struct {
	Backend string              `yaml:"backend,omitempty" mapstructure:"backend"`
	Local   *LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3      *S3StorageConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalStorageConfig configures the local public video directory.
type LocalStorageConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	PublicPath string `yaml:"public_path,omitempty" mapstructure:"public_path"`
}

// S3StorageConfig configures S3-compatible video storage.
type S3StorageConfig struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	PublicBaseURL   string `yaml:"public_base_url,omitempty" mapstructure:"public_base_url"`
}

// DatabaseConfig selects and configures the database driver.
type DatabaseConfig struct {
	Driver   string          `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig    `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen,omitempty" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig holds per-IP request rate limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// ScheduleConfig configures periodic whole-project sweeps.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Cron    string `yaml:"cron,omitempty" mapstructure:"cron"`
	Browser string `yaml:"browser,omitempty" mapstructure:"browser"`
}

// Load reads the configuration file at path, applies RUNNOOR_* environment
// overrides, and returns the parsed config with defaults applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RUNNOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Project.TestDir == "" {
		c.Project.TestDir = DefaultTestDir
	}

	if c.Project.OutputDir == "" {
		c.Project.OutputDir = DefaultOutputDir
	}

	if c.Project.ConfigFile == "" {
		c.Project.ConfigFile = DefaultConfigFile
	}

	if len(c.Runner.Command) == 0 {
		c.Runner.Command = []string{"npx", "playwright"}
	}

	if c.Runner.DefaultBrowser == "" {
		c.Runner.DefaultBrowser = DefaultBrowser
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}

	if c.Storage.Backend == "local" && c.Storage.Local == nil {
		c.Storage.Local = &LocalStorageConfig{Dir: DefaultVideosDir}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "runnoor.db"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}

	if c.Schedule.Enabled && c.Schedule.Browser == "" {
		c.Schedule.Browser = c.Runner.DefaultBrowser
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project.root is required")
	}

	if _, err := os.Stat(c.Project.Root); os.IsNotExist(err) {
		return fmt.Errorf("project root %q does not exist", c.Project.Root)
	}

	if !IsValidBrowser(c.Runner.DefaultBrowser) {
		return fmt.Errorf("unknown default browser %q", c.Runner.DefaultBrowser)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local == nil || c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required for the local backend")
		}
	case "s3":
		if c.Storage.S3 == nil || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	switch c.Database.Driver {
	case "sqlite":
		dir := filepath.Dir(c.Database.SQLite.Path)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("sqlite directory %q does not exist", dir)
			}
		}
	case "postgres":
		if c.Database.Postgres == nil || c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Schedule.Enabled {
		if c.Schedule.Cron == "" {
			return fmt.Errorf("schedule.cron is required when scheduling is enabled")
		}

		if !IsValidBrowser(c.Schedule.Browser) {
			return fmt.Errorf("unknown schedule browser %q", c.Schedule.Browser)
		}
	}

	return nil
}

// IsValidBrowser reports whether the given browser project is supported.
func IsValidBrowser(browser string) bool {
	_, ok := Browsers[browser]

	return ok
}

// OutputDirPath returns the absolute path of the runner output directory.
func (c *Config) OutputDirPath() string {
	return filepath.Join(c.Project.Root, c.Project.OutputDir)
}

// TestDirPath returns the absolute path of the spec file directory.
func (c *Config) TestDirPath() string {
	return filepath.Join(c.Project.Root, c.Project.TestDir)
}

// ConfigFilePath returns the absolute path of the Playwright config file.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.Project.Root, c.Project.ConfigFile)
}
