// Package config loads tasksync settings from tasksync.toml, the
// environment and an optional .env file.
//
// Precedence, highest first: TASKSYNC_* environment variables (including
// ones loaded from .env), the config file, built-in defaults. Nested keys
// map to env names with dots replaced by underscores, so remote.url is
// TASKSYNC_REMOTE_URL.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the config file base name searched for on the config path.
const FileName = "tasksync.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TASKSYNC"

// Remote kinds.
const (
	RemoteNone   = "none"
	RemoteMemory = "memory"
	RemoteHTTP   = "http"
	RemoteDir    = "dir"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every tasksync setting.
type Config struct {
	DBPath   string `mapstructure:"db_path"`
	Timezone string `mapstructure:"timezone"`

	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// RemoteConfig selects and configures the remote record service.
type RemoteConfig struct {
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls background synchronization.
type SyncConfig struct {
	Schedule string        `mapstructure:"schedule"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig controls the dashboard server.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config path; it must exist when set
	ConfigFile string

	// EnvFile is loaded into the environment first when it exists
	// (default: .env)
	EnvFile string

	// SearchPaths overrides the directories searched for tasksync.toml
	// (default: ".", then the user config dir)
	SearchPaths []string
}

// defaults returns the built-in settings as nested maps, the shape both
// viper.SetDefault and the TOML writer use.
func defaults() map[string]any {
	return map[string]any{
		"db_path":         DefaultDBPath(),
		"timezone":        "",
		"log_file":        "",
		"log_max_size_mb": 10,
		"log_max_backups": 3,
		"remote": map[string]any{
			"kind":    RemoteNone,
			"url":     "",
			"dir":     "",
			"timeout": "30s",
		},
		"sync": map[string]any{
			"schedule": "@every 1m",
			"debounce": "500ms",
		},
		"dashboard": map[string]any{
			"host": "127.0.0.1",
			"port": 8080,
		},
	}
}

// Load reads the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if envFile != "-" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, "", defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths()
		}
		if len(paths) > 0 {
			v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
			v.SetConfigType("toml")
			for _, p := range paths {
				v.AddConfigPath(p)
			}
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("failed to read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, prefix+key+".", nested)
			continue
		}
		v.SetDefault(prefix+key, value)
	}
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalid)
	}

	switch c.Remote.Kind {
	case RemoteNone, RemoteMemory:
	case RemoteHTTP:
		if c.Remote.URL == "" {
			return fmt.Errorf("%w: remote.url is required for the http remote", ErrInvalid)
		}
	case RemoteDir:
		if c.Remote.Dir == "" {
			return fmt.Errorf("%w: remote.dir is required for the dir remote", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: remote.kind %q (want none, memory, http or dir)", ErrInvalid, c.Remote.Kind)
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("%w: remote.timeout must be positive", ErrInvalid)
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("%w: sync.debounce must not be negative", ErrInvalid)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("%w: dashboard.port %d out of range", ErrInvalid, c.Dashboard.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the configured time zone, time.Local when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// LogWriter returns where daemon and server logs go: a rotating file when
// log_file is set, stderr otherwise. Close the writer on shutdown.
func (c *Config) LogWriter() io.WriteCloser {
	if c.LogFile == "" {
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		LocalTime:  true,
	}
}

// NewLogger returns a logger writing to w with a bracketed component prefix.
func NewLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// DefaultSearchPaths returns the directories searched for tasksync.toml.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "tasksync"))
	}
	return paths
}

// DefaultDBPath returns the default database location under the user's
// data directory.
func DefaultDBPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tasksync", "tasks.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "tasksync", "tasks.db")
	}
	return "tasks.db"
}

// WriteDefault writes a config file holding the built-in defaults. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, "# tasksync configuration. Every key can be overridden with a\n# TASKSYNC_ environment variable, e.g. TASKSYNC_REMOTE_KIND=dir.\n\n"); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(defaults()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}
