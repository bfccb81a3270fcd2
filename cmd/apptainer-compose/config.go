package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all tool configuration.
type Config struct {
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Stack   StackConfig   `mapstructure:"stack"`
	Log     LogConfig     `mapstructure:"log"`
}

// RuntimeConfig holds container runtime invocation configuration.
type RuntimeConfig struct {
	// Binary is the runtime executable name or path. Both apptainer and
	// singularity speak the same command surface.
	Binary string `mapstructure:"binary"`

	// StartTimeout bounds how long a started instance may take to register
	// before it is killed and reported as failed.
	StartTimeout time.Duration `mapstructure:"start_timeout"`

	// StopTimeout is the graceful shutdown window before an instance is
	// killed.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// StackConfig holds project lifecycle configuration.
type StackConfig struct {
	// ArtifactsDir overrides where definition files, images and hosts files
	// are written. Relative paths anchor at the project directory. Empty
	// selects the default directory under the project.
	ArtifactsDir string `mapstructure:"artifacts_dir"`

	// Parallel is the maximum number of mutually independent services
	// started concurrently. Values below 2 start strictly sequentially.
	Parallel int `mapstructure:"parallel"`

	// AbortOnFailure tears the whole project down when any service fails,
	// instead of continuing with services unrelated to the failure.
	AbortOnFailure bool `mapstructure:"abort_on_failure"`

	// WritableTmpfs overlays a writable tmpfs on every instance.
	WritableTmpfs bool `mapstructure:"writable_tmpfs"`

	// Fakeroot builds images in a fakeroot namespace.
	Fakeroot bool `mapstructure:"fakeroot"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment. An explicit path
// must exist and parse; the default file is optional.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("runtime.binary", "apptainer")
	v.SetDefault("runtime.start_timeout", "60s")
	v.SetDefault("runtime.stop_timeout", "10s")
	v.SetDefault("stack.artifacts_dir", "")
	v.SetDefault("stack.parallel", 1)
	v.SetDefault("stack.abort_on_failure", false)
	v.SetDefault("stack.writable_tmpfs", false)
	v.SetDefault("stack.fakeroot", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// An apptainer-compose.yaml next to the project is picked up when
		// present; its absence is fine.
		v.SetConfigName("apptainer-compose")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("APPTAINER_COMPOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Output
// goes to stderr so ps and logs keep stdout for their own output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
