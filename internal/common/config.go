package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Config represents the harness configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Harness     HarnessConfig  `toml:"harness"`
	Logging     LoggingConfig  `toml:"logging"`
	Queue       QueueConfig    `toml:"queue"`
	Storage     StorageConfig  `toml:"storage"`
	Schedule    ScheduleConfig `toml:"schedule"`
}

// HarnessConfig controls the local dispatcher
type HarnessConfig struct {
	Slots            int      `toml:"slots" validate:"gte=0"`             // Parallelism budget (0 = host logical CPU count)
	Workers          int      `toml:"workers" validate:"gte=0"`           // Worker goroutines (0 = same as slots)
	Timeout          string   `toml:"timeout"`                            // Default per-job wall-clock timeout, e.g. "5m"
	ProgressInterval string   `toml:"progress_interval"`                  // Interval between RUNNING progress lines, e.g. "5s"
	SpecFileName     string   `toml:"spec_file_name" validate:"required"` // File name searched for when a directory is supplied
	IgnorePatterns   []string `toml:"ignore_patterns"`                    // Glob patterns masked from created-file checks
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// QueueConfig controls the external batch-queue delegation mode
type QueueConfig struct {
	Template        string  `toml:"template"`          // Submission-script template path
	SubmitCommand   string  `toml:"submit_command"`    // Command invoked with the generated script
	ResultsFileName string  `toml:"results_file_name"` // Per-directory results file written by the external run
	SubmitRate      float64 `toml:"submit_rate"`       // Submissions per second (0 = unlimited)
	SubmitBurst     int     `toml:"submit_burst"`      // Submission burst size
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path for queue session state
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean runs
}

// ScheduleConfig enables recurring batch runs
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // Cron schedule format
}

// NewDefaultConfig returns the built-in defaults applied before any file is read
func NewDefaultConfig() *Config {
	slots := 1
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		slots = n
	}

	return &Config{
		Environment: "development",
		Harness: HarnessConfig{
			Slots:            slots,
			Workers:          0, // same as slots
			Timeout:          "5m",
			ProgressInterval: "5s",
			SpecFileName:     "tests",
			IgnorePatterns:   []string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Queue: QueueConfig{
			ResultsFileName: ".previous_test_results.json",
			SubmitRate:      2,
			SubmitBurst:     1,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/probo",
			},
		},
		Schedule: ScheduleConfig{
			Enabled: false,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	// A slot budget of 0 selects the host logical CPU count
	if config.Harness.Slots == 0 {
		config.Harness.Slots = NewDefaultConfig().Harness.Slots
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROBO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if slots := os.Getenv("PROBO_SLOTS"); slots != "" {
		if n, err := strconv.Atoi(slots); err == nil && n > 0 {
			config.Harness.Slots = n
		}
	}

	if level := os.Getenv("PROBO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("PROBO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
}

// Validate checks structural constraints and duration/cron syntax
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.JobTimeout(); err != nil {
		return fmt.Errorf("invalid harness.timeout: %w", err)
	}
	if _, err := c.ProgressInterval(); err != nil {
		return fmt.Errorf("invalid harness.progress_interval: %w", err)
	}

	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}

	return nil
}

// JobTimeout returns the default per-job timeout
func (c *Config) JobTimeout() (time.Duration, error) {
	if c.Harness.Timeout == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(c.Harness.Timeout)
}

// ProgressInterval returns the interval between progress lines for RUNNING jobs
func (c *Config) ProgressInterval() (time.Duration, error) {
	if c.Harness.ProgressInterval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(c.Harness.ProgressInterval)
}

// WorkerCount resolves the worker pool size
func (c *Config) WorkerCount() int {
	if c.Harness.Workers > 0 {
		return c.Harness.Workers
	}
	return c.Harness.Slots
}

// IsProduction returns true when running with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
