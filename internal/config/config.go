package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "trawler.db"
	defaultOutputDir     = "output"
	defaultWorkerCommand = "python3 -u scrap.py"
	defaultMaxJobs       = 3
	defaultGracePeriod   = 5 * time.Second
	defaultRetention     = 24 * time.Hour
	defaultReapInterval  = time.Minute
	defaultHistoryLimit  = 1000
	defaultDedupWindow   = 512
	defaultInitDeadline  = 10 * time.Second

	envListenAddr   = "TRAWLER_LISTEN_ADDR"
	envDBPath       = "TRAWLER_DB_PATH"
	envOutputDir    = "TRAWLER_OUTPUT_DIR"
	envWorkerCmd    = "TRAWLER_WORKER_CMD"
	envMaxJobs      = "TRAWLER_MAX_JOBS"
	envGracePeriod  = "TRAWLER_GRACE_PERIOD"
	envRetention    = "TRAWLER_RETENTION_WINDOW"
	envReapInterval = "TRAWLER_REAP_INTERVAL"
	envLogLevel     = "TRAWLER_LOG_LEVEL"
	envConfigFile   = "TRAWLER_CONFIG_FILE"
)

// defaultNoisePatterns are substrings of known-benign worker diagnostics that
// should not reach subscribers. The Chrome driver emits these on teardown.
var defaultNoisePatterns = []string{
	"Exception ignored in: <function Chrome.__del__",
	"OSError: [WinError 6] The handle is invalid",
}

// Config holds application configuration loaded from an optional YAML file and
// environment variables. Environment variables take precedence.
type Config struct {
	ListenAddr      string
	DBPath          string
	OutputDir       string
	WorkerCommand   []string
	DefaultMaxJobs  int
	GracePeriod     time.Duration
	RetentionWindow time.Duration
	ReapInterval    time.Duration
	HistoryLimit    int
	DedupWindow     int
	InitDeadline    time.Duration
	NoisePatterns   []string
	LogLevel        slog.Level
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	DBPath          string   `yaml:"db_path"`
	OutputDir       string   `yaml:"output_dir"`
	WorkerCommand   string   `yaml:"worker_command"`
	DefaultMaxJobs  int      `yaml:"default_max_jobs"`
	GracePeriod     string   `yaml:"grace_period"`
	RetentionWindow string   `yaml:"retention_window"`
	ReapInterval    string   `yaml:"reap_interval"`
	HistoryLimit    int      `yaml:"history_limit"`
	DedupWindow     int      `yaml:"dedup_window"`
	NoisePatterns   []string `yaml:"noise_patterns"`
	LogLevel        string   `yaml:"log_level"`
}

// Load reads configuration with sensible defaults, then applies the YAML file
// named by TRAWLER_CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		OutputDir:       defaultOutputDir,
		WorkerCommand:   strings.Fields(defaultWorkerCommand),
		DefaultMaxJobs:  defaultMaxJobs,
		GracePeriod:     defaultGracePeriod,
		RetentionWindow: defaultRetention,
		ReapInterval:    defaultReapInterval,
		HistoryLimit:    defaultHistoryLimit,
		DedupWindow:     defaultDedupWindow,
		InitDeadline:    defaultInitDeadline,
		NoisePatterns:   defaultNoisePatterns,
		LogLevel:        slog.LevelInfo,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.OutputDir != "" {
		c.OutputDir = fc.OutputDir
	}
	if fc.WorkerCommand != "" {
		c.WorkerCommand = strings.Fields(fc.WorkerCommand)
	}
	if fc.DefaultMaxJobs > 0 {
		c.DefaultMaxJobs = fc.DefaultMaxJobs
	}
	if fc.HistoryLimit > 0 {
		c.HistoryLimit = fc.HistoryLimit
	}
	if fc.DedupWindow > 0 {
		c.DedupWindow = fc.DedupWindow
	}
	if len(fc.NoisePatterns) > 0 {
		c.NoisePatterns = fc.NoisePatterns
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.GracePeriod, "grace_period", &c.GracePeriod},
		{fc.RetentionWindow, "retention_window", &c.RetentionWindow},
		{fc.ReapInterval, "reap_interval", &c.ReapInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envOutputDir); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv(envWorkerCmd); v != "" {
		c.WorkerCommand = strings.Fields(v)
	}
	if v := os.Getenv(envMaxJobs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s: %q", envMaxJobs, v)
		}
		c.DefaultMaxJobs = n
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{envGracePeriod, &c.GracePeriod},
		{envRetention, &c.RetentionWindow},
		{envReapInterval, &c.ReapInterval},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", d.env, v)
		}
		*d.dst = dur
	}

	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
