// Package config provides configuration management for the recsync agent.
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/timeline"
)

const (
	// Default values
	DefaultPort          = 8787
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".recsync"
	DefaultThresholdMS   = 10
	DefaultTrimMode      = "tolerant"
	DefaultCheckSlots    = true
	DefaultFailurePolicy = "abort"
	DefaultPollInterval  = 5 // seconds

	// Environment variable names
	EnvConfigFile    = "RECSYNC_CONFIG"
	EnvPort          = "RECSYNC_PORT"
	EnvLogLevel      = "RECSYNC_LOG_LEVEL"
	EnvDataDir       = "RECSYNC_DATA_DIR"
	EnvHeadless      = "RECSYNC_HEADLESS"
	EnvThresholdMS   = "RECSYNC_THRESHOLD_MS"
	EnvTrimMode      = "RECSYNC_TRIM_MODE"
	EnvCheckSlots    = "RECSYNC_CHECK_SLOTS"
	EnvFailurePolicy = "RECSYNC_FAILURE_POLICY"
	EnvWorkers       = "RECSYNC_WORKERS"
	EnvFFmpegPath    = "RECSYNC_FFMPEG_PATH"
	EnvFFprobePath   = "RECSYNC_FFPROBE_PATH"
	EnvCodec         = "RECSYNC_CODEC"
	EnvWriteEDL      = "RECSYNC_WRITE_EDL"
	EnvPollInterval  = "RECSYNC_POLL_INTERVAL_S"

	// Database filename
	DBFilename = "recsync.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	Headless() bool
	AlignOptions() timeline.AlignOptions
	FailurePolicy() session.FailurePolicy
	Workers() int
	WriteEDL() bool
	PollInterval() time.Duration
	FFmpegOptions() pipeline.Options
}

// fileValues mirrors the YAML file. Pointer fields distinguish an absent key
// from a zero value.
type fileValues struct {
	LogLevel      *string `yaml:"log_level"`
	DataDir       *string `yaml:"data_dir"`
	Port          *int    `yaml:"port"`
	Headless      *bool   `yaml:"headless"`
	ThresholdMS   *int64  `yaml:"threshold_ms"`
	TrimMode      *string `yaml:"trim_mode"`
	CheckSlots    *bool   `yaml:"check_slots"`
	FailurePolicy *string `yaml:"failure_policy"`
	Workers       *int    `yaml:"workers"`
	FFmpegPath    *string `yaml:"ffmpeg_path"`
	FFprobePath   *string `yaml:"ffprobe_path"`
	Codec         *string `yaml:"codec"`
	WriteEDL      *bool   `yaml:"write_edl"`
	PollIntervalS *int    `yaml:"poll_interval_s"`
}

// Overrides carries command-line values. Nil fields leave the loaded value
// alone.
type Overrides = fileValues

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	headless      bool
	thresholdMS   int64
	trimMode      string
	checkSlots    bool
	failurePolicy string
	workers       int
	ffmpegPath    string
	ffprobePath   string
	codec         string
	writeEDL      bool
	pollIntervalS int

	source string
}

// New loads defaults, the file named by RECSYNC_CONFIG (if any) and
// environment overrides.
func New() (*EnvConfig, error) {
	return Load("")
}

// Load is New with an explicit config file path. An empty path falls back
// to RECSYNC_CONFIG.
func Load(path string) (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		thresholdMS:   DefaultThresholdMS,
		trimMode:      DefaultTrimMode,
		checkSlots:    DefaultCheckSlots,
		failurePolicy: DefaultFailurePolicy,
		workers:       defaultWorkers(),
		pollIntervalS: DefaultPollInterval,
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var fv fileValues
		if err := yaml.Unmarshal(data, &fv); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.apply(fv)
		cfg.source = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Apply layers command-line overrides on top and validates the result.
func (c *EnvConfig) Apply(o Overrides) error {
	c.apply(o)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *EnvConfig) apply(v fileValues) {
	setIf(&c.logLevel, v.LogLevel)
	setIf(&c.dataDir, v.DataDir)
	setIf(&c.port, v.Port)
	setIf(&c.headless, v.Headless)
	setIf(&c.thresholdMS, v.ThresholdMS)
	setIf(&c.trimMode, v.TrimMode)
	setIf(&c.checkSlots, v.CheckSlots)
	setIf(&c.failurePolicy, v.FailurePolicy)
	setIf(&c.workers, v.Workers)
	setIf(&c.ffmpegPath, v.FFmpegPath)
	setIf(&c.ffprobePath, v.FFprobePath)
	setIf(&c.codec, v.Codec)
	setIf(&c.writeEDL, v.WriteEDL)
	setIf(&c.pollIntervalS, v.PollIntervalS)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (c *EnvConfig) applyEnv() error {
	for _, s := range []struct {
		env string
		dst *string
	}{
		{EnvLogLevel, &c.logLevel},
		{EnvDataDir, &c.dataDir},
		{EnvTrimMode, &c.trimMode},
		{EnvFailurePolicy, &c.failurePolicy},
		{EnvFFmpegPath, &c.ffmpegPath},
		{EnvFFprobePath, &c.ffprobePath},
		{EnvCodec, &c.codec},
	} {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	for _, s := range []struct {
		env string
		dst *int
	}{
		{EnvPort, &c.port},
		{EnvWorkers, &c.workers},
		{EnvPollInterval, &c.pollIntervalS},
	} {
		if v := os.Getenv(s.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", s.env, err)
			}
			*s.dst = n
		}
	}

	if v := os.Getenv(EnvThresholdMS); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvThresholdMS, err)
		}
		c.thresholdMS = n
	}

	for _, s := range []struct {
		env string
		dst *bool
	}{
		{EnvHeadless, &c.headless},
		{EnvCheckSlots, &c.checkSlots},
		{EnvWriteEDL, &c.writeEDL},
	} {
		if v := os.Getenv(s.env); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", s.env, err)
			}
			*s.dst = b
		}
	}
	return nil
}

// Validate reports every invalid value at once.
func (c *EnvConfig) Validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.thresholdMS < 0 {
		errs = append(errs, errors.New("threshold_ms must not be negative"))
	}
	if _, err := timeline.ParseTrimMode(c.trimMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseFailurePolicy(c.failurePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.pollIntervalS < 1 {
		errs = append(errs, errors.New("poll_interval_s must be at least 1"))
	}
	if c.dataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	return errors.Join(errs...)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// AlignOptions converts the threshold and trim settings. Load has already
// validated them.
func (c *EnvConfig) AlignOptions() timeline.AlignOptions {
	mode, _ := timeline.ParseTrimMode(c.trimMode)
	return timeline.AlignOptions{
		ThresholdNS: (time.Duration(c.thresholdMS) * time.Millisecond).Nanoseconds(),
		Mode:        mode,
		CheckSlots:  c.checkSlots,
	}
}

func (c *EnvConfig) FailurePolicy() session.FailurePolicy {
	p, _ := session.ParseFailurePolicy(c.failurePolicy)
	return p
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) WriteEDL() bool {
	return c.writeEDL
}

func (c *EnvConfig) PollInterval() time.Duration {
	return time.Duration(c.pollIntervalS) * time.Second
}

// FFmpegOptions returns the binary paths and codec. Empty values fall back to
// the pipeline defaults.
func (c *EnvConfig) FFmpegOptions() pipeline.Options {
	return pipeline.Options{
		FFmpegPath:  c.ffmpegPath,
		FFprobePath: c.ffprobePath,
		Codec:       c.codec,
	}
}

// Source returns the config file that was loaded, or "".
func (c *EnvConfig) Source() string {
	return c.source
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	return n
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
