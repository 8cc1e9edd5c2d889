// ABOUTME: Configuration loading and parsing for coven-sentry
// ABOUTME: Supports TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete coven-sentry configuration
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	Matrix   MatrixConfig   `toml:"matrix"`
	Liveness LivenessConfig `toml:"liveness"`
	Host     HostConfig     `toml:"host"`
	Journal  JournalConfig  `toml:"journal"`
	Timing   TimingConfig   `toml:"timing"`
	Logging  LoggingConfig  `toml:"logging"`
}

// AgentConfig identifies this agent and its process family
type AgentConfig struct {
	// Name scopes the command vocabulary, e.g. "PC1"
	Name string `toml:"name"`
	// ProcessNames are command-line substrings matching sibling agent
	// processes. Defaults to the binary name.
	ProcessNames []string `toml:"process_names"`
}

// MatrixConfig holds homeserver credentials and the operations room
type MatrixConfig struct {
	Homeserver string `toml:"homeserver"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	RoomID     string `toml:"room_id"`
}

// LivenessConfig controls the liveness timestamp file
type LivenessConfig struct {
	Path     string        `toml:"path"`
	Interval time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	IntervalRaw string `toml:"interval"`
}

// HostConfig holds host-side paths and delays
type HostConfig struct {
	// ArtifactPath locates the startup artifact hidden or deleted by
	// terminate commands. Empty means none is configured.
	ArtifactPath string        `toml:"artifact_path"`
	PowerDelay   time.Duration `toml:"-"`

	PowerDelayRaw string `toml:"power_delay"`
}

// JournalConfig controls the local command journal
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TimingConfig holds the dispatch loop and epoch cadence
type TimingConfig struct {
	PollTimeout      time.Duration `toml:"-"`
	PollInterval     time.Duration `toml:"-"`
	ErrorBackoff     time.Duration `toml:"-"`
	EpochSyncTimeout time.Duration `toml:"-"`
	EpochSettle      time.Duration `toml:"-"`
	TerminateGrace   time.Duration `toml:"-"`
	DedupeWindow     time.Duration `toml:"-"`

	// Raw string values for TOML unmarshaling
	PollTimeoutRaw      string `toml:"poll_timeout"`
	PollIntervalRaw     string `toml:"poll_interval"`
	ErrorBackoffRaw     string `toml:"error_backoff"`
	EpochSyncTimeoutRaw string `toml:"epoch_sync_timeout"`
	EpochSettleRaw      string `toml:"epoch_settle"`
	TerminateGraceRaw   string `toml:"terminate_grace"`
	DedupeWindowRaw     string `toml:"dedupe_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, and defaults are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. An unset variable expands to the empty
// string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Liveness.IntervalRaw, &cfg.Liveness.Interval, "liveness.interval"},
		{cfg.Host.PowerDelayRaw, &cfg.Host.PowerDelay, "host.power_delay"},
		{cfg.Timing.PollTimeoutRaw, &cfg.Timing.PollTimeout, "timing.poll_timeout"},
		{cfg.Timing.PollIntervalRaw, &cfg.Timing.PollInterval, "timing.poll_interval"},
		{cfg.Timing.ErrorBackoffRaw, &cfg.Timing.ErrorBackoff, "timing.error_backoff"},
		{cfg.Timing.EpochSyncTimeoutRaw, &cfg.Timing.EpochSyncTimeout, "timing.epoch_sync_timeout"},
		{cfg.Timing.EpochSettleRaw, &cfg.Timing.EpochSettle, "timing.epoch_settle"},
		{cfg.Timing.TerminateGraceRaw, &cfg.Timing.TerminateGrace, "timing.terminate_grace"},
		{cfg.Timing.DedupeWindowRaw, &cfg.Timing.DedupeWindow, "timing.dedupe_window"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// applyDefaults fills in every knob the file leaves unset
func applyDefaults(cfg *Config) {
	if len(cfg.Agent.ProcessNames) == 0 {
		cfg.Agent.ProcessNames = []string{"coven-sentry"}
	}

	if cfg.Liveness.Path == "" {
		cfg.Liveness.Path = filepath.Join(os.TempDir(), "coven-sentry", "sentry.lock")
	}
	if cfg.Liveness.Interval == 0 {
		cfg.Liveness.Interval = 10 * time.Second
	}

	if cfg.Host.PowerDelay == 0 {
		cfg.Host.PowerDelay = 5 * time.Second
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath()
	}

	if cfg.Timing.PollTimeout == 0 {
		cfg.Timing.PollTimeout = 30 * time.Second
	}
	if cfg.Timing.PollInterval == 0 {
		cfg.Timing.PollInterval = time.Second
	}
	if cfg.Timing.ErrorBackoff == 0 {
		cfg.Timing.ErrorBackoff = 5 * time.Second
	}
	if cfg.Timing.EpochSyncTimeout == 0 {
		cfg.Timing.EpochSyncTimeout = 5 * time.Second
	}
	if cfg.Timing.EpochSettle == 0 {
		cfg.Timing.EpochSettle = time.Second
	}
	if cfg.Timing.TerminateGrace == 0 {
		cfg.Timing.TerminateGrace = 2 * time.Second
	}
	if cfg.Timing.DedupeWindow == 0 {
		cfg.Timing.DedupeWindow = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// defaultJournalPath resolves the XDG data location for the journal.
func defaultJournalPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "coven-sentry", "journal.db")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "coven-sentry", "journal.db")
}

// Validate checks that required config fields are present and that every
// duration knob is positive. Load runs it after defaults are applied, so a
// non-positive duration can only come from the file itself.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}
	if c.Matrix.RoomID == "" {
		return fmt.Errorf("matrix.room_id is required")
	}
	if !strings.HasPrefix(c.Matrix.RoomID, "!") {
		return fmt.Errorf("matrix.room_id must be a room ID starting with '!', not an alias")
	}

	durations := []struct {
		val  time.Duration
		name string
	}{
		{c.Liveness.Interval, "liveness.interval"},
		{c.Host.PowerDelay, "host.power_delay"},
		{c.Timing.PollTimeout, "timing.poll_timeout"},
		{c.Timing.PollInterval, "timing.poll_interval"},
		{c.Timing.ErrorBackoff, "timing.error_backoff"},
		{c.Timing.EpochSyncTimeout, "timing.epoch_sync_timeout"},
		{c.Timing.EpochSettle, "timing.epoch_settle"},
		{c.Timing.TerminateGrace, "timing.terminate_grace"},
		{c.Timing.DedupeWindow, "timing.dedupe_window"},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	return nil
}
