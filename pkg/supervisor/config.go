package supervisor

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srediag/boinc-supervisor/internal/logging"
	"github.com/srediag/boinc-supervisor/pkg/shm"
)

const (
	defaultMmapFile       = "boinc_mmap_file"
	defaultPollPeriod     = 100 * time.Millisecond
	defaultStartupMessage = "<resume/>"

	EnvConfigFile = "BOINC_SUPERVISOR_CONFIG"
	EnvMmapFile   = "BOINC_SUPERVISOR_MMAP_FILE"
	EnvPollPeriod = "BOINC_SUPERVISOR_POLL_PERIOD"
	EnvAdminAddr  = "BOINC_SUPERVISOR_ADMIN_ADDR"
	EnvLogLevel   = logging.EnvLogLevel
)

// ErrInvalidConfig wraps every VerifyConfig failure.
var ErrInvalidConfig = errors.New("invalid config")

// StartupMessage is written once, before the first tick.
type StartupMessage struct {
	Channel shm.ChannelID `yaml:"channel"`
	Text    string        `yaml:"text"`
}

// Config describes one deployment: which channels to poll, in which order, and what
// to send at startup.
type Config struct {
	// MmapFile is the path of the backing file shared with the client.
	MmapFile string `yaml:"mmap_file"`
	// Channels are polled in this order on every tick.
	Channels []shm.ChannelID `yaml:"channels"`
	// StartupMessage is optional; nil disables the startup send.
	StartupMessage *StartupMessage `yaml:"startup_message"`
	PollPeriod     time.Duration   `yaml:"poll_period"`
	// AdminAddr enables the health and metrics listener when not empty.
	AdminAddr string `yaml:"admin_addr"`
	LogLevel  string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used by the stock client deployment.
func DefaultConfig() *Config {
	return &Config{
		MmapFile: defaultMmapFile,
		Channels: []shm.ChannelID{
			shm.ProcessControlReply,
			shm.AppStatus,
			shm.TrickleUp,
		},
		StartupMessage: &StartupMessage{
			Channel: shm.ProcessControlRequest,
			Text:    defaultStartupMessage,
		},
		PollPeriod: defaultPollPeriod,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the BOINC_SUPERVISOR_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMmapFile); v != "" {
		cfg.MmapFile = v
	}
	if v := os.Getenv(EnvPollPeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollPeriod, err)
		}
		cfg.PollPeriod = d
	}
	if v := os.Getenv(EnvAdminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// VerifyConfig checks that cfg can drive a supervisor.
func VerifyConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.MmapFile == "" {
		return fmt.Errorf("%w: mmap file is empty", ErrInvalidConfig)
	}
	if cfg.PollPeriod <= 0 {
		return fmt.Errorf("%w: poll period must be positive, got %s", ErrInvalidConfig, cfg.PollPeriod)
	}
	var seen [shm.NumChannels]bool
	for _, id := range cfg.Channels {
		if !id.Valid() {
			return fmt.Errorf("%w: channel id %d out of range", ErrInvalidConfig, uint8(id))
		}
		if !id.Inbound() {
			return fmt.Errorf("%w: channel %s is not written by the client", ErrInvalidConfig, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: channel %s listed twice", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	if m := cfg.StartupMessage; m != nil {
		if !m.Channel.Valid() {
			return fmt.Errorf("%w: startup channel id %d out of range", ErrInvalidConfig, uint8(m.Channel))
		}
		if seen[m.Channel] {
			return fmt.Errorf("%w: startup channel %s is also polled", ErrInvalidConfig, m.Channel)
		}
	}
	if cfg.LogLevel != "" {
		if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
