package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OSCTarget is a UDP endpoint that receives sync pulses.
type OSCTarget struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the main configuration structure
type Config struct {
	Tempo          float64       `yaml:"tempo"`
	PPQ            int           `yaml:"ppq"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	DataDir        string        `yaml:"dataDir,omitempty"`
	Listen         string        `yaml:"listen,omitempty"`
	OSCTargets     []OSCTarget   `yaml:"oscTargets,omitempty"`
	DefaultDevice  string        `yaml:"defaultDevice"`
	VirtualDevices []string      `yaml:"virtualDevices,omitempty"`
	LogLevel       string        `yaml:"logLevel"`
	LogFile        string        `yaml:"logFile,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Tempo:         120,
		PPQ:           48,
		PollInterval:  100 * time.Millisecond,
		Listen:        "127.0.0.1:8888",
		DefaultDevice: "MIDI THRU",
		LogLevel:      "info",
	}
}

// ConfigDir returns ~/.config/go-daw
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-daw"), nil
}

// ConfigPath returns the full path to config.yaml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultDataDir is $XDG_DATA_HOME/go-daw, falling back to ~/.local/share/go-daw.
func DefaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "go-daw"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "go-daw"), nil
}

// Load reads the config at path, or returns defaults if it does not exist.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.fill()
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.fill()
}

func (c *Config) fill() error {
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.PPQ <= 0 || c.PPQ%8 != 0 {
		return errors.Errorf("ppq must be a positive multiple of 8, got %d", c.PPQ)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write config")
}

// HasVirtual reports whether name is already listed as a virtual device.
func (c *Config) HasVirtual(name string) bool {
	for _, v := range c.VirtualDevices {
		if v == name {
			return true
		}
	}
	return false
}

// AddVirtual records a virtual device to be created on startup.
func (c *Config) AddVirtual(name string) {
	if !c.HasVirtual(name) {
		c.VirtualDevices = append(c.VirtualDevices, name)
	}
}
