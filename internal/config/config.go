package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Control    ControlConfig    `yaml:"control"`
	Log        LogConfig        `yaml:"log"`
	Accounting AccountingConfig `yaml:"accounting"`
}

type ControlConfig struct {
	Listen        string `yaml:"listen"`
	WSListen      string `yaml:"ws_listen"`
	AuthToken     string `yaml:"auth_token"`
	SessionBuffer int    `yaml:"session_buffer"`
}

type LogConfig struct {
	// Config is a loggo specification, e.g. "<root>=INFO;relayd.event=DEBUG".
	Config string `yaml:"config"`
}

type AccountingConfig struct {
	Interval          time.Duration `yaml:"interval"`
	InterfaceCounters bool          `yaml:"interface_counters"`
}

func defaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Listen:        "127.0.0.1:9051",
			WSListen:      "",
			SessionBuffer: 256,
		},
		Log: LogConfig{
			Config: "<root>=INFO",
		},
		Accounting: AccountingConfig{
			Interval:          time.Second,
			InterfaceCounters: false,
		},
	}
}

// Load reads the config at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Control.SessionBuffer <= 0 {
		cfg.Control.SessionBuffer = 256
	}
	if cfg.Accounting.Interval <= 0 {
		cfg.Accounting.Interval = time.Second
	}
	return cfg, nil
}
