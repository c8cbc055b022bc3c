// Package config loads settings for pupervisord and pupctl.
//
// Loading priority (highest to lowest): command line flags, PUPERVISOR_*
// environment variables, the config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultServerAddress = ":8080"
	DefaultDaemonAddress = "http://127.0.0.1:8080"
	DefaultProcessFile   = "pupervisor.yaml"
	DefaultLogLevel      = "info"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
	DefaultClientTimeout = 10 * time.Second
	EnvPrefix            = "PUPERVISOR"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
	Processes ProcessesConfig `mapstructure:"processes"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ClientConfig is used by pupctl to reach the daemon.
type ClientConfig struct {
	DaemonAddress string        `mapstructure:"daemon_address"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ProcessesConfig struct {
	// File holds the YAML process definitions.
	File string `mapstructure:"file"`
	// LogDir receives the per-process stdout and stderr files.
	LogDir string `mapstructure:"log_dir"`
	// Watch reloads File when it changes on disk.
	Watch bool `mapstructure:"watch"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// HomeDir is the per-user state directory, ~/.pupervisor.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pupervisor"
	}
	return filepath.Join(home, ".pupervisor")
}

// Load reads configuration from configPath (or PUPERVISOR_CONFIG_PATH, or
// ~/.pupervisor/config.yaml) and the environment. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(HomeDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// SERVER_ADDRESS predates the prefixed variables.
	_ = v.BindEnv("server.address", EnvPrefix+"_SERVER_ADDRESS", "SERVER_ADDRESS")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("client.daemon_address", DefaultDaemonAddress)
	v.SetDefault("client.timeout", DefaultClientTimeout)

	v.SetDefault("processes.file", DefaultProcessFile)
	v.SetDefault("processes.log_dir", filepath.Join(HomeDir(), "logs"))
	v.SetDefault("processes.watch", true)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Processes.LogDir == "" {
		return errors.New("processes.log_dir is required")
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout)
	}
	u, err := url.Parse(c.Client.DaemonAddress)
	if err != nil {
		return fmt.Errorf("client.daemon_address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("client.daemon_address must be an http(s) URL, got %q", c.Client.DaemonAddress)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}
