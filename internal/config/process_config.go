package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid process definition")

type ProcessConfig struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Interpreter string            `yaml:"interpreter,omitempty"`
	Version     string            `yaml:"version,omitempty"`
	Directory   string            `yaml:"directory,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	AutoStart   bool              `yaml:"autostart"`
	AutoRestart bool              `yaml:"autorestart"`
	StartSecs   int               `yaml:"startsecs,omitempty"`
	StopSignal  string            `yaml:"stopsignal,omitempty"`
	StopTimeout int               `yaml:"stoptimeout,omitempty"`
	Stdout      string            `yaml:"stdout,omitempty"`
	Stderr      string            `yaml:"stderr,omitempty"`
}

type SupervisorConfig struct {
	Processes []ProcessConfig `yaml:"processes"`
}

// SetDefaults fills the stop signal, stop timeout and start delay.
func (p *ProcessConfig) SetDefaults() {
	if p.StopSignal == "" {
		p.StopSignal = "SIGTERM"
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = 10
	}
	if p.StartSecs == 0 {
		p.StartSecs = 1
	}
}

func (p *ProcessConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	// Names are used as a single URL path segment by the API.
	if strings.Contains(p.Name, "/") || p.Name == "." || p.Name == ".." {
		return fmt.Errorf("%w: %q: name must not contain '/' or be '.' or '..'", ErrInvalidDefinition, p.Name)
	}
	if p.Command == "" {
		return fmt.Errorf("%w: %s: command is required", ErrInvalidDefinition, p.Name)
	}
	switch p.StopSignal {
	case "", "SIGTERM", "SIGINT", "SIGKILL", "SIGQUIT", "SIGHUP":
	default:
		return fmt.Errorf("%w: %s: unsupported stop signal %q", ErrInvalidDefinition, p.Name, p.StopSignal)
	}
	if p.StopTimeout < 0 || p.StartSecs < 0 {
		return fmt.Errorf("%w: %s: negative timeout", ErrInvalidDefinition, p.Name)
	}
	return nil
}

func LoadProcessConfig(path string) (*SupervisorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProcessConfig(data)
}

func ParseProcessConfig(data []byte) (*SupervisorConfig, error) {
	var cfg SupervisorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cfg.Processes))
	for i := range cfg.Processes {
		p := &cfg.Processes[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidDefinition, p.Name)
		}
		seen[p.Name] = true
		p.SetDefaults()
	}

	return &cfg, nil
}
