package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: "127.0.0.1:9001"
  read_timeout: 5s
client:
  daemon_address: "http://127.0.0.1:9001"
  timeout: 3s
processes:
  file: /etc/pupervisor/pupervisor.yaml
  log_dir: /var/log/pupervisor
  watch: false
log:
  level: debug
  file: /tmp/pupervisord.log
  max_size: 50
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9001", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "http://127.0.0.1:9001", cfg.Client.DaemonAddress)
	assert.Equal(t, 3*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "/etc/pupervisor/pupervisor.yaml", cfg.Processes.File)
	assert.Equal(t, "/var/log/pupervisor", cfg.Processes.LogDir)
	assert.False(t, cfg.Processes.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 50, cfg.Log.MaxSize)
	assert.Equal(t, DefaultLogMaxBackups, cfg.Log.MaxBackups)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerAddress, cfg.Server.Address)
	assert.Equal(t, DefaultDaemonAddress, cfg.Client.DaemonAddress)
	assert.Equal(t, DefaultProcessFile, cfg.Processes.File)
	assert.Equal(t, filepath.Join(HomeDir(), "logs"), cfg.Processes.LogDir)
	assert.True(t, cfg.Processes.Watch)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PUPERVISOR_CLIENT_DAEMON_ADDRESS", "http://10.0.0.5:8080")
	t.Setenv("PUPERVISOR_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.Client.DaemonAddress)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfigLegacyServerAddress(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":7070")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unterminated"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Address: ":8080"},
			Client:    ClientConfig{DaemonAddress: "http://127.0.0.1:8080", Timeout: time.Second},
			Processes: ProcessesConfig{LogDir: "/tmp/logs"},
			Log:       LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"empty log dir", func(c *Config) { c.Processes.LogDir = "" }},
		{"zero client timeout", func(c *Config) { c.Client.Timeout = 0 }},
		{"non http daemon address", func(c *Config) { c.Client.DaemonAddress = "unix:///tmp/sock" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProcessFileWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pupervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processes: []\n"), 0644))

	changes := make(chan *SupervisorConfig, 4)
	pw, err := NewProcessFileWatcher(path, func(cfg *SupervisorConfig) { changes <- cfg }, zap.NewNop())
	require.NoError(t, err)
	pw.debounce = 20 * time.Millisecond

	require.NoError(t, pw.Start(context.Background()))
	defer pw.Stop()

	updated := "processes:\n  - name: echo\n    command: /bin/echo\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case cfg := <-changes:
		require.Len(t, cfg.Processes, 1)
		assert.Equal(t, "echo", cfg.Processes[0].Name)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestProcessFileWatcherSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pupervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processes: []\n"), 0644))

	changes := make(chan *SupervisorConfig, 4)
	pw, err := NewProcessFileWatcher(path, func(cfg *SupervisorConfig) { changes <- cfg }, zap.NewNop())
	require.NoError(t, err)
	pw.debounce = 20 * time.Millisecond
	require.NoError(t, pw.Start(context.Background()))
	defer pw.Stop()

	require.NoError(t, os.WriteFile(path, []byte("processes:\n  - name: nocommand\n"), 0644))

	select {
	case <-changes:
		t.Fatal("invalid definitions must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestProcessFileWatcherIsSingleUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pupervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processes: []\n"), 0644))

	pw, err := NewProcessFileWatcher(path, func(*SupervisorConfig) {}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pw.Start(context.Background()))

	pw.Stop()
	require.NotPanics(t, pw.Stop)
	assert.ErrorIs(t, pw.Start(context.Background()), ErrWatcherStopped)
}
