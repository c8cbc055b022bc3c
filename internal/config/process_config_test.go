package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcessConfigDefaults(t *testing.T) {
	data := []byte(`
processes:
  - name: tunnel
    command: holesail
    args: ["--live", "5000"]
    version: "1.2.0"
    autostart: true
  - name: worker
    command: /usr/bin/worker
    stopsignal: SIGINT
    stoptimeout: 3
    startsecs: 2
`)
	cfg, err := ParseProcessConfig(data)
	require.NoError(t, err)
	require.Len(t, cfg.Processes, 2)

	tunnel := cfg.Processes[0]
	assert.Equal(t, []string{"--live", "5000"}, tunnel.Args)
	assert.Equal(t, "1.2.0", tunnel.Version)
	assert.True(t, tunnel.AutoStart)
	assert.Equal(t, "SIGTERM", tunnel.StopSignal)
	assert.Equal(t, 10, tunnel.StopTimeout)
	assert.Equal(t, 1, tunnel.StartSecs)

	worker := cfg.Processes[1]
	assert.Equal(t, "SIGINT", worker.StopSignal)
	assert.Equal(t, 3, worker.StopTimeout)
	assert.Equal(t, 2, worker.StartSecs)
}

func TestParseProcessConfigRejects(t *testing.T) {
	tests := map[string]string{
		"missing name":    "processes:\n  - command: /bin/true\n",
		"missing command": "processes:\n  - name: a\n",
		"duplicate name":  "processes:\n  - name: a\n    command: x\n  - name: a\n    command: y\n",
		"bad signal":      "processes:\n  - name: a\n    command: x\n    stopsignal: SIGUSR9\n",
		"slash in name":   "processes:\n  - name: team/api\n    command: x\n",
		"dot name":        "processes:\n  - name: \".\"\n    command: x\n",
		"dot-dot name":    "processes:\n  - name: \"..\"\n    command: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProcessConfig([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition))
		})
	}
}

func TestLoadProcessConfigMissingFile(t *testing.T) {
	_, err := LoadProcessConfig("/nonexistent/pupervisor.yaml")
	assert.Error(t, err)
}
