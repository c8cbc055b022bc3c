package models

import "time"

// Process statuses reported by the manager.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusErrored = "errored"
)

// Log streams carried on the bus.
const (
	StreamOut = "out"
	StreamErr = "err"
)

// Process represents a supervised process
type Process struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Script      string            `json:"script"`
	Args        []string          `json:"args,omitempty"`
	Interpreter string            `json:"interpreter,omitempty"`
	Directory   string            `json:"directory,omitempty"`
	Status      string            `json:"status"`
	Pid         int               `json:"pid"`
	StartedAt   time.Time         `json:"started_at"`
	Restarts    int               `json:"restarts"`
	CPU         float64           `json:"cpu"`
	Memory      uint64            `json:"memory"`
	Username    string            `json:"username,omitempty"`
	OutLogPath  string            `json:"out_log_path"`
	ErrLogPath  string            `json:"err_log_path"`
	AutoRestart bool              `json:"autorestart"`
	ExitCode    int               `json:"exit_code"`
	Env         map[string]string `json:"env,omitempty"`
}

// Uptime is the time since the process was last started, zero when it is not running.
func (p Process) Uptime(now time.Time) time.Duration {
	if p.Status != StatusRunning || p.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(p.StartedAt)
}

// LogEntry represents a log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Process   string `json:"process,omitempty"`
}

// PacketProcess identifies the process a bus packet belongs to.
type PacketProcess struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// LogPacket is one line of process output published on the log bus.
// Data keeps the manager's "[name] " prefix.
type LogPacket struct {
	Process PacketProcess `json:"process"`
	Stream  string        `json:"stream"`
	Data    string        `json:"data"`
	At      time.Time     `json:"at"`
}

// Event returns the bus event name for the packet's stream.
func (p LogPacket) Event() string {
	if p.Stream == StreamErr {
		return "log:err"
	}
	return "log:out"
}

// StartRequest asks the manager to register and start a new named process.
type StartRequest struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Args        []string          `json:"args,omitempty"`
	Interpreter string            `json:"interpreter,omitempty"`
	Directory   string            `json:"directory,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart bool              `json:"autorestart,omitempty"`
	StopTimeout int               `json:"stoptimeout,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health and readiness probes.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Running   int    `json:"running,omitempty"`
	Total     int    `json:"total,omitempty"`
}
