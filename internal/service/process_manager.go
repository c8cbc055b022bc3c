package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pupctl/internal/config"
	"pupctl/internal/models"
)

var (
	ErrProcessNotFound       = errors.New("process not found")
	ErrProcessAlreadyRunning = errors.New("process already running")
	ErrProcessNotRunning     = errors.New("process not running")
	ErrProcessExists         = errors.New("process already exists")
	ErrInvalidDefinition     = config.ErrInvalidDefinition
)

const (
	killGrace     = 5 * time.Second
	pipeWaitDelay = 2 * time.Second
	maxLineBytes  = 1024 * 1024
)

type ProcessState struct {
	Config    config.ProcessConfig
	ID        int
	Cmd       *exec.Cmd
	Status    string
	Pid       int
	StartTime time.Time
	ExitCode  int
	Restarts  int
	OutLog    string
	ErrLog    string

	stopping bool
	done     chan struct{}
}

type ProcessManager struct {
	mu        sync.RWMutex
	processes map[string]*ProcessState
	nextID    int
	logDir    string
	logs      *LogBuffer
	bus       *LogBus
	metrics   MetricsSource
	logger    *zap.Logger
}

type Option func(*ProcessManager)

func WithLogDir(dir string) Option {
	return func(pm *ProcessManager) { pm.logDir = dir }
}

func WithLogger(logger *zap.Logger) Option {
	return func(pm *ProcessManager) { pm.logger = logger }
}

func WithMetrics(m MetricsSource) Option {
	return func(pm *ProcessManager) { pm.metrics = m }
}

func WithBus(bus *LogBus) Option {
	return func(pm *ProcessManager) { pm.bus = bus }
}

func NewProcessManager(cfg *config.SupervisorConfig, opts ...Option) *ProcessManager {
	pm := &ProcessManager{
		processes: make(map[string]*ProcessState),
		logDir:    filepath.Join(config.HomeDir(), "logs"),
		logs:      NewLogBuffer(1000),
		bus:       NewLogBus(256),
		metrics:   psMetrics{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(pm)
	}

	if cfg != nil {
		for _, procCfg := range cfg.Processes {
			procCfg.SetDefaults()
			pm.registerLocked(procCfg)
		}
	}

	return pm
}

func (pm *ProcessManager) Bus() *LogBus {
	return pm.bus
}

func (pm *ProcessManager) log(level, message string, processName string) {
	pm.logs.Add(models.LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Process:   processName,
	})

	fields := []zap.Field{zap.String("process", processName)}
	switch level {
	case "error":
		pm.logger.Error(message, fields...)
	case "warning":
		pm.logger.Warn(message, fields...)
	default:
		pm.logger.Info(message, fields...)
	}
}

var unsafeLogChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LogPaths returns the stdout and stderr files for a definition, honoring
// explicit stdout/stderr paths.
func (pm *ProcessManager) LogPaths(cfg config.ProcessConfig) (string, string) {
	safe := unsafeLogChars.ReplaceAllString(cfg.Name, "-")
	out := cfg.Stdout
	if out == "" {
		out = filepath.Join(pm.logDir, safe+"-out.log")
	}
	errPath := cfg.Stderr
	if errPath == "" {
		errPath = filepath.Join(pm.logDir, safe+"-error.log")
	}
	return out, errPath
}

func (pm *ProcessManager) registerLocked(cfg config.ProcessConfig) *ProcessState {
	out, errPath := pm.LogPaths(cfg)
	state := &ProcessState{
		Config: cfg,
		ID:     pm.nextID,
		Status: models.StatusStopped,
		OutLog: out,
		ErrLog: errPath,
	}
	pm.nextID++
	pm.processes[cfg.Name] = state
	return state
}

// Create registers a new named process and starts it.
func (pm *ProcessManager) Create(req models.StartRequest) (models.Process, error) {
	procCfg := config.ProcessConfig{
		Name:        req.Name,
		Command:     req.Script,
		Args:        req.Args,
		Interpreter: req.Interpreter,
		Directory:   req.Directory,
		Environment: req.Env,
		AutoRestart: req.AutoRestart,
		StopTimeout: req.StopTimeout,
	}
	if err := procCfg.Validate(); err != nil {
		return models.Process{}, err
	}
	procCfg.SetDefaults()

	pm.mu.Lock()
	if _, ok := pm.processes[req.Name]; ok {
		pm.mu.Unlock()
		return models.Process{}, ErrProcessExists
	}
	state := pm.registerLocked(procCfg)
	if err := pm.startLocked(state); err != nil {
		delete(pm.processes, req.Name)
		pm.mu.Unlock()
		return models.Process{}, err
	}
	pm.mu.Unlock()

	pm.log("info", fmt.Sprintf("Process %s created", req.Name), req.Name)
	p, _ := pm.GetProcess(req.Name)
	return p, nil
}

// Sync registers definitions that are not known yet and starts the ones
// marked autostart. Known processes are left untouched.
func (pm *ProcessManager) Sync(cfg *config.SupervisorConfig) []string {
	var added, toStart []string

	pm.mu.Lock()
	for _, procCfg := range cfg.Processes {
		if _, ok := pm.processes[procCfg.Name]; ok {
			continue
		}
		procCfg.SetDefaults()
		pm.registerLocked(procCfg)
		added = append(added, procCfg.Name)
		if procCfg.AutoStart {
			toStart = append(toStart, procCfg.Name)
		}
	}
	pm.mu.Unlock()

	for _, name := range added {
		pm.log("info", fmt.Sprintf("Process %s registered", name), name)
	}
	for _, name := range toStart {
		if err := pm.StartProcess(name); err != nil {
			pm.log("error", fmt.Sprintf("Failed to auto-start %s: %v", name, err), name)
		}
	}
	return added
}

func (pm *ProcessManager) StartProcess(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	state, ok := pm.processes[name]
	if !ok {
		return ErrProcessNotFound
	}

	if state.Status == models.StatusRunning {
		return ErrProcessAlreadyRunning
	}

	return pm.startLocked(state)
}

func (pm *ProcessManager) startLocked(state *ProcessState) error {
	name := state.Config.Name

	var cmd *exec.Cmd
	if state.Config.Interpreter != "" {
		args := append([]string{state.Config.Command}, state.Config.Args...)
		cmd = exec.Command(state.Config.Interpreter, args...)
	} else {
		cmd = exec.Command(state.Config.Command, state.Config.Args...)
	}

	if state.Config.Directory != "" {
		cmd.Dir = state.Config.Directory
	}

	if len(state.Config.Environment) > 0 {
		cmd.Env = os.Environ()
		for k, v := range state.Config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	outFile, errFile, err := openLogFiles(state.OutLog, state.ErrLog)
	if err != nil {
		pm.log("error", fmt.Sprintf("Failed to open log files for %s: %v", name, err), name)
		return err
	}

	stdout := newLineWriter(maxLineBytes, pm.lineSink(state.ID, name, models.StreamOut, outFile))
	stderr := newLineWriter(maxLineBytes, pm.lineSink(state.ID, name, models.StreamErr, errFile))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren that inherit the pipes must not hold up Wait forever.
	cmd.WaitDelay = pipeWaitDelay
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(outFile, errFile)
		state.Status = models.StatusErrored
		pm.log("error", fmt.Sprintf("Failed to start process %s: %v", name, err), name)
		return err
	}

	state.Cmd = cmd
	state.Status = models.StatusRunning
	state.Pid = cmd.Process.Pid
	state.StartTime = time.Now()
	state.ExitCode = 0
	state.stopping = false
	state.done = make(chan struct{})

	pm.log("info", fmt.Sprintf("Process %s started with PID %d", name, state.Pid), name)

	go pm.monitorProcess(state, cmd, state.done, func() {
		stdout.Flush()
		stderr.Flush()
		closeAll(outFile, errFile)
	})

	return nil
}

// lineSink returns the per-line handler for one output stream: the line goes
// to the log file, the log buffer and the bus.
func (pm *ProcessManager) lineSink(id int, name, stream string, file *os.File) func(string) {
	level := "info"
	if stream == models.StreamErr {
		level = "error"
	}

	return func(line string) {
		if _, err := fmt.Fprintln(file, line); err != nil {
			pm.logger.Warn("writing process log", zap.String("process", name), zap.Error(err))
		}

		data := fmt.Sprintf("[%s] %s", name, line)
		pm.logs.Add(models.LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level,
			Message:   data,
			Process:   name,
		})
		pm.bus.Publish(models.LogPacket{
			Process: models.PacketProcess{ID: id, Name: name},
			Stream:  stream,
			Data:    data,
			At:      time.Now(),
		})
	}
}

func (pm *ProcessManager) monitorProcess(state *ProcessState, cmd *exec.Cmd, done chan struct{}, cleanup func()) {
	err := cmd.Wait()
	cleanup()

	name := state.Config.Name

	pm.mu.Lock()
	if state.Cmd != cmd {
		pm.mu.Unlock()
		return
	}

	if cmd.ProcessState != nil {
		state.ExitCode = cmd.ProcessState.ExitCode()
	}
	uptime := formatDuration(time.Since(state.StartTime))

	stopping := state.stopping
	if stopping || err == nil {
		state.Status = models.StatusStopped
	} else {
		state.Status = models.StatusErrored
	}
	state.Pid = 0
	close(done)

	restart := !stopping && state.Config.AutoRestart && pm.processes[name] == state
	delay := time.Duration(state.Config.StartSecs) * time.Second
	pm.mu.Unlock()

	if err != nil && !stopping {
		pm.log("warning", fmt.Sprintf("Process %s exited with error after %s: %v", name, uptime, err), name)
	} else {
		pm.log("info", fmt.Sprintf("Process %s exited after %s", name, uptime), name)
	}

	if restart {
		time.AfterFunc(delay, func() { pm.autoRestart(state) })
	}
}

func (pm *ProcessManager) autoRestart(state *ProcessState) {
	name := state.Config.Name

	pm.mu.Lock()
	defer pm.mu.Unlock()

	// Deleted, stopped by request or started by hand in the meantime.
	if pm.processes[name] != state || state.stopping || state.Status == models.StatusRunning {
		return
	}

	state.Restarts++
	pm.log("info", fmt.Sprintf("Auto-restarting process %s", name), name)
	if err := pm.startLocked(state); err != nil {
		pm.log("error", fmt.Sprintf("Auto-restart of %s failed: %v", name, err), name)
	}
}

func (pm *ProcessManager) StopProcess(name string) error {
	pm.mu.Lock()

	state, ok := pm.processes[name]
	if !ok {
		pm.mu.Unlock()
		return ErrProcessNotFound
	}

	if state.Status != models.StatusRunning || state.Cmd == nil || state.Cmd.Process == nil {
		// A stopped process stays stopped; also keeps an autorestart from firing.
		state.stopping = true
		pm.mu.Unlock()
		return ErrProcessNotRunning
	}

	state.stopping = true
	proc := state.Cmd.Process
	done := state.done
	timeout := time.Duration(state.Config.StopTimeout) * time.Second
	sigName := state.Config.StopSignal
	pid := state.Pid
	pm.mu.Unlock()

	pm.log("info", fmt.Sprintf("Sending %s to process %s (PID %d)", sigName, name, pid), name)

	if err := signalGroup(proc, stopSignal(sigName)); err != nil && !errors.Is(err, os.ErrProcessDone) {
		pm.log("error", fmt.Sprintf("Failed to send signal to %s: %v", name, err), name)
		return err
	}

	select {
	case <-done:
		pm.log("info", fmt.Sprintf("Process %s stopped", name), name)
	case <-time.After(timeout):
		pm.log("warning", fmt.Sprintf("Process %s did not stop in time, killing", name), name)
		_ = killGroup(proc)
		select {
		case <-done:
		case <-time.After(killGrace):
			return fmt.Errorf("process %s did not exit after kill", name)
		}
	}

	return nil
}

func stopSignal(name string) os.Signal {
	switch name {
	case "SIGKILL":
		return syscall.SIGKILL
	case "SIGINT":
		return syscall.SIGINT
	case "SIGQUIT":
		return syscall.SIGQUIT
	case "SIGHUP":
		return syscall.SIGHUP
	default:
		return syscall.SIGTERM
	}
}

func (pm *ProcessManager) RestartProcess(name string) error {
	pm.mu.RLock()
	state, ok := pm.processes[name]
	pm.mu.RUnlock()

	if !ok {
		return ErrProcessNotFound
	}

	if err := pm.StopProcess(name); err != nil && !errors.Is(err, ErrProcessNotRunning) {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.processes[name] != state {
		return ErrProcessNotFound
	}
	if state.Status == models.StatusRunning {
		return ErrProcessAlreadyRunning
	}
	state.Restarts++
	return pm.startLocked(state)
}

// DeleteProcess stops the process if needed and forgets it. Its log files
// stay on disk.
func (pm *ProcessManager) DeleteProcess(name string) error {
	pm.mu.RLock()
	state, ok := pm.processes[name]
	pm.mu.RUnlock()

	if !ok {
		return ErrProcessNotFound
	}

	if err := pm.StopProcess(name); err != nil && !errors.Is(err, ErrProcessNotRunning) {
		return err
	}

	pm.mu.Lock()
	if pm.processes[name] == state {
		delete(pm.processes, name)
	}
	pm.mu.Unlock()

	pm.log("info", fmt.Sprintf("Process %s deleted", name), name)
	return nil
}

type snapshot struct {
	name  string
	state ProcessState
}

func (pm *ProcessManager) GetProcesses() []models.Process {
	pm.mu.RLock()
	snaps := make([]snapshot, 0, len(pm.processes))
	for name, state := range pm.processes {
		snaps = append(snaps, snapshot{name: name, state: *state})
	}
	pm.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].state.ID < snaps[j].state.ID })

	result := make([]models.Process, 0, len(snaps))
	for _, s := range snaps {
		result = append(result, pm.toModel(&s.state))
	}
	return result
}

func (pm *ProcessManager) GetProcess(name string) (models.Process, bool) {
	pm.mu.RLock()
	state, ok := pm.processes[name]
	var snap ProcessState
	if ok {
		snap = *state
	}
	pm.mu.RUnlock()

	if !ok {
		return models.Process{}, false
	}
	return pm.toModel(&snap), true
}

// toModel must be given a copy taken under the lock; sampling metrics can be slow.
func (pm *ProcessManager) toModel(state *ProcessState) models.Process {
	p := models.Process{
		ID:          state.ID,
		Name:        state.Config.Name,
		Version:     state.Config.Version,
		Script:      state.Config.Command,
		Args:        state.Config.Args,
		Interpreter: state.Config.Interpreter,
		Directory:   state.Config.Directory,
		Status:      state.Status,
		Pid:         state.Pid,
		Restarts:    state.Restarts,
		OutLogPath:  state.OutLog,
		ErrLogPath:  state.ErrLog,
		AutoRestart: state.Config.AutoRestart,
		ExitCode:    state.ExitCode,
		Env:         state.Config.Environment,
	}

	if state.Status == models.StatusRunning {
		p.StartedAt = state.StartTime
		if state.Pid > 0 {
			if m, err := pm.metrics.Sample(state.Pid); err == nil {
				p.CPU = m.CPU
				p.Memory = m.Memory
				p.Username = m.Username
			}
		}
	}
	return p
}

func (pm *ProcessManager) GetLogs(limit int) []models.LogEntry {
	return pm.logs.GetLast(limit)
}

func (pm *ProcessManager) GetLogsByLevel(level string, limit int) []models.LogEntry {
	return pm.logs.GetByLevel(level, limit)
}

func (pm *ProcessManager) GetLogsByProcess(processName string, limit int) []models.LogEntry {
	return pm.logs.GetByProcess(processName, limit)
}

// Stats returns the number of running processes and of registered ones.
func (pm *ProcessManager) Stats() (running, total int) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, state := range pm.processes {
		if state.Status == models.StatusRunning {
			running++
		}
	}
	return running, len(pm.processes)
}

func (pm *ProcessManager) StartAll() {
	pm.mu.RLock()
	var toStart []string
	for name, state := range pm.processes {
		if state.Config.AutoStart {
			toStart = append(toStart, name)
		}
	}
	pm.mu.RUnlock()

	for _, name := range toStart {
		pm.log("info", fmt.Sprintf("Auto-starting process %s", name), name)
		if err := pm.StartProcess(name); err != nil {
			pm.log("error", fmt.Sprintf("Failed to auto-start %s: %v", name, err), name)
		}
	}
}

// StopAll stops every running process in parallel and returns the first error.
func (pm *ProcessManager) StopAll() error {
	pm.mu.RLock()
	var toStop []string
	for name, state := range pm.processes {
		if state.Status == models.StatusRunning {
			toStop = append(toStop, name)
		}
	}
	pm.mu.RUnlock()

	var g errgroup.Group
	for _, name := range toStop {
		g.Go(func() error {
			pm.log("info", fmt.Sprintf("Stopping process %s", name), name)
			if err := pm.StopProcess(name); err != nil && !errors.Is(err, ErrProcessNotRunning) {
				pm.log("error", fmt.Sprintf("Failed to stop %s: %v", name, err), name)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func openLogFiles(outPath, errPath string) (*os.File, *os.File, error) {
	for _, p := range []string{outPath, errPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, nil, err
		}
	}
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	errFile, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		outFile.Close()
		return nil, nil, err
	}
	return outFile, errFile, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
