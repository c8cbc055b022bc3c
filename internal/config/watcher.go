package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var ErrWatcherStopped = errors.New("process file watcher stopped")

// ProcessFileWatcher reloads the process definition file when it changes and
// hands the parsed result to onChange. Invalid files are logged and skipped.
// A watcher is single-use: Start after Stop returns ErrWatcherStopped.
type ProcessFileWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*SupervisorConfig)
	logger   *zap.Logger
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stopped  bool
}

func NewProcessFileWatcher(path string, onChange func(*SupervisorConfig), logger *zap.Logger) (*ProcessFileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &ProcessFileWatcher{
		watcher:  w,
		path:     abs,
		onChange: onChange,
		logger:   logger,
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the file's directory, so editors that replace the file by
// rename are still noticed. It does not block.
func (pw *ProcessFileWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.stopped {
		return ErrWatcherStopped
	}
	if pw.running {
		return nil
	}
	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return err
	}
	pw.running = true
	go pw.run(ctx)
	pw.logger.Info("watching process definitions", zap.String("file", pw.path))
	return nil
}

// Stop ends the watch and releases the fsnotify watcher. Later calls are
// no-ops.
func (pw *ProcessFileWatcher) Stop() {
	pw.mu.Lock()
	if pw.stopped {
		pw.mu.Unlock()
		return
	}
	pw.stopped = true
	if !pw.running {
		pw.mu.Unlock()
		_ = pw.watcher.Close()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh
	if err := pw.watcher.Close(); err != nil {
		pw.logger.Warn("closing process file watcher", zap.Error(err))
	}
}

func (pw *ProcessFileWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.stopCh:
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != pw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(pw.debounce)
			} else {
				timer.Reset(pw.debounce)
			}
			fire = timer.C
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("process file watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			pw.reload()
		}
	}
}

func (pw *ProcessFileWatcher) reload() {
	cfg, err := LoadProcessConfig(pw.path)
	if err != nil {
		pw.logger.Warn("ignoring process definition change", zap.String("file", pw.path), zap.Error(err))
		return
	}
	pw.logger.Info("process definitions reloaded", zap.Int("processes", len(cfg.Processes)))
	pw.onChange(cfg)
}
