package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Manager holds the active configuration behind an RWMutex and can
// hot-reload it from disk when the backing file changes.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	callbacks  []func(*Config)
	logger     *logrus.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads configPath (which may be empty, yielding defaults) and
// returns a Manager ready to serve Get() calls. It does not start watching
// until Watch is called.
func NewManager(configPath string, logger *logrus.Logger) (*Manager, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		config:     cfg,
		configPath: configPath,
		callbacks:  []func(*Config){},
		logger:     logger,
	}, nil
}

// Get returns the currently active configuration. Safe for concurrent use;
// the returned pointer should be treated as immutable by the caller.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Reload re-reads the config file from disk, validates it, and swaps it in
// atomically. Registered callbacks fire with the new config after the swap.
// A failed reload leaves the previous configuration in place.
func (m *Manager) Reload() error {
	if m.configPath == "" {
		return nil
	}

	cfg, err := Load(m.configPath)
	if err != nil {
		return fmt.Errorf("reload configuration: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Watch starts an fsnotify watch on the config file's directory (editors
// commonly replace the file via rename rather than in-place write, which
// fsnotify only observes at the directory level) and calls Reload whenever
// the config file itself changes. It returns immediately; call Close to
// stop watching.
func (m *Manager) Watch() error {
	if m.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(m.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	m.watcher = watcher
	m.done = make(chan struct{})

	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	target := filepath.Clean(m.configPath)
	var debounce *time.Timer

	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				if err := m.Reload(); err != nil {
					m.logger.WithError(err).Warn("config reload failed, keeping previous configuration")
					return
				}
				m.logger.Info("configuration reloaded")
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).Warn("config watcher error")
		}
	}
}

// Close stops the watch goroutine and releases the underlying fsnotify
// watcher. Safe to call even if Watch was never called.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	close(m.done)
	return m.watcher.Close()
}
