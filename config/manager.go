package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/CareMesh/internal/observability"
)

const configFileName = "config.json"

// Manager keeps the negotiation settings in memory and in sync with one JSON
// file. Writes go through Update; hand edits are picked up by Watch.
type Manager struct {
	path     string
	debounce time.Duration

	mu       sync.RWMutex
	cfg      Config
	onChange func(Config)
	watching bool
}

type managerOptions struct {
	configDir     string
	configPath    string
	initialConfig *Config
	debounce      time.Duration
}

type ManagerOption func(*managerOptions)

// WithConfigDir keeps config.json inside dir.
func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		o.configDir = dir
	}
}

// WithConfigPath points the manager at an explicit file. It wins over
// WithConfigDir when both are given.
func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		o.configPath = path
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialConfig seeds the file when it does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	path := o.configPath
	if path == "" && o.configDir != "" {
		path = filepath.Join(o.configDir, configFileName)
	}
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := loadConfigFromFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = seedConfig(path, o.initialConfig)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Manager{path: path, cfg: cfg, debounce: o.debounce}, nil
}

func seedConfig(path string, initial *Config) Config {
	if initial != nil {
		return *initial
	}
	return *DefaultConfigWithRoot(filepath.Dir(path))
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string { return m.path }

// UpdateFromJSON replaces the whole configuration with the decoded document.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, persists it and notifies the watcher callback.
// Identical configs are a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return nil
	}
	if err := writeConfigFile(m.path, cfg); err != nil {
		return err
	}
	m.apply(cfg, "update")
	return nil
}

// Watch calls onChange whenever the file on disk settles on a valid config
// that differs from the one in memory. Only the first call starts a watcher;
// later calls swap the callback.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	m.onChange = onChange
	started := m.watching
	m.watching = true
	m.mu.Unlock()
	if started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.resetWatching()
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		m.resetWatching()
		return fmt.Errorf("watch config dir: %w", err)
	}
	go m.watch(ctx, watcher)
	return nil
}

func (m *Manager) resetWatching() {
	m.mu.Lock()
	m.watching = false
	m.mu.Unlock()
}

// watch coalesces bursts of file events into one reload per debounce window.
func (m *Manager) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	log := observability.Logger().With("path", m.path)

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target || !evt.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(m.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		case <-timer.C:
			m.reload(log)
		}
	}
}

func (m *Manager) reload(log *slog.Logger) {
	cfg, err := loadConfigFromFile(m.path)
	if err != nil {
		// A removed or half-written file keeps the config already in memory.
		log.Warn("config reload skipped", "error", err)
		return
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return
	}
	m.apply(cfg, "reload")
}

func (m *Manager) apply(cfg Config, source string) {
	m.mu.Lock()
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	observability.Logger().Info("config applied",
		"path", m.path,
		"source", source,
		"provider", cfg.LLMProvider,
		"max_rounds", cfg.MaxNegotiationRounds,
	)
	if cb != nil {
		cb(cfg)
	}
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "CareMesh", configFileName), nil
}

// writeConfigFile replaces path atomically so watchers never see a partial
// document.
func writeConfigFile(path string, cfg Config) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+configFileName+"-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(&cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("flush config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
