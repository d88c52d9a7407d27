// Package manager keeps one running proxy per configuration file in a
// directory, starting, restarting and stopping proxies as files appear,
// change and disappear.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oauthproxy/oauthproxy/app/config"
	"github.com/oauthproxy/oauthproxy/app/watch"
)

// Runner is a started proxy.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds an unstarted Runner for a validated configuration.
type Factory func(cfg *config.ProxyConfig) (Runner, error)

// Status describes one configuration file.
type Status struct {
	File    string `json:"file"`
	Service string `json:"service,omitempty"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type entry struct {
	cfg    *config.ProxyConfig
	runner Runner
}

// Manager owns the proxies of one configuration directory.
type Manager struct {
	dir     string
	factory Factory
	logger  *slog.Logger

	// QuietPeriod is how long Watch waits after a change before reloading.
	QuietPeriod time.Duration

	mu         sync.Mutex
	running    map[string]*entry
	status     map[string]Status
	lastReload time.Time
}

// New returns a Manager for dir. Call Load to start proxies.
func New(dir string, factory Factory, logger *slog.Logger) *Manager {
	return &Manager{
		dir:         dir,
		factory:     factory,
		logger:      logger.With("config_dir", dir),
		QuietPeriod: watch.DefaultQuietPeriod,
		running:     make(map[string]*entry),
		status:      make(map[string]Status),
	}
}

func isConfigFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".json")
}

// Load scans the configuration directory once. Unchanged configurations keep
// their running proxy. Changed, invalid and removed files have their proxy
// stopped before any new proxy starts, so ports can move between files. A
// problem with one file never affects the others; its reason is recorded in
// Status. Only a failure to read the directory is returned.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read config directory %s: %w", m.dir, err)
	}

	stop := make(map[string]*entry, len(m.running))
	for file, e := range m.running {
		stop[file] = e
	}
	start := make(map[string]*config.ProxyConfig)
	status := make(map[string]Status)

	for _, de := range entries {
		file := de.Name()
		if de.IsDir() || !isConfigFile(file) {
			continue
		}
		m.logger.Info("loading proxy configuration file", "file", file)
		cfg, err := config.Load(filepath.Join(m.dir, file))
		if err != nil {
			reason := err.Error()
			var inv *config.InvalidError
			if errors.As(err, &inv) {
				reason = inv.Reason
			}
			m.logger.Error("failed to load proxy", "file", file, "reason", reason)
			status[file] = Status{File: file, Error: reason}
			continue
		}
		if cur, ok := m.running[file]; ok && cur.cfg.Equal(cfg) {
			delete(stop, file)
			status[file] = m.status[file]
			continue
		}
		start[file] = cfg
	}

	for file, e := range stop {
		if err := e.runner.Stop(ctx); err != nil {
			m.logger.Error("failed to stop proxy", "file", file, "service", e.cfg.ServiceName, "error", err)
		} else {
			m.logger.Info("stopped proxy", "file", file, "service", e.cfg.ServiceName)
		}
		delete(m.running, file)
	}

	files := make([]string, 0, len(start))
	for file := range start {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		cfg := start[file]
		st := Status{File: file, Service: cfg.ServiceName}
		r, err := m.factory(cfg)
		if err == nil {
			err = r.Start(ctx)
		}
		if err != nil {
			st.Error = fmt.Sprintf("Failed to start proxy %s due to %v", cfg.ServiceName, err)
			m.logger.Error("failed to start proxy", "file", file, "service", cfg.ServiceName, "error", err)
		} else {
			st.Running = true
			m.running[file] = &entry{cfg: cfg, runner: r}
			m.logger.Info("started proxy", "file", file, "service", cfg.ServiceName)
		}
		status[file] = st
	}

	m.status = status
	m.lastReload = time.Now()
	return nil
}

// Watch reloads after changes to the configuration directory until ctx is
// done.
func (m *Manager) Watch(ctx context.Context) error {
	m.logger.Info("setting up proxy config watcher")
	return watch.Dir(ctx, m.dir, m.QuietPeriod, m.logger, func() {
		if err := m.Load(ctx); err != nil {
			m.logger.Error("failed to load config", "error", err)
			return
		}
		m.logger.Info("reloaded proxy config due to change")
	})
}

// Close stops every running proxy.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for file, e := range m.running {
		if err := e.runner.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
		}
		delete(m.running, file)
		if st, ok := m.status[file]; ok {
			st.Running = false
			m.status[file] = st
		}
	}
	return errors.Join(errs...)
}

// Status returns the state of every configuration file, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Running returns the number of running proxies.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// LastReload returns the time of the last successful Load.
func (m *Manager) LastReload() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReload
}
