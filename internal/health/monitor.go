// Package health runs the independent health monitor: periodic prerequisite
// checks with idempotent repairs, a filesystem watcher for immediate reaction
// when a channel file disappears, and the process metrics.
package health

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mt5-session-bot/internal/channel"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/memory"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/statemanager"
)

// Check is one named prerequisite with its repair. Repairs are idempotent:
// running one against a healthy target changes nothing.
type Check struct {
	Name   string
	Probe  func() error
	Repair func() error
}

// Monitor re-validates prerequisites on a fixed interval, independent of the
// session phase. It never touches trading state.
type Monitor struct {
	checks  []Check
	metrics *Metrics
	store   *memory.Store
	sm      *statemanager.StateManager
	phaseFn func() models.Phase

	interval   time.Duration
	watchDirs  []string
	watchFiles map[string]bool

	mu          sync.Mutex
	lastResults map[string]error
	stopCh      chan struct{}
	running     bool
}

// NewMonitor builds the monitor with the standard check set for the given
// collaborators.
func NewMonitor(cfg *models.Config, ch *channel.Channel, store *memory.Store, sm *statemanager.StateManager, phaseFn func() models.Phase) *Monitor {
	interval := time.Duration(cfg.HealthCheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	checks := []Check{
		{
			Name: "command_file",
			Probe: func() error {
				return ch.CheckCommandWritable()
			},
			Repair: ch.EnsureFiles,
		},
		{
			Name: "status_file",
			Probe: func() error {
				_, err := os.Stat(ch.StatusFile())
				return err
			},
			Repair: ch.EnsureFiles,
		},
		{
			Name:  "memory_store",
			Probe: store.CheckWritable,
			Repair: func() error {
				store.Reload()
				return store.CheckWritable()
			},
		},
		{
			Name: "capture_dir",
			Probe: func() error {
				info, err := os.Stat(cfg.ScreenshotsDir)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return os.ErrInvalid
				}
				return nil
			},
			Repair: func() error {
				return os.MkdirAll(cfg.ScreenshotsDir, 0755)
			},
		},
	}

	return &Monitor{
		checks:  checks,
		metrics: NewMetrics(),
		store:   store,
		sm:      sm,
		phaseFn: phaseFn,

		interval: interval,
		watchDirs: []string{
			filepath.Dir(ch.CommandFile()),
		},
		watchFiles: map[string]bool{
			ch.CommandFile(): true,
			ch.StatusFile():  true,
		},
		lastResults: make(map[string]error),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the periodic loop and the filesystem watcher.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop()
	go m.watchLoop()
	logger.S().Infof("Health monitor started, interval %s.", m.interval)
}

// Stop halts both loops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	logger.S().Info("Health monitor stopped.")
}

func (m *Monitor) loop() {
	// First pass immediately so a broken deployment is repaired at startup.
	m.RunChecks()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunChecks()
		}
	}
}

// watchLoop reacts to deletions of channel files between periodic passes. A
// failed watcher setup degrades to periodic-only checking.
func (m *Monitor) watchLoop() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.S().Warnf("Failed to create file watcher, relying on periodic checks only: %v", err)
		return
	}
	defer watcher.Close()

	for _, dir := range m.watchDirs {
		if err := watcher.Add(dir); err != nil {
			logger.S().Warnf("Failed to watch %s: %v", dir, err)
		}
	}

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.watchFiles[event.Name] {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.S().Warnf("Channel file %s disappeared, triggering immediate health pass.", event.Name)
				m.RunChecks()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.S().Warnf("File watcher error: %v", err)
		}
	}
}

// RunChecks executes every check once, repairing on failure, and refreshes
// the gauges. Safe to call concurrently with the loops.
func (m *Monitor) RunChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.checks {
		err := c.Probe()
		if err == nil {
			m.metrics.ChecksTotal.WithLabelValues(c.Name, "ok").Inc()
			m.metrics.CheckHealthy.WithLabelValues(c.Name).Set(1)
			m.lastResults[c.Name] = nil
			continue
		}

		m.metrics.ChecksTotal.WithLabelValues(c.Name, "fail").Inc()
		logger.S().Warnf("Health check %s failed: %v, attempting repair.", c.Name, err)

		if rerr := c.Repair(); rerr != nil {
			m.metrics.RepairsTotal.WithLabelValues(c.Name, "fail").Inc()
			m.metrics.CheckHealthy.WithLabelValues(c.Name).Set(0)
			m.lastResults[c.Name] = rerr
			logger.S().Errorf("Repair of %s failed: %v", c.Name, rerr)
			continue
		}

		// Re-probe so a repair that silently did nothing still shows up.
		if perr := c.Probe(); perr != nil {
			m.metrics.RepairsTotal.WithLabelValues(c.Name, "fail").Inc()
			m.metrics.CheckHealthy.WithLabelValues(c.Name).Set(0)
			m.lastResults[c.Name] = perr
			logger.S().Errorf("Repair of %s did not resolve the failure: %v", c.Name, perr)
			continue
		}

		m.metrics.RepairsTotal.WithLabelValues(c.Name, "ok").Inc()
		m.metrics.CheckHealthy.WithLabelValues(c.Name).Set(1)
		m.lastResults[c.Name] = nil
		logger.S().Infof("Health check %s repaired.", c.Name)
	}

	m.refreshGauges()
}

func (m *Monitor) refreshGauges() {
	if m.phaseFn != nil {
		m.metrics.SessionPhase.Set(float64(m.phaseFn()))
	}
	if m.store != nil {
		m.metrics.LessonsTotal.Set(float64(m.store.Count()))
	}
	if m.sm != nil {
		if state := m.sm.GetStateSnapshot(); state != nil && state.CurrentTrade != nil {
			m.metrics.OpenTrade.Set(1)
		} else {
			m.metrics.OpenTrade.Set(0)
		}
	}
}

// Healthy reports whether every check passed (or was repaired) on the last
// pass.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, err := range m.lastResults {
		if err != nil {
			return false
		}
	}
	return true
}

// Results returns the last error per check name, nil for healthy checks.
func (m *Monitor) Results() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.lastResults))
	for name, err := range m.lastResults {
		if err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	return out
}
