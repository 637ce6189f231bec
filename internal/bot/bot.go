// Package bot contains the session orchestrator: the state machine that
// sequences context-gathering, decision, command dispatch, monitoring and
// lesson capture, plus the scheduler and monitor loops that drive it.
package bot

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jxskiss/base62"

	"mt5-session-bot/internal/capture"
	"mt5-session-bot/internal/channel"
	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/memory"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/oracle"
	"mt5-session-bot/internal/statemanager"
)

// SessionBot orchestrates one instrument's decision-to-execution loop.
type SessionBot struct {
	config  *models.Config
	channel *channel.Channel
	store   *memory.Store
	journal *journal.Journal
	sm      *statemanager.StateManager
	capture capture.Provider
	decider oracle.Decider

	mu          sync.Mutex
	phase       models.Phase
	lastSession string // "2006-01-02" of the last scheduled session fired
	phaseHook   func(models.Phase)

	stopChannel chan bool
	runNow      chan string
	isRunning   bool
}

// NewSessionBot wires the orchestrator. The state manager must already hold
// the restored state; Start decides whether monitoring resumes.
func NewSessionBot(cfg *models.Config, ch *channel.Channel, store *memory.Store, jn *journal.Journal, sm *statemanager.StateManager, prov capture.Provider, decider oracle.Decider) *SessionBot {
	return &SessionBot{
		config:      cfg,
		channel:     ch,
		store:       store,
		journal:     jn,
		sm:          sm,
		capture:     prov,
		decider:     decider,
		phase:       models.PhaseIdle,
		stopChannel: make(chan bool),
		runNow:      make(chan string, 1),
	}
}

// Start launches the scheduler and monitor loops. If a trade survived the
// previous run, monitoring resumes immediately without a new session.
func (b *SessionBot) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("session bot is already running")
	}
	b.isRunning = true
	b.stopChannel = make(chan bool)
	b.mu.Unlock()

	if state := b.sm.GetStateSnapshot(); state != nil && state.CurrentTrade != nil {
		logger.S().Infof("Resuming monitoring of %s trade ticket %d from previous run.",
			state.CurrentTrade.Direction, state.CurrentTrade.Ticket)
		b.setPhase(models.PhaseMonitoring)
	}

	go b.schedulerLoop()
	go b.monitorLoop()
	logger.S().Infof("Session bot started: pair=%s session=%s window=%s-%s",
		b.config.Pair, b.config.DailySessionTime, b.config.TradingHours.Start, b.config.TradingHours.End)
	return nil
}

// Stop halts both loops. The current trade is deliberately left in place so
// the next run resumes monitoring; shutdown never closes an open position.
func (b *SessionBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isRunning {
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	logger.S().Info("Session bot stopped.")
}

// RunSessionNow requests a manual session. It never blocks; a request while
// one is already queued is dropped.
func (b *SessionBot) RunSessionNow() {
	select {
	case b.runNow <- "manual":
		logger.S().Info("Manual session requested.")
	default:
		logger.S().Warn("Manual session request dropped, one is already queued.")
	}
}

// Phase returns the current session phase.
func (b *SessionBot) Phase() models.Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// SetPhaseHook registers a callback fired on every phase change. Set before
// Start; used by the status server to push updates.
func (b *SessionBot) SetPhaseHook(fn func(models.Phase)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phaseHook = fn
}

func (b *SessionBot) setPhase(p models.Phase) {
	b.mu.Lock()
	prev := b.phase
	b.phase = p
	hook := b.phaseHook
	b.mu.Unlock()
	if prev != p {
		logger.S().Debugf("Session phase: %s -> %s", prev, p)
		if hook != nil {
			hook(p)
		}
	}
}

// schedulerLoop fires the daily session at the configured wall-clock time,
// once per calendar day, re-analyzes a pending setup on the monitoring
// interval, and services manual run-now requests.
func (b *SessionBot) schedulerLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	reentry := time.NewTicker(b.monitoringInterval())
	defer reentry.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case trigger := <-b.runNow:
			b.runSession(trigger)
		case <-ticker.C:
			if b.scheduledSessionDue(time.Now()) {
				b.runSession("scheduled")
			}
		case <-reentry.C:
			if b.reentryDue(time.Now()) {
				b.runSession("monitoring")
			}
		}
	}
}

// monitoringInterval is the cadence of setup re-analysis.
func (b *SessionBot) monitoringInterval() time.Duration {
	interval := time.Duration(b.config.MonitoringIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return interval
}

// reentryDue reports whether a monitoring re-analysis should run: the last
// session ended waiting for a setup, no trade is open, and the trading window
// is open.
func (b *SessionBot) reentryDue(now time.Time) bool {
	state := b.sm.GetStateSnapshot()
	if state == nil || state.CurrentTrade != nil || !state.AwaitingSetup {
		return false
	}
	return b.withinTradingHours(now)
}

// scheduledSessionDue reports whether the daily trigger should fire, and
// marks the day consumed when it does.
func (b *SessionBot) scheduledSessionDue(now time.Time) bool {
	target, err := time.Parse("15:04", b.config.DailySessionTime)
	if err != nil {
		return false
	}
	if now.Hour() != target.Hour() || now.Minute() != target.Minute() {
		return false
	}
	day := now.Format("2006-01-02")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSession == day {
		return false
	}
	b.lastSession = day
	return true
}

// withinTradingHours reports whether now falls inside the configured window.
// An unparsable window fails open so a config typo cannot silently stop
// monitoring.
func (b *SessionBot) withinTradingHours(now time.Time) bool {
	start, err1 := time.Parse("15:04", b.config.TradingHours.Start)
	end, err2 := time.Parse("15:04", b.config.TradingHours.End)
	if err1 != nil || err2 != nil {
		logger.S().Warnf("Unparsable trading hours %q-%q, monitoring unrestricted.",
			b.config.TradingHours.Start, b.config.TradingHours.End)
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start.Hour()*60+start.Minute() && minutes < end.Hour()*60+end.Minute()
}

// newSessionID mints a short sortable id for a session attempt.
func newSessionID() string {
	return "s-" + string(base62.FormatInt(time.Now().UnixNano()))
}

// checkDirWritable probes a directory with a throwaway file, creating it
// first if needed.
func checkDirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
