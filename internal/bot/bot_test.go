package bot

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mt5-session-bot/internal/capture"
	"mt5-session-bot/internal/channel"
	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/memory"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/oracle"
	"mt5-session-bot/internal/statemanager"
)

// memoryRepo is an in-memory StateRepository for orchestrator tests.
type memoryRepo struct {
	mu    sync.Mutex
	state *models.TradingState
}

func (r *memoryRepo) SaveState(state *models.TradingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	if state.CurrentTrade != nil {
		trade := *state.CurrentTrade
		cp.CurrentTrade = &trade
	}
	r.state = &cp
	return nil
}

func (r *memoryRepo) LoadState() (*models.TradingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *memoryRepo) Close() error { return nil }

type fixture struct {
	bot     *SessionBot
	channel *channel.Channel
	store   *memory.Store
	journal *journal.Journal
	sm      *statemanager.StateManager
	dir     string
}

func newFixture(t *testing.T, initial *models.TradingState, decider oracle.Decider) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := models.DefaultConfig()
	cfg.CommandFile = filepath.Join(dir, "mt5", "trading_commands.txt")
	cfg.StatusFile = filepath.Join(dir, "mt5", "trade_status.txt")
	cfg.ScreenshotsDir = filepath.Join(dir, "screenshots")
	cfg.MemoryFile = filepath.Join(dir, "trading_memory.json")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.JournalFile = filepath.Join(dir, "journal.json")
	// Window spanning the whole day so tests are wall-clock independent.
	cfg.TradingHours = models.TradingHours{Start: "00:00", End: "23:59"}

	ch := channel.NewChannel(cfg.CommandFile, cfg.StatusFile)
	store := memory.NewStore(cfg.MemoryFile, cfg.BackupDir, cfg.MaxBackups)
	jn := journal.NewJournal(cfg.JournalFile, cfg.JournalCap)
	sm := statemanager.NewStateManager(initial, &memoryRepo{}, zap.NewNop())
	sm.Start()
	t.Cleanup(sm.Stop)

	prov := &capture.StaticProvider{Artifacts: map[string]string{
		"H4": "h4.png", "H1": "h1.png", "M15": "m15.png",
	}}

	b := NewSessionBot(cfg, ch, store, jn, sm, prov, decider)
	return &fixture{bot: b, channel: ch, store: store, journal: jn, sm: sm, dir: dir}
}

func readCommandFile(t *testing.T, f *fixture) string {
	t.Helper()
	raw, err := os.ReadFile(f.bot.config.CommandFile)
	require.NoError(t, err)
	return string(raw)
}

func TestDerivePips(t *testing.T) {
	cases := []struct {
		name      string
		direction string
		rec       models.StatusRecord
		want      float64
	}{
		{"long tp", "LONG", models.StatusRecord{Status: models.StatusTPHit, Entry: 1.0950, StopLoss: 1.0900, TakeProfit: 1.1000}, 50},
		{"long sl", "LONG", models.StatusRecord{Status: models.StatusSLHit, Entry: 1.0950, StopLoss: 1.0900, TakeProfit: 1.1000}, -50},
		{"short tp", "SHORT", models.StatusRecord{Status: models.StatusTPHit, Entry: 1.0950, StopLoss: 1.1000, TakeProfit: 1.0900}, 50},
		{"short sl", "SHORT", models.StatusRecord{Status: models.StatusSLHit, Entry: 1.0950, StopLoss: 1.1000, TakeProfit: 1.0900}, -50},
		{"manual close", "LONG", models.StatusRecord{Status: models.StatusManualClose, Entry: 1.0950}, 0},
		{"closed", "SHORT", models.StatusRecord{Status: models.StatusClosed, Entry: 1.0950}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.rec
			assert.InDelta(t, tc.want, derivePips(tc.direction, &rec), 1e-9)
		})
	}
}

func TestWithinTradingHours(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{})
	f.bot.config.TradingHours = models.TradingHours{Start: "14:00", End: "17:00"}

	at := func(hhmm string) time.Time {
		parsed, err := time.Parse("15:04", hhmm)
		require.NoError(t, err)
		return time.Date(2025, 7, 10, parsed.Hour(), parsed.Minute(), 0, 0, time.Local)
	}

	assert.False(t, f.bot.withinTradingHours(at("13:59")))
	assert.True(t, f.bot.withinTradingHours(at("14:00")))
	assert.True(t, f.bot.withinTradingHours(at("16:59")))
	assert.False(t, f.bot.withinTradingHours(at("17:00")))

	// A broken window must not silently stop monitoring.
	f.bot.config.TradingHours = models.TradingHours{Start: "bogus", End: "17:00"}
	assert.True(t, f.bot.withinTradingHours(at("03:00")))
}

func TestScheduledSessionFiresOncePerDay(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{})
	f.bot.config.DailySessionTime = "13:00"

	tick := time.Date(2025, 7, 10, 13, 0, 15, 0, time.Local)
	assert.True(t, f.bot.scheduledSessionDue(tick))
	assert.False(t, f.bot.scheduledSessionDue(tick.Add(20*time.Second)), "same minute must not fire twice")

	nextDay := tick.Add(24 * time.Hour)
	assert.True(t, f.bot.scheduledSessionDue(nextDay))

	assert.False(t, f.bot.scheduledSessionDue(nextDay.Add(time.Hour)), "wrong minute never fires")
}

func TestReentryDue(t *testing.T) {
	f := newFixture(t, &models.TradingState{AwaitingSetup: true}, &oracle.Scripted{})
	assert.True(t, f.bot.reentryDue(time.Now()))

	f.bot.config.TradingHours = models.TradingHours{Start: "14:00", End: "17:00"}
	assert.False(t, f.bot.reentryDue(time.Date(2025, 7, 10, 3, 0, 0, 0, time.Local)))
	assert.True(t, f.bot.reentryDue(time.Date(2025, 7, 10, 15, 0, 0, 0, time.Local)))

	open := newFixture(t, &models.TradingState{
		CurrentTrade:  &models.TradeState{Direction: "LONG", Ticket: 1},
		AwaitingSetup: true,
	}, &oracle.Scripted{})
	assert.False(t, open.bot.reentryDue(time.Now()), "an open trade suppresses re-analysis")

	idle := newFixture(t, nil, &oracle.Scripted{})
	assert.False(t, idle.bot.reentryDue(time.Now()), "nothing pending, nothing to re-check")
}

func TestMonitoringInterval(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{})

	f.bot.config.MonitoringIntervalMin = 5
	assert.Equal(t, 5*time.Minute, f.bot.monitoringInterval())

	f.bot.config.MonitoringIntervalMin = 0
	assert.Equal(t, 15*time.Minute, f.bot.monitoringInterval())
}

func TestSessionWaitDecision(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{Sequence: []oracle.RawDecision{
		{Decision: "1", Reasoning: "no clear setup", Confidence: 5},
	}})

	f.bot.runSession("test")

	assert.Equal(t, "1", readCommandFile(t, f))
	assert.Equal(t, models.PhaseIdle, f.bot.Phase())

	require.Eventually(t, func() bool {
		s := f.sm.GetStateSnapshot()
		return s != nil && s.AwaitingSetup && s.CurrentTrade == nil
	}, time.Second, 10*time.Millisecond)

	entries := f.journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "waiting", entries[0].Outcome)
	assert.Equal(t, models.CommandWait, entries[0].Decision.Command)
}

func TestSessionCaptureFailureAborts(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{Sequence: []oracle.RawDecision{
		{Decision: "2", Confidence: 9},
	}})
	f.bot.capture = &capture.StaticProvider{} // empty: hard failure

	f.bot.runSession("test")

	assert.Equal(t, models.PhaseIdle, f.bot.Phase())

	// No command must have been dispatched.
	raw, err := os.ReadFile(f.bot.config.CommandFile)
	require.NoError(t, err)
	assert.Empty(t, string(raw))

	entries := f.journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.PhaseFailed.String(), entries[0].Phase)
	assert.Contains(t, entries[0].Error, "context capture")
}

func TestSessionSkippedWhileTradeOpen(t *testing.T) {
	initial := &models.TradingState{
		CurrentTrade: &models.TradeState{Direction: "LONG", Ticket: 5},
	}
	f := newFixture(t, initial, &oracle.Scripted{Sequence: []oracle.RawDecision{
		{Decision: "3", Confidence: 9},
	}})

	f.bot.runSession("test")

	assert.Empty(t, f.journal.Entries(), "a skipped session journals nothing")
	_, err := os.Stat(f.bot.config.CommandFile)
	assert.True(t, os.IsNotExist(err), "no command file should have been created")
}

func TestFullCycleLongToTakeProfit(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{Sequence: []oracle.RawDecision{
		{Decision: "2", Reasoning: "cascade aligned", Confidence: 9},
	}})
	lessonsBefore := f.store.Count()

	// Session: decision LONG is dispatched as "2".
	f.bot.runSession("test")
	assert.Equal(t, "2", readCommandFile(t, f))
	assert.Equal(t, models.PhaseMonitoring, f.bot.Phase())

	require.Eventually(t, func() bool {
		s := f.sm.GetStateSnapshot()
		return s != nil && s.CurrentTrade != nil && s.CurrentTrade.Direction == "LONG"
	}, time.Second, 10*time.Millisecond)

	// Terminal confirms the open position; a poll adopts ticket and entry.
	require.NoError(t, os.WriteFile(f.bot.config.StatusFile,
		[]byte("LONG_ACTIVE|1001|1.0950|1.0900|1.1000|20250710|Order filled"), 0644))
	f.bot.pollOnce(time.Now())

	require.Eventually(t, func() bool {
		s := f.sm.GetStateSnapshot()
		return s.CurrentTrade != nil && s.CurrentTrade.Ticket == 1001
	}, time.Second, 10*time.Millisecond)

	// Take profit hits; the next poll reflects and clears the trade.
	require.NoError(t, os.WriteFile(f.bot.config.StatusFile,
		[]byte("TP_HIT|1001|1.0950|1.0900|1.1000|20250710|done"), 0644))
	f.bot.pollOnce(time.Now())

	assert.Equal(t, models.PhaseIdle, f.bot.Phase())
	require.Eventually(t, func() bool {
		s := f.sm.GetStateSnapshot()
		return s.CurrentTrade == nil
	}, time.Second, 10*time.Millisecond)

	// Exactly one new lesson, tagged with direction and outcome.
	assert.Equal(t, lessonsBefore+1, f.store.Count())
	lessons := f.store.GetRecentLessons(memory.RecentQuery{Limit: 1, MinRelevance: 1, Type: "Post-Trade"})
	require.Len(t, lessons, 1)
	assert.Equal(t, []string{"long", "win", "post_trade"}, lessons[0].Tags)
	assert.Equal(t, "+50.0 pips", lessons[0].Result)

	// Journal holds the dispatch and the outcome.
	entries := f.journal.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "dispatched", entries[0].Outcome)
	assert.Equal(t, models.StatusTPHit, entries[1].Outcome)
	assert.InDelta(t, 50.0, entries[1].Pips, 1e-9)
}

func TestStopLossProducesLossLesson(t *testing.T) {
	initial := &models.TradingState{
		CurrentTrade: &models.TradeState{Direction: "LONG", Ticket: 1001, Entry: 1.0950, SessionID: "s-x"},
	}
	f := newFixture(t, initial, &oracle.Scripted{})
	lessonsBefore := f.store.Count()

	require.NoError(t, os.MkdirAll(filepath.Dir(f.bot.config.StatusFile), 0755))
	require.NoError(t, os.WriteFile(f.bot.config.StatusFile,
		[]byte("SL_HIT|1001|1.0950|1.0900|1.1000|20250710|stopped"), 0644))
	f.bot.pollOnce(time.Now())

	assert.Equal(t, lessonsBefore+1, f.store.Count())
	lessons := f.store.GetRecentLessons(memory.RecentQuery{Limit: 1, MinRelevance: 1, Type: "Post-Trade"})
	require.Len(t, lessons, 1)
	assert.Equal(t, []string{"long", "loss", "post_trade"}, lessons[0].Tags)
	assert.Equal(t, "-50.0 pips", lessons[0].Result)
	assert.Equal(t, 5, lessons[0].Relevance)
}

func TestPollOutsideTradingHoursDoesNothing(t *testing.T) {
	initial := &models.TradingState{
		CurrentTrade: &models.TradeState{Direction: "LONG", Ticket: 1001, SessionID: "s-x"},
	}
	f := newFixture(t, initial, &oracle.Scripted{})
	f.bot.config.TradingHours = models.TradingHours{Start: "14:00", End: "17:00"}

	require.NoError(t, os.MkdirAll(filepath.Dir(f.bot.config.StatusFile), 0755))
	require.NoError(t, os.WriteFile(f.bot.config.StatusFile,
		[]byte("TP_HIT|1001|1.0950|1.0900|1.1000|20250710|done"), 0644))

	before := f.store.Count()
	f.bot.pollOnce(time.Date(2025, 7, 10, 3, 0, 0, 0, time.Local))

	assert.Equal(t, before, f.store.Count(), "no reflection outside the window")
	s := f.sm.GetStateSnapshot()
	require.NotNil(t, s.CurrentTrade)
}

func TestPollAdoptsTerminalTicketOnMismatch(t *testing.T) {
	initial := &models.TradingState{
		CurrentTrade: &models.TradeState{Direction: "LONG", Ticket: 42, Entry: 1.0, SessionID: "s-x"},
	}
	f := newFixture(t, initial, &oracle.Scripted{})

	require.NoError(t, os.MkdirAll(filepath.Dir(f.bot.config.StatusFile), 0755))
	require.NoError(t, os.WriteFile(f.bot.config.StatusFile,
		[]byte("LONG_ACTIVE|99|1.0950|1.0900|1.1000|20250710|open"), 0644))
	f.bot.pollOnce(time.Now())

	require.Eventually(t, func() bool {
		s := f.sm.GetStateSnapshot()
		return s.CurrentTrade != nil && s.CurrentTrade.Ticket == 99
	}, time.Second, 10*time.Millisecond, "terminal file is authoritative")
}

func TestStopLeavesTradeIntact(t *testing.T) {
	initial := &models.TradingState{
		CurrentTrade: &models.TradeState{Direction: "SHORT", Ticket: 7, SessionID: "s-x"},
	}
	f := newFixture(t, initial, &oracle.Scripted{})

	require.NoError(t, f.bot.Start())
	assert.Equal(t, models.PhaseMonitoring, f.bot.Phase(), "startup with an open trade resumes monitoring")
	f.bot.Stop()

	s := f.sm.GetStateSnapshot()
	require.NotNil(t, s.CurrentTrade, "shutdown must never clear an open trade")
	assert.Equal(t, int64(7), s.CurrentTrade.Ticket)
}

func TestPhaseHookFires(t *testing.T) {
	f := newFixture(t, nil, &oracle.Scripted{Sequence: []oracle.RawDecision{
		{Decision: "1", Confidence: 5},
	}})

	var mu sync.Mutex
	var seen []models.Phase
	f.bot.SetPhaseHook(func(p models.Phase) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	f.bot.runSession("test")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, models.PhaseGatheringContext)
	assert.Contains(t, seen, models.PhaseDispatching)
	assert.Equal(t, models.PhaseIdle, seen[len(seen)-1])
}
