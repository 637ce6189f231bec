package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/memory"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/oracle"
	"mt5-session-bot/internal/statemanager"
)

// runSession executes one full session attempt: pre-checks, capture,
// decision, dispatch. Any hard failure aborts to Failed and then Idle; the
// next trigger starts fresh. Monitoring itself is driven by the monitor loop,
// not by this call.
func (b *SessionBot) runSession(trigger string) {
	sessionID := newSessionID()
	logger.S().Infof("===== Session %s starting (%s) =====", sessionID, trigger)

	if state := b.sm.GetStateSnapshot(); state != nil && state.CurrentTrade != nil {
		logger.S().Warnf("Session %s skipped: trade ticket %d is still being monitored.", sessionID, state.CurrentTrade.Ticket)
		return
	}

	entry := journal.Entry{SessionID: sessionID, Timestamp: time.Now()}

	fail := func(stage string, err error) {
		b.setPhase(models.PhaseFailed)
		logger.S().Errorf("Session %s failed during %s: %v", sessionID, stage, err)
		entry.Phase = models.PhaseFailed.String()
		entry.Error = fmt.Sprintf("%s: %v", stage, err)
		if _, jerr := b.journal.Append(entry); jerr != nil {
			logger.S().Errorf("Failed to journal session %s: %v", sessionID, jerr)
		}
		b.setPhase(models.PhaseIdle)
	}

	// Pre-session checks run before anything has side effects.
	b.setPhase(models.PhaseGatheringContext)
	if err := b.preSessionChecks(); err != nil {
		fail("pre-session checks", err)
		return
	}

	artifacts, err := b.capture.CaptureContext(b.config.Pair, b.config.Timeframes)
	if err != nil || len(artifacts) == 0 {
		if err == nil {
			err = fmt.Errorf("capture returned no artifacts")
		}
		fail("context capture", err)
		return
	}
	entry.Artifacts = artifacts
	logger.S().Infof("Session %s captured %d artifacts.", sessionID, len(artifacts))

	b.setPhase(models.PhaseAwaitingDecision)
	memoryText := b.buildMemoryContext()
	decision := oracle.Decide(context.Background(), b.decider, artifacts, memoryText)
	entry.Decision = decision
	logger.S().Infof("Session %s decision: %s (confidence %d, source %s)", sessionID, decision.Command, decision.Confidence, decision.Source)

	b.setPhase(models.PhaseDispatching)
	if err := b.channel.SendCommand(decision.Command); err != nil {
		fail("command dispatch", err)
		return
	}

	switch decision.Command {
	case models.CommandWait:
		// No trade: note whether a setup is still forming so the next
		// monitoring tick has context.
		b.sm.DispatchEvent(statemanager.NormalizedEvent{
			Type:      statemanager.SetupAwaitedEvent,
			Timestamp: time.Now(),
			Data:      statemanager.SetupAwaitedEventData{Awaiting: true},
		})
		entry.Outcome = "waiting"
		b.setPhase(models.PhaseIdle)
	case models.CommandClose:
		b.sm.DispatchEvent(statemanager.NormalizedEvent{
			Type:      statemanager.TradeClosedEvent,
			Timestamp: time.Now(),
			Data:      statemanager.TradeClosedEventData{FinalStatus: models.StatusManualClose},
		})
		entry.Outcome = "close requested"
		b.setPhase(models.PhaseIdle)
	case models.CommandLong, models.CommandShort:
		b.sm.DispatchEvent(statemanager.NormalizedEvent{
			Type:      statemanager.TradeOpenedEvent,
			Timestamp: time.Now(),
			Data: statemanager.TradeOpenedEventData{Trade: models.TradeState{
				Direction: string(decision.Command),
				SessionID: sessionID,
				OpenedAt:  time.Now(),
			}},
		})
		entry.Outcome = "dispatched"
		b.setPhase(models.PhaseMonitoring)
	}

	entry.Phase = b.Phase().String()
	if _, err := b.journal.Append(entry); err != nil {
		logger.S().Errorf("Failed to journal session %s: %v", sessionID, err)
	}
	logger.S().Infof("===== Session %s complete =====", sessionID)
}

// preSessionChecks validates every prerequisite the session depends on:
// channel files present and writable, store reachable, capture directory
// writable.
func (b *SessionBot) preSessionChecks() error {
	if err := b.channel.EnsureFiles(); err != nil {
		return fmt.Errorf("channel files: %w", err)
	}
	if err := b.channel.CheckCommandWritable(); err != nil {
		return fmt.Errorf("command file not writable: %w", err)
	}
	if err := b.store.CheckWritable(); err != nil {
		return fmt.Errorf("memory store not writable: %w", err)
	}
	if err := checkDirWritable(b.config.ScreenshotsDir); err != nil {
		return fmt.Errorf("capture directory not writable: %w", err)
	}
	return nil
}

// buildMemoryContext assembles the text block handed to the decision source:
// a short state header plus the recent high-relevance lessons.
func (b *SessionBot) buildMemoryContext() string {
	var header []string
	header = append(header, fmt.Sprintf("Date: %s", time.Now().Format("2006-01-02 15:04")))

	state := b.sm.GetStateSnapshot()
	if state != nil && state.CurrentTrade != nil {
		header = append(header, fmt.Sprintf("Current state: %s trade ticket %d open", state.CurrentTrade.Direction, state.CurrentTrade.Ticket))
	} else {
		header = append(header, "Current state: no active trades")
	}
	if state != nil && state.AwaitingSetup {
		header = append(header, "Awaiting setup: yes")
	} else {
		header = append(header, "Awaiting setup: no")
	}

	lessons := b.store.GetRecentLessons(memory.RecentQuery{Limit: 10, MinRelevance: 4})
	return strings.Join(header, "\n") + "\n\n" + memory.FormatForAnalysis(lessons)
}
