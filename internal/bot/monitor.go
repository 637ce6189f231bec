package bot

import (
	"fmt"
	"strings"
	"time"

	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/statemanager"
)

// monitorLoop polls the terminal status while a trade is open. It is gated to
// the trading-hours window and checks the stop channel at the top of every
// iteration, so shutdown interrupts it between polls with currentTrade
// intact.
func (b *SessionBot) monitorLoop() {
	interval := time.Duration(b.config.StatusPollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			b.pollOnce(time.Now())
		}
	}
}

// pollOnce runs one monitoring iteration. Sentinel and unknown statuses keep
// polling without any state change; only a terminal outcome leaves
// monitoring.
func (b *SessionBot) pollOnce(now time.Time) {
	state := b.sm.GetStateSnapshot()
	if state == nil || state.CurrentTrade == nil {
		return
	}
	if !b.withinTradingHours(now) {
		logger.S().Debugf("Outside trading hours %s-%s, monitoring paused.", b.config.TradingHours.Start, b.config.TradingHours.End)
		return
	}

	trade := state.CurrentTrade
	rec := b.channel.ReadStatus()

	switch {
	case rec.IsSentinel():
		logger.S().Debugf("Status poll: %s (%s), continuing.", rec.Status, rec.Message)

	case rec.IsActive():
		b.reconcileActive(trade, rec)

	case rec.IsTerminal():
		b.reflect(trade, rec)

	default:
		// WAITING or an unrecognized status while we hold a trade: no
		// actionable information, keep polling.
		logger.S().Debugf("Status poll: %s, no actionable change.", rec.Status)
	}
}

// reconcileActive aligns our trade record with what the terminal reports. The
// terminal file is authoritative: a ticket we did not expect is adopted with
// a warning, not fought.
func (b *SessionBot) reconcileActive(trade *models.TradeState, rec *models.StatusRecord) {
	direction := rec.Direction()
	if direction != trade.Direction {
		logger.S().Warnf("Terminal reports %s but we recorded %s, adopting the terminal's view.", direction, trade.Direction)
	}
	if trade.Ticket != 0 && rec.Ticket != 0 && trade.Ticket != rec.Ticket {
		logger.S().Warnf("Terminal reports ticket %d but we recorded %d, adopting the terminal's ticket.", rec.Ticket, trade.Ticket)
	}
	if trade.Ticket == rec.Ticket && trade.Entry == rec.Entry && direction == trade.Direction {
		logger.S().Debugf("Trade ticket %d still active at %.5f.", rec.Ticket, rec.Entry)
		return
	}

	updated := *trade
	updated.Direction = direction
	updated.Ticket = rec.Ticket
	updated.Entry = rec.Entry
	b.sm.DispatchEvent(statemanager.NormalizedEvent{
		Type:      statemanager.TradeOpenedEvent,
		Timestamp: time.Now(),
		Data:      statemanager.TradeOpenedEventData{Trade: updated},
	})
	logger.S().Infof("Trade confirmed by terminal: %s ticket %d entry %.5f", direction, rec.Ticket, rec.Entry)
}

// reflect closes out a concluded trade: derive the pip result, record the
// lesson, journal the outcome and clear the trade. A lesson write failure is
// logged but never re-opens monitoring.
func (b *SessionBot) reflect(trade *models.TradeState, rec *models.StatusRecord) {
	b.setPhase(models.PhaseReflecting)

	pips := derivePips(trade.Direction, rec)
	logger.S().Infof("Trade ticket %d concluded: %s, %+.1f pips", rec.Ticket, rec.Status, pips)

	marker := "flat"
	relevance := 3
	rule := "Record kept for manual review"
	switch {
	case pips > 0 || rec.Status == models.StatusTPHit:
		marker = "win"
		relevance = 4
		rule = "Setup followed through, repeat this pattern"
	case pips < 0 || rec.Status == models.StatusSLHit:
		marker = "loss"
		relevance = 5
		rule = "Review the entry criteria behind this setup"
	}

	result := rec.Status
	if pips != 0 {
		result = fmt.Sprintf("%+.1f pips", pips)
	}
	context := fmt.Sprintf("%s ticket %d entry %.5f closed %s", trade.Direction, rec.Ticket, rec.Entry, rec.Status)
	tags := []string{strings.ToLower(trade.Direction), marker, "post_trade"}

	lessonID, err := b.store.AddLesson(b.config.Pair, "Post-Trade", context, rule, result, relevance, tags)
	if err != nil {
		logger.S().Errorf("Failed to record post-trade lesson: %v", err)
	} else {
		logger.S().Infof("Post-trade lesson %s recorded.", lessonID)
	}

	if _, err := b.journal.Append(journal.Entry{
		SessionID: trade.SessionID,
		Timestamp: time.Now(),
		Phase:     models.PhaseReflecting.String(),
		Outcome:   rec.Status,
		Pips:      pips,
	}); err != nil {
		logger.S().Errorf("Failed to journal trade outcome: %v", err)
	}

	b.sm.DispatchEvent(statemanager.NormalizedEvent{
		Type:      statemanager.TradeClosedEvent,
		Timestamp: time.Now(),
		Data:      statemanager.TradeClosedEventData{FinalStatus: rec.Status},
	})
	b.setPhase(models.PhaseIdle)
}

// derivePips computes the signed pip result of a concluded trade from the
// status record's entry and the price level that triggered the close. One
// pip is 1/10000 of price.
func derivePips(direction string, rec *models.StatusRecord) float64 {
	var delta float64
	switch rec.Status {
	case models.StatusTPHit:
		delta = rec.TakeProfit - rec.Entry
	case models.StatusSLHit:
		delta = rec.StopLoss - rec.Entry
	default:
		return 0
	}
	if direction == "SHORT" {
		delta = -delta
	}
	return delta * 10000
}
