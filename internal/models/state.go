package models

import (
	"strings"
	"time"
)

// Command is a directive for the execution terminal.
type Command string

const (
	CommandWait  Command = "WAIT"
	CommandLong  Command = "LONG"
	CommandShort Command = "SHORT"
	CommandClose Command = "CLOSE"
)

// commandCodes is the single-character wire encoding the terminal understands.
var commandCodes = map[Command]string{
	CommandWait:  "1",
	CommandLong:  "2",
	CommandShort: "3",
	CommandClose: "4",
}

// Code returns the wire code for the command, or "" for an unknown value.
func (c Command) Code() string {
	return commandCodes[c]
}

// IsDirectional reports whether the command opens a position.
func (c Command) IsDirectional() bool {
	return c == CommandLong || c == CommandShort
}

// CommandFromCode maps a wire code back to a Command.
func CommandFromCode(code string) (Command, bool) {
	for cmd, c := range commandCodes {
		if c == code {
			return cmd, true
		}
	}
	return "", false
}

// Terminal-reported statuses. The vocabulary is open: unrecognized values are
// passed through and treated as non-terminal, non-active.
const (
	StatusWaiting     = "WAITING"
	StatusLongActive  = "LONG_ACTIVE"
	StatusShortActive = "SHORT_ACTIVE"
	StatusTPHit       = "TP_HIT"
	StatusSLHit       = "SL_HIT"
	StatusClosed      = "CLOSED"
	StatusManualClose = "MANUAL_CLOSE"
)

// Sentinel statuses produced by the channel reader itself, never by the
// terminal. Callers treat them as "no actionable information yet".
const (
	StatusFileNotFound = "FILE_NOT_FOUND"
	StatusUnreadable   = "UNREADABLE"
	StatusParseError   = "PARSE_ERROR"
)

// StatusRecord is the decoded content of the terminal status file. It is
// transient: read fresh on every poll, never persisted.
type StatusRecord struct {
	Status     string
	Ticket     int64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Timestamp  string // terminal-reported, opaque
	Message    string
	Raw        string
}

// IsActive reports whether the status denotes an open directional position.
func (s *StatusRecord) IsActive() bool {
	return s.Status == StatusLongActive || s.Status == StatusShortActive
}

// IsTerminal reports whether the trade has concluded.
func (s *StatusRecord) IsTerminal() bool {
	switch s.Status {
	case StatusTPHit, StatusSLHit, StatusClosed, StatusManualClose:
		return true
	}
	return false
}

// IsSentinel reports whether the record carries a reader-side failure marker
// instead of terminal-reported state.
func (s *StatusRecord) IsSentinel() bool {
	switch s.Status {
	case StatusFileNotFound, StatusUnreadable, StatusParseError:
		return true
	}
	return false
}

// Direction derives LONG/SHORT from the status text, or "" when neither
// applies.
func (s *StatusRecord) Direction() string {
	if strings.Contains(s.Status, "LONG") {
		return "LONG"
	}
	if strings.Contains(s.Status, "SHORT") {
		return "SHORT"
	}
	return ""
}

// Decision is the validated output of the decision source. Anything malformed
// collapses to the WAIT fallback at the oracle boundary, so a Decision held by
// the orchestrator is always well-formed.
type Decision struct {
	Command    Command           `json:"command"`
	Reasoning  string            `json:"reasoning"`
	Confidence int               `json:"confidence"` // 1-10
	Analysis   map[string]string `json:"analysis,omitempty"`
	Source     string            `json:"source"` // "oracle", "fallback", "scripted"
}

// TradeState describes the trade currently being monitored.
type TradeState struct {
	Direction string    `json:"direction"` // "LONG" or "SHORT"
	Ticket    int64     `json:"ticket"`
	Entry     float64   `json:"entry"`
	SessionID string    `json:"session_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// TradingState is the persisted mutable trading state shared between the
// session trigger and the monitor tick. It is owned by the state manager;
// everything else reads snapshots.
type TradingState struct {
	CurrentTrade   *TradeState `json:"current_trade,omitempty"`
	AwaitingSetup  bool        `json:"awaiting_setup"`
	LastUpdateTime time.Time   `json:"last_update_time"`
}

// Phase is a session state-machine state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGatheringContext
	PhaseAwaitingDecision
	PhaseDispatching
	PhaseMonitoring
	PhaseReflecting
	PhaseFailed
)

var phaseNames = [...]string{
	"Idle",
	"GatheringContext",
	"AwaitingDecision",
	"Dispatching",
	"Monitoring",
	"Reflecting",
	"Failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Unknown"
	}
	return phaseNames[p]
}
