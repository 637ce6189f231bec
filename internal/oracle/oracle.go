// Package oracle abstracts the decision source. Whatever comes back from the
// collaborator is validated at this boundary: the orchestrator only ever sees
// a well-formed Decision, and anything malformed collapses to WAIT.
package oracle

import (
	"context"

	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
)

// Decider produces a raw decision from the captured context and the memory
// text. An error or a nil result is treated like a malformed decision.
type Decider interface {
	Decide(ctx context.Context, artifacts map[string]string, memoryText string) (*RawDecision, error)
}

// RawDecision is the loosely-shaped payload a decision collaborator returns.
// Fields are validated by Validate before anything acts on them.
type RawDecision struct {
	Decision   string            `json:"decision"`   // wire code "1".."4"
	Reasoning  string            `json:"reasoning"`
	Confidence int               `json:"confidence"` // must land in [1,10]
	Analysis   map[string]string `json:"analysis,omitempty"`
	Source     string            `json:"source,omitempty"`
}

// fallback is the decision used whenever the collaborator fails validation.
// The default bias under any ambiguity is to not trade.
func fallback(reason string) *models.Decision {
	return &models.Decision{
		Command:    models.CommandWait,
		Reasoning:  reason,
		Confidence: 1,
		Source:     "fallback",
	}
}

// Validate checks a raw decision and returns a well-formed Decision. A nil
// raw, an unknown command code or an out-of-range confidence all collapse to
// the WAIT fallback, never to a directional command.
func Validate(raw *RawDecision) *models.Decision {
	if raw == nil {
		return fallback("decision source returned nothing")
	}
	cmd, ok := models.CommandFromCode(raw.Decision)
	if !ok {
		logger.S().Warnf("Decision source returned unknown command code %q, falling back to WAIT.", raw.Decision)
		return fallback("invalid command code")
	}
	if raw.Confidence < 1 || raw.Confidence > 10 {
		logger.S().Warnf("Decision source returned confidence %d outside [1,10], falling back to WAIT.", raw.Confidence)
		return fallback("confidence out of range")
	}
	source := raw.Source
	if source == "" {
		source = "oracle"
	}
	return &models.Decision{
		Command:    cmd,
		Reasoning:  raw.Reasoning,
		Confidence: raw.Confidence,
		Analysis:   raw.Analysis,
		Source:     source,
	}
}

// Decide runs the collaborator and validates its output. It never returns an
// error: failure means WAIT.
func Decide(ctx context.Context, d Decider, artifacts map[string]string, memoryText string) *models.Decision {
	if d == nil {
		return fallback("no decision source configured")
	}
	raw, err := d.Decide(ctx, artifacts, memoryText)
	if err != nil {
		logger.S().Warnf("Decision source failed: %v, falling back to WAIT.", err)
		return fallback(err.Error())
	}
	return Validate(raw)
}

// Scripted replays a fixed sequence of raw decisions, then keeps returning
// the last one. Used in tests and dry runs.
type Scripted struct {
	Sequence []RawDecision
	next     int
}

func (s *Scripted) Decide(context.Context, map[string]string, string) (*RawDecision, error) {
	if len(s.Sequence) == 0 {
		return nil, nil
	}
	i := s.next
	if i >= len(s.Sequence) {
		i = len(s.Sequence) - 1
	} else {
		s.next++
	}
	raw := s.Sequence[i]
	if raw.Source == "" {
		raw.Source = "scripted"
	}
	return &raw, nil
}
