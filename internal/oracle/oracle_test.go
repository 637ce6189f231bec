package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-session-bot/internal/models"
)

func TestValidateAcceptsWellFormed(t *testing.T) {
	d := Validate(&RawDecision{
		Decision:   "2",
		Reasoning:  "cascade aligned",
		Confidence: 8,
		Analysis:   map[string]string{"H4": "bullish"},
	})
	assert.Equal(t, models.CommandLong, d.Command)
	assert.Equal(t, 8, d.Confidence)
	assert.Equal(t, "oracle", d.Source)
	assert.Equal(t, "bullish", d.Analysis["H4"])
}

func TestValidateCollapsesToWait(t *testing.T) {
	cases := []struct {
		name string
		raw  *RawDecision
	}{
		{"nil payload", nil},
		{"unknown code", &RawDecision{Decision: "5", Confidence: 5}},
		{"empty code", &RawDecision{Decision: "", Confidence: 5}},
		{"confidence too low", &RawDecision{Decision: "2", Confidence: 0}},
		{"confidence too high", &RawDecision{Decision: "3", Confidence: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Validate(tc.raw)
			assert.Equal(t, models.CommandWait, d.Command, "fallback must never be directional")
			assert.Equal(t, "fallback", d.Source)
		})
	}
}

type failingDecider struct{}

func (failingDecider) Decide(context.Context, map[string]string, string) (*RawDecision, error) {
	return nil, errors.New("upstream unavailable")
}

func TestDecideFailureFallsBackToWait(t *testing.T) {
	d := Decide(context.Background(), failingDecider{}, nil, "")
	assert.Equal(t, models.CommandWait, d.Command)
	assert.Equal(t, "fallback", d.Source)

	d = Decide(context.Background(), nil, nil, "")
	assert.Equal(t, models.CommandWait, d.Command)
}

func TestScriptedReplaysSequence(t *testing.T) {
	s := &Scripted{Sequence: []RawDecision{
		{Decision: "2", Confidence: 8},
		{Decision: "1", Confidence: 5},
	}}

	d := Decide(context.Background(), s, nil, "")
	require.Equal(t, models.CommandLong, d.Command)
	assert.Equal(t, "scripted", d.Source)

	d = Decide(context.Background(), s, nil, "")
	assert.Equal(t, models.CommandWait, d.Command)
	assert.Equal(t, "scripted", d.Source)

	// Past the end, the last entry repeats.
	d = Decide(context.Background(), s, nil, "")
	assert.Equal(t, models.CommandWait, d.Command)
}

func TestFileDeciderConsumesDropFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_decision.json")
	d := NewFileDecider(path)

	// No file yet: WAIT.
	dec := Decide(context.Background(), d, nil, "")
	assert.Equal(t, models.CommandWait, dec.Command)

	require.NoError(t, os.WriteFile(path, []byte(`{"decision":"3","reasoning":"breakdown","confidence":7}`), 0644))
	dec = Decide(context.Background(), d, nil, "")
	assert.Equal(t, models.CommandShort, dec.Command)
	assert.Equal(t, 7, dec.Confidence)

	// The file was consumed: the same decision must not replay.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	dec = Decide(context.Background(), d, nil, "")
	assert.Equal(t, models.CommandWait, dec.Command)
}

func TestFileDeciderMalformedIsWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_decision.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	dec := Decide(context.Background(), NewFileDecider(path), nil, "")
	assert.Equal(t, models.CommandWait, dec.Command)
	assert.Equal(t, "fallback", dec.Source)
}

func TestScriptedEmptyIsFallback(t *testing.T) {
	d := Decide(context.Background(), &Scripted{}, nil, "")
	assert.Equal(t, models.CommandWait, d.Command)
	assert.Equal(t, "fallback", d.Source)
}
