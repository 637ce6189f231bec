package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandCodes(t *testing.T) {
	assert.Equal(t, "1", CommandWait.Code())
	assert.Equal(t, "2", CommandLong.Code())
	assert.Equal(t, "3", CommandShort.Code())
	assert.Equal(t, "4", CommandClose.Code())
	assert.Empty(t, Command("BUY").Code())

	cmd, ok := CommandFromCode("2")
	assert.True(t, ok)
	assert.Equal(t, CommandLong, cmd)

	_, ok = CommandFromCode("9")
	assert.False(t, ok)
}

func TestCommandIsDirectional(t *testing.T) {
	assert.True(t, CommandLong.IsDirectional())
	assert.True(t, CommandShort.IsDirectional())
	assert.False(t, CommandWait.IsDirectional())
	assert.False(t, CommandClose.IsDirectional())
}

func TestStatusRecordClassification(t *testing.T) {
	active := &StatusRecord{Status: StatusShortActive}
	assert.True(t, active.IsActive())
	assert.False(t, active.IsTerminal())
	assert.Equal(t, "SHORT", active.Direction())

	done := &StatusRecord{Status: StatusSLHit}
	assert.True(t, done.IsTerminal())
	assert.False(t, done.IsActive())

	sentinel := &StatusRecord{Status: StatusParseError}
	assert.True(t, sentinel.IsSentinel())

	// Open vocabulary: unknown statuses are non-terminal, non-active.
	odd := &StatusRecord{Status: "REBALANCING"}
	assert.False(t, odd.IsActive())
	assert.False(t, odd.IsTerminal())
	assert.False(t, odd.IsSentinel())
	assert.Empty(t, odd.Direction())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Idle", PhaseIdle.String())
	assert.Equal(t, "Monitoring", PhaseMonitoring.String())
	assert.Equal(t, "Unknown", Phase(99).String())
}
