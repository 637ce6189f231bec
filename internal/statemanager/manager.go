package statemanager

import (
	"time"

	"go.uber.org/zap"

	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/persistence"
)

// EventType defines the type of a normalized event
type EventType int

const (
	TradeOpenedEvent EventType = iota
	TradeClosedEvent
	SetupAwaitedEvent
	StateRestoredEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TradeOpenedEventData carries the trade the terminal confirmed open.
type TradeOpenedEventData struct {
	Trade models.TradeState
}

// TradeClosedEventData carries the terminal status that concluded the trade.
type TradeClosedEventData struct {
	FinalStatus string
}

// SetupAwaitedEventData flags whether the session left a setup pending.
type SetupAwaitedEventData struct {
	Awaiting bool
}

// StateManager is responsible for all trading-state mutations and
// persistence. It ensures that all state changes are processed serially.
type StateManager struct {
	state           *models.TradingState
	repo            persistence.StateRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.TradingState
	stopChan        chan bool
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager.
func NewStateManager(initialState *models.TradingState, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	if initialState == nil {
		initialState = &models.TradingState{}
	}
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.TradingState, 128),
		stopChan:        make(chan bool),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop gracefully shuts down the StateManager.
func (sm *StateManager) Stop() {
	close(sm.stopChan)
	sm.logger.Sugar().Info("StateManager stopped.")
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// GetStateSnapshot returns a deep copy of the current state for safe,
// concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.TradingState {
	return sm.deepCopy()
}

// deepCopy creates a deep copy of the TradingState to prevent data races.
func (sm *StateManager) deepCopy() *models.TradingState {
	if sm.state == nil {
		return nil
	}

	stateCopy := *sm.state
	if sm.state.CurrentTrade != nil {
		tradeCopy := *sm.state.CurrentTrade
		stateCopy.CurrentTrade = &tradeCopy
	}
	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveState(stateToSave); err != nil {
					sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	switch event.Type {
	case TradeOpenedEvent:
		if data, ok := event.Data.(TradeOpenedEventData); ok {
			trade := data.Trade
			sm.state.CurrentTrade = &trade
			sm.state.AwaitingSetup = false
			sm.logger.Sugar().Infof("Trade opened: %s ticket %d @ %.5f", trade.Direction, trade.Ticket, trade.Entry)
		} else {
			sm.logger.Sugar().Warnf("Received TradeOpenedEvent with unexpected data type: %T", event.Data)
		}
	case TradeClosedEvent:
		if data, ok := event.Data.(TradeClosedEventData); ok {
			if sm.state.CurrentTrade != nil {
				sm.logger.Sugar().Infof("Trade ticket %d closed with status %s", sm.state.CurrentTrade.Ticket, data.FinalStatus)
			}
			sm.state.CurrentTrade = nil
		} else {
			sm.logger.Sugar().Warnf("Received TradeClosedEvent with unexpected data type: %T", event.Data)
		}
	case SetupAwaitedEvent:
		if data, ok := event.Data.(SetupAwaitedEventData); ok {
			sm.state.AwaitingSetup = data.Awaiting
		} else {
			sm.logger.Sugar().Warnf("Received SetupAwaitedEvent with unexpected data type: %T", event.Data)
		}
	case StateRestoredEvent:
		if newState, ok := event.Data.(*models.TradingState); ok {
			sm.state = newState
			sm.logger.Sugar().Info("State has been restored.")
		} else {
			sm.logger.Sugar().Warnf("Received StateRestoredEvent with unexpected data type: %T", event.Data)
		}
	}

	sm.state.LastUpdateTime = time.Now()

	// After processing, send a deep copy of the new state to the persistence channel.
	if stateCopy := sm.deepCopy(); stateCopy != nil {
		sm.persistenceChan <- stateCopy
	}
}
