package persistence

import "mt5-session-bot/internal/models"

// StateRepository defines the interface for trading-state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the entire trading state.
	SaveState(state *models.TradingState) error

	// LoadState loads the trading state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.TradingState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
