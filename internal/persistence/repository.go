package persistence

import "projectx-bracket-bot/internal/models"

// Repository abstracts persistence of the adaptive zone parameters and the
// trade journal from the rest of the application.
type Repository interface {
	// SaveParams atomically saves the zone parameter snapshot.
	SaveParams(params *models.ZoneParams) error

	// LoadParams loads the zone parameter snapshot.
	// If no snapshot is found, it returns (nil, nil).
	LoadParams() (*models.ZoneParams, error)

	// AppendTrade records one completed trade.
	AppendTrade(trade *models.TradeRecord) error

	// LoadTrades returns all recorded trades in insertion order.
	LoadTrades() ([]models.TradeRecord, error)

	// Close gracefully closes the underlying store.
	Close() error
}
