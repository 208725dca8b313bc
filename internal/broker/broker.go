package broker

import (
	"time"

	"projectx-bracket-bot/internal/models"
)

// Broker is the order/position gateway consumed by the decision core. Each
// call is independently fallible and retryable by the caller.
type Broker interface {
	// PlaceMarket submits a market order. FillPrice may be present on the
	// result when the gateway filled it synchronously.
	PlaceMarket(accountID int, contractID string, side, size int) (*models.OrderResult, error)

	// PlaceLimit submits a limit order at price.
	PlaceLimit(accountID int, contractID string, side, size int, price float64) (*models.OrderResult, error)

	// PlaceStop submits a stop order at price.
	PlaceStop(accountID int, contractID string, side, size int, price float64) (*models.OrderResult, error)

	// Cancel cancels an open order.
	Cancel(accountID int, orderID int64) error

	// SearchOpenOrders returns all open orders for the account.
	SearchOpenOrders(accountID int) ([]models.BrokerOrder, error)

	// SearchPositions returns all open positions for the account.
	SearchPositions(accountID int) ([]models.BrokerPosition, error)

	// SearchTrades returns fills since the given time.
	SearchTrades(accountID int, since time.Time) ([]models.BrokerTrade, error)

	// ClosePosition closes the open position on a contract at market.
	ClosePosition(accountID int, contractID string) error
}
