package broker

import (
	"time"

	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

// FlattenContract cancels all open orders and closes the position on a
// contract, retrying until the account is flat or the timeout expires.
// Returns whether the contract ended flat.
func FlattenContract(b Broker, logger *zap.SugaredLogger, accountID int, contractID string, timeout time.Duration) bool {
	logger.Infow("Flattening contract", "account", accountID, "contract", contractID)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		openOrders := ordersForContract(b, logger, accountID, contractID)
		if len(openOrders) == 0 {
			break
		}
		for _, o := range openOrders {
			if err := b.Cancel(accountID, o.ID); err != nil {
				logger.Errorw("Error cancelling order", "orderId", o.ID, "error", err)
			}
		}
		time.Sleep(time.Second)
	}

	for time.Now().Before(deadline) {
		positions := positionsForContract(b, logger, accountID, contractID)
		if len(positions) == 0 {
			break
		}
		if err := b.ClosePosition(accountID, contractID); err != nil {
			logger.Errorw("Error closing position", "contract", contractID, "error", err)
		}
		time.Sleep(time.Second)
	}

	for time.Now().Before(deadline) {
		remOrders := ordersForContract(b, logger, accountID, contractID)
		remPositions := positionsForContract(b, logger, accountID, contractID)
		if len(remOrders) == 0 && len(remPositions) == 0 {
			logger.Infow("Flatten complete", "contract", contractID)
			return true
		}
		logger.Infow("Waiting for flatten", "orders", len(remOrders), "positions", len(remPositions))
		time.Sleep(time.Second)
	}

	logger.Errorw("Flatten timeout", "contract", contractID)
	return false
}

// CancelAllStops cancels every open stop order on a contract.
func CancelAllStops(b Broker, logger *zap.SugaredLogger, accountID int, contractID string) {
	orders, err := b.SearchOpenOrders(accountID)
	if err != nil {
		logger.Errorw("Failed to search open orders", "error", err)
		return
	}
	for _, o := range orders {
		if o.ContractID == contractID && o.Type == models.OrderTypeStop {
			if err := b.Cancel(accountID, o.ID); err != nil {
				logger.Errorw("Error cancelling stop", "orderId", o.ID, "error", err)
			}
		}
	}
}

// SweepPhantomOrders reconciles positions and protective orders: a position
// without any open stop/limit order gets flattened, and resting stop/limit
// orders without a position get cancelled.
func SweepPhantomOrders(b Broker, logger *zap.SugaredLogger, accountID int, contractID string) {
	positions := positionsForContract(b, logger, accountID, contractID)
	openOrders := ordersForContract(b, logger, accountID, contractID)

	if len(positions) > 0 {
		hasProtective := false
		for _, o := range openOrders {
			if (o.Type == models.OrderTypeLimit || o.Type == models.OrderTypeStop) && o.Status == models.OrderStatusOpen {
				hasProtective = true
				break
			}
		}
		if !hasProtective {
			logger.Warnw("Phantom position detected, no stop/limit attached",
				"contract", contractID, "positions", len(positions), "orders", len(openOrders))
			FlattenContract(b, logger, accountID, contractID, 10*time.Second)
		}
		return
	}

	for _, o := range openOrders {
		if (o.Type == models.OrderTypeLimit || o.Type == models.OrderTypeStop) && o.Status == models.OrderStatusOpen {
			logger.Warnw("Leftover stop/limit order without a position", "orderId", o.ID)
			if err := b.Cancel(accountID, o.ID); err != nil {
				logger.Errorw("Error cancelling phantom order", "orderId", o.ID, "error", err)
			}
		}
	}
}

func ordersForContract(b Broker, logger *zap.SugaredLogger, accountID int, contractID string) []models.BrokerOrder {
	orders, err := b.SearchOpenOrders(accountID)
	if err != nil {
		logger.Errorw("Failed to search open orders", "error", err)
		return nil
	}
	var out []models.BrokerOrder
	for _, o := range orders {
		if o.ContractID == contractID {
			out = append(out, o)
		}
	}
	return out
}

func positionsForContract(b Broker, logger *zap.SugaredLogger, accountID int, contractID string) []models.BrokerPosition {
	positions, err := b.SearchPositions(accountID)
	if err != nil {
		logger.Errorw("Failed to search positions", "error", err)
		return nil
	}
	var out []models.BrokerPosition
	for _, p := range positions {
		if p.ContractID == contractID {
			out = append(out, p)
		}
	}
	return out
}
