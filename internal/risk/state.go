package risk

import (
	"sort"
	"time"

	"projectx-bracket-bot/internal/broker"
	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

// StateBuilder constructs fresh PositionState and AccountState views from
// broker queries. Nothing is cached between decision cycles: the broker is
// the source of truth.
type StateBuilder struct {
	broker     broker.Broker
	cfg        models.RiskConfig
	pointValue float64
	logger     *zap.SugaredLogger
}

// NewStateBuilder creates a builder. pointValue is the dollar value of one
// point per contract, used for unrealized PnL.
func NewStateBuilder(b broker.Broker, cfg models.RiskConfig, pointValue float64, logger *zap.SugaredLogger) *StateBuilder {
	return &StateBuilder{broker: b, cfg: cfg, pointValue: pointValue, logger: logger}
}

// BuildPositionState queries positions, orders and recent fills for the
// contract and assembles the per-cycle position view. currentPrice may be
// zero when no market price is available; unrealized PnL is then omitted.
func (sb *StateBuilder) BuildPositionState(accountID int, contractID string, currentPrice float64) (*models.PositionState, error) {
	positions, err := sb.broker.SearchPositions(accountID)
	if err != nil {
		return nil, err
	}
	var contractPositions []models.BrokerPosition
	for _, p := range positions {
		if p.ContractID == contractID {
			contractPositions = append(contractPositions, p)
		}
	}

	if len(contractPositions) == 0 {
		return &models.PositionState{}, nil
	}

	totalSize := 0
	weighted := 0.0
	for _, p := range contractPositions {
		totalSize += p.Size
		weighted += p.AveragePrice * float64(p.Size)
	}
	avgPrice := 0.0
	if totalSize > 0 {
		weighted /= float64(totalSize)
		avgPrice = weighted
	}

	side := contractPositions[0].Side()

	duration := 0.0
	if created := contractPositions[0].CreationTimestamp; !created.IsZero() {
		duration = time.Since(created).Minutes()
	}

	openOrders, err := sb.broker.SearchOpenOrders(accountID)
	if err != nil {
		return nil, err
	}
	var stops, limits []models.BrokerOrder
	for _, o := range openOrders {
		if o.ContractID != contractID || o.Status != models.OrderStatusOpen {
			continue
		}
		switch o.Type {
		case models.OrderTypeStop:
			stops = append(stops, o)
		case models.OrderTypeLimit:
			limits = append(limits, o)
		}
	}

	// Realized PnL from the last 24h of fills on this contract.
	trades, err := sb.broker.SearchTrades(accountID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	realized := 0.0
	for _, t := range trades {
		if t.ContractID == contractID && !t.Voided {
			realized += t.PnL()
		}
	}

	unrealized := 0.0
	if currentPrice > 0 && avgPrice > 0 {
		switch side {
		case models.SideLong:
			unrealized = (currentPrice - avgPrice) * float64(totalSize) * sb.pointValue
		case models.SideShort:
			unrealized = (avgPrice - currentPrice) * float64(totalSize) * sb.pointValue
		}
	} else {
		sb.logger.Debug("No current price available, unrealized PnL omitted")
	}

	return &models.PositionState{
		HasPosition:     true,
		Side:            side,
		Size:            totalSize,
		EntryPrice:      avgPrice,
		CurrentPrice:    currentPrice,
		CurrentPnL:      realized + unrealized,
		UnrealizedPnL:   unrealized,
		RealizedPnL:     realized,
		DurationMinutes: duration,
		StopOrders:      stops,
		LimitOrders:     limits,
	}, nil
}

// BuildAccountState queries today's fills and open positions and assembles
// the account-wide risk view, including the trading gate.
func (sb *StateBuilder) BuildAccountState(accountID int) (*models.AccountState, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	trades, err := sb.broker.SearchTrades(accountID, todayStart)
	if err != nil {
		return nil, err
	}

	dailyPnL := 0.0
	winning, losing := 0, 0
	for _, t := range trades {
		pnl := t.PnL()
		dailyPnL += pnl
		if pnl > 0 {
			winning++
		} else if pnl < 0 {
			losing++
		}
	}

	consecutiveLosses := countConsecutiveLosses(trades)

	positions, err := sb.broker.SearchPositions(accountID)
	if err != nil {
		return nil, err
	}
	openCount := 0
	for _, p := range positions {
		if p.Size > 0 {
			openCount++
		}
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(winning) / float64(len(trades))
	}

	return &models.AccountState{
		DailyPnL:          dailyPnL,
		TradeCount:        len(trades),
		WinningTrades:     winning,
		LosingTrades:      losing,
		WinRate:           winRate,
		ConsecutiveLosses: consecutiveLosses,
		OpenPositions:     openCount,
		CanTrade:          sb.CanTrade(dailyPnL, consecutiveLosses),
		RiskLevel:         sb.AssessRisk(dailyPnL, consecutiveLosses, openCount),
	}, nil
}

// CanTrade applies the daily loss floor, profit ceiling and consecutive-loss
// cap. A non-positive cap disables the loss-streak guard; config loading maps
// an absent cap to the default, so a disabled cap arrives here negative.
func (sb *StateBuilder) CanTrade(dailyPnL float64, consecutiveLosses int) bool {
	if dailyPnL <= sb.cfg.MaxDailyLoss {
		sb.logger.Warnw("Daily loss limit reached", "daily_pnl", dailyPnL)
		return false
	}
	if dailyPnL >= sb.cfg.DailyProfitTarget {
		sb.logger.Infow("Daily profit target reached", "daily_pnl", dailyPnL)
		return false
	}
	if sb.cfg.MaxConsecutiveLosses > 0 && consecutiveLosses >= sb.cfg.MaxConsecutiveLosses {
		sb.logger.Warnw("Max consecutive losses reached", "consecutive_losses", consecutiveLosses)
		return false
	}
	return true
}

// AssessRisk scores the account's proximity to its limits into a coarse
// risk level.
func (sb *StateBuilder) AssessRisk(dailyPnL float64, consecutiveLosses, openPositions int) models.RiskLevel {
	score := 0

	if dailyPnL < 0 && sb.cfg.MaxDailyLoss != 0 {
		lossFraction := abs(dailyPnL / sb.cfg.MaxDailyLoss)
		switch {
		case lossFraction > 0.8:
			score += 3
		case lossFraction > 0.5:
			score += 2
		case lossFraction > 0.25:
			score++
		}
	}

	if sb.cfg.MaxConsecutiveLosses > 0 && consecutiveLosses >= sb.cfg.MaxConsecutiveLosses-1 {
		score += 2
	} else if consecutiveLosses >= 2 {
		score++
	}

	if openPositions > 3 {
		score += 2
	} else if openPositions > 1 {
		score++
	}

	switch {
	case score >= 4:
		return models.RiskHigh
	case score >= 2:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// countConsecutiveLosses walks fills newest-first and counts losing trades
// until the first winner. Zero-PnL fills (entries) are skipped.
func countConsecutiveLosses(trades []models.BrokerTrade) int {
	sorted := make([]models.BrokerTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreationTimestamp.Before(sorted[j].CreationTimestamp)
	})

	count := 0
	for i := len(sorted) - 1; i >= 0; i-- {
		pnl := sorted[i].PnL()
		if pnl < 0 {
			count++
		} else if pnl > 0 {
			break
		}
	}
	return count
}
