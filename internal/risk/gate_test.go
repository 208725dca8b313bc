package risk

import (
	"testing"

	"projectx-bracket-bot/internal/models"

	"github.com/stretchr/testify/assert"
)

func testRiskConfig() models.RiskConfig {
	return models.RiskConfig{
		CutLoss:              -20,
		OppositePersistK:     2,
		OppositeMinPnL:       -5,
		TimeStopMinutes:      20,
		TimeStopPnLBand:      5,
		MaxDailyLoss:         -500,
		DailyProfitTarget:    500,
		MaxConsecutiveLosses: 3,
	}
}

func openLong(pnl, durationMin float64) models.PositionState {
	return models.PositionState{
		HasPosition:     true,
		Side:            models.SideLong,
		Size:            2,
		CurrentPnL:      pnl,
		DurationMinutes: durationMin,
	}
}

func tradableAccount() models.AccountState {
	return models.AccountState{CanTrade: true}
}

func TestDecide_AccountGateBeatsEverything(t *testing.T) {
	account := models.AccountState{CanTrade: false}

	// Even a profitable young position is flattened once the account gate
	// closes.
	action, reason := Decide(openLong(50, 1), models.SignalBuy, account, 0, testRiskConfig())

	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonCanTradeFalse, reason)
}

func TestDecide_CutLoser(t *testing.T) {
	action, reason := Decide(openLong(-25, 5), models.SignalBuy, tradableAccount(), 0, testRiskConfig())

	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonCutLoser, reason)
}

func TestDecide_CutLoserExactBoundary(t *testing.T) {
	action, reason := Decide(openLong(-20, 5), models.SignalBuy, tradableAccount(), 0, testRiskConfig())

	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonCutLoser, reason)
}

func TestDecide_OppositePersistence(t *testing.T) {
	cfg := testRiskConfig()

	// Two consecutive opposite signals at a small loss flatten.
	action, reason := Decide(openLong(-6, 5), models.SignalSell, tradableAccount(), 2, cfg)
	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonOppPersist, reason)

	// One opposite signal is not enough.
	action, _ = Decide(openLong(-6, 5), models.SignalSell, tradableAccount(), 1, cfg)
	assert.Equal(t, models.ActionHold, action)

	// A winning position rides through opposite signals.
	action, _ = Decide(openLong(10, 5), models.SignalSell, tradableAccount(), 5, cfg)
	assert.Equal(t, models.ActionHold, action)
}

func TestDecide_OppositeRequiresOppositeDirection(t *testing.T) {
	// Aligned signal never counts as opposition, whatever the count says.
	action, reason := Decide(openLong(-6, 5), models.SignalBuy, tradableAccount(), 5, testRiskConfig())

	assert.Equal(t, models.ActionHold, action)
	assert.Equal(t, ReasonHold, reason)
}

func TestDecide_TimeStop(t *testing.T) {
	cfg := testRiskConfig()

	action, reason := Decide(openLong(2, 25), models.SignalBuy, tradableAccount(), 0, cfg)
	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonTimeStop, reason)

	// A decisive winner is not time-stopped.
	action, _ = Decide(openLong(12, 25), models.SignalBuy, tradableAccount(), 0, cfg)
	assert.Equal(t, models.ActionHold, action)

	// Young positions are left alone.
	action, _ = Decide(openLong(2, 10), models.SignalBuy, tradableAccount(), 0, cfg)
	assert.Equal(t, models.ActionHold, action)
}

func TestDecide_ShortPositionOpposition(t *testing.T) {
	position := models.PositionState{
		HasPosition: true,
		Side:        models.SideShort,
		CurrentPnL:  -6,
	}

	action, reason := Decide(position, models.SignalBuy, tradableAccount(), 2, testRiskConfig())
	assert.Equal(t, models.ActionFlat, action)
	assert.Equal(t, ReasonOppPersist, reason)
}

func TestDecide_HealthyPositionHolds(t *testing.T) {
	action, reason := Decide(openLong(3, 5), models.SignalBuy, tradableAccount(), 0, testRiskConfig())

	assert.Equal(t, models.ActionHold, action)
	assert.Equal(t, ReasonHold, reason)
}
