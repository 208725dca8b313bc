package risk

import (
	"projectx-bracket-bot/internal/models"
)

// Reason codes returned by Decide.
const (
	ReasonCanTradeFalse = "RISK_CAN_TRADE_FALSE"
	ReasonCutLoser      = "CUT_LOSER"
	ReasonOppPersist    = "OPP_PERSIST"
	ReasonTimeStop      = "TIME_STOP"
	ReasonHold          = "HOLD"
)

// Decide evaluates the position-management rules in order and returns the
// first matching action with its reason code. It is a pure function.
//
// Rule order: account trading gate, cut-loss, persistent opposite signal,
// time stop, hold.
func Decide(position models.PositionState, signal models.Signal, account models.AccountState, oppCount int, cfg models.RiskConfig) (models.Action, string) {
	if !account.CanTrade {
		return models.ActionFlat, ReasonCanTradeFalse
	}

	if position.CurrentPnL <= cfg.CutLoss {
		return models.ActionFlat, ReasonCutLoser
	}

	opposite := (position.Side == models.SideLong && signal == models.SignalSell) ||
		(position.Side == models.SideShort && signal == models.SignalBuy)
	if opposite && oppCount >= cfg.OppositePersistK && position.CurrentPnL <= cfg.OppositeMinPnL {
		return models.ActionFlat, ReasonOppPersist
	}

	if position.DurationMinutes >= cfg.TimeStopMinutes && abs(position.CurrentPnL) <= cfg.TimeStopPnLBand {
		return models.ActionFlat, ReasonTimeStop
	}

	return models.ActionHold, ReasonHold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
