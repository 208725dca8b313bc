package marketstate

import (
	"math"
	"time"

	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

// Trigger reason codes, in evaluation order.
const (
	ReasonNoMarketState     = "no_market_state"
	ReasonGetFlatWindow     = "get_flat_window"
	ReasonNoPositionContext = "no_position_context"
	ReasonPositionOpen      = "position_open"
	ReasonAccountGateBlock  = "account_gate_block"
	ReasonInsufficientData  = "insufficient_data"
	ReasonRange             = "range"
	ReasonMixedTrend        = "mixed_trend"
	ReasonAlignedUptrend    = "aligned_uptrend"
	ReasonAlignedDowntrend  = "aligned_downtrend"
	ReasonNoTrendDetected   = "no_trend_detected"
)

// ActionPlan is the trigger decision: whether to attempt an entry this cycle
// and why.
type ActionPlan struct {
	Signal     models.Signal
	ReasonCode string
	Regimes    map[string]Regime
	Slopes     map[string]float64
}

// Trigger gates entry attempts on the multi-timeframe trend picture plus the
// position and account context. Every non-entry outcome carries a distinct
// reason code so cycle logs stay auditable.
type Trigger struct {
	inGetFlat func(time.Time) bool
	logger    *zap.SugaredLogger
}

// NewTrigger creates a trigger. inGetFlat reports whether the given time is
// inside the forced-flat window; nil disables the window.
func NewTrigger(inGetFlat func(time.Time) bool, logger *zap.SugaredLogger) *Trigger {
	return &Trigger{inGetFlat: inGetFlat, logger: logger}
}

// Decide evaluates the gate chain in order: market state present, outside the
// get-flat window, position context present, no open position, account gate
// open, complete regime data, no ranging or conflicting timeframe, then an
// aligned trend picks the direction.
func (t *Trigger) Decide(state *MarketState, position *models.PositionState, account *models.AccountState, now time.Time) ActionPlan {
	plan := ActionPlan{Signal: models.SignalHold}

	if state == nil {
		plan.ReasonCode = ReasonNoMarketState
		return plan
	}

	plan.Regimes = make(map[string]Regime)
	plan.Slopes = make(map[string]float64)
	for name, tf := range state.Timeframes {
		plan.Regimes[name] = tf.Regime
		if tf.SlopeValid {
			plan.Slopes[name] = tf.NormalizedSlope
		}
	}

	if t.inGetFlat != nil && t.inGetFlat(now) {
		plan.ReasonCode = ReasonGetFlatWindow
		return plan
	}

	if position == nil || account == nil {
		plan.ReasonCode = ReasonNoPositionContext
		return plan
	}

	if position.HasPosition {
		plan.ReasonCode = ReasonPositionOpen
		return plan
	}

	if !account.CanTrade {
		plan.ReasonCode = ReasonAccountGateBlock
		return plan
	}

	for _, name := range TrendTimeframes {
		regime, ok := plan.Regimes[name]
		if !ok || regime == RegimeInsufficient {
			plan.ReasonCode = ReasonInsufficientData
			return plan
		}
	}

	for _, name := range TrendTimeframes {
		if slope, ok := plan.Slopes[name]; ok && math.Abs(slope) < SlopeThreshold {
			plan.ReasonCode = ReasonRange
			return plan
		}
	}

	up, down := false, false
	for _, regime := range plan.Regimes {
		switch regime {
		case RegimeTrendUp:
			up = true
		case RegimeTrendDown:
			down = true
		}
	}
	if up && down {
		plan.ReasonCode = ReasonMixedTrend
		return plan
	}

	var first Regime
	for _, name := range TrendTimeframes {
		if r := plan.Regimes[name]; r == RegimeTrendUp || r == RegimeTrendDown {
			first = r
			break
		}
	}
	switch first {
	case RegimeTrendUp:
		plan.Signal = models.SignalBuy
		plan.ReasonCode = ReasonAlignedUptrend
	case RegimeTrendDown:
		plan.Signal = models.SignalSell
		plan.ReasonCode = ReasonAlignedDowntrend
	default:
		plan.ReasonCode = ReasonNoTrendDetected
	}

	t.logger.Infow("Action plan", "signal", plan.Signal, "reason", plan.ReasonCode, "slopes", plan.Slopes)
	return plan
}
