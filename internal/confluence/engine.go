package confluence

import (
	"sort"

	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

// Static pullback zones used when no adaptive parameters are supplied.
var (
	pullbackZoneSell = models.Zone{Lower: -0.2, Upper: 0.8, Sweet: 0.3}
	pullbackZoneBuy  = models.Zone{Lower: -0.8, Upper: 0.2, Sweet: -0.3}
)

// Channel reversal zone: ATR distance from the opposing boundary.
var channelDistanceZone = models.Zone{Lower: -0.2, Upper: 1.2, Sweet: 0.4}

// Component weights for score aggregation.
const (
	weightPullback = 1.0
	weightChannel  = 1.2

	strongTrendConfidence = 80.0
	emaSlopeDeadZone      = 0.05
)

// Engine is the stateless confluence scorer. All methods are safe for
// concurrent use.
type Engine struct {
	logger *zap.SugaredLogger
}

// NewEngine creates a confluence engine.
func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

// Compute scores the bar series and decides whether a trade is recommended.
// baseSignal overrides bias inference; market supplies the higher-timeframe
// trend summary; params supplies live adaptive zones and threshold (nil
// falls back to the static defaults). Missing or insufficient data degrades
// to a neutral result, never an error.
func (e *Engine) Compute(bars []models.PriceBar, baseSignal models.Signal, market *models.MarketSnapshot, params *models.ZoneParams) models.ConfluenceResult {
	neutral := models.ConfluenceResult{
		Bias:  models.SignalHold,
		Gates: models.Gates{TrendlineOK: true, BosOK: true, VolOK: true},
	}
	if len(bars) == 0 {
		return neutral
	}

	sorted := make([]models.PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	atr := suppliedATR(sorted)
	if atr == 0 {
		if v, ok := latestATR(sorted, atrPeriod); ok {
			atr = v
		}
	}

	bias := baseSignal
	if bias != models.SignalBuy && bias != models.SignalSell {
		if market != nil && (market.Signal == models.SignalBuy || market.Signal == models.SignalSell) {
			bias = market.Signal
		} else {
			bias = inferBaseBias(sorted, atr)
		}
	}

	sellZone, buyZone := pullbackZoneSell, pullbackZoneBuy
	threshold := 1.0
	if params != nil {
		sellZone, buyZone = params.SellZone, params.BuyZone
		if params.Threshold > 0 {
			threshold = params.Threshold
		}
	}

	pullback := pullbackComponent(sorted, bias, atr, sellZone, buyZone)
	channel, gates := channelComponent(sorted, bias, atr)

	score := weightPullback*float64(pullback.Signal)*pullback.Confidence +
		weightChannel*float64(channel.Signal)*channel.Confidence

	resultBias := models.SignalHold
	if score >= 1.0 {
		resultBias = models.SignalBuy
	} else if score <= -1.0 {
		resultBias = models.SignalSell
	}

	scoreSatisfies := abs(score) >= threshold
	gatesOK := gates.AllOK()

	marketTrendStrong := market != nil &&
		(market.Signal == models.SignalBuy || market.Signal == models.SignalSell) &&
		market.Confidence >= strongTrendConfidence

	continuationAllowed := channel.HasTag("trend_continuation") && !channel.HasTag("too_extended")

	tradeByScore := scoreSatisfies && gatesOK
	tradeByContinuation := marketTrendStrong && gatesOK && (scoreSatisfies || continuationAllowed)
	tradeRecommended := tradeByScore || tradeByContinuation

	if tradeRecommended {
		path := "pullback"
		if tradeByContinuation && !tradeByScore {
			path = "continuation"
		}
		e.logger.Infow("Confluence trade recommended",
			"path", path, "score", score, "bias", resultBias, "continuation", continuationAllowed)
	} else {
		var vetoes []string
		if !gatesOK {
			vetoes = append(vetoes, "gates_failed")
		}
		if !scoreSatisfies {
			vetoes = append(vetoes, "score_below_threshold")
		}
		if channel.HasTag("too_extended") {
			vetoes = append(vetoes, "too_extended")
		}
		e.logger.Debugw("Confluence vetoed",
			"reasons", vetoes, "score", score, "bias", bias, "gates", gates)
	}

	return models.ConfluenceResult{
		Score:            score,
		Bias:             resultBias,
		Components:       []models.ConfluenceComponent{pullback, channel},
		Gates:            gates,
		TradeRecommended: tradeRecommended,
	}
}

// suppliedATR returns the last non-zero precomputed ATR column value.
func suppliedATR(bars []models.PriceBar) float64 {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].ATR != 0 {
			return bars[i].ATR
		}
	}
	return 0
}

// suppliedOrComputedEMA prefers the precomputed ema21 column, computing the
// series from closes when absent.
func suppliedOrComputedEMA(bars []models.PriceBar) ([]float64, bool) {
	hasColumn := false
	for _, b := range bars {
		if b.EMA21 != 0 {
			hasColumn = true
			break
		}
	}
	if hasColumn {
		out := make([]float64, len(bars))
		for i, b := range bars {
			out[i] = b.EMA21
		}
		return out, false
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return emaSeries(closes, emaPeriod), true
}

// inferBaseBias derives a directional lean from the ATR-normalized slope of
// the 21-period EMA with a dead zone around zero.
func inferBaseBias(bars []models.PriceBar, atr float64) models.Signal {
	ema, _ := suppliedOrComputedEMA(bars)
	if len(ema) < 2 {
		return models.SignalHold
	}
	lookback := len(ema) - 1
	if lookback > 20 {
		lookback = 20
	}
	slope := ema[len(ema)-1] - ema[len(ema)-1-lookback]
	if atr != 0 {
		slope /= atr
	}
	if slope > emaSlopeDeadZone {
		return models.SignalBuy
	}
	if slope < -emaSlopeDeadZone {
		return models.SignalSell
	}
	return models.SignalHold
}

// zoneConfidence scores how close a value sits to a zone's sweet spot,
// zero outside the zone.
func zoneConfidence(value float64, zone models.Zone) float64 {
	if value < zone.Lower || value > zone.Upper {
		return 0
	}
	halfRange := (zone.Upper - zone.Lower) / 2
	if halfRange == 0 {
		halfRange = 1
	}
	c := 1 - abs(value-zone.Sweet)/halfRange
	if c < 0 {
		return 0
	}
	return c
}

// pullbackComponent scores the distance of the close from the 21-period EMA
// in ATR units against the bias-side zone.
func pullbackComponent(bars []models.PriceBar, bias models.Signal, atr float64, sellZone, buyZone models.Zone) models.ConfluenceComponent {
	comp := models.ConfluenceComponent{
		Name:    "pullback_to_mean",
		Metrics: map[string]float64{},
	}
	if atr == 0 {
		comp.Tags = []string{"missing_data"}
		return comp
	}

	ema, computed := suppliedOrComputedEMA(bars)
	if computed {
		comp.Tags = append(comp.Tags, "ema_computed")
	}
	if len(ema) == 0 {
		comp.Tags = append(comp.Tags, "missing_data")
		return comp
	}

	last := bars[len(bars)-1]
	z := (last.Close - ema[len(ema)-1]) / atr
	comp.Metrics["z_ema21"] = z
	if last.VWAP != 0 {
		comp.Metrics["z_vwap"] = (last.Close - last.VWAP) / atr
	}

	switch bias {
	case models.SignalSell:
		if sellZone.Lower <= z && z <= sellZone.Upper {
			comp.Signal = -1
			comp.Confidence = zoneConfidence(z, sellZone)
			comp.Tags = append(comp.Tags, "pullback_zone")
		}
	case models.SignalBuy:
		if buyZone.Lower <= z && z <= buyZone.Upper {
			comp.Signal = 1
			comp.Confidence = zoneConfidence(z, buyZone)
			comp.Tags = append(comp.Tags, "pullback_zone")
		}
	}
	return comp
}

// channelComponent fits pivot-based channel lines over the trailing window
// and scores continuation breaks and boundary reversals. It also produces
// the trade gates.
func channelComponent(bars []models.PriceBar, bias models.Signal, atr float64) (models.ConfluenceComponent, models.Gates) {
	comp := models.ConfluenceComponent{
		Name:    "trend_channel",
		Metrics: map[string]float64{},
	}
	gates := models.Gates{TrendlineOK: true, BosOK: true, VolOK: true}

	if len(bars) == 0 || atr == 0 {
		comp.Tags = []string{"missing_data"}
		return comp, gates
	}

	subset := bars
	if len(subset) > channelWindow {
		subset = subset[len(subset)-channelWindow:]
	}

	pivotHighs, pivotLows := detectPivots(subset, pivotLookback)
	comp.Metrics["pivot_highs"] = float64(len(pivotHighs))
	comp.Metrics["pivot_lows"] = float64(len(pivotLows))

	lineHigh := fitLine(lastN(pivotHighs, 3))
	if lineHigh == nil {
		lineHigh = fitLine(lastN(pivotHighs, 2))
	}
	lineLow := fitLine(lastN(pivotLows, 3))
	if lineLow == nil {
		lineLow = fitLine(lastN(pivotLows, 2))
	}

	if lineHigh == nil || lineLow == nil {
		comp.Tags = []string{"insufficient_pivots"}
		return comp, gates
	}

	xLast := float64(len(subset) - 1)
	closeLast := subset[len(subset)-1].Close
	upperY := lineHigh.valueAt(xLast)
	lowerY := lineLow.valueAt(xLast)

	distToUpper := (upperY - closeLast) / atr
	distToLower := (closeLast - lowerY) / atr
	comp.Metrics["upper_y"] = upperY
	comp.Metrics["lower_y"] = lowerY
	comp.Metrics["dist_to_upper_atr"] = distToUpper
	comp.Metrics["dist_to_lower_atr"] = distToLower

	brokenUp := closeLast > upperY+0.2*atr
	brokenDown := closeLast < lowerY-0.2*atr

	// Break-of-structure: the close must not have taken out the most recent
	// opposite-direction swing point beyond tolerance.
	if bias == models.SignalSell && len(pivotHighs) > 0 {
		lastSwingHigh := pivotHighs[len(pivotHighs)-1].y
		gates.BosOK = closeLast <= lastSwingHigh+0.1*atr
	} else if bias == models.SignalBuy && len(pivotLows) > 0 {
		lastSwingLow := pivotLows[len(pivotLows)-1].y
		gates.BosOK = closeLast >= lastSwingLow-0.1*atr
	}

	switch bias {
	case models.SignalSell:
		gates.TrendlineOK = !brokenUp
		gatesPass := gates.AllOK()
		if brokenDown && gatesPass {
			if -1.0 <= distToLower && distToLower <= 0.0 {
				comp.Signal = -1
				comp.Confidence = clamp01(1 - abs(distToLower))
				comp.Tags = append(comp.Tags, "trend_continuation")
			} else if distToLower < -1.0 {
				comp.Tags = append(comp.Tags, "too_extended")
			}
		} else if gates.TrendlineOK && channelDistanceZone.Lower <= distToUpper && distToUpper <= channelDistanceZone.Upper {
			comp.Signal = -1
			comp.Confidence = zoneConfidence(distToUpper, channelDistanceZone)
			comp.Tags = append(comp.Tags, "near_upper_channel")
		}
	case models.SignalBuy:
		gates.TrendlineOK = !brokenDown
		gatesPass := gates.AllOK()
		if brokenUp && gatesPass {
			if -1.0 <= distToUpper && distToUpper <= 0.0 {
				comp.Signal = 1
				comp.Confidence = clamp01(1 - abs(distToUpper))
				comp.Tags = append(comp.Tags, "trend_continuation")
			} else if distToUpper < -1.0 {
				comp.Tags = append(comp.Tags, "too_extended")
			}
		} else if gates.TrendlineOK && channelDistanceZone.Lower <= distToLower && distToLower <= channelDistanceZone.Upper {
			comp.Signal = 1
			comp.Confidence = zoneConfidence(distToLower, channelDistanceZone)
			comp.Tags = append(comp.Tags, "near_lower_channel")
		}
	}

	return comp, gates
}
