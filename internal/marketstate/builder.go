package marketstate

import (
	"math"
	"sort"
	"time"

	"projectx-bracket-bot/internal/models"

	"go.uber.org/zap"
)

const (
	emaPeriod = 21
	// slopeWindow is the number of trailing EMA values fitted for the
	// regime slope.
	slopeWindow = 5
	// SlopeThreshold separates range from trend once the slope is
	// normalized by the last EMA value.
	SlopeThreshold = 0.00005

	maxAggregatedBars = 200
)

// Regime classifies the trend of one timeframe.
type Regime string

const (
	RegimeTrendUp      Regime = "trend_up"
	RegimeTrendDown    Regime = "trend_down"
	RegimeRange        Regime = "range"
	RegimeInsufficient Regime = "insufficient"
)

// TrendTimeframes are the timeframes that must agree before a trend-aligned
// entry is allowed.
var TrendTimeframes = []string{"5m", "15m", "30m"}

var timeframeMinutes = map[string]int{
	"5m":  5,
	"15m": 15,
	"30m": 30,
}

// TimeframeState is the per-timeframe view: aggregated bars, EMA series and
// the regime classification derived from the EMA slope.
type TimeframeState struct {
	Bars            []models.PriceBar
	EMA21           []float64
	NormalizedSlope float64
	SlopeValid      bool
	Regime          Regime
	LastClose       float64
}

// MarketState is the multi-timeframe trend snapshot rebuilt each decision
// cycle from the 1m bar buffer.
type MarketState struct {
	AsOf       time.Time
	Symbol     string
	Timeframes map[string]*TimeframeState
	Errors     []string
}

// Builder aggregates 1m bars into higher timeframes and classifies each
// timeframe's regime.
type Builder struct {
	logger *zap.SugaredLogger
}

func NewBuilder(logger *zap.SugaredLogger) *Builder {
	return &Builder{logger: logger}
}

// Build constructs the market state from 1m bars. Bars may arrive in any
// order; they are sorted by timestamp before aggregation. A nil return means
// no input bars at all.
func (b *Builder) Build(symbol string, minuteBars []models.PriceBar) *MarketState {
	state := &MarketState{
		AsOf:       time.Now(),
		Symbol:     symbol,
		Timeframes: make(map[string]*TimeframeState),
	}

	if len(minuteBars) == 0 {
		state.Errors = append(state.Errors, "no_data")
		return state
	}

	sorted := make([]models.PriceBar, len(minuteBars))
	copy(sorted, minuteBars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	frames := map[string][]models.PriceBar{"1m": sorted}
	for _, name := range TrendTimeframes {
		aggregated := aggregate(sorted, timeframeMinutes[name])
		if len(aggregated) > 0 {
			frames[name] = aggregated
		} else {
			state.Errors = append(state.Errors, "insufficient_"+name)
		}
	}

	for name, bars := range frames {
		closes := make([]float64, len(bars))
		for i, bar := range bars {
			closes[i] = bar.Close
		}
		ema := emaSeries(closes, emaPeriod)
		slope, ok := normalizedSlope(ema, slopeWindow)
		tf := &TimeframeState{
			Bars:            bars,
			EMA21:           ema,
			NormalizedSlope: slope,
			SlopeValid:      ok,
			Regime:          classifyRegime(slope, ok),
			LastClose:       closes[len(closes)-1],
		}
		state.Timeframes[name] = tf
		b.logger.Debugw("Market state timeframe",
			"symbol", symbol, "tf", name, "slope", slope, "regime", tf.Regime)
	}

	return state
}

// Bias condenses the trend timeframes into the higher-timeframe snapshot the
// confluence engine consumes: a directional signal only when every trend
// timeframe agrees.
func (s *MarketState) Bias() *models.MarketSnapshot {
	if s == nil {
		return nil
	}
	up, down := 0, 0
	for _, name := range TrendTimeframes {
		tf, ok := s.Timeframes[name]
		if !ok {
			return &models.MarketSnapshot{Signal: models.SignalHold}
		}
		switch tf.Regime {
		case RegimeTrendUp:
			up++
		case RegimeTrendDown:
			down++
		default:
			return &models.MarketSnapshot{Signal: models.SignalHold}
		}
	}
	switch {
	case up == len(TrendTimeframes):
		return &models.MarketSnapshot{Signal: models.SignalBuy, Confidence: 85}
	case down == len(TrendTimeframes):
		return &models.MarketSnapshot{Signal: models.SignalSell, Confidence: 85}
	}
	return &models.MarketSnapshot{Signal: models.SignalHold}
}

// aggregate rolls 1m bars into target-minute chunks. Partial trailing chunks
// are dropped; the chunk timestamp is the last minute's. At most the latest
// 200 aggregated bars are kept.
func aggregate(minuteBars []models.PriceBar, targetMinutes int) []models.PriceBar {
	if len(minuteBars) < targetMinutes {
		return nil
	}
	var aggregated []models.PriceBar
	for i := 0; i+targetMinutes <= len(minuteBars); i += targetMinutes {
		chunk := minuteBars[i : i+targetMinutes]
		bar := models.PriceBar{
			Ts:    chunk[len(chunk)-1].Ts,
			Open:  chunk[0].Open,
			High:  chunk[0].High,
			Low:   chunk[0].Low,
			Close: chunk[len(chunk)-1].Close,
		}
		for _, b := range chunk {
			bar.High = math.Max(bar.High, b.High)
			bar.Low = math.Min(bar.Low, b.Low)
			bar.Volume += b.Volume
		}
		aggregated = append(aggregated, bar)
	}
	if len(aggregated) > maxAggregatedBars {
		aggregated = aggregated[len(aggregated)-maxAggregatedBars:]
	}
	return aggregated
}

// emaSeries seeds the EMA with the first value, alpha = 2/(period+1).
func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// normalizedSlope least-squares fits the last window values and divides the
// slope by the last value. ok is false when the series is too short.
func normalizedSlope(series []float64, window int) (float64, bool) {
	if len(series) < window {
		return 0, false
	}
	vals := series[len(series)-window:]
	n := float64(window)
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range vals {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, true
	}
	slope := (n*sumXY - sumX*sumY) / denom
	last := vals[len(vals)-1]
	if last == 0 {
		return 0, true
	}
	return slope / last, true
}

func classifyRegime(slope float64, ok bool) Regime {
	if !ok {
		return RegimeInsufficient
	}
	if math.Abs(slope) < SlopeThreshold {
		return RegimeRange
	}
	if slope > 0 {
		return RegimeTrendUp
	}
	return RegimeTrendDown
}
