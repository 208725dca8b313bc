package confluence

import (
	"testing"
	"time"

	"projectx-bracket-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop().Sugar())
}

// flatBars builds n bars at a constant price with a one-point range, so the
// ATR is well defined and the channel is horizontal.
func flatBars(n int, price float64) []models.PriceBar {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]models.PriceBar, n)
	for i := range bars {
		bars[i] = models.PriceBar{
			Ts:    start.Add(time.Duration(i) * time.Minute),
			Open:  price,
			High:  price + 0.5,
			Low:   price - 0.5,
			Close: price,
		}
	}
	return bars
}

func TestCompute_EmptyBarsIsNeutral(t *testing.T) {
	result := newTestEngine().Compute(nil, models.SignalHold, nil, nil)

	assert.Equal(t, models.SignalHold, result.Bias)
	assert.Zero(t, result.Score)
	assert.False(t, result.TradeRecommended)
	assert.True(t, result.Gates.AllOK())
}

func TestCompute_ShortSeriesDegradesToNeutral(t *testing.T) {
	result := newTestEngine().Compute(flatBars(5, 100), models.SignalBuy, nil, nil)

	assert.False(t, result.TradeRecommended)
	require.Len(t, result.Components, 2)
}

func TestLatestATR(t *testing.T) {
	_, ok := latestATR(flatBars(14, 100), atrPeriod)
	assert.False(t, ok)

	atr, ok := latestATR(flatBars(30, 100), atrPeriod)
	require.True(t, ok)
	assert.InDelta(t, 1.0, atr, 1e-9)
}

func TestEMASeries_SeededWithFirstValue(t *testing.T) {
	ema := emaSeries([]float64{10, 10, 10, 10}, emaPeriod)
	require.Len(t, ema, 4)
	for _, v := range ema {
		assert.InDelta(t, 10.0, v, 1e-9)
	}

	rising := emaSeries([]float64{10, 20}, emaPeriod)
	assert.Greater(t, rising[1], rising[0])
	assert.Less(t, rising[1], 20.0)
}

func TestDetectPivots(t *testing.T) {
	bars := flatBars(20, 100)
	// A spike at index 10 is the window maximum around itself.
	bars[10].High = 105
	bars[10].Close = 104
	// A trough at index 5.
	bars[5].Low = 95

	highs, lows := detectPivots(bars, pivotLookback)

	requireContainsX := func(pivots []pivot, x int) {
		t.Helper()
		for _, p := range pivots {
			if p.x == x {
				return
			}
		}
		t.Fatalf("no pivot at index %d", x)
	}
	requireContainsX(highs, 10)
	requireContainsX(lows, 5)
}

func TestFitLine(t *testing.T) {
	assert.Nil(t, fitLine([]pivot{{x: 1, y: 2}}))

	two := fitLine([]pivot{{x: 0, y: 1}, {x: 2, y: 5}})
	require.NotNil(t, two)
	assert.InDelta(t, 2.0, two.m, 1e-9)
	assert.InDelta(t, 1.0, two.b, 1e-9)

	three := fitLine([]pivot{{x: 0, y: 0}, {x: 1, y: 1}, {x: 2, y: 2}})
	require.NotNil(t, three)
	assert.InDelta(t, 1.0, three.m, 1e-9)
	assert.InDelta(t, 0.0, three.b, 1e-9)
}

func TestZoneConfidence(t *testing.T) {
	zone := models.Zone{Lower: -0.2, Upper: 0.8, Sweet: 0.3}

	assert.InDelta(t, 1.0, zoneConfidence(0.3, zone), 1e-9)
	assert.InDelta(t, 0.0, zoneConfidence(0.8, zone), 1e-9)
	assert.InDelta(t, 0.0, zoneConfidence(-0.2, zone), 1e-9)
	assert.InDelta(t, 0.5, zoneConfidence(0.55, zone), 1e-9)
	assert.Zero(t, zoneConfidence(1.5, zone))
	assert.Zero(t, zoneConfidence(-0.5, zone))
}

func TestPullbackComponent_BuyAtSweetSpot(t *testing.T) {
	bars := flatBars(30, 100)
	for i := range bars {
		bars[i].EMA21 = 100
	}
	// Close 0.3 ATR below the mean sits on the BUY sweet spot.
	bars[len(bars)-1].Close = 99.7

	comp := pullbackComponent(bars, models.SignalBuy, 1.0, pullbackZoneSell, pullbackZoneBuy)

	assert.Equal(t, 1, comp.Signal)
	assert.InDelta(t, 1.0, comp.Confidence, 1e-9)
	assert.True(t, comp.HasTag("pullback_zone"))
	assert.InDelta(t, -0.3, comp.Metrics["z_ema21"], 1e-9)
}

func TestPullbackComponent_SellAtSweetSpot(t *testing.T) {
	bars := flatBars(30, 100)
	for i := range bars {
		bars[i].EMA21 = 100
	}
	bars[len(bars)-1].Close = 100.3

	comp := pullbackComponent(bars, models.SignalSell, 1.0, pullbackZoneSell, pullbackZoneBuy)

	assert.Equal(t, -1, comp.Signal)
	assert.InDelta(t, 1.0, comp.Confidence, 1e-9)
}

func TestPullbackComponent_OutsideZoneScoresZero(t *testing.T) {
	bars := flatBars(30, 100)
	for i := range bars {
		bars[i].EMA21 = 100
	}
	bars[len(bars)-1].Close = 102

	comp := pullbackComponent(bars, models.SignalBuy, 1.0, pullbackZoneSell, pullbackZoneBuy)

	assert.Zero(t, comp.Signal)
	assert.Zero(t, comp.Confidence)
	assert.False(t, comp.HasTag("pullback_zone"))
}

func TestPullbackComponent_NoATRIsMissingData(t *testing.T) {
	comp := pullbackComponent(flatBars(30, 100), models.SignalBuy, 0, pullbackZoneSell, pullbackZoneBuy)
	assert.True(t, comp.HasTag("missing_data"))
}

func TestChannelComponent_SpikeThroughUpperBreaksTrendlineGate(t *testing.T) {
	bars := flatBars(60, 100)
	// Two interior swing highs shape a horizontal upper boundary.
	bars[20].High = 101
	bars[40].High = 101
	// The final close blows through it.
	bars[len(bars)-1].Close = 104
	bars[len(bars)-1].High = 104.5

	comp, gates := channelComponent(bars, models.SignalSell, 1.0)

	assert.False(t, gates.TrendlineOK)
	assert.Zero(t, comp.Signal)
}

func TestChannelComponent_NearUpperBoundaryFavorsSell(t *testing.T) {
	bars := flatBars(60, 100)
	bars[20].High = 101
	bars[40].High = 101
	// Close just below the boundary, inside the reversal zone.
	bars[len(bars)-1].Close = 100.6

	comp, gates := channelComponent(bars, models.SignalSell, 1.0)

	assert.True(t, gates.TrendlineOK)
	assert.Equal(t, -1, comp.Signal)
	assert.True(t, comp.HasTag("near_upper_channel"))
	assert.Greater(t, comp.Confidence, 0.0)
}

func TestChannelComponent_TooFewPivots(t *testing.T) {
	// A monotone ramp has no interior pivot highs or lows.
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]models.PriceBar, 30)
	for i := range bars {
		price := 100 + float64(i)
		bars[i] = models.PriceBar{
			Ts:    start.Add(time.Duration(i) * time.Minute),
			Open:  price,
			High:  price + 0.5,
			Low:   price - 0.5,
			Close: price,
		}
	}

	comp, gates := channelComponent(bars, models.SignalBuy, 1.0)

	assert.True(t, comp.HasTag("insufficient_pivots"))
	assert.True(t, gates.AllOK())
}

func TestInferBaseBias(t *testing.T) {
	up := flatBars(40, 100)
	for i := range up {
		up[i].EMA21 = 100 + float64(i)*0.5
	}
	assert.Equal(t, models.SignalBuy, inferBaseBias(up, 1.0))

	down := flatBars(40, 100)
	for i := range down {
		down[i].EMA21 = 100 - float64(i)*0.5
	}
	assert.Equal(t, models.SignalSell, inferBaseBias(down, 1.0))

	flat := flatBars(40, 100)
	for i := range flat {
		flat[i].EMA21 = 100
	}
	assert.Equal(t, models.SignalHold, inferBaseBias(flat, 1.0))
}

func TestCompute_StrongMarketContinuationPath(t *testing.T) {
	// An uptrend that breaks the upper channel and closes just beyond it:
	// score alone stays below threshold, but a strong market trend plus the
	// continuation tag recommends the trade.
	bars := flatBars(60, 100)
	bars[20].High = 101
	bars[40].High = 101
	bars[len(bars)-1].Close = 101.5
	bars[len(bars)-1].High = 101.8
	for i := range bars {
		bars[i].EMA21 = 101.4
		bars[i].ATR = 1.0
	}

	market := &models.MarketSnapshot{Signal: models.SignalBuy, Confidence: 85}
	result := newTestEngine().Compute(bars, models.SignalBuy, market, nil)

	require.Len(t, result.Components, 2)
	channel := result.Components[1]
	assert.True(t, channel.HasTag("trend_continuation"))
	assert.False(t, channel.HasTag("too_extended"))
	assert.True(t, result.TradeRecommended)
}

func TestCompute_WeakMarketNeedsScore(t *testing.T) {
	bars := flatBars(60, 100)
	bars[20].High = 101
	bars[40].High = 101
	bars[len(bars)-1].Close = 101.5
	bars[len(bars)-1].High = 101.8
	for i := range bars {
		bars[i].EMA21 = 101.4
		bars[i].ATR = 1.0
	}

	market := &models.MarketSnapshot{Signal: models.SignalBuy, Confidence: 50}
	result := newTestEngine().Compute(bars, models.SignalBuy, market, nil)

	assert.False(t, result.TradeRecommended)
}
