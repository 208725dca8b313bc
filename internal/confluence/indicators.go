package confluence

import (
	"projectx-bracket-bot/internal/models"
)

const (
	atrPeriod     = 14
	emaPeriod     = 21
	pivotLookback = 3
	channelWindow = 80
)

// pivot is a local extreme bar used to fit channel lines.
type pivot struct {
	x int
	y float64
}

// trendline is a fitted y = m*x + b channel boundary.
type trendline struct {
	m float64
	b float64
}

func (l *trendline) valueAt(x float64) float64 {
	return l.m*x + l.b
}

// latestATR returns the most recent value of a rolling true-range mean, or
// false when fewer than period+1 bars are available.
func latestATR(bars []models.PriceBar, period int) (float64, bool) {
	if len(bars) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := abs(bars[i].High - bars[i-1].Close)
		lc := abs(bars[i].Low - bars[i-1].Close)
		trs = append(trs, max3(abs(hl), hc, lc))
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period), true
}

// emaSeries computes an exponential moving average with smoothing
// 2/(period+1), seeded with the first value.
func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// detectPivots finds local pivot highs and lows. A bar is a pivot high when
// it is the maximum of the symmetric window of lookback bars on each side;
// pivot lows are analogous.
func detectPivots(bars []models.PriceBar, lookback int) (highs, lows []pivot) {
	for i := lookback; i < len(bars)-lookback; i++ {
		isHigh := true
		isLow := true
		for j := i - lookback; j <= i+lookback; j++ {
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, pivot{x: i, y: bars[i].High})
		}
		if isLow {
			lows = append(lows, pivot{x: i, y: bars[i].Low})
		}
	}
	return highs, lows
}

// fitLine fits a line through pivots: least squares for three or more
// points, the two-point slope for exactly two, nil otherwise.
func fitLine(points []pivot) *trendline {
	if len(points) < 2 {
		return nil
	}
	if len(points) == 2 {
		x1, y1 := float64(points[0].x), points[0].y
		x2, y2 := float64(points[1].x), points[1].y
		if x2 == x1 {
			return nil
		}
		m := (y2 - y1) / (x2 - x1)
		return &trendline{m: m, b: y1 - m*x1}
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := float64(p.x)
		sumX += x
		sumY += p.y
		sumXY += x * p.y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil
	}
	m := (n*sumXY - sumX*sumY) / denom
	return &trendline{m: m, b: (sumY - m*sumX) / n}
}

// lastN returns the trailing n elements of points.
func lastN(points []pivot, n int) []pivot {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
