package bracket

import (
	"fmt"
	"math"
)

// Distances describes the dollar-denominated bracket geometry for one
// position size. Brackets are configured in dollars per position, so the
// point distance shrinks as size grows; points are normalized to whole
// ticks to stay tradable.
type Distances struct {
	SLUSD       float64
	TPUSD       float64
	Size        int
	SLPointsRaw float64
	TPPointsRaw float64
	SLTicks     int
	TPTicks     int
	SLPoints    float64
	TPPoints    float64
	PointValue  float64
	TickSize    float64
}

// ComputeDistances calculates the per-position bracket distances:
// points = usd / (point_value * size), ticks = round(points / tick_size)
// floored to at least one tick, and points re-normalized to ticks.
func ComputeDistances(slUSD, tpUSD float64, size int, pointValue, tickSize float64) (*Distances, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive, got %d", size)
	}

	slPointsRaw := slUSD / (pointValue * float64(size))
	tpPointsRaw := tpUSD / (pointValue * float64(size))

	slTicks := int(math.Round(slPointsRaw / tickSize))
	if slTicks < 1 {
		slTicks = 1
	}
	tpTicks := int(math.Round(tpPointsRaw / tickSize))
	if tpTicks < 1 {
		tpTicks = 1
	}

	return &Distances{
		SLUSD:       slUSD,
		TPUSD:       tpUSD,
		Size:        size,
		SLPointsRaw: slPointsRaw,
		TPPointsRaw: tpPointsRaw,
		SLTicks:     slTicks,
		TPTicks:     tpTicks,
		SLPoints:    float64(slTicks) * tickSize,
		TPPoints:    float64(tpTicks) * tickSize,
		PointValue:  pointValue,
		TickSize:    tickSize,
	}, nil
}

// ComputeDistanceTable computes bracket distances for a set of sizes, keyed
// by size.
func ComputeDistanceTable(slUSD, tpUSD float64, sizes []int, pointValue, tickSize float64) map[int]*Distances {
	table := make(map[int]*Distances, len(sizes))
	for _, size := range sizes {
		d, err := ComputeDistances(slUSD, tpUSD, size, pointValue, tickSize)
		if err != nil {
			continue
		}
		table[size] = d
	}
	return table
}

// ClampSizeForMinStop reduces size until the stop distance meets the
// minimum point requirement. A returned size of zero means the trade should
// be blocked (converted to HOLD).
func ClampSizeForMinStop(size int, slUSD, tpUSD float64, pointValue, tickSize, minSLPoints float64) (int, *Distances) {
	if size <= 0 {
		return 0, nil
	}

	var distances *Distances
	for size > 0 {
		d, err := ComputeDistances(slUSD, tpUSD, size, pointValue, tickSize)
		if err != nil {
			return 0, nil
		}
		distances = d
		if minSLPoints <= 0 || d.SLPoints >= minSLPoints {
			break
		}
		size--
	}
	return size, distances
}
