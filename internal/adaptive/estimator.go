package adaptive

import (
	"math"
	"sort"
	"sync"

	"projectx-bracket-bot/internal/models"
	"projectx-bracket-bot/internal/persistence"

	"go.uber.org/zap"
)

// Zone boundary clamps, in ATR-normalized z-score units.
const (
	lowerClampMin = -2.0
	lowerClampMax = 0.2
	upperClampMin = -0.2
	upperClampMax = 2.0
	sweetClampMin = -1.0
	sweetClampMax = 1.0

	thresholdMin  = 0.5
	thresholdMax  = 1.2
	thresholdStep = 0.02

	sampleClip = 3.0
)

// Estimator maintains the adaptive zone boundaries and decision threshold.
// All mutation goes through a single mutex around read-modify-write-persist,
// so concurrent decision cycles cannot lose updates.
type Estimator struct {
	mu     sync.Mutex
	params models.ZoneParams
	repo   persistence.Repository
	logger *zap.SugaredLogger
}

// NewEstimator loads the persisted parameter snapshot, falling back to
// defaults on any load failure. Load problems never block trading.
func NewEstimator(repo persistence.Repository, logger *zap.SugaredLogger) *Estimator {
	e := &Estimator{
		params: models.DefaultZoneParams(),
		repo:   repo,
		logger: logger,
	}
	if repo == nil {
		return e
	}
	loaded, err := repo.LoadParams()
	if err != nil {
		logger.Warnw("Using default adaptive params, load failed", "error", err)
		return e
	}
	if loaded == nil {
		logger.Info("No persisted adaptive params found, using defaults")
		return e
	}
	e.params = *loaded
	logger.Infow("Loaded adaptive params",
		"sell_zone", loaded.SellZone, "buy_zone", loaded.BuyZone, "threshold", loaded.Threshold)
	return e
}

// Params returns a copy of the current parameter snapshot.
func (e *Estimator) Params() models.ZoneParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// FilterLearningSeries returns side-appropriate, clipped samples: NaNs are
// dropped, values clipped to [-3, 3], and each side keeps only its own
// semantic half of the distribution (non-positive for BUY, non-negative for
// SELL). Any other side yields no samples.
func FilterLearningSeries(samples []float64, side models.Signal) []float64 {
	if side != models.SignalBuy && side != models.SignalSell {
		return nil
	}
	out := make([]float64, 0, len(samples))
	for _, v := range samples {
		if math.IsNaN(v) {
			continue
		}
		if v < -sampleClip {
			v = -sampleClip
		} else if v > sampleClip {
			v = sampleClip
		}
		if side == models.SignalBuy && v > 0 {
			continue
		}
		if side == models.SignalSell && v < 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Update learns the given side's zone from a series of z-score samples.
// Returns whether an update occurred; too few filtered samples or an invalid
// side leave the zone unchanged.
func (e *Estimator) Update(samples []float64, side models.Signal) bool {
	filtered := FilterLearningSeries(samples, side)

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(filtered) == 0 || len(filtered) < e.params.MinSamples {
		return false
	}
	recent := filtered
	if len(recent) > e.params.N {
		recent = recent[len(recent)-e.params.N:]
	}

	lowerEst := quantile(recent, 0.2)
	upperEst := quantile(recent, 0.8)
	sweetEst := quantile(recent, 0.5)
	estimate := models.Zone{Lower: lowerEst, Upper: upperEst, Sweet: sweetEst}

	var oldZone models.Zone
	switch side {
	case models.SignalSell:
		oldZone = e.params.SellZone
		e.params.SellZone = e.smoothZone(oldZone, estimate)
	case models.SignalBuy:
		oldZone = e.params.BuyZone
		e.params.BuyZone = e.smoothZone(oldZone, estimate)
	default:
		return false
	}

	e.logger.Infow("Adaptive zone updated",
		"side", side, "old", oldZone, "estimate", estimate, "samples", len(filtered), "threshold", e.params.Threshold)
	e.persistLocked()
	return true
}

// AdjustThreshold nudges the decision threshold toward keeping the observed
// trade frequency within 20% of the target rate.
func (e *Estimator) AdjustThreshold(observedPerHour float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := e.params.TargetTradesPerHour
	old := e.params.Threshold
	if observedPerHour > target*1.2 {
		e.params.Threshold = clamp(old+thresholdStep, thresholdMin, thresholdMax)
	} else if observedPerHour < target*0.8 {
		e.params.Threshold = clamp(old-thresholdStep, thresholdMin, thresholdMax)
	}
	if e.params.Threshold != old {
		e.logger.Infow("Adaptive threshold adjusted",
			"old", old, "new", e.params.Threshold, "observed_per_hour", observedPerHour)
		e.persistLocked()
	}
}

// smoothZone blends the estimate into the current zone, applies the clamps
// and restores lower <= upper if smoothing inverted the band.
func (e *Estimator) smoothZone(current, estimate models.Zone) models.Zone {
	a := e.params.Alpha
	lower := clamp((1-a)*current.Lower+a*estimate.Lower, lowerClampMin, lowerClampMax)
	upper := clamp((1-a)*current.Upper+a*estimate.Upper, upperClampMin, upperClampMax)
	sweet := clamp((1-a)*current.Sweet+a*estimate.Sweet, sweetClampMin, sweetClampMax)
	if upper < lower {
		lower, upper = upper, lower
	}
	return models.Zone{Lower: lower, Upper: upper, Sweet: sweet}
}

// persistLocked saves the snapshot. Failures are logged and never surfaced:
// persistence must not block a trading decision. Caller must hold e.mu.
func (e *Estimator) persistLocked() {
	if e.repo == nil {
		return
	}
	snapshot := e.params
	if err := e.repo.SaveParams(&snapshot); err != nil {
		e.logger.Errorw("Failed to persist adaptive params", "error", err)
	}
}

// quantile computes the q-th quantile with linear interpolation between
// order statistics.
func quantile(samples []float64, q float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp(v, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, v))
}
