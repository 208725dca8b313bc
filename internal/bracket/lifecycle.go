package bracket

import (
	"context"
	"sync"
	"time"

	"projectx-bracket-bot/internal/broker"
	"projectx-bracket-bot/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Clock abstracts time for the lifecycle so tests can drive transitions
// deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// State is the lifecycle's position in the bracket state machine.
type State int

const (
	StateEntering State = iota
	StateAwaitLeg1
	StateAwaitLeg2
	StateAwaitLeg3
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateEntering:
		return "ENTERING"
	case StateAwaitLeg1:
		return "AWAIT_LEG1"
	case StateAwaitLeg2:
		return "AWAIT_LEG2"
	case StateAwaitLeg3:
		return "AWAIT_LEG3"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// FinishFunc receives the completed trade record when a lifecycle reaches a
// terminal state.
type FinishFunc func(record models.TradeRecord)

// Lifecycle supervises one bracket trade: market entry, one stop-loss and
// three staged take-profit legs. It is the only stateful long-running
// component; each instance owns its BracketOrderSet exclusively and runs on
// its own goroutine.
type Lifecycle struct {
	broker broker.Broker
	clock  Clock
	logger *zap.SugaredLogger
	cfg    models.BracketConfig

	accountID  int
	contractID string
	symbol     string
	signal     models.Signal
	size       int
	alert      string

	id     string
	cancel context.CancelFunc
	done   chan struct{}
	finish FinishFunc

	mu         sync.Mutex
	state      State
	orders     models.BracketOrderSet
	entryPrice float64
	entryTime  time.Time
	stopPrice  float64
}

// Start creates a lifecycle for the decided trade and launches its polling
// goroutine. finish may be nil.
func Start(ctx context.Context, b broker.Broker, clock Clock, cfg models.BracketConfig, logger *zap.SugaredLogger,
	accountID int, contractID, symbol string, signal models.Signal, size int, alert string, finish FinishFunc) *Lifecycle {

	runCtx, cancel := context.WithCancel(ctx)
	l := &Lifecycle{
		broker:     b,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		accountID:  accountID,
		contractID: contractID,
		symbol:     symbol,
		signal:     signal,
		size:       size,
		alert:      alert,
		id:         string(base62.FormatInt(clock.Now().UnixNano())),
		cancel:     cancel,
		done:       make(chan struct{}),
		finish:     finish,
		state:      StateEntering,
	}

	go l.run(runCtx)
	return l
}

// ID returns the lifecycle's tag, used to correlate journal records.
func (l *Lifecycle) ID() string { return l.id }

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the lifecycle reaches a terminal state.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Cancel requests the lifecycle to abort: remaining bracket orders are
// cancelled and the position is closed.
func (l *Lifecycle) Cancel() { l.cancel() }

// EntryPrice returns the resolved average fill price, zero before entry
// resolves.
func (l *Lifecycle) EntryPrice() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryPrice
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.logger.Infow("Bracket lifecycle transition", "id", l.id, "state", s.String())
}

func (l *Lifecycle) run(ctx context.Context) {
	defer close(l.done)
	defer l.cancel()

	l.mu.Lock()
	l.entryTime = l.clock.Now()
	l.mu.Unlock()

	l.logger.Infow("Bracket lifecycle started",
		"id", l.id, "signal", l.signal, "size", l.size, "alert", l.alert)

	if !l.enter(ctx) {
		l.setState(StateAborted)
		l.record("aborted", "no_fill")
		return
	}

	if !l.placeBracket() {
		// Entry filled but the bracket could not be placed: fail safe by
		// flattening rather than leaving an unprotected position.
		broker.FlattenContract(l.broker, l.logger, l.accountID, l.contractID, 10*time.Second)
		l.setState(StateAborted)
		l.record("aborted", "bracket_placement_failed")
		return
	}

	for leg := 0; leg < 3; leg++ {
		l.setState([3]State{StateAwaitLeg1, StateAwaitLeg2, StateAwaitLeg3}[leg])

		if l.orders.LegSizes[leg] == 0 {
			// Nothing allocated to this leg. The stop only moves on a real
			// fill, so it stays where it is.
			continue
		}

		outcome := l.awaitLeg(ctx, leg)
		switch outcome {
		case legFilled:
			if !l.advanceStop(leg) {
				l.abort("stop_replacement_failed", leg+1)
				return
			}
		case legStopped:
			l.abort("stopped_out", leg+1)
			return
		case legFlat:
			l.abort("external_flat", leg+1)
			return
		case legCancelled:
			l.abortCancelled(leg + 1)
			return
		}
	}

	// All three legs filled; clear any stray take-profits.
	l.cancelRemainingTPs(3)
	l.setState(StateDone)
	l.record("done", "")
}

// enter places the market entry and resolves its average fill price by
// polling recent fills. Returns false when no price resolves; the trade is
// then aborted before any stop or target exists.
func (l *Lifecycle) enter(ctx context.Context) bool {
	result, err := l.broker.PlaceMarket(l.accountID, l.contractID, models.WireSide(l.signal), l.size)
	if err != nil {
		l.logger.Errorw("Entry placement failed", "id", l.id, "error", err)
		return false
	}

	l.mu.Lock()
	l.orders.EntryID = result.OrderID
	l.mu.Unlock()

	var price float64
	for attempt := 0; attempt < l.cfg.FillAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		trades, err := l.broker.SearchTrades(l.accountID, l.clock.Now().Add(-5*time.Minute))
		if err != nil {
			l.logger.Warnw("Fill lookup failed, retrying", "id", l.id, "error", err)
		} else {
			total := 0
			weighted := 0.0
			for _, t := range trades {
				if t.OrderID == result.OrderID {
					total += t.Size
					weighted += t.Price * float64(t.Size)
				}
			}
			if total > 0 {
				price = weighted / float64(total)
				break
			}
		}

		if result.FillPrice != nil {
			price = *result.FillPrice
			break
		}
		l.clock.Sleep(time.Second)
	}

	if price == 0 {
		l.logger.Errorw("No fill price resolved, treating entry as unmanaged", "id", l.id, "orderId", result.OrderID)
		return false
	}

	l.mu.Lock()
	l.entryPrice = price
	l.mu.Unlock()
	l.logger.Infow("Entry filled", "id", l.id, "price", price, "size", l.size)
	return true
}

// placeBracket partitions size across the three take-profit legs (evenly,
// remainder on the last) and places the full-size stop plus the limit legs.
func (l *Lifecycle) placeBracket() bool {
	distances, err := ComputeDistances(l.cfg.StopLossUSD, l.cfg.TakeProfitUSD, l.size, l.cfg.PointValue, l.cfg.TickSize)
	if err != nil {
		l.logger.Errorw("Bracket distance computation failed", "id", l.id, "error", err)
		return false
	}

	exitSide := models.ExitSide(models.WireSide(l.signal))

	stopPrice := l.entryPrice - distances.SLPoints
	if l.signal == models.SignalSell {
		stopPrice = l.entryPrice + distances.SLPoints
	}

	stop, err := l.broker.PlaceStop(l.accountID, l.contractID, exitSide, l.size, stopPrice)
	if err != nil {
		l.logger.Errorw("Stop placement failed", "id", l.id, "error", err)
		return false
	}

	base := l.size / 3
	rem := l.size - base*3
	legs := [3]int{base, base, base + rem}

	l.mu.Lock()
	l.orders.StopID = stop.OrderID
	l.orders.LegSizes = legs
	l.stopPrice = stopPrice
	l.mu.Unlock()

	for i, points := range l.cfg.TakeProfitPoints {
		if legs[i] == 0 {
			continue
		}
		tpPrice := l.entryPrice + points
		if l.signal == models.SignalSell {
			tpPrice = l.entryPrice - points
		}
		tp, err := l.broker.PlaceLimit(l.accountID, l.contractID, exitSide, legs[i], tpPrice)
		if err != nil {
			l.logger.Errorw("Take-profit placement failed", "id", l.id, "leg", i+1, "error", err)
			return false
		}
		l.mu.Lock()
		l.orders.TPIDs[i] = tp.OrderID
		l.mu.Unlock()
	}

	l.logger.Infow("Bracket placed",
		"id", l.id, "entry", l.entryPrice, "stop", stopPrice, "legs", legs, "sl_points", distances.SLPoints)
	return true
}

type legOutcome int

const (
	legFilled legOutcome = iota
	legStopped
	legFlat
	legCancelled
)

// awaitLeg polls until the leg's take-profit fills, the stop fills, the
// position goes flat out-of-band, or the lifecycle is cancelled. Transient
// query failures are logged and retried at the poll interval, never fatal.
func (l *Lifecycle) awaitLeg(ctx context.Context, leg int) legOutcome {
	interval := time.Duration(l.cfg.PollIntervalSec) * time.Second

	l.mu.Lock()
	tpID := l.orders.TPIDs[leg]
	stopID := l.orders.StopID
	l.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return legCancelled
		}

		orders, err := l.broker.SearchOpenOrders(l.accountID)
		if err != nil {
			l.logger.Warnw("Order poll failed, retrying", "id", l.id, "error", err)
			l.clock.Sleep(interval)
			continue
		}

		tpOpen, stopOpen := false, false
		for _, o := range orders {
			if o.ID == tpID {
				tpOpen = true
			}
			if o.ID == stopID {
				stopOpen = true
			}
		}

		// The take-profit check runs before the flat check so the final leg's
		// fill, which also flattens the position, reads as a fill.
		if !tpOpen {
			l.logger.Infow("Take-profit leg filled", "id", l.id, "leg", leg+1)
			return legFilled
		}
		if !stopOpen {
			l.logger.Infow("Stop filled", "id", l.id, "leg", leg+1)
			return legStopped
		}

		positions, err := l.broker.SearchPositions(l.accountID)
		if err != nil {
			l.logger.Warnw("Position poll failed, retrying", "id", l.id, "error", err)
			l.clock.Sleep(interval)
			continue
		}
		flat := true
		for _, p := range positions {
			if p.ContractID == l.contractID && p.Size > 0 {
				flat = false
				break
			}
		}
		if flat {
			l.logger.Infow("Position closed externally", "id", l.id, "leg", leg+1)
			return legFlat
		}

		l.clock.Sleep(interval)
	}
}

// advanceStop replaces the stop after a leg fill: the previous stop is
// cancelled first, then a new stop is placed for the remaining size. After
// the second leg the stop moves to the breakeven offset; the final leg fill
// needs no further stop.
func (l *Lifecycle) advanceStop(filledLeg int) bool {
	if filledLeg >= 2 {
		return true
	}

	l.mu.Lock()
	stopID := l.orders.StopID
	legs := l.orders.LegSizes
	stopPrice := l.stopPrice
	l.mu.Unlock()

	if err := l.broker.Cancel(l.accountID, stopID); err != nil {
		l.logger.Errorw("Failed to cancel previous stop", "id", l.id, "orderId", stopID, "error", err)
		return false
	}

	var remaining int
	var newPrice float64
	if filledLeg == 0 {
		// Risk is reduced only by size; the stop price does not move yet.
		remaining = legs[1] + legs[2]
		newPrice = stopPrice
	} else {
		// Final leg rides with a breakeven-offset stop.
		remaining = legs[2]
		newPrice = l.entryPrice - l.cfg.BreakevenOffsetPoints
		if l.signal == models.SignalSell {
			newPrice = l.entryPrice + l.cfg.BreakevenOffsetPoints
		}
	}

	if remaining == 0 {
		return true
	}

	exitSide := models.ExitSide(models.WireSide(l.signal))
	stop, err := l.broker.PlaceStop(l.accountID, l.contractID, exitSide, remaining, newPrice)
	if err != nil {
		l.logger.Errorw("Failed to place replacement stop", "id", l.id, "error", err)
		return false
	}

	l.mu.Lock()
	l.orders.StopID = stop.OrderID
	l.stopPrice = newPrice
	l.mu.Unlock()
	l.logger.Infow("Stop advanced", "id", l.id, "filled_leg", filledLeg+1, "size", remaining, "price", newPrice)
	return true
}

// cancelRemainingTPs cancels take-profit orders from the given leg onward.
// Every exit path funnels through this cleanup so no take-profit is left
// resting after the position closed by another path.
func (l *Lifecycle) cancelRemainingTPs(fromLeg int) {
	l.mu.Lock()
	tpIDs := l.orders.TPIDs
	l.mu.Unlock()

	open, err := l.broker.SearchOpenOrders(l.accountID)
	stillOpen := map[int64]bool{}
	if err == nil {
		for _, o := range open {
			stillOpen[o.ID] = true
		}
	}

	for leg := fromLeg; leg < 3; leg++ {
		id := tpIDs[leg]
		if id == 0 {
			continue
		}
		// Without a current order book view, attempt the cancel anyway.
		if err != nil || stillOpen[id] {
			if cerr := l.broker.Cancel(l.accountID, id); cerr != nil {
				l.logger.Errorw("Failed to cancel take-profit", "id", l.id, "orderId", id, "error", cerr)
			}
		}
	}
}

// abort cancels the remaining take-profits and terminates the lifecycle.
func (l *Lifecycle) abort(reason string, fromLeg int) {
	l.cancelRemainingTPs(fromLeg - 1)
	l.setState(StateAborted)
	l.record("aborted", reason)
}

// abortCancelled handles an explicit Cancel: remaining bracket orders are
// cancelled and the position is flattened so nothing is left unmanaged.
func (l *Lifecycle) abortCancelled(fromLeg int) {
	l.cancelRemainingTPs(fromLeg - 1)

	l.mu.Lock()
	stopID := l.orders.StopID
	l.mu.Unlock()
	if stopID != 0 {
		if err := l.broker.Cancel(l.accountID, stopID); err != nil {
			l.logger.Errorw("Failed to cancel stop on abort", "id", l.id, "error", err)
		}
	}
	broker.FlattenContract(l.broker, l.logger, l.accountID, l.contractID, 10*time.Second)

	l.setState(StateAborted)
	l.record("aborted", "cancelled")
}

// record assembles the trade record, summing realized PnL from fills since
// entry, and hands it to the finish callback.
func (l *Lifecycle) record(outcome, reason string) {
	if l.finish == nil {
		return
	}

	l.mu.Lock()
	entryTime := l.entryTime
	entryPrice := l.entryPrice
	l.mu.Unlock()

	pnl := 0.0
	trades, err := l.broker.SearchTrades(l.accountID, entryTime)
	if err != nil {
		l.logger.Warnw("Could not compute trade PnL", "id", l.id, "error", err)
	} else {
		for _, t := range trades {
			if t.ContractID == l.contractID && !t.Voided {
				pnl += t.PnL()
			}
		}
	}

	l.finish(models.TradeRecord{
		LifecycleID: l.id,
		Symbol:      l.symbol,
		Signal:      l.signal,
		Size:        l.size,
		EntryTime:   entryTime,
		ExitTime:    l.clock.Now(),
		EntryPrice:  entryPrice,
		PnL:         pnl,
		Outcome:     outcome,
		Reason:      reason,
	})
}
