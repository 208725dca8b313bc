package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"projectx-bracket-bot/internal/adaptive"
	"projectx-bracket-bot/internal/bracket"
	"projectx-bracket-bot/internal/broker"
	"projectx-bracket-bot/internal/confluence"
	"projectx-bracket-bot/internal/feed"
	"projectx-bracket-bot/internal/journal"
	"projectx-bracket-bot/internal/marketstate"
	"projectx-bracket-bot/internal/models"
	"projectx-bracket-bot/internal/risk"

	"go.uber.org/zap"
)

const (
	// barBufferLimit bounds the in-memory 1m bar history.
	barBufferLimit = 600
	// sampleBufferLimit bounds the per-side z-score learning buffers.
	sampleBufferLimit = 500

	tradeRateWindow = time.Hour
)

// TradingBot wires the decision core together: it maintains the live bar
// buffer from feed ticks and runs the periodic decision cycle that chains
// market state, trigger, confluence, risk gate and bracket entry.
type TradingBot struct {
	cfg          *models.Config
	broker       broker.Broker
	stateBuilder *risk.StateBuilder
	estimator    *adaptive.Estimator
	engine       *confluence.Engine
	msBuilder    *marketstate.Builder
	trigger      *marketstate.Trigger
	journal      *journal.Journal
	clock        bracket.Clock
	logger       *zap.SugaredLogger
	accountID    int
	inGetFlat    func(time.Time) bool

	mu           sync.Mutex
	currentPrice float64
	bars         []models.PriceBar
	currentBar   *models.PriceBar
	oppCount     int
	buySamples   []float64
	sellSamples  []float64
	lifecycle    *bracket.Lifecycle

	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewTradingBot assembles the bot. accountID is the resolved broker account.
func NewTradingBot(cfg *models.Config, b broker.Broker, sb *risk.StateBuilder, est *adaptive.Estimator,
	eng *confluence.Engine, j *journal.Journal, clock bracket.Clock, logger *zap.SugaredLogger, accountID int) (*TradingBot, error) {

	inGetFlat, err := getFlatWindow(cfg.GetFlatStart, cfg.GetFlatEnd)
	if err != nil {
		return nil, err
	}

	return &TradingBot{
		cfg:          cfg,
		broker:       b,
		stateBuilder: sb,
		estimator:    est,
		engine:       eng,
		msBuilder:    marketstate.NewBuilder(logger),
		trigger:      marketstate.NewTrigger(inGetFlat, logger),
		journal:      j,
		clock:        clock,
		logger:       logger,
		accountID:    accountID,
		inGetFlat:    inGetFlat,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}, nil
}

// SeedBars preloads historical 1m bars so indicators have context before the
// first live ticks arrive.
func (t *TradingBot) SeedBars(bars []models.PriceBar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bars = append(t.bars, bars...)
	if len(t.bars) > barBufferLimit {
		t.bars = t.bars[len(t.bars)-barBufferLimit:]
	}
	if len(t.bars) > 0 {
		t.currentPrice = t.bars[len(t.bars)-1].Close
	}
	t.logger.Infow("Seeded bar buffer", "bars", len(t.bars))
}

// OnTick folds a feed tick into the minute-bar buffer. Safe to call from the
// feed goroutine.
func (t *TradingBot) OnTick(tick feed.Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentPrice = tick.Price
	minute := tick.Ts.Truncate(time.Minute)

	if t.currentBar == nil || !t.currentBar.Ts.Equal(minute) {
		if t.currentBar != nil {
			t.bars = append(t.bars, *t.currentBar)
			if len(t.bars) > barBufferLimit {
				t.bars = t.bars[len(t.bars)-barBufferLimit:]
			}
		}
		t.currentBar = &models.PriceBar{
			Ts:    minute,
			Open:  tick.Price,
			High:  tick.Price,
			Low:   tick.Price,
			Close: tick.Price,
		}
	}

	bar := t.currentBar
	if tick.Price > bar.High {
		bar.High = tick.Price
	}
	if tick.Price < bar.Low {
		bar.Low = tick.Price
	}
	bar.Close = tick.Price
	bar.Volume += tick.Volume
}

// Start launches the decision loop.
func (t *TradingBot) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("bot already started")
	}
	select {
	case <-t.stopChan:
		t.mu.Unlock()
		return fmt.Errorf("bot already stopped")
	default:
	}
	t.started = true
	t.mu.Unlock()

	t.logger.Infow("Bot started",
		"symbol", t.cfg.Symbol, "contract", t.cfg.ContractID,
		"interval_sec", t.cfg.DecisionIntervalSec, "trading_enabled", t.cfg.TradingEnabled)

	go t.decisionLoop(ctx)
	return nil
}

// Stop halts the decision loop and cancels any running bracket lifecycle.
func (t *TradingBot) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	close(t.stopChan)
	<-t.doneChan

	t.mu.Lock()
	active := t.lifecycle
	t.mu.Unlock()
	if active != nil {
		active.Cancel()
		<-active.Done()
	}
	t.logger.Info("Bot stopped")
}

func (t *TradingBot) decisionLoop(ctx context.Context) {
	defer close(t.doneChan)

	interval := time.Duration(t.cfg.DecisionIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.runCycle(ctx)
		}
	}
}

// runCycle is one pass of the decision chain. Broker query failures abort
// the cycle; the next tick retries with fresh state.
func (t *TradingBot) runCycle(ctx context.Context) {
	t.mu.Lock()
	bars := make([]models.PriceBar, len(t.bars))
	copy(bars, t.bars)
	price := t.currentPrice
	t.mu.Unlock()

	state := t.msBuilder.Build(t.cfg.Symbol, bars)

	position, err := t.stateBuilder.BuildPositionState(t.accountID, t.cfg.ContractID, price)
	if err != nil {
		t.logger.Errorw("Position state query failed", "error", err)
		return
	}
	account, err := t.stateBuilder.BuildAccountState(t.accountID)
	if err != nil {
		t.logger.Errorw("Account state query failed", "error", err)
		return
	}

	params := t.estimator.Params()
	snapshot := state.Bias()
	result := t.engine.Compute(bars, models.SignalHold, snapshot, &params)

	t.collectSample(result)
	t.learn(result.Bias)
	t.estimator.AdjustThreshold(t.journal.TradesPerHour(tradeRateWindow))

	if position.HasPosition {
		if t.inGetFlat != nil && t.inGetFlat(t.clock.Now()) {
			t.logger.Info("Get-flat window open, flattening position")
			t.flatten()
			return
		}
		t.managePosition(position, account, result.Bias)
		return
	}

	t.mu.Lock()
	t.oppCount = 0
	t.mu.Unlock()

	broker.SweepPhantomOrders(t.broker, t.logger, t.accountID, t.cfg.ContractID)

	plan := t.trigger.Decide(state, position, account, t.clock.Now())
	if plan.Signal != models.SignalBuy && plan.Signal != models.SignalSell {
		t.logger.Debugw("No entry this cycle", "reason", plan.ReasonCode)
		return
	}

	entry := t.engine.Compute(bars, plan.Signal, snapshot, &params)
	opposed := (plan.Signal == models.SignalBuy && entry.Bias == models.SignalSell) ||
		(plan.Signal == models.SignalSell && entry.Bias == models.SignalBuy)
	if !entry.TradeRecommended || opposed {
		t.logger.Infow("Confluence vetoed entry",
			"trigger_signal", plan.Signal, "bias", entry.Bias, "score", entry.Score)
		return
	}

	t.enter(ctx, plan.Signal)
}

// managePosition applies the position-management rules and flattens when
// they demand it.
func (t *TradingBot) managePosition(position *models.PositionState, account *models.AccountState, signal models.Signal) {
	t.mu.Lock()
	opposite := (position.Side == models.SideLong && signal == models.SignalSell) ||
		(position.Side == models.SideShort && signal == models.SignalBuy)
	if opposite {
		t.oppCount++
	} else {
		t.oppCount = 0
	}
	oppCount := t.oppCount
	t.mu.Unlock()

	action, reason := risk.Decide(*position, signal, *account, oppCount, t.cfg.Risk)
	t.logger.Infow("Position check",
		"action", action, "reason", reason, "pnl", position.CurrentPnL,
		"duration_min", position.DurationMinutes, "opp_count", oppCount)

	if action != models.ActionFlat {
		return
	}
	t.flatten()
}

// flatten exits the open position: a running lifecycle is cancelled (its
// abort path closes the position), otherwise the contract is force-flattened.
func (t *TradingBot) flatten() {
	t.mu.Lock()
	active := t.lifecycle
	t.mu.Unlock()

	if active != nil {
		active.Cancel()
		<-active.Done()
		t.mu.Lock()
		t.lifecycle = nil
		t.mu.Unlock()
		return
	}
	broker.FlattenContract(t.broker, t.logger, t.accountID, t.cfg.ContractID, 15*time.Second)
}

// enter sizes the trade against the minimum stop distance and launches a
// bracket lifecycle.
func (t *TradingBot) enter(ctx context.Context, signal models.Signal) {
	bc := t.cfg.Bracket
	size, distances := bracket.ClampSizeForMinStop(bc.MaxSize, bc.StopLossUSD, bc.TakeProfitUSD, bc.PointValue, bc.TickSize, bc.MinStopPoints)
	if size <= 0 {
		t.logger.Infow("Entry blocked, stop distance below minimum", "max_size", bc.MaxSize)
		return
	}

	if !t.cfg.TradingEnabled {
		t.logger.Infow("Dry run entry", "signal", signal, "size", size, "sl_points", distances.SLPoints)
		return
	}

	t.mu.Lock()
	if t.lifecycle != nil {
		select {
		case <-t.lifecycle.Done():
			t.lifecycle = nil
		default:
			t.mu.Unlock()
			t.logger.Warn("Entry skipped, lifecycle still active")
			return
		}
	}
	t.mu.Unlock()

	t.logger.Infow("Entering trade", "signal", signal, "size", size, "sl_points", distances.SLPoints)

	lc := bracket.Start(ctx, t.broker, t.clock, bc, t.logger,
		t.accountID, t.cfg.ContractID, t.cfg.Symbol, signal, size, "", t.journal.Record)

	t.mu.Lock()
	t.lifecycle = lc
	t.mu.Unlock()
}

// collectSample buffers the pullback z-score for the side the engine leaned
// toward this cycle.
func (t *TradingBot) collectSample(result models.ConfluenceResult) {
	for _, comp := range result.Components {
		if comp.Name != "pullback_to_mean" {
			continue
		}
		z, ok := comp.Metrics["z_ema21"]
		if !ok {
			return
		}
		t.mu.Lock()
		switch result.Bias {
		case models.SignalBuy:
			t.buySamples = appendCapped(t.buySamples, z, sampleBufferLimit)
		case models.SignalSell:
			t.sellSamples = appendCapped(t.sellSamples, z, sampleBufferLimit)
		}
		t.mu.Unlock()
		return
	}
}

// learn feeds the buffered samples for the current side into the estimator.
func (t *TradingBot) learn(side models.Signal) {
	t.mu.Lock()
	var samples []float64
	switch side {
	case models.SignalBuy:
		samples = append([]float64(nil), t.buySamples...)
	case models.SignalSell:
		samples = append([]float64(nil), t.sellSamples...)
	}
	t.mu.Unlock()

	if len(samples) > 0 {
		t.estimator.Update(samples, side)
	}
}

func appendCapped(buf []float64, v float64, limit int) []float64 {
	buf = append(buf, v)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

// getFlatWindow parses the "HH:MM" window bounds into a membership check on
// local wall-clock time. Windows may wrap midnight. Empty bounds disable the
// window.
func getFlatWindow(start, end string) (func(time.Time) bool, error) {
	if start == "" || end == "" {
		return nil, nil
	}
	startMin, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid get_flat_start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid get_flat_end: %w", err)
	}

	return func(now time.Time) bool {
		minute := now.Hour()*60 + now.Minute()
		if startMin <= endMin {
			return minute >= startMin && minute < endMin
		}
		return minute >= startMin || minute < endMin
	}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}
