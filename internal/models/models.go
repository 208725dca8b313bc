package models

import (
	"time"
)

// Signal is a directional trading signal.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Action is the outcome of a position-management decision.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionFlat Action = "FLAT"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Config holds all bot configuration, loaded from a JSON file.
type Config struct {
	Symbol              string          `json:"symbol"`
	ContractID          string          `json:"contract_id"`
	AccountName         string          `json:"account_name"`
	DecisionIntervalSec int             `json:"decision_interval_sec"`
	GetFlatStart        string          `json:"get_flat_start"` // "HH:MM", local exchange time
	GetFlatEnd          string          `json:"get_flat_end"`
	DBPath              string          `json:"db_path"`
	ParamsPath          string          `json:"params_path,omitempty"` // JSON snapshot fallback when db_path is empty
	TradingEnabled      bool            `json:"trading_enabled"`
	Broker              BrokerConfig    `json:"broker"`
	Feed                FeedConfig      `json:"feed"`
	Risk                RiskConfig      `json:"risk"`
	Bracket             BracketConfig   `json:"bracket"`
	LogConfig           LogConfig       `json:"log"`
	Calibration         CalibrationData `json:"calibration,omitempty"`
}

// BrokerConfig holds the broker REST endpoint settings.
type BrokerConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// FeedConfig holds the market-data websocket settings.
type FeedConfig struct {
	URL             string `json:"url"`
	PingIntervalSec int    `json:"ping_interval_sec,omitempty"`
	PongTimeoutSec  int    `json:"pong_timeout_sec,omitempty"`
}

// RiskConfig holds position- and account-level risk limits. Absent (zero)
// fields are replaced with defaults at load time.
type RiskConfig struct {
	CutLoss              float64 `json:"cut_loss"`               // force-flat when position PnL falls to this (USD)
	OppositePersistK     int     `json:"opposite_persist_k"`     // consecutive opposite signals before exit
	OppositeMinPnL       float64 `json:"opposite_min_pnl"`       // exit on opposite persistence only at or below this PnL
	TimeStopMinutes      float64 `json:"time_stop_minutes"`      // close stale positions after this many minutes
	TimeStopPnLBand      float64 `json:"time_stop_pnl_band"`     // only when |PnL| is inside this band
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // trading halts at or below this daily PnL
	DailyProfitTarget    float64 `json:"daily_profit_target"`    // trading halts at or above this daily PnL
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // 0 means default; negative disables the guard
}

// BracketConfig holds bracket order geometry and lifecycle polling settings.
type BracketConfig struct {
	StopLossUSD           float64   `json:"stop_loss_usd"`
	TakeProfitUSD         float64   `json:"take_profit_usd"`
	PointValue            float64   `json:"point_value"` // dollars per point per contract
	TickSize              float64   `json:"tick_size"`
	MinStopPoints         float64   `json:"min_stop_points"` // size is reduced until the stop distance meets this
	MaxSize               int       `json:"max_size"`
	TakeProfitPoints      []float64 `json:"take_profit_points"` // distances of the three staged legs
	BreakevenOffsetPoints float64   `json:"breakeven_offset_points"`
	PollIntervalSec       int       `json:"poll_interval_sec"`
	FillAttempts          int       `json:"fill_attempts"`
}

// CalibrationData describes the optional historical-bar download used to
// warm up indicators before live ticks arrive.
type CalibrationData struct {
	Symbol    string `json:"symbol,omitempty"`
	StartDate string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate   string `json:"end_date,omitempty"`
	DataDir   string `json:"data_dir,omitempty"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // max size of a single log file (MB)
	MaxBackups int    `json:"max_backups"` // max number of rotated files to keep
	MaxAge     int    `json:"max_age"`     // max age of rotated files (days)
	Compress   bool   `json:"compress"`    // compress rotated files
}

// PriceBar is a single OHLCV bar. EMA21, ATR and VWAP are optional
// precomputed columns; zero means absent.
type PriceBar struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
	EMA21  float64   `json:"ema21,omitempty"`
	ATR    float64   `json:"atr,omitempty"`
	VWAP   float64   `json:"vwap,omitempty"`
}

// Zone is a per-side band of ATR-normalized z-scores.
type Zone struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Sweet float64 `json:"sweet"`
}

// ZoneParams holds the adaptive confluence tuning parameters. It is the only
// piece of cross-run state in the decision core.
type ZoneParams struct {
	SellZone            Zone    `json:"sell_zone"`
	BuyZone             Zone    `json:"buy_zone"`
	Threshold           float64 `json:"threshold"`
	Alpha               float64 `json:"alpha"`
	N                   int     `json:"n"`
	MinSamples          int     `json:"min_samples"`
	TargetTradesPerHour float64 `json:"target_trades_per_hour"`
}

// DefaultZoneParams returns the starting parameters used when no persisted
// snapshot is available.
func DefaultZoneParams() ZoneParams {
	return ZoneParams{
		SellZone:            Zone{Lower: -0.6, Upper: 0.8, Sweet: 0.2},
		BuyZone:             Zone{Lower: -0.8, Upper: 0.2, Sweet: -0.3},
		Threshold:           1.0,
		Alpha:               0.10,
		N:                   120,
		MinSamples:          50,
		TargetTradesPerHour: 1.5,
	}
}

// ConfluenceComponent is one scored signal component. Produced fresh each
// scoring call and never mutated afterwards.
type ConfluenceComponent struct {
	Name       string             `json:"name"`
	Signal     int                `json:"signal"` // -1, 0, 1
	Confidence float64            `json:"confidence"`
	Tags       []string           `json:"tags"`
	Metrics    map[string]float64 `json:"metrics"`
}

// HasTag reports whether the component carries the given tag.
func (c ConfluenceComponent) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Gates are the boolean veto preconditions for a score-based trade.
type Gates struct {
	TrendlineOK bool `json:"trendline_ok"`
	BosOK       bool `json:"bos_ok"`
	VolOK       bool `json:"vol_ok"`
}

// AllOK reports whether every gate passed.
func (g Gates) AllOK() bool {
	return g.TrendlineOK && g.BosOK && g.VolOK
}

// ConfluenceResult is the output of one confluence scoring call.
type ConfluenceResult struct {
	Score            float64               `json:"score"`
	Bias             Signal                `json:"bias"`
	Components       []ConfluenceComponent `json:"components"`
	Gates            Gates                 `json:"gates"`
	TradeRecommended bool                  `json:"trade_recommended"`
}

// MarketSnapshot is the externally supplied higher-timeframe trend summary
// consumed by the confluence engine.
type MarketSnapshot struct {
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"` // 0..100
}

// PositionState is a fresh per-cycle view of the open position. Never cached
// beyond one decision.
type PositionState struct {
	HasPosition     bool          `json:"has_position"`
	Side            PositionSide  `json:"side,omitempty"`
	Size            int           `json:"size"`
	EntryPrice      float64       `json:"entry_price"`
	CurrentPrice    float64       `json:"current_price"`
	CurrentPnL      float64       `json:"current_pnl"` // realized + unrealized
	UnrealizedPnL   float64       `json:"unrealized_pnl"`
	RealizedPnL     float64       `json:"realized_pnl"`
	DurationMinutes float64       `json:"duration_minutes"`
	StopOrders      []BrokerOrder `json:"stop_orders"`
	LimitOrders     []BrokerOrder `json:"limit_orders"`
}

// RiskLevel classifies overall account risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AccountState is a fresh per-cycle view of account-wide risk metrics.
type AccountState struct {
	DailyPnL          float64   `json:"daily_pnl"`
	TradeCount        int       `json:"trade_count"`
	WinningTrades     int       `json:"winning_trades"`
	LosingTrades      int       `json:"losing_trades"`
	WinRate           float64   `json:"win_rate"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	OpenPositions     int       `json:"open_positions"`
	CanTrade          bool      `json:"can_trade"`
	RiskLevel         RiskLevel `json:"risk_level"`
}

// BracketOrderSet tracks the order ids owned by one bracket lifecycle.
// StopID mutates as the stop is replaced; the take-profit ids are immutable
// once placed.
type BracketOrderSet struct {
	EntryID  int64    `json:"entry_id"`
	StopID   int64    `json:"stop_id"`
	TPIDs    [3]int64 `json:"tp_ids"`
	LegSizes [3]int   `json:"leg_sizes"`
}

// TradeRecord is one completed trade as written to the journal.
type TradeRecord struct {
	LifecycleID string    `json:"lifecycle_id"`
	Symbol      string    `json:"symbol"`
	Signal      Signal    `json:"signal"`
	Size        int       `json:"size"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryPrice  float64   `json:"entry_price"`
	PnL         float64   `json:"pnl"`
	Outcome     string    `json:"outcome"` // "done" or "aborted"
	Reason      string    `json:"reason,omitempty"`
}
