package journal

import (
	"io"
	"math"
	"sync"
	"time"

	"projectx-bracket-bot/internal/models"
	"projectx-bracket-bot/internal/persistence"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Journal records completed trades and derives the session statistics the
// threshold controller feeds on. Records are appended to the repository and
// kept in memory for reporting.
type Journal struct {
	mu     sync.Mutex
	trades []models.TradeRecord
	repo   persistence.Repository
	logger *zap.SugaredLogger
}

// NewJournal loads previously recorded trades so trade-rate statistics
// survive restarts. Load failures degrade to an empty journal.
func NewJournal(repo persistence.Repository, logger *zap.SugaredLogger) *Journal {
	j := &Journal{repo: repo, logger: logger}
	if repo == nil {
		return j
	}
	trades, err := repo.LoadTrades()
	if err != nil {
		logger.Warnw("Could not load trade journal, starting empty", "error", err)
		return j
	}
	j.trades = trades
	if len(trades) > 0 {
		logger.Infow("Loaded trade journal", "trades", len(trades))
	}
	return j
}

// Record appends a completed trade. Persistence failures are logged, never
// surfaced.
func (j *Journal) Record(record models.TradeRecord) {
	j.mu.Lock()
	j.trades = append(j.trades, record)
	j.mu.Unlock()

	j.logger.Infow("Trade recorded",
		"id", record.LifecycleID, "signal", record.Signal, "size", record.Size,
		"pnl", record.PnL, "outcome", record.Outcome, "reason", record.Reason)

	if j.repo != nil {
		rec := record
		if err := j.repo.AppendTrade(&rec); err != nil {
			j.logger.Errorw("Failed to persist trade record", "error", err)
		}
	}
}

// TradesPerHour returns the completed-trade rate over the trailing window.
func (j *Journal) TradesPerHour(window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-window)

	j.mu.Lock()
	count := 0
	for _, t := range j.trades {
		if t.ExitTime.After(cutoff) {
			count++
		}
	}
	j.mu.Unlock()

	return float64(count) / window.Hours()
}

// Trades returns a copy of all recorded trades.
func (j *Journal) Trades() []models.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.TradeRecord, len(j.trades))
	copy(out, j.trades)
	return out
}

// WriteReport renders the session report: one row per trade plus summary
// statistics.
func (j *Journal) WriteReport(w io.Writer) {
	trades := j.Trades()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Trade Journal")
	t.AppendHeader(table.Row{"ID", "Symbol", "Side", "Size", "Entry", "Exit", "Entry Px", "PnL", "Outcome", "Reason"})

	totalPnL := 0.0
	winning, losing := 0, 0
	var totalWin, totalLoss float64
	for _, trade := range trades {
		t.AppendRow(table.Row{
			trade.LifecycleID,
			trade.Symbol,
			trade.Signal,
			trade.Size,
			trade.EntryTime.Format("01-02 15:04:05"),
			trade.ExitTime.Format("01-02 15:04:05"),
			trade.EntryPrice,
			trade.PnL,
			trade.Outcome,
			trade.Reason,
		})
		totalPnL += trade.PnL
		if trade.PnL > 0 {
			winning++
			totalWin += trade.PnL
		} else if trade.PnL < 0 {
			losing++
			totalLoss += trade.PnL
		}
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", totalPnL, "", ""})
	t.Render()

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(winning) / float64(len(trades)) * 100
	}
	avgProfitLoss := 0.0
	if winning > 0 && losing > 0 {
		avgWin := totalWin / float64(winning)
		avgLoss := math.Abs(totalLoss / float64(losing))
		if avgLoss > 0 {
			avgProfitLoss = avgWin / avgLoss
		}
	}

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("Summary")
	summary.AppendRows([]table.Row{
		{"Total trades", len(trades)},
		{"Winning", winning},
		{"Losing", losing},
		{"Win rate", winRate},
		{"Avg win/loss ratio", avgProfitLoss},
		{"Total PnL", totalPnL},
	})
	summary.Render()
}
