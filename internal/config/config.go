package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"projectx-bracket-bot/internal/models"
)

// LoadConfig loads a JSON config file, applies defaults and validates it.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.DecisionIntervalSec <= 0 {
		cfg.DecisionIntervalSec = 60
	}
	if cfg.Broker.TimeoutSec <= 0 {
		cfg.Broker.TimeoutSec = 10
	}
	if cfg.Feed.PingIntervalSec <= 0 {
		cfg.Feed.PingIntervalSec = 30
	}
	if cfg.Feed.PongTimeoutSec <= 0 {
		cfg.Feed.PongTimeoutSec = 75
	}

	r := &cfg.Risk
	if r.CutLoss == 0 {
		r.CutLoss = -20.0
	}
	if r.OppositePersistK == 0 {
		r.OppositePersistK = 2
	}
	if r.OppositeMinPnL == 0 {
		r.OppositeMinPnL = -5.0
	}
	if r.TimeStopMinutes == 0 {
		r.TimeStopMinutes = 20
	}
	if r.TimeStopPnLBand == 0 {
		r.TimeStopPnLBand = 5.0
	}
	if r.MaxDailyLoss == 0 {
		r.MaxDailyLoss = -500.0
	}
	if r.DailyProfitTarget == 0 {
		r.DailyProfitTarget = 500.0
	}
	if r.MaxConsecutiveLosses == 0 {
		r.MaxConsecutiveLosses = 3
	}

	b := &cfg.Bracket
	if b.StopLossUSD == 0 {
		b.StopLossUSD = 50.0
	}
	if b.TakeProfitUSD == 0 {
		b.TakeProfitUSD = 100.0
	}
	if b.PointValue == 0 {
		b.PointValue = 5.0
	}
	if b.TickSize == 0 {
		b.TickSize = 0.25
	}
	if b.MinStopPoints == 0 {
		b.MinStopPoints = 6.0
	}
	if b.MaxSize == 0 {
		b.MaxSize = 3
	}
	if len(b.TakeProfitPoints) == 0 {
		b.TakeProfitPoints = []float64{2.5, 5.0, 10.0}
	}
	if b.BreakevenOffsetPoints == 0 {
		b.BreakevenOffsetPoints = 5.0
	}
	if b.PollIntervalSec <= 0 {
		b.PollIntervalSec = 2
	}
	if b.FillAttempts <= 0 {
		b.FillAttempts = 12
	}
}

func validate(cfg *models.Config) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	if cfg.ContractID == "" {
		return fmt.Errorf("config: contract_id is required")
	}
	if len(cfg.Bracket.TakeProfitPoints) != 3 {
		return fmt.Errorf("config: bracket.take_profit_points must have exactly 3 legs, got %d", len(cfg.Bracket.TakeProfitPoints))
	}
	if cfg.Bracket.TickSize <= 0 || cfg.Bracket.PointValue <= 0 {
		return fmt.Errorf("config: bracket tick_size and point_value must be positive")
	}
	return nil
}

// AccountsFromEnv collects the account name -> id map from ACCOUNT_<NAME>
// environment variables.
func AccountsFromEnv() (map[string]int, error) {
	accounts := make(map[string]int)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "ACCOUNT_") {
			continue
		}
		name := strings.TrimPrefix(parts[0], "ACCOUNT_")
		id, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("config: invalid account id for %s: %w", parts[0], err)
		}
		accounts[name] = id
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("config: no ACCOUNT_<NAME> environment variables set")
	}
	return accounts, nil
}
