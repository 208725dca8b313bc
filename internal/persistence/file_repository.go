package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"projectx-bracket-bot/internal/models"
)

// fileRepository is a plain-file implementation of the Repository: the zone
// parameter snapshot lives in a single JSON file and the trade journal in a
// JSON-lines file next to it. Useful when running without a local database.
type fileRepository struct {
	mu         sync.Mutex
	paramsPath string
	tradesPath string
}

// NewFileRepository creates a repository storing the snapshot at paramsPath.
func NewFileRepository(paramsPath string) (Repository, error) {
	dir := filepath.Dir(paramsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	base := paramsPath[:len(paramsPath)-len(filepath.Ext(paramsPath))]
	return &fileRepository{
		paramsPath: paramsPath,
		tradesPath: base + "_trades.jsonl",
	}, nil
}

func (r *fileRepository) SaveParams(params *models.ZoneParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a truncated snapshot.
	tmp := r.paramsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.paramsPath)
}

func (r *fileRepository) LoadParams() (*models.ZoneParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.paramsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var params models.ZoneParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (r *fileRepository) AppendTrade(trade *models.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.tradesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (r *fileRepository) LoadTrades() ([]models.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.tradesPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var trades []models.TradeRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t models.TradeRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *fileRepository) Close() error {
	return nil
}
