package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"projectx-bracket-bot/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// BarDownloader fetches historical 1m bars used to warm up indicators and
// calibrate the adaptive zones before live ticks arrive. Reference data comes
// from the Binance public klines endpoint, which needs no credentials.
type BarDownloader struct {
	client *binance.Client
	logger *zap.SugaredLogger
}

func NewBarDownloader(logger *zap.SugaredLogger) *BarDownloader {
	return &BarDownloader{
		client: binance.NewClient("", ""),
		logger: logger,
	}
}

// DownloadBars downloads 1m bars for the symbol and date range into a CSV
// file. An existing file is treated as a cache and left untouched.
func (d *BarDownloader) DownloadBars(ctx context.Context, symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Infow("Using cached bar data", "path", filePath)
		return nil
	}

	d.logger.Infow("Downloading bar data",
		"symbol", symbol, "start", startTime.Format("2006-01-02"), "end", endTime.Format("2006-01-02"))

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("cannot create file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(t.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("kline download failed: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Infow("Downloaded bars", "through", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond)
	}

	d.logger.Infow("Bar download complete", "path", filePath)
	return nil
}

// LoadBars reads a downloaded CSV back into price bars.
func LoadBars(filePath string) ([]models.PriceBar, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open bar file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cannot parse bar file %s: %w", filePath, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	bars := make([]models.PriceBar, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < 6 {
			return nil, fmt.Errorf("bar file %s: row %d has %d columns", filePath, i+2, len(record))
		}
		openTime, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bar file %s: row %d: bad open_time: %w", filePath, i+2, err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bar file %s: row %d: bad column %d: %w", filePath, i+2, j+1, err)
			}
			vals[j] = v
		}
		bars = append(bars, models.PriceBar{
			Ts:     time.UnixMilli(openTime),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}
