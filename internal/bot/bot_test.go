package bot

import (
	"context"
	"testing"
	"time"

	"projectx-bracket-bot/internal/feed"
	"projectx-bracket-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestGetFlatWindow_SameDay(t *testing.T) {
	inWindow, err := getFlatWindow("15:55", "17:05")
	require.NoError(t, err)
	require.NotNil(t, inWindow)

	assert.False(t, inWindow(at(15, 54)))
	assert.True(t, inWindow(at(15, 55)))
	assert.True(t, inWindow(at(16, 30)))
	assert.False(t, inWindow(at(17, 5)))
	assert.False(t, inWindow(at(20, 0)))
}

func TestGetFlatWindow_WrapsMidnight(t *testing.T) {
	inWindow, err := getFlatWindow("23:00", "01:00")
	require.NoError(t, err)

	assert.True(t, inWindow(at(23, 30)))
	assert.True(t, inWindow(at(0, 30)))
	assert.False(t, inWindow(at(1, 0)))
	assert.False(t, inWindow(at(12, 0)))
}

func TestGetFlatWindow_EmptyDisables(t *testing.T) {
	inWindow, err := getFlatWindow("", "")
	require.NoError(t, err)
	assert.Nil(t, inWindow)
}

func TestGetFlatWindow_RejectsBadClock(t *testing.T) {
	_, err := getFlatWindow("25:00", "17:00")
	assert.Error(t, err)

	_, err = getFlatWindow("15:00", "17:61")
	assert.Error(t, err)

	_, err = getFlatWindow("noon", "17:00")
	assert.Error(t, err)
}

func TestOnTick_BuildsMinuteBars(t *testing.T) {
	bot := &TradingBot{}
	base := at(9, 30)

	bot.OnTick(feed.Tick{Price: 100, Volume: 1, Ts: base})
	bot.OnTick(feed.Tick{Price: 101, Volume: 2, Ts: base.Add(10 * time.Second)})
	bot.OnTick(feed.Tick{Price: 99.5, Volume: 1, Ts: base.Add(30 * time.Second)})

	// Still inside the first minute: nothing closed yet.
	bot.mu.Lock()
	assert.Empty(t, bot.bars)
	require.NotNil(t, bot.currentBar)
	assert.InDelta(t, 100.0, bot.currentBar.Open, 1e-9)
	assert.InDelta(t, 101.0, bot.currentBar.High, 1e-9)
	assert.InDelta(t, 99.5, bot.currentBar.Low, 1e-9)
	assert.InDelta(t, 99.5, bot.currentBar.Close, 1e-9)
	assert.InDelta(t, 4.0, bot.currentBar.Volume, 1e-9)
	bot.mu.Unlock()

	// A tick in the next minute closes the first bar.
	bot.OnTick(feed.Tick{Price: 100.5, Volume: 1, Ts: base.Add(time.Minute)})

	bot.mu.Lock()
	defer bot.mu.Unlock()
	require.Len(t, bot.bars, 1)
	closed := bot.bars[0]
	assert.Equal(t, base, closed.Ts)
	assert.InDelta(t, 99.5, closed.Close, 1e-9)
	assert.InDelta(t, 100.5, bot.currentBar.Open, 1e-9)
	assert.InDelta(t, 100.5, bot.currentPrice, 1e-9)
}

func TestStop_Idempotent(t *testing.T) {
	bot := &TradingBot{
		cfg:      &models.Config{Symbol: "MES", DecisionIntervalSec: 60},
		logger:   zap.NewNop().Sugar(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	require.NoError(t, bot.Start(context.Background()))

	assert.NotPanics(t, func() {
		bot.Stop()
		bot.Stop()
	})

	// A stopped bot cannot be restarted on the same channels.
	assert.Error(t, bot.Start(context.Background()))
}

func TestSeedBars_CapsBuffer(t *testing.T) {
	bot := &TradingBot{logger: zap.NewNop().Sugar()}

	start := at(9, 0)
	seed := make([]models.PriceBar, barBufferLimit+100)
	for i := range seed {
		seed[i] = models.PriceBar{
			Ts:    start.Add(time.Duration(i) * time.Minute),
			Close: 100 + float64(i),
		}
	}
	bot.SeedBars(seed)

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.Len(t, bot.bars, barBufferLimit)
	// The newest bars survive the trim.
	assert.InDelta(t, seed[len(seed)-1].Close, bot.bars[len(bot.bars)-1].Close, 1e-9)
	assert.InDelta(t, seed[len(seed)-1].Close, bot.currentPrice, 1e-9)
}
