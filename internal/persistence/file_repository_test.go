package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"projectx-bracket-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempFileRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewFileRepository(filepath.Join(t.TempDir(), "params.json"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestFileRepository_LoadParamsAbsent(t *testing.T) {
	repo := newTempFileRepo(t)

	params, err := repo.LoadParams()
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestFileRepository_ParamsRoundTrip(t *testing.T) {
	repo := newTempFileRepo(t)

	saved := models.DefaultZoneParams()
	saved.Threshold = 0.92
	saved.BuyZone = models.Zone{Lower: -0.7, Upper: 0.1, Sweet: -0.25}
	require.NoError(t, repo.SaveParams(&saved))

	loaded, err := repo.LoadParams()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved, *loaded)
}

func TestFileRepository_SaveOverwrites(t *testing.T) {
	repo := newTempFileRepo(t)

	first := models.DefaultZoneParams()
	require.NoError(t, repo.SaveParams(&first))

	second := models.DefaultZoneParams()
	second.Threshold = 1.1
	require.NoError(t, repo.SaveParams(&second))

	loaded, err := repo.LoadParams()
	require.NoError(t, err)
	assert.InDelta(t, 1.1, loaded.Threshold, 1e-9)
}

func TestFileRepository_TradesAppendAndLoad(t *testing.T) {
	repo := newTempFileRepo(t)

	trades, err := repo.LoadTrades()
	require.NoError(t, err)
	assert.Empty(t, trades)

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendTrade(&models.TradeRecord{
			LifecycleID: "lc",
			Symbol:      "MES",
			Signal:      models.SignalBuy,
			Size:        i + 1,
			EntryTime:   now,
			ExitTime:    now.Add(time.Minute),
			PnL:         float64(i) * 10,
			Outcome:     "done",
		}))
	}

	trades, err = repo.LoadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, 1, trades[0].Size)
	assert.Equal(t, 3, trades[2].Size)
	assert.InDelta(t, 20.0, trades[2].PnL, 1e-9)
}
