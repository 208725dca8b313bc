package bracket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDistances_SingleContract(t *testing.T) {
	d, err := ComputeDistances(50, 100, 1, 5, 0.25)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, d.SLPointsRaw, 1e-9)
	assert.InDelta(t, 20.0, d.TPPointsRaw, 1e-9)
	assert.Equal(t, 40, d.SLTicks)
	assert.Equal(t, 80, d.TPTicks)
	assert.InDelta(t, 10.0, d.SLPoints, 1e-9)
	assert.InDelta(t, 20.0, d.TPPoints, 1e-9)
}

func TestComputeDistances_DistanceShrinksWithSize(t *testing.T) {
	d, err := ComputeDistances(50, 100, 2, 5, 0.25)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, d.SLPoints, 1e-9)
	assert.InDelta(t, 10.0, d.TPPoints, 1e-9)
}

func TestComputeDistances_FlooredToOneTick(t *testing.T) {
	// A tiny dollar stop on a large size still yields a one-tick distance.
	d, err := ComputeDistances(0.01, 0.01, 10, 5, 0.25)
	require.NoError(t, err)

	assert.Equal(t, 1, d.SLTicks)
	assert.Equal(t, 1, d.TPTicks)
	assert.InDelta(t, 0.25, d.SLPoints, 1e-9)
}

func TestComputeDistances_RejectsNonPositiveSize(t *testing.T) {
	_, err := ComputeDistances(50, 100, 0, 5, 0.25)
	assert.Error(t, err)

	_, err = ComputeDistances(50, 100, -1, 5, 0.25)
	assert.Error(t, err)
}

func TestComputeDistanceTable(t *testing.T) {
	table := ComputeDistanceTable(50, 100, []int{1, 2, 3}, 5, 0.25)
	require.Len(t, table, 3)
	assert.InDelta(t, 10.0, table[1].SLPoints, 1e-9)
	assert.InDelta(t, 5.0, table[2].SLPoints, 1e-9)
}

func TestClampSizeForMinStop_ReducesUntilStopFits(t *testing.T) {
	size, d := ClampSizeForMinStop(3, 50, 100, 5, 0.25, 6)
	require.NotNil(t, d)

	assert.Equal(t, 1, size)
	assert.GreaterOrEqual(t, d.SLPoints, 6.0)
}

func TestClampSizeForMinStop_KeepsSizeWhenAlreadyWide(t *testing.T) {
	size, d := ClampSizeForMinStop(2, 50, 100, 5, 0.25, 4)
	require.NotNil(t, d)

	assert.Equal(t, 2, size)
	assert.InDelta(t, 5.0, d.SLPoints, 1e-9)
}

func TestClampSizeForMinStop_ZeroMinDisablesClamp(t *testing.T) {
	size, d := ClampSizeForMinStop(3, 50, 100, 5, 0.25, 0)
	require.NotNil(t, d)
	assert.Equal(t, 3, size)
}

func TestClampSizeForMinStop_BlocksWhenNothingFits(t *testing.T) {
	size, _ := ClampSizeForMinStop(2, 1, 2, 5, 0.25, 100)
	assert.Equal(t, 0, size)
}
