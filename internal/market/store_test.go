package market

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) int64 {
	t.Helper()
	ms, err := ParseDay(s)
	require.NoError(t, err)
	return ms
}

func TestBarStoreInsertAndRange(t *testing.T) {
	store, err := NewBarStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	bars := []Bar{
		{Day: day(t, "2024-01-03"), Open: 101, High: 103, Low: 100, Close: 102, Volume: 1000},
		{Day: day(t, "2024-01-02"), Open: 100, High: 102, Low: 99, Close: 101, Volume: 900},
		{Day: day(t, "2024-01-04"), Open: 102, High: 104, Low: 101, Close: 103, Volume: 1100},
	}
	n, err := store.InsertBars(ctx, "vcb", bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("range is day ascending", func(t *testing.T) {
		got, err := store.RangeBars(ctx, "VCB", day(t, "2024-01-01"), day(t, "2024-01-05"))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, day(t, "2024-01-02"), got[0].Day)
		assert.Equal(t, day(t, "2024-01-04"), got[2].Day)
		assert.Equal(t, "VCB", got[0].Symbol)
	})

	t.Run("upsert overwrites same day", func(t *testing.T) {
		_, err := store.InsertBars(ctx, "VCB", []Bar{
			{Day: day(t, "2024-01-03"), Open: 105, High: 106, Low: 104, Close: 105.5, Volume: 500},
		})
		require.NoError(t, err)
		got, err := store.RangeBars(ctx, "VCB", day(t, "2024-01-03"), day(t, "2024-01-03"))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 105.5, got[0].Close)
	})

	t.Run("manifest tracks coverage", func(t *testing.T) {
		cov, err := store.Coverage(ctx)
		require.NoError(t, err)
		require.Len(t, cov, 1)
		assert.Equal(t, "VCB", cov[0].Symbol)
		assert.Equal(t, day(t, "2024-01-02"), cov[0].MinDay)
		assert.Equal(t, day(t, "2024-01-04"), cov[0].MaxDay)
		assert.Equal(t, int64(3), cov[0].Rows)
	})

	t.Run("latest day for unknown symbol is zero", func(t *testing.T) {
		latest, err := store.LatestDay(ctx, "HPG")
		require.NoError(t, err)
		assert.Zero(t, latest)
	})
}

func TestBarStoreRangeValidation(t *testing.T) {
	store, err := NewBarStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RangeBars(context.Background(), "VCB", 0, 0)
	assert.Error(t, err)
}
