package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTasksAllMonthly(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	c := New(WithClock(fixedClock(now)))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	tasks, err := c.Tasks("BTCUSDT", market.Timeframe1h, market.Spot, start, end)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	require.Equal(t,
		"https://data.binance.vision/data/spot/monthly/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01.zip",
		tasks[0].URL)
	require.Equal(t, Monthly, tasks[0].Kind)
	require.Equal(t, "2024-01", tasks[0].PeriodID)

	// Ascending by start instant.
	for i := 1; i < len(tasks); i++ {
		require.True(t, tasks[i].Start.After(tasks[i-1].Start))
	}
}

func TestTasksFuturesMarketPath(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	c := New(WithClock(fixedClock(now)))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tasks, err := c.Tasks("BTCUSDT", market.Timeframe1h, market.FuturesUM, start, end)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Contains(t, tasks[0].URL, "/data/futures/um/monthly/klines/")
}

func TestTasksDailyFallbackInsideLookback(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(fixedClock(now)), WithLookback(30*24*time.Hour))

	// February's month end (Mar 1) is inside the 30-day lookback, so the
	// whole request resolves to daily archives.
	start := time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)

	tasks, err := c.Tasks("ETHUSDT", market.Timeframe1m, market.Spot, start, end)
	require.NoError(t, err)
	// Feb 25..29 plus Mar 1..2.
	require.Len(t, tasks, 7)
	for _, task := range tasks {
		require.Equal(t, Daily, task.Kind)
		require.Contains(t, task.URL, "/daily/klines/ETHUSDT/1m/")
	}
	require.Equal(t, "2024-02-25", tasks[0].PeriodID)
	require.Equal(t, "2024-03-02", tasks[6].PeriodID)
}

func TestTasksSkipFutureDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(fixedClock(now)))

	start := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	tasks, err := c.Tasks("BTCUSDT", market.Timeframe1h, market.Spot, start, end)
	require.NoError(t, err)
	// Mar 9 and Mar 10 only; days after now have no archive yet.
	require.Len(t, tasks, 2)
}

func TestTasksClipRangeToWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	c := New(WithClock(fixedClock(now)))

	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 10, 18, 0, 0, 0, time.UTC)

	tasks, err := c.Tasks("BTCUSDT", market.Timeframe1h, market.Spot, start, end)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, start, tasks[0].Start)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), tasks[0].End)
	require.Equal(t, end, tasks[1].End)
}

func TestTasksRejectsBadInput(t *testing.T) {
	c := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.Tasks("btc/usdt", market.Timeframe1h, market.Spot, start, start.AddDate(0, 1, 0))
	require.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = c.Tasks("BTCUSDT", market.Timeframe1h, market.Spot, start, start)
	require.True(t, errors.Is(err, market.ErrInvalidInput))
}

func TestBatches(t *testing.T) {
	c := New(WithBatchSize(5))
	tasks := make([]Task, 12)
	batches := c.Batches(tasks)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 5)
	require.Len(t, batches[2], 2)
	require.Nil(t, c.Batches(nil))
}

func TestMonthsBetween(t *testing.T) {
	start := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	months := MonthsBetween(start, end)
	require.Len(t, months, 4)
	require.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), months[0])
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), months[3])
}
