// Package catalog enumerates the data.binance.vision archive URLs covering a
// requested window, choosing monthly or daily files per epoch.
package catalog

import (
	"fmt"
	"time"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// DefaultBaseURL is the public Binance bulk-data CDN.
const DefaultBaseURL = "https://data.binance.vision"

// SourceKind tells whether a task points at a monthly or a daily archive.
type SourceKind int

const (
	Monthly SourceKind = iota
	Daily
)

func (k SourceKind) String() string {
	if k == Daily {
		return "daily"
	}
	return "monthly"
}

// Task is one archive to download. Start/End are the slice of the requested
// window this archive is responsible for.
type Task struct {
	URL      string
	Filename string
	Kind     SourceKind
	PeriodID string
	Start    time.Time
	End      time.Time
}

// Catalog plans downloads for a (symbol, timeframe, range) request.
type Catalog struct {
	baseURL   string
	lookback  time.Duration
	batchSize int
	now       func() time.Time
}

// Option tunes a Catalog.
type Option func(*Catalog)

// WithBaseURL points the catalog at a different CDN root (tests).
func WithBaseURL(u string) Option { return func(c *Catalog) { c.baseURL = u } }

// WithLookback sets the daily-lookback cutoff window.
func WithLookback(w time.Duration) Option { return func(c *Catalog) { c.lookback = w } }

// WithBatchSize sets the concurrent batch width.
func WithBatchSize(n int) Option { return func(c *Catalog) { c.batchSize = n } }

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

// New builds a catalog with the documented defaults: 30-day lookback,
// batches of 13.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		baseURL:   DefaultBaseURL,
		lookback:  30 * 24 * time.Hour,
		batchSize: 13,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tasks returns the ordered archive list whose union covers [start, end).
// Months fully before now-lookback use monthly archives; later epochs fall
// back to daily files. Missing archives surface later as failed downloads,
// not here.
func (c *Catalog) Tasks(symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]Task, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: start %s not before end %s", market.ErrInvalidInput, start, end)
	}

	now := c.now().UTC()
	cutoff := now.Add(-c.lookback)
	start, end = start.UTC(), end.UTC()

	var tasks []Task
	for month := monthStart(start); month.Before(end); month = month.AddDate(0, 1, 0) {
		monthEnd := month.AddDate(0, 1, 0)

		if !monthEnd.After(cutoff) {
			tasks = append(tasks, c.monthlyTask(symbol, tf, inst, month, clip(month, monthEnd, start, end)))
			continue
		}

		// Daily archives for the rest of this month, skipping days that
		// have not started yet.
		for day := laterOf(month, dayStart(start)); day.Before(monthEnd) && day.Before(end); day = day.AddDate(0, 0, 1) {
			if day.After(now) {
				break
			}
			dayEnd := day.AddDate(0, 0, 1)
			tasks = append(tasks, c.dailyTask(symbol, tf, inst, day, clip(day, dayEnd, start, end)))
		}
	}
	return tasks, nil
}

// Batches groups tasks into concurrent batches of the configured width.
func (c *Catalog) Batches(tasks []Task) [][]Task {
	if len(tasks) == 0 {
		return nil
	}
	var batches [][]Task
	for i := 0; i < len(tasks); i += c.batchSize {
		j := i + c.batchSize
		if j > len(tasks) {
			j = len(tasks)
		}
		batches = append(batches, tasks[i:j])
	}
	return batches
}

func (c *Catalog) monthlyTask(symbol string, tf market.Timeframe, inst market.InstrumentType, month time.Time, rng [2]time.Time) Task {
	period := month.Format("2006-01")
	filename := fmt.Sprintf("%s-%s-%s.zip", symbol, tf, period)
	return Task{
		URL:      fmt.Sprintf("%s/data/%s/monthly/klines/%s/%s/%s", c.baseURL, inst.MarketPath(), symbol, tf, filename),
		Filename: filename,
		Kind:     Monthly,
		PeriodID: period,
		Start:    rng[0],
		End:      rng[1],
	}
}

func (c *Catalog) dailyTask(symbol string, tf market.Timeframe, inst market.InstrumentType, day time.Time, rng [2]time.Time) Task {
	period := day.Format("2006-01-02")
	filename := fmt.Sprintf("%s-%s-%s.zip", symbol, tf, period)
	return Task{
		URL:      fmt.Sprintf("%s/data/%s/daily/klines/%s/%s/%s", c.baseURL, inst.MarketPath(), symbol, tf, filename),
		Filename: filename,
		Kind:     Daily,
		PeriodID: period,
		Start:    rng[0],
		End:      rng[1],
	}
}

// MonthsBetween lists the first instant of every calendar month touching
// [start, end).
func MonthsBetween(start, end time.Time) []time.Time {
	var months []time.Time
	for m := monthStart(start.UTC()); m.Before(end.UTC()); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func clip(periodStart, periodEnd, start, end time.Time) [2]time.Time {
	lo, hi := periodStart, periodEnd
	if start.After(lo) {
		lo = start
	}
	if end.Before(hi) {
		hi = end
	}
	return [2]time.Time{lo, hi}
}
