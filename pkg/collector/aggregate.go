package collector

import (
	"time"

	"github.com/eirsights/eirsights/pkg/types"
)

// windowStart maps a sample timestamp to the start of its statistics window.
// Usage samples carry the END of the interval they cover, so a sample
// exactly on the hour boundary belongs to the hour that just finished.
func windowStart(ts time.Time) time.Time {
	if ts.Minute() == 0 && ts.Second() == 0 && ts.Nanosecond() == 0 {
		ts = ts.Add(-time.Hour)
	}
	return ts.Truncate(time.Hour)
}

// Project selects one metric out of tariff-resolved datapoints, optionally
// restricted to a single tariff band, as chronological samples. Datapoints
// where the portal omitted the metric are skipped.
func Project(points []types.Datapoint, metric types.Metric, band types.Tariff) []types.HistoricalState {
	states := make([]types.HistoricalState, 0, len(points))
	for _, p := range points {
		if band != types.TariffNone && p.Tariff != band {
			continue
		}
		v, ok := p.Value(metric)
		if !ok {
			continue
		}
		states = append(states, types.HistoricalState{State: v, TS: p.IntervalEnd})
	}
	return states
}

// Aggregate folds chronological samples into hour-aligned statistic windows.
// prior seeds the running sum, so feeding the input in several calls while
// passing the last RunningSum forward yields the same records as one call
// over everything. Samples must be sorted by timestamp; windows with no
// samples produce no record.
func Aggregate(states []types.HistoricalState, prior *float64) []types.StatisticRecord {
	var accumulated float64
	if prior != nil {
		accumulated = *prior
	}

	var records []types.StatisticRecord
	flush := func(start time.Time, sum float64, count int) {
		accumulated += sum
		records = append(records, types.StatisticRecord{
			WindowStart: start,
			PeriodSum:   sum,
			Mean:        sum / float64(count),
			RunningSum:  accumulated,
		})
	}

	var (
		current time.Time
		sum     float64
		count   int
	)
	for _, s := range states {
		start := windowStart(s.TS)
		if count > 0 && !start.Equal(current) {
			flush(current, sum, count)
			sum, count = 0, 0
		}
		current = start
		sum += s.State
		count++
	}
	if count > 0 {
		flush(current, sum, count)
	}
	return records
}
