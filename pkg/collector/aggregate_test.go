package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eirsights/eirsights/pkg/types"
)

func f(v float64) *float64 { return &v }

func ts(hour, min, sec int) time.Time {
	return time.Date(2026, 8, 28, hour, min, sec, 0, time.UTC)
}

func TestWindowStart(t *testing.T) {
	// a sample on the boundary covers the hour that just finished
	assert.Equal(t, ts(16, 0, 0), windowStart(ts(17, 0, 0)))
	assert.Equal(t, ts(17, 0, 0), windowStart(ts(17, 30, 0)))
	assert.Equal(t, ts(17, 0, 0), windowStart(ts(17, 0, 30)))
	assert.Equal(t, ts(23, 0, 0), windowStart(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)))
}

func TestProject(t *testing.T) {
	points := []types.Datapoint{
		{Consumption: f(1.5), Cost: f(0.4), IntervalEnd: ts(10, 0, 0), Tariff: types.TariffMidPeak},
		{Consumption: f(2), IntervalEnd: ts(11, 0, 0), Tariff: types.TariffMidPeak},
		{Consumption: f(0.3), Cost: f(0.1), IntervalEnd: ts(18, 0, 0), Tariff: types.TariffOnPeak},
	}

	states := Project(points, types.MetricConsumption, types.TariffNone)
	require.Len(t, states, 3)
	assert.Equal(t, 1.5, states[0].State)

	// the 11:00 point has no cost
	states = Project(points, types.MetricCost, types.TariffNone)
	require.Len(t, states, 2)
	assert.Equal(t, ts(18, 0, 0), states[1].TS)

	states = Project(points, types.MetricConsumption, types.TariffOnPeak)
	require.Len(t, states, 1)
	assert.Equal(t, 0.3, states[0].State)
}

func TestAggregate(t *testing.T) {
	t.Run("WindowsAndMeans", func(t *testing.T) {
		states := []types.HistoricalState{
			{State: 1, TS: ts(10, 15, 0)},
			{State: 3, TS: ts(10, 45, 0)},
			{State: 2, TS: ts(11, 0, 0)}, // boundary, still the 10:00 window
			{State: 5, TS: ts(11, 30, 0)},
		}

		records := Aggregate(states, nil)
		require.Len(t, records, 2)

		assert.Equal(t, ts(10, 0, 0), records[0].WindowStart)
		assert.Equal(t, 6.0, records[0].PeriodSum)
		assert.Equal(t, 2.0, records[0].Mean)
		assert.Equal(t, 6.0, records[0].RunningSum)

		assert.Equal(t, ts(11, 0, 0), records[1].WindowStart)
		assert.Equal(t, 5.0, records[1].PeriodSum)
		assert.Equal(t, 11.0, records[1].RunningSum)
	})

	t.Run("PriorSeedsRunningSum", func(t *testing.T) {
		records := Aggregate([]types.HistoricalState{{State: 2, TS: ts(10, 30, 0)}}, f(40))
		require.Len(t, records, 1)
		assert.Equal(t, 42.0, records[0].RunningSum)
		assert.Equal(t, 2.0, records[0].PeriodSum)
	})

	t.Run("SplitEqualsSingleShot", func(t *testing.T) {
		var states []types.HistoricalState
		for hour := 0; hour < 12; hour++ {
			states = append(states,
				types.HistoricalState{State: float64(hour), TS: ts(hour, 20, 0)},
				types.HistoricalState{State: 0.5, TS: ts(hour, 40, 0)},
			)
		}

		single := Aggregate(states, nil)

		first := Aggregate(states[:10], nil)
		carry := first[len(first)-1].RunningSum
		second := Aggregate(states[10:], &carry)

		assert.Equal(t, single, append(first, second...))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, Aggregate(nil, nil))
		assert.Empty(t, Aggregate(nil, f(10)))
	})
}
