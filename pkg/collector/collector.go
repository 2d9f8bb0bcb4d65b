// Package collector orchestrates fetch cycles: it logs into the portal,
// fetches a window of per-day hourly usage over a bounded worker pool, and
// folds the results into durable hour-aligned statistics.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/eirsights/eirsights/pkg/log"
	"github.com/eirsights/eirsights/pkg/metrics"
	"github.com/eirsights/eirsights/pkg/portal"
	"github.com/eirsights/eirsights/pkg/storage"
	"github.com/eirsights/eirsights/pkg/types"
)

// usageFetcher is the authenticated-session surface the collector needs.
type usageFetcher interface {
	HourlyUsage(ctx context.Context, date time.Time, filter types.Tariff) []types.Datapoint
}

// Collector runs the periodic collection cycle against one meter.
type Collector struct {
	db       storage.Database
	settings types.Settings
	series   []types.SeriesKey
	m        *metrics.Metrics

	login func(ctx context.Context) (usageFetcher, error)
	now   func() time.Time

	// fetcher is the cached authenticated session; nil forces a login on
	// the next cycle.
	fetcher usageFetcher
}

// New returns a Collector using the given portal and storage with default
// settings and total-consumption/total-cost series.
func New(p *portal.Portal, db storage.Database) *Collector {
	return &Collector{
		db:       db,
		settings: types.DefaultSettings(),
		series:   defaultSeries(false),
		m:        metrics.Init(),
		login: func(ctx context.Context) (usageFetcher, error) {
			return p.Login(ctx)
		},
		now: time.Now,
	}
}

// Configured sets up the Collector (and its Portal) from command-line flags.
func Configured(db storage.Database) *Collector {
	c := New(portal.Configured(), db)

	lookback := lflag.Int("lookback-days", c.settings.LookbackDays, "Days of history to fetch on the first ever run")
	ongoing := lflag.Int("ongoing-lookback-days", c.settings.OngoingLookbackDays, "Days of history to re-fetch on subsequent runs")
	parallel := lflag.Int("parallel-days", c.settings.ParallelDays, "Maximum day fetches in flight at once")
	minInterval := lflag.Duration("min-fetch-interval", c.settings.MinFetchInterval, "Minimum time between collection cycles")
	staleness := lflag.Duration("staleness-threshold", c.settings.StalenessThreshold, "Warn when the newest sample is older than this")
	perTariff := lflag.Bool("per-tariff-series", false, "Also maintain per-tariff statistic series")

	lflag.Do(func() {
		c.settings = types.Settings{
			LookbackDays:        *lookback,
			OngoingLookbackDays: *ongoing,
			ParallelDays:        *parallel,
			MinFetchInterval:    *minInterval,
			StalenessThreshold:  *staleness,
		}.WithDefaults()
		c.series = defaultSeries(*perTariff)
	})

	return c
}

func defaultSeries(perTariff bool) []types.SeriesKey {
	keys := []types.SeriesKey{
		{Metric: types.MetricConsumption},
		{Metric: types.MetricCost},
	}
	if perTariff {
		for _, t := range types.Tariffs {
			// flatRate is never active on a smart TOU plan, so a flatRate
			// series could never receive a datapoint
			if t == types.TariffFlatRate {
				continue
			}
			keys = append(keys,
				types.SeriesKey{Metric: types.MetricConsumption, Tariff: t},
				types.SeriesKey{Metric: types.MetricCost, Tariff: t},
			)
		}
	}
	return keys
}

// Settings returns the resolved cycle settings.
func (c *Collector) Settings() types.Settings {
	return c.settings
}

// Collect runs one collection cycle. A cycle that is throttled or fetches no
// data is not an error; only login and storage failures are.
func (c *Collector) Collect(ctx context.Context) error {
	now := c.now().UTC()

	state, err := c.db.GetFetchState(ctx)
	if err != nil {
		c.m.CyclesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load fetch state: %w", err)
	}

	// the throttle never applies before the first successful run
	if state.FirstRunDone && now.Sub(state.LastFetch) < c.settings.MinFetchInterval {
		log.Ctx(ctx).DebugContext(ctx, "skipping collection cycle, fetched recently",
			slog.Time("lastFetch", state.LastFetch),
		)
		c.m.CyclesTotal.WithLabelValues("throttled").Inc()
		return nil
	}

	if c.fetcher == nil {
		f, err := c.login(ctx)
		if err != nil {
			c.m.LoginsTotal.WithLabelValues("failure").Inc()
			c.m.CyclesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("login failed: %w", err)
		}
		c.m.LoginsTotal.WithLabelValues("success").Inc()
		c.fetcher = f
	}

	lookback := c.settings.OngoingLookbackDays
	if !state.FirstRunDone {
		lookback = c.settings.LookbackDays
	}

	points := c.fetchRange(ctx, now, lookback)
	if len(points) == 0 {
		// an expired session degrades every day to empty, so force a fresh
		// login next cycle
		log.Ctx(ctx).WarnContext(ctx, "collection cycle fetched no data", slog.Int("lookbackDays", lookback))
		c.fetcher = nil
	}

	// deterministic order regardless of which day finished first
	sort.Slice(points, func(i, j int) bool {
		return points[i].IntervalEnd.Before(points[j].IntervalEnd)
	})

	for _, key := range c.series {
		if err := c.aggregateSeries(ctx, key, points); err != nil {
			c.m.CyclesTotal.WithLabelValues("error").Inc()
			return err
		}
	}

	state.LastFetch = now
	state.FirstRunDone = state.FirstRunDone || len(points) > 0
	if err := c.db.SetFetchState(ctx, state); err != nil {
		c.m.CyclesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to persist fetch state: %w", err)
	}

	c.checkStaleness(ctx, now)
	c.m.CyclesTotal.WithLabelValues("ok").Inc()
	return nil
}

// fetchRange fetches every day in [yesterday-lookback, yesterday] over a
// bounded pool. A failed day contributes nothing and never fails the batch.
func (c *Collector) fetchRange(ctx context.Context, now time.Time, lookback int) []types.Datapoint {
	yesterday := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)

	var (
		mu  sync.Mutex
		all []types.Datapoint
		wg  sync.WaitGroup
	)
	sem := make(chan struct{}, c.settings.ParallelDays)

	for d := 0; d <= lookback; d++ {
		date := yesterday.AddDate(0, 0, d-lookback)
		wg.Add(1)
		sem <- struct{}{}
		go func(date time.Time) {
			defer wg.Done()
			defer func() { <-sem }()

			points := c.fetcher.HourlyUsage(ctx, date, types.TariffNone)
			status := "ok"
			if len(points) == 0 {
				status = "empty"
			}
			c.m.DayFetchesTotal.WithLabelValues(status).Inc()

			mu.Lock()
			all = append(all, points...)
			mu.Unlock()
		}(date)
	}
	wg.Wait()

	return all
}

// aggregateSeries projects one series out of the fetched datapoints, folds
// it on top of the persisted running sum, and stores the new windows.
// Windows already folded into the sum are skipped so re-fetched days aren't
// double-counted.
func (c *Collector) aggregateSeries(ctx context.Context, key types.SeriesKey, points []types.Datapoint) error {
	ctx = log.WithAttrs(ctx, slog.String("series", key.ID()))

	prev, err := c.db.GetSeriesSum(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load series sum for %s: %w", key.ID(), err)
	}

	states := Project(points, key.Metric, key.Tariff)
	if prev != nil {
		fresh := states[:0]
		for _, s := range states {
			if windowStart(s.TS).After(prev.LastWindowStart) {
				fresh = append(fresh, s)
			}
		}
		states = fresh
	}

	var prior *float64
	if prev != nil {
		prior = &prev.RunningSum
	}
	records := Aggregate(states, prior)
	if len(records) == 0 {
		return nil
	}

	if err := c.db.UpsertStatistics(ctx, key, records); err != nil {
		return fmt.Errorf("failed to store statistics for %s: %w", key.ID(), err)
	}
	last := records[len(records)-1]
	if err := c.db.SetSeriesSum(ctx, key, types.SeriesSum{
		RunningSum:      last.RunningSum,
		LastWindowStart: last.WindowStart,
	}); err != nil {
		return fmt.Errorf("failed to store series sum for %s: %w", key.ID(), err)
	}

	c.m.SamplesStored.WithLabelValues(key.ID()).Set(float64(len(records)))
	log.Ctx(ctx).DebugContext(ctx, "stored statistics", slog.Int("windows", len(records)))
	return nil
}

func (c *Collector) checkStaleness(ctx context.Context, now time.Time) {
	latest, err := c.db.GetLatestSampleTime(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to check sample staleness", slog.Any("error", err))
		return
	}
	if latest.IsZero() {
		return
	}
	age := now.Sub(latest)
	c.m.LatestSampleAge.Set(age.Seconds())
	if age > c.settings.StalenessThreshold {
		log.Ctx(ctx).WarnContext(ctx, "stored data is stale",
			slog.Time("latestSample", latest),
			slog.Duration("age", age),
		)
	}
}
