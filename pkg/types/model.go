package types

import (
	"fmt"
	"time"
)

// Tariff identifies one billing-rate bucket in the portal's hourly usage
// payload. The names match the JSON keys used by the portal.
type Tariff string

const (
	TariffNone     Tariff = ""
	TariffFlatRate Tariff = "flatRate"
	TariffOffPeak  Tariff = "offPeak" // night rate
	TariffMidPeak  Tariff = "midPeak" // day rate
	TariffOnPeak   Tariff = "onPeak"  // peak rate
)

// Tariffs lists every bucket the portal is known to return.
var Tariffs = []Tariff{TariffFlatRate, TariffOffPeak, TariffMidPeak, TariffOnPeak}

// Valid reports whether t names a known tariff bucket. TariffNone is valid
// as "no filter".
func (t Tariff) Valid() bool {
	switch t {
	case TariffNone, TariffFlatRate, TariffOffPeak, TariffMidPeak, TariffOnPeak:
		return true
	}
	return false
}

// Metric selects which datapoint value a series tracks.
type Metric string

const (
	MetricConsumption Metric = "consumption"
	MetricCost        Metric = "cost"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m == MetricConsumption || m == MetricCost
}

// Credentials is the immutable login triple for the portal. AccountNumber
// selects which account on the dashboard we scrape; a login can have
// several (gas, electricity, multiple premises).
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"-"`
	AccountNumber string `json:"accountNumber"`
}

// MeterIdentity is the opaque identifier triple the portal embeds on the
// insights page. All three are required to address the hourly-usage
// endpoint.
type MeterIdentity struct {
	Partner  string `json:"partner"`
	Contract string `json:"contract"`
	Premise  string `json:"premise"`
}

// Valid reports whether all three identifiers are present.
func (m MeterIdentity) Valid() bool {
	return m.Partner != "" && m.Contract != "" && m.Premise != ""
}

// Datapoint is one hour of usage in one tariff bucket. Consumption and Cost
// are pointers because the portal omits either independently; a datapoint
// with both nil/zero is never retained.
type Datapoint struct {
	Consumption *float64  `json:"consumption"`
	Cost        *float64  `json:"cost"`
	IntervalEnd time.Time `json:"intervalEnd"`
	Tariff      Tariff    `json:"tariff"`
}

// Value returns the datapoint's value for the given metric, or false if the
// portal omitted that metric for this hour.
func (d Datapoint) Value(m Metric) (float64, bool) {
	switch m {
	case MetricConsumption:
		if d.Consumption != nil {
			return *d.Consumption, true
		}
	case MetricCost:
		if d.Cost != nil {
			return *d.Cost, true
		}
	}
	return 0, false
}

// HistoricalState is a finalized, tariff-resolved, metric-selected sample.
type HistoricalState struct {
	State float64   `json:"state"`
	TS    time.Time `json:"ts"`
}

// StatisticRecord is one hour-aligned window of aggregated samples.
// RunningSum carries the cumulative total across invocations; see
// collector.Aggregate for the fold semantics.
type StatisticRecord struct {
	WindowStart time.Time `json:"windowStart"`
	PeriodSum   float64   `json:"periodSum"`
	Mean        float64   `json:"mean"`
	RunningSum  float64   `json:"runningSum"`
}

// SeriesKey identifies a logical statistics series: one metric, optionally
// restricted to a single tariff bucket. TariffNone means the reconciled
// total across tariffs.
type SeriesKey struct {
	Metric Metric `json:"metric"`
	Tariff Tariff `json:"tariff"`
}

// ID returns the stable identifier used to key stored state for the series.
func (k SeriesKey) ID() string {
	if k.Tariff == TariffNone {
		return string(k.Metric)
	}
	return fmt.Sprintf("%s_%s", k.Metric, k.Tariff)
}

// FetchState tracks when the last successful collection cycle ran.
// FirstRunDone distinguishes a fresh database (deep lookback, no throttle)
// from ongoing operation.
type FetchState struct {
	LastFetch    time.Time `json:"lastFetch"`
	FirstRunDone bool      `json:"firstRunDone"`
}

// SeriesSum is the persisted fold state for one series: the running sum to
// seed the next aggregation with, and the newest window already folded in so
// re-fetched hours aren't double-counted.
type SeriesSum struct {
	RunningSum      float64   `json:"runningSum"`
	LastWindowStart time.Time `json:"lastWindowStart"`
}

// Settings holds the fetch-cycle tuning knobs. Zero values are replaced by
// the defaults below.
type Settings struct {
	// LookbackDays is the window fetched on the first ever run.
	LookbackDays int `json:"lookbackDays"`
	// OngoingLookbackDays is the window on subsequent runs; the portal
	// publishes data 1-3 days late so a short window suffices.
	OngoingLookbackDays int `json:"ongoingLookbackDays"`
	// ParallelDays caps how many per-day fetches are in flight at once.
	ParallelDays int `json:"parallelDays"`
	// MinFetchInterval suppresses refreshes that come too soon after the
	// previous successful one. Never applied to the first run.
	MinFetchInterval time.Duration `json:"minFetchInterval"`
	// StalenessThreshold is how old the newest sample may get before we warn.
	StalenessThreshold time.Duration `json:"stalenessThreshold"`
}

// DefaultSettings returns the stock tuning used when flags don't override it.
func DefaultSettings() Settings {
	return Settings{
		LookbackDays:        30,
		OngoingLookbackDays: 3,
		ParallelDays:        5,
		MinFetchInterval:    6 * time.Hour,
		StalenessThreshold:  48 * time.Hour,
	}
}

// WithDefaults fills any zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.LookbackDays <= 0 {
		s.LookbackDays = def.LookbackDays
	}
	if s.OngoingLookbackDays <= 0 {
		s.OngoingLookbackDays = def.OngoingLookbackDays
	}
	if s.ParallelDays <= 0 {
		s.ParallelDays = def.ParallelDays
	}
	if s.MinFetchInterval <= 0 {
		s.MinFetchInterval = def.MinFetchInterval
	}
	if s.StalenessThreshold <= 0 {
		s.StalenessThreshold = def.StalenessThreshold
	}
	return s
}
