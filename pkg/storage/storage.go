package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/eirsights/eirsights/pkg/types"
)

// Database defines the interface for persisting fetch state and aggregated
// statistics.
type Database interface {
	// Fetch cycle state
	GetFetchState(ctx context.Context) (types.FetchState, error)
	SetFetchState(ctx context.Context, state types.FetchState) error

	// Aggregation fold state, per series. GetSeriesSum returns nil when the
	// series has never been aggregated.
	GetSeriesSum(ctx context.Context, key types.SeriesKey) (*types.SeriesSum, error)
	SetSeriesSum(ctx context.Context, key types.SeriesKey, sum types.SeriesSum) error

	// Statistics
	// UpsertStatistics adds or replaces hour-aligned windows for a series.
	UpsertStatistics(ctx context.Context, key types.SeriesKey, records []types.StatisticRecord) error
	GetStatistics(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.StatisticRecord, error)
	// GetLatestSampleTime returns the newest window start across all series,
	// or the zero time if nothing is stored.
	GetLatestSampleTime(ctx context.Context) (time.Time, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite)")

	var p struct{ Database }

	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = sq
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
