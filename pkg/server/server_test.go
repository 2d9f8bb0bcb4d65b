package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eirsights/eirsights/pkg/collector"
	"github.com/eirsights/eirsights/pkg/portal"
	"github.com/eirsights/eirsights/pkg/storage"
	"github.com/eirsights/eirsights/pkg/types"
)

func testServer(t *testing.T) (*httptest.Server, storage.Database) {
	t.Helper()

	db, err := storage.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := &Server{
		db:         db,
		collector:  collector.New(portal.New(types.Credentials{}), db),
		listenAddr: ":8321",
	}

	ts := httptest.NewServer(srv.setupHandler())
	t.Cleanup(ts.Close)
	return ts, db
}

type seriesResponse struct {
	Series  string                  `json:"series"`
	Records []types.StatisticRecord `json:"records"`
}

func TestSeries(t *testing.T) {
	ctx := context.Background()
	ts, db := testServer(t)

	base := time.Now().UTC().Truncate(time.Hour).Add(-3 * time.Hour)
	key := types.SeriesKey{Metric: types.MetricConsumption}
	require.NoError(t, db.UpsertStatistics(ctx, key, []types.StatisticRecord{
		{WindowStart: base, PeriodSum: 1, Mean: 1, RunningSum: 1},
		{WindowStart: base.Add(time.Hour), PeriodSum: 2, Mean: 2, RunningSum: 3},
	}))
	offPeak := types.SeriesKey{Metric: types.MetricConsumption, Tariff: types.TariffOffPeak}
	require.NoError(t, db.UpsertStatistics(ctx, offPeak, []types.StatisticRecord{
		{WindowStart: base, PeriodSum: 0.5, Mean: 0.5, RunningSum: 0.5},
	}))

	t.Run("Total", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/consumption")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body seriesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "consumption", body.Series)
		require.Len(t, body.Records, 2)
		assert.Equal(t, 3.0, body.Records[1].RunningSum)
	})

	t.Run("TariffFiltered", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/consumption?tariff=offPeak")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body seriesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "consumption_offPeak", body.Series)
		require.Len(t, body.Records, 1)
	})

	t.Run("RangeBounds", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/consumption?start=" + base.Add(time.Hour).Format(time.RFC3339))
		require.NoError(t, err)
		defer resp.Body.Close()

		var body seriesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Records, 1)
		assert.Equal(t, base.Add(time.Hour), body.Records[0].WindowStart)
	})

	t.Run("EmptySeries", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/cost")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body seriesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotNil(t, body.Records)
		assert.Empty(t, body.Records)
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/voltage")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("BadTariff", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/consumption?tariff=superPeak")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("BadStart", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/series/consumption?start=notatime")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyDatabase", func(t *testing.T) {
		ts, _ := testServer(t)
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("FreshData", func(t *testing.T) {
		ts, db := testServer(t)
		require.NoError(t, db.UpsertStatistics(ctx, types.SeriesKey{Metric: types.MetricCost}, []types.StatisticRecord{
			{WindowStart: time.Now().UTC().Truncate(time.Hour)},
		}))
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("StaleData", func(t *testing.T) {
		ts, db := testServer(t)
		require.NoError(t, db.UpsertStatistics(ctx, types.SeriesKey{Metric: types.MetricCost}, []types.StatisticRecord{
			{WindowStart: time.Now().UTC().Add(-72 * time.Hour)},
		}))
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
