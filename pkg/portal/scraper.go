package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/eirsights/eirsights/pkg/log"
	"github.com/eirsights/eirsights/pkg/tariff"
	"github.com/eirsights/eirsights/pkg/types"
)

// Scraper fetches hourly usage for a single meter over an authenticated
// session. Obtained from Portal.Login; once any request starts failing
// authentication the caller should discard it and log in again.
type Scraper struct {
	client  *http.Client
	baseURL string
	meter   types.MeterIdentity
}

// Meter returns the identity extracted during login.
func (s *Scraper) Meter() types.MeterIdentity {
	return s.meter
}

type usageBucket struct {
	Consumption *float64 `json:"consumption"`
	Cost        *float64 `json:"cost"`
}

type usageRecord struct {
	EndDate  string       `json:"endDate"`
	FlatRate *usageBucket `json:"flatRate"`
	OffPeak  *usageBucket `json:"offPeak"`
	MidPeak  *usageBucket `json:"midPeak"`
	OnPeak   *usageBucket `json:"onPeak"`
}

type usageResponse struct {
	IsSuccess bool          `json:"isSuccess"`
	Message   string        `json:"message"`
	Data      []usageRecord `json:"data"`
}

func (r *usageRecord) buckets() map[types.Tariff]tariff.Bucket {
	m := make(map[types.Tariff]tariff.Bucket, 4)
	for t, b := range map[types.Tariff]*usageBucket{
		types.TariffFlatRate: r.FlatRate,
		types.TariffOffPeak:  r.OffPeak,
		types.TariffMidPeak:  r.MidPeak,
		types.TariffOnPeak:   r.OnPeak,
	} {
		if b == nil {
			continue
		}
		m[t] = tariff.Bucket{Consumption: b.Consumption, Cost: b.Cost}
	}
	return m
}

// HourlyUsage fetches the hourly usage samples for a single calendar day.
// Each returned datapoint carries the interval's end timestamp and the
// tariff band it was attributed to; intervals with no data are omitted.
// On any failure it logs and returns an empty slice so a bad day never sinks
// a whole collection run.
func (s *Scraper) HourlyUsage(ctx context.Context, date time.Time, filter types.Tariff) []types.Datapoint {
	day := date.Format("2006-01-02")
	l := log.Ctx(ctx).With(slog.String("date", day))

	records, err := s.fetchDay(ctx, day)
	if err != nil {
		l.WarnContext(ctx, "failed to fetch hourly usage", slog.Any("error", err))
		return []types.Datapoint{}
	}

	points := make([]types.Datapoint, 0, len(records))
	for i := range records {
		rec := &records[i]

		end, err := time.Parse(time.RFC3339, rec.EndDate)
		if err != nil {
			l.WarnContext(ctx, "skipping sample with unparseable endDate",
				slog.String("endDate", rec.EndDate),
				slog.Any("error", err),
			)
			continue
		}

		chosen, bucket, ok := tariff.Resolve(rec.buckets(), filter, end.Hour())
		if !ok {
			continue
		}

		points = append(points, types.Datapoint{
			Consumption: bucket.Consumption,
			Cost:        bucket.Cost,
			IntervalEnd: end,
			Tariff:      chosen,
		})
	}

	l.DebugContext(ctx, "fetched hourly usage", slog.Int("samples", len(points)))
	return points
}

func (s *Scraper) fetchDay(ctx context.Context, day string) ([]usageRecord, error) {
	u := fmt.Sprintf("%s/MeterInsight/%s/%s/%s/hourly-usage?date=%s",
		s.baseURL, s.meter.Partner, s.meter.Contract, s.meter.Premise, day)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: usage status %d", ErrRequest, resp.StatusCode)
	}

	// an expired session redirects back to an HTML login page with a 200
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct != "application/json" {
		return nil, fmt.Errorf("%w: unexpected content type %q, session may have expired", ErrRequest, ct)
	}

	var body usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding usage response: %v", ErrRequest, err)
	}
	if !body.IsSuccess {
		return nil, fmt.Errorf("%w: portal reported failure: %s", ErrRequest, body.Message)
	}

	return body.Data, nil
}
