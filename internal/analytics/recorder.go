package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"notifyd/internal/models"
	"notifyd/internal/storage"
)

const dateLayout = "2006-01-02"

// Recorder maintains the per-day per-channel counters in the store
// and mirrors each increment into a short-lived real-time counter.
type Recorder struct {
	store storage.Storage
	log   zerolog.Logger
}

func NewRecorder(store storage.Storage, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log.With().Str("component", "analytics").Logger(),
	}
}

// Record increments the counter for one event. The event type set is
// fixed; anything else is rejected.
func (r *Recorder) Record(ctx context.Context, field models.AnalyticsField, channel models.Channel) error {
	switch field {
	case models.FieldSent, models.FieldDelivered, models.FieldFailed, models.FieldOpened:
	default:
		return fmt.Errorf("unknown analytics event type: %s", field)
	}

	date := time.Now().Format(dateLayout)
	if err := r.store.UpsertAnalytics(ctx, date, channel, field); err != nil {
		return fmt.Errorf("upsert analytics: %w", err)
	}

	if err := r.store.IncrRealtimeCounter(ctx, channel, field, date); err != nil {
		// The mirror serves reads only; the durable counter above is
		// already updated.
		r.log.Error().Err(err).
			Str("channel", string(channel)).
			Str("field", string(field)).
			Msg("failed to update realtime counter")
	}
	return nil
}

// Summary aggregates totals and rates over a dashboard window.
type Summary struct {
	TotalSent      int64   `json:"totalSent"`
	TotalDelivered int64   `json:"totalDelivered"`
	TotalFailed    int64   `json:"totalFailed"`
	TotalOpened    int64   `json:"totalOpened"`
	DeliveryRate   float64 `json:"deliveryRate"`
	OpenRate       float64 `json:"openRate"`
	FailureRate    float64 `json:"failureRate"`
}

// Dashboard is the aggregated read model for the dashboard window.
type Dashboard struct {
	Summary      Summary                                    `json:"summary"`
	ChannelStats map[models.Channel]*models.AnalyticsRecord `json:"channelStats"`
	DailyTrends  []*models.AnalyticsRecord                  `json:"dailyTrends"`
}

// DashboardMetrics aggregates counters over the last days.
func (r *Recorder) DashboardMetrics(ctx context.Context, days int) (*Dashboard, error) {
	if days <= 0 {
		days = 30
	}
	now := time.Now()
	from := now.AddDate(0, 0, -days).Format(dateLayout)
	to := now.Format(dateLayout)

	records, err := r.store.AnalyticsRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics range: %w", err)
	}

	dash := &Dashboard{
		ChannelStats: make(map[models.Channel]*models.AnalyticsRecord),
		DailyTrends:  records,
	}
	for _, rec := range records {
		dash.Summary.TotalSent += rec.Sent
		dash.Summary.TotalDelivered += rec.Delivered
		dash.Summary.TotalFailed += rec.Failed
		dash.Summary.TotalOpened += rec.Opened

		stats, ok := dash.ChannelStats[rec.Channel]
		if !ok {
			stats = &models.AnalyticsRecord{Channel: rec.Channel}
			dash.ChannelStats[rec.Channel] = stats
		}
		stats.Sent += rec.Sent
		stats.Delivered += rec.Delivered
		stats.Failed += rec.Failed
		stats.Opened += rec.Opened
	}

	dash.Summary.DeliveryRate = rate(dash.Summary.TotalDelivered, dash.Summary.TotalSent)
	dash.Summary.OpenRate = rate(dash.Summary.TotalOpened, dash.Summary.TotalDelivered)
	dash.Summary.FailureRate = rate(dash.Summary.TotalFailed, dash.Summary.TotalSent)
	return dash, nil
}

// RealTimeMetrics reads today's counters from the fast mirror.
func (r *Recorder) RealTimeMetrics(ctx context.Context) (map[models.Channel]*models.AnalyticsRecord, error) {
	return r.store.RealtimeCounters(ctx, time.Now().Format(dateLayout))
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
