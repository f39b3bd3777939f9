package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	wbfredis "github.com/wb-go/wbf/redis"
	wbfretry "github.com/wb-go/wbf/retry"

	"notifyd/internal/models"
)

const (
	scheduledKeyPrefix = "scheduled:"
	scheduledDueKey    = "scheduled:pending"
	logKeyPrefix       = "log:"
	logIndexKey        = "logs"
	templateKeyPrefix  = "template:"
	templateIndexKey   = "templates:all"
	jobStateKeyPrefix  = "jobstate:"
	batchKeyPrefix     = "batch:"

	realtimeCounterTTL = 30 * 24 * time.Hour
	dateLayout         = "2006-01-02"
)

var writeRetry = wbfretry.Strategy{
	Attempts: 3,
	Delay:    100 * time.Millisecond,
	Backoff:  2,
}

// RedisStorage implements Storage on Redis. Records are stored as JSON
// blobs keyed by id, with sorted-set indexes for due scheduled rows and
// per-status job state, the same layout the rest of the pipeline polls.
type RedisStorage struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisStorage(addr, password string, db int, log zerolog.Logger) (*RedisStorage, error) {
	wbfClient := wbfredis.New(addr, password, db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connectRetry := wbfretry.Strategy{
		Attempts: 5,
		Delay:    1 * time.Second,
		Backoff:  2,
	}

	err := wbfretry.DoContext(ctx, connectRetry, func() error {
		return wbfClient.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("connected to Redis")

	return &RedisStorage{
		client: wbfClient.Client,
		log:    log.With().Str("component", "storage").Logger(),
	}, nil
}

func (s *RedisStorage) retry(ctx context.Context, fn func() error) error {
	return wbfretry.DoContext(ctx, writeRetry, fn)
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.retry(ctx, func() error {
		return s.client.Set(ctx, key, data, 0).Err()
	})
}

func (s *RedisStorage) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

// --- scheduled notifications ---

func (s *RedisStorage) CreateScheduled(ctx context.Context, n *models.ScheduledNotification) error {
	if err := s.setJSON(ctx, scheduledKeyPrefix+n.ID, n); err != nil {
		return err
	}
	if n.Status != models.ScheduledPending {
		return nil
	}
	return s.retry(ctx, func() error {
		return s.client.ZAdd(ctx, scheduledDueKey, &redis.Z{
			Score:  float64(n.SendAt.Unix()),
			Member: n.ID,
		}).Err()
	})
}

func (s *RedisStorage) GetScheduled(ctx context.Context, id string) (*models.ScheduledNotification, error) {
	var n models.ScheduledNotification
	if err := s.getJSON(ctx, scheduledKeyPrefix+id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *RedisStorage) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error) {
	ids, err := s.client.ZRangeByScore(ctx, scheduledDueKey, &redis.ZRangeBy{
		Min:    "0",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due scheduled: %w", err)
	}

	due := make([]*models.ScheduledNotification, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetScheduled(ctx, id)
		if err == ErrNotFound {
			// Orphaned index entry; drop it.
			s.client.ZRem(ctx, scheduledDueKey, id)
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to load scheduled notification")
			continue
		}
		if n.Status != models.ScheduledPending {
			s.client.ZRem(ctx, scheduledDueKey, id)
			continue
		}
		due = append(due, n)
	}
	return due, nil
}

func (s *RedisStorage) UpdateScheduledStatus(ctx context.Context, id string, status models.ScheduledStatus) error {
	n, err := s.GetScheduled(ctx, id)
	if err != nil {
		return err
	}
	if status.Rank() <= n.Status.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, status)
	}

	n.Status = status
	n.UpdatedAt = time.Now()
	if err := s.setJSON(ctx, scheduledKeyPrefix+id, n); err != nil {
		return err
	}
	s.client.ZRem(ctx, scheduledDueKey, id)
	return nil
}

// --- notification logs ---

func (s *RedisStorage) InsertLog(ctx context.Context, entry *models.NotificationLog) error {
	if err := s.setJSON(ctx, logKeyPrefix+entry.ID, entry); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		return s.client.LPush(ctx, logIndexKey, entry.ID).Err()
	})
}

func (s *RedisStorage) ListLogs(ctx context.Context, limit int) ([]*models.NotificationLog, error) {
	ids, err := s.client.LRange(ctx, logIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("range logs: %w", err)
	}

	logs := make([]*models.NotificationLog, 0, len(ids))
	for _, id := range ids {
		var entry models.NotificationLog
		if err := s.getJSON(ctx, logKeyPrefix+id, &entry); err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to load notification log")
			continue
		}
		logs = append(logs, &entry)
	}
	return logs, nil
}

// --- templates ---

func (s *RedisStorage) CreateTemplate(ctx context.Context, t *models.Template) error {
	if err := s.setJSON(ctx, templateKeyPrefix+t.ID, t); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		return s.client.SAdd(ctx, templateIndexKey, t.ID).Err()
	})
}

func (s *RedisStorage) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	if err := s.getJSON(ctx, templateKeyPrefix+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStorage) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	ids, err := s.client.SMembers(ctx, templateIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]*models.Template, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTemplate(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to load template")
			continue
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func (s *RedisStorage) UpdateTemplate(ctx context.Context, id string, updateFn func(*models.Template)) error {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	updateFn(t)
	t.UpdatedAt = time.Now()
	return s.setJSON(ctx, templateKeyPrefix+id, t)
}

// --- job state bookkeeping ---

func jobStatusKey(status models.JobStatus) string {
	return "jobstates:" + string(status)
}

func (s *RedisStorage) SaveJobState(ctx context.Context, state *models.JobState) error {
	now := time.Now()
	prev, err := s.GetJobState(ctx, state.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	if prev != nil {
		state.CreatedAt = prev.CreatedAt
		if prev.Status != state.Status {
			s.client.ZRem(ctx, jobStatusKey(prev.Status), state.ID)
		}
	} else if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	if err := s.setJSON(ctx, jobStateKeyPrefix+state.ID, state); err != nil {
		return err
	}
	if err := s.retry(ctx, func() error {
		return s.client.ZAdd(ctx, jobStatusKey(state.Status), &redis.Z{
			Score:  float64(now.Unix()),
			Member: state.ID,
		}).Err()
	}); err != nil {
		return err
	}

	if state.BatchID != "" {
		return s.retry(ctx, func() error {
			return s.client.SAdd(ctx, batchKeyPrefix+state.BatchID, state.ID).Err()
		})
	}
	return nil
}

func (s *RedisStorage) GetJobState(ctx context.Context, id string) (*models.JobState, error) {
	var state models.JobState
	if err := s.getJSON(ctx, jobStateKeyPrefix+id, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStorage) JobStatesByBatch(ctx context.Context, batchID string) ([]*models.JobState, error) {
	ids, err := s.client.SMembers(ctx, batchKeyPrefix+batchID).Result()
	if err != nil {
		return nil, fmt.Errorf("batch members: %w", err)
	}

	states := make([]*models.JobState, 0, len(ids))
	for _, id := range ids {
		state, err := s.GetJobState(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to load job state")
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *RedisStorage) CleanJobStates(ctx context.Context, olderThan time.Duration, limit int, status models.JobStatus) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	key := jobStatusKey(status)

	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "0",
		Max:    strconv.FormatInt(cutoff, 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range job states: %w", err)
	}

	removed := 0
	for _, id := range ids {
		// Read the state first: the batch membership set would leak
		// the id forever once the record itself is gone.
		state, err := s.GetJobState(ctx, id)
		if err != nil && err != ErrNotFound {
			s.log.Error().Err(err).Str("id", id).Msg("failed to load job state")
			continue
		}

		if err := s.client.Del(ctx, jobStateKeyPrefix+id).Err(); err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to delete job state")
			continue
		}
		s.client.ZRem(ctx, key, id)
		if state != nil && state.BatchID != "" {
			s.client.SRem(ctx, batchKeyPrefix+state.BatchID, id)
		}
		removed++
	}
	return removed, nil
}

// --- analytics ---

func analyticsKey(date string, channel models.Channel) string {
	return fmt.Sprintf("analytics:%s:%s", date, channel)
}

func realtimeKey(channel models.Channel, field models.AnalyticsField, date string) string {
	return fmt.Sprintf("analytics:%s:%s:%s", channel, field, date)
}

func (s *RedisStorage) UpsertAnalytics(ctx context.Context, date string, channel models.Channel, field models.AnalyticsField) error {
	// HINCRBY creates the hash when absent, so the duplicate-create
	// race two concurrent workers could hit on a row store cannot
	// happen here.
	return s.retry(ctx, func() error {
		return s.client.HIncrBy(ctx, analyticsKey(date, channel), string(field), 1).Err()
	})
}

func (s *RedisStorage) AnalyticsRange(ctx context.Context, from, to string) ([]*models.AnalyticsRecord, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("parse from date: %w", err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("parse to date: %w", err)
	}

	var records []*models.AnalyticsRecord
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		for _, channel := range models.Channels() {
			fields, err := s.client.HGetAll(ctx, analyticsKey(date, channel)).Result()
			if err != nil {
				return nil, fmt.Errorf("read analytics %s/%s: %w", date, channel, err)
			}
			if len(fields) == 0 {
				continue
			}
			records = append(records, &models.AnalyticsRecord{
				Date:      date,
				Channel:   channel,
				Sent:      parseCounter(fields[string(models.FieldSent)]),
				Delivered: parseCounter(fields[string(models.FieldDelivered)]),
				Failed:    parseCounter(fields[string(models.FieldFailed)]),
				Opened:    parseCounter(fields[string(models.FieldOpened)]),
			})
		}
	}
	return records, nil
}

func (s *RedisStorage) IncrRealtimeCounter(ctx context.Context, channel models.Channel, field models.AnalyticsField, date string) error {
	key := realtimeKey(channel, field, date)
	if err := s.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("incr realtime counter: %w", err)
	}
	return s.client.Expire(ctx, key, realtimeCounterTTL).Err()
}

func (s *RedisStorage) RealtimeCounters(ctx context.Context, date string) (map[models.Channel]*models.AnalyticsRecord, error) {
	counters := make(map[models.Channel]*models.AnalyticsRecord, 4)
	for _, channel := range models.Channels() {
		record := &models.AnalyticsRecord{Date: date, Channel: channel}
		for _, field := range []models.AnalyticsField{
			models.FieldSent, models.FieldDelivered, models.FieldFailed, models.FieldOpened,
		} {
			val, err := s.client.Get(ctx, realtimeKey(channel, field, date)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read realtime counter: %w", err)
			}
			switch field {
			case models.FieldSent:
				record.Sent = parseCounter(val)
			case models.FieldDelivered:
				record.Delivered = parseCounter(val)
			case models.FieldFailed:
				record.Failed = parseCounter(val)
			case models.FieldOpened:
				record.Opened = parseCounter(val)
			}
		}
		counters[channel] = record
	}
	return counters, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
