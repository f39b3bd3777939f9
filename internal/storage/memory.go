package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notifyd/internal/models"
)

// MemoryStorage is an in-memory Storage used by tests.
type MemoryStorage struct {
	mu        sync.RWMutex
	scheduled map[string]*models.ScheduledNotification
	logs      []*models.NotificationLog
	templates map[string]*models.Template
	jobStates map[string]*models.JobState
	analytics map[string]*models.AnalyticsRecord // key: date|channel
	realtime  map[string]int64                   // key: channel|field|date
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		scheduled: make(map[string]*models.ScheduledNotification),
		templates: make(map[string]*models.Template),
		jobStates: make(map[string]*models.JobState),
		analytics: make(map[string]*models.AnalyticsRecord),
		realtime:  make(map[string]int64),
	}
}

func (s *MemoryStorage) CreateScheduled(ctx context.Context, n *models.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.scheduled[n.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetScheduled(ctx context.Context, id string) (*models.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStorage) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.ScheduledNotification
	for _, n := range s.scheduled {
		if n.Status == models.ScheduledPending && !n.SendAt.After(now) {
			cp := *n
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStorage) UpdateScheduledStatus(ctx context.Context, id string, status models.ScheduledStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.scheduled[id]
	if !ok {
		return ErrNotFound
	}
	if status.Rank() <= n.Status.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, status)
	}
	n.Status = status
	n.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) InsertLog(ctx context.Context, entry *models.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.logs = append([]*models.NotificationLog{&cp}, s.logs...)
	return nil
}

func (s *MemoryStorage) ListLogs(ctx context.Context, limit int) ([]*models.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.logs)
	if n > limit {
		n = limit
	}
	out := make([]*models.NotificationLog, n)
	for i := 0; i < n; i++ {
		cp := *s.logs[i]
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStorage) CreateTemplate(ctx context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStorage) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Template, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStorage) UpdateTemplate(ctx context.Context, id string, updateFn func(*models.Template)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return ErrNotFound
	}
	updateFn(t)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) SaveJobState(ctx context.Context, state *models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cp := *state
	if prev, ok := s.jobStates[state.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.jobStates[state.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetJobState(ctx context.Context, id string) (*models.JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.jobStates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (s *MemoryStorage) JobStatesByBatch(ctx context.Context, batchID string) ([]*models.JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.JobState
	for _, state := range s.jobStates {
		if state.BatchID == batchID {
			cp := *state
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStorage) CleanJobStates(ctx context.Context, olderThan time.Duration, limit int, status models.JobStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, state := range s.jobStates {
		if removed >= limit {
			break
		}
		if state.Status == status && state.UpdatedAt.Before(cutoff) {
			delete(s.jobStates, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) UpsertAnalytics(ctx context.Context, date string, channel models.Channel, field models.AnalyticsField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := date + "|" + string(channel)
	record, ok := s.analytics[key]
	if !ok {
		record = &models.AnalyticsRecord{Date: date, Channel: channel}
		s.analytics[key] = record
	}
	switch field {
	case models.FieldSent:
		record.Sent++
	case models.FieldDelivered:
		record.Delivered++
	case models.FieldFailed:
		record.Failed++
	case models.FieldOpened:
		record.Opened++
	}
	return nil
}

func (s *MemoryStorage) AnalyticsRange(ctx context.Context, from, to string) ([]*models.AnalyticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AnalyticsRecord
	for _, record := range s.analytics {
		if record.Date >= from && record.Date <= to {
			cp := *record
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStorage) IncrRealtimeCounter(ctx context.Context, channel models.Channel, field models.AnalyticsField, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realtime[string(channel)+"|"+string(field)+"|"+date]++
	return nil
}

func (s *MemoryStorage) RealtimeCounters(ctx context.Context, date string) (map[models.Channel]*models.AnalyticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make(map[models.Channel]*models.AnalyticsRecord, 4)
	for _, channel := range models.Channels() {
		counters[channel] = &models.AnalyticsRecord{
			Date:      date,
			Channel:   channel,
			Sent:      s.realtime[string(channel)+"|sent|"+date],
			Delivered: s.realtime[string(channel)+"|delivered|"+date],
			Failed:    s.realtime[string(channel)+"|failed|"+date],
			Opened:    s.realtime[string(channel)+"|opened|"+date],
		}
	}
	return counters, nil
}
