package storage

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a scheduled notification
	// status update would move backward in the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Storage is the repository consumed by the dispatch pipeline. All
// mutations are single-record upserts scoped by primary key; no
// multi-record transactions are required.
type Storage interface {
	// Scheduled notifications.
	CreateScheduled(ctx context.Context, n *models.ScheduledNotification) error
	GetScheduled(ctx context.Context, id string) (*models.ScheduledNotification, error)
	// FindDueScheduled returns at most limit pending rows with
	// sendAt <= now, oldest first.
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error)
	// UpdateScheduledStatus enforces the forward-only lifecycle
	// pending -> queued -> sent|failed and rejects backward moves
	// with ErrInvalidTransition.
	UpdateScheduledStatus(ctx context.Context, id string, status models.ScheduledStatus) error

	// Notification logs. InsertLog appends; log rows are never updated.
	InsertLog(ctx context.Context, entry *models.NotificationLog) error
	ListLogs(ctx context.Context, limit int) ([]*models.NotificationLog, error)

	// Templates.
	CreateTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
	UpdateTemplate(ctx context.Context, id string, updateFn func(*models.Template)) error

	// Broker job bookkeeping, consumed by status queries and cleanup.
	SaveJobState(ctx context.Context, s *models.JobState) error
	GetJobState(ctx context.Context, id string) (*models.JobState, error)
	JobStatesByBatch(ctx context.Context, batchID string) ([]*models.JobState, error)
	// CleanJobStates removes at most limit records in the given
	// status older than the retention window. Returns the number
	// removed.
	CleanJobStates(ctx context.Context, olderThan time.Duration, limit int, status models.JobStatus) (int, error)

	// Analytics counters. Date is formatted as 2006-01-02.
	UpsertAnalytics(ctx context.Context, date string, channel models.Channel, field models.AnalyticsField) error
	AnalyticsRange(ctx context.Context, from, to string) ([]*models.AnalyticsRecord, error)
	IncrRealtimeCounter(ctx context.Context, channel models.Channel, field models.AnalyticsField, date string) error
	RealtimeCounters(ctx context.Context, date string) (map[models.Channel]*models.AnalyticsRecord, error)
}
