package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
)

const (
	// tickBatchLimit caps how many due rows one tick claims, bounding
	// tick duration.
	tickBatchLimit = 100

	completedRetention = 24 * time.Hour
	failedRetention    = 7 * 24 * time.Hour
	completedKeep      = 100
	failedKeep         = 50
)

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job, opts queue.Options) (string, error)
	Clean(ctx context.Context, olderThan time.Duration, limit int, status models.JobStatus) (int, error)
}

// Scheduler polls the store for due scheduled notifications on a
// minute tick and hands them to the queue. A second hourly tick prunes
// broker bookkeeping. Ticks never overlap: the cron chain skips a tick
// while the previous one is still running.
type Scheduler struct {
	store storage.Storage
	queue Enqueuer
	cron  *cron.Cron
	log   zerolog.Logger
}

func NewScheduler(store storage.Storage, q Enqueuer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		queue: q,
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log: log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("* * * * *", func() { s.tick(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * *", func() { s.cleanup(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
	return nil
}

// Stop halts the cron and waits for any running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// tick claims due pending rows and enqueues them. The enqueue happens
// before the status update on purpose: a crash between the two causes
// at most a duplicate enqueue on the next tick, never a lost send.
// Reversing the order could mark a row queued with no job behind it.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.FindDueScheduled(ctx, now, tickBatchLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to query due notifications")
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Info().Int("count", len(due)).Msg("processing due scheduled notifications")

	for _, n := range due {
		job := &models.Job{
			ID:          scheduledMetaString(n, "jobId"),
			To:          n.To,
			Channel:     n.Channel,
			Message:     n.Message,
			Subject:     n.Subject,
			TemplateID:  n.TemplateID,
			UserID:      n.UserID,
			Variables:   scheduledVariables(n),
			BatchID:     scheduledMetaString(n, "batchId"),
			ScheduledID: n.ID,
		}

		if _, err := s.queue.Enqueue(ctx, job, queue.DefaultOptions()); err != nil {
			s.log.Error().Err(err).Str("scheduled_id", n.ID).Msg("failed to enqueue scheduled notification")
			continue
		}

		if err := s.store.UpdateScheduledStatus(ctx, n.ID, models.ScheduledQueued); err != nil {
			s.log.Error().Err(err).Str("scheduled_id", n.ID).Msg("failed to mark scheduled notification queued")
		}
	}
}

// cleanup prunes completed and failed broker bookkeeping past the
// retention windows. Housekeeping only, never correctness-critical.
func (s *Scheduler) cleanup(ctx context.Context) {
	if n, err := s.queue.Clean(ctx, completedRetention, completedKeep, models.JobCompleted); err != nil {
		s.log.Error().Err(err).Msg("failed to clean completed jobs")
	} else if n > 0 {
		s.log.Info().Int("removed", n).Msg("cleaned completed jobs")
	}

	if n, err := s.queue.Clean(ctx, failedRetention, failedKeep, models.JobFailed); err != nil {
		s.log.Error().Err(err).Msg("failed to clean failed jobs")
	} else if n > 0 {
		s.log.Info().Int("removed", n).Msg("cleaned failed jobs")
	}
}

func scheduledVariables(n *models.ScheduledNotification) map[string]any {
	if n.Metadata == nil {
		return nil
	}
	if vars, ok := n.Metadata["variables"].(map[string]any); ok {
		return vars
	}
	return nil
}

// scheduledMetaString reads an optional string from row metadata.
// Batch rows carry pre-assigned job and batch ids there so the job
// keeps the identity its state was recorded under.
func scheduledMetaString(n *models.ScheduledNotification, key string) string {
	if n.Metadata == nil {
		return ""
	}
	if s, ok := n.Metadata[key].(string); ok {
		return s
	}
	return ""
}
