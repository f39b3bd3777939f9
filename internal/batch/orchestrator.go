package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
)

// StaggerStep is the per-recipient delay increment that smooths a
// batch into a ramp instead of a burst against the providers.
const StaggerStep = 100 * time.Millisecond

// Queue is the broker surface the orchestrator needs.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job, opts queue.Options) (string, error)
	BatchStates(ctx context.Context, batchID string) ([]*models.JobState, error)
}

// Result reports what a batch request produced.
type Result struct {
	BatchID         string `json:"batchId"`
	TotalRecipients int    `json:"totalRecipients"`
	Status          string `json:"status"`
}

// Status is the broker-side classification of a batch's jobs. It is a
// read-only best-effort view of current queue state.
type Status struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Orchestrator expands one multi-recipient request into individual
// jobs correlated by a shared batch id. Ramps that fit inside the
// delayed queue's horizon go straight to the broker; anything further
// out becomes scheduled rows that the scheduler claims when due.
type Orchestrator struct {
	queue Queue
	store storage.Storage
	log   zerolog.Logger
}

func NewOrchestrator(q Queue, store storage.Storage, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		queue: q,
		store: store,
		log:   log.With().Str("component", "batch").Logger(),
	}
}

// CreateBatch fans the request out, one job per recipient. Recipient
// i gets delay max(0, sendAt-now) + i*StaggerStep, so delays are
// non-decreasing in submission order. When the last recipient's delay
// would overshoot the broker's delay ceiling the whole batch is
// persisted as scheduled rows instead; the ramp is preserved in each
// row's sendAt. Jobs already enqueued when an error occurs stay
// enqueued; the error is returned to the producer.
func (o *Orchestrator) CreateBatch(ctx context.Context, req models.BatchRequest) (*Result, error) {
	batchID := "batch_" + uuid.NewString()

	var base time.Duration
	if req.SendAt != nil {
		if until := time.Until(*req.SendAt); until > 0 {
			base = until
		}
	}

	if base+time.Duration(len(req.Recipients)-1)*StaggerStep > queue.MaxDelay {
		return o.scheduleBatch(ctx, batchID, req)
	}

	for i, recipient := range req.Recipients {
		job := &models.Job{
			To:         recipient,
			Channel:    req.Channel,
			Message:    req.Message,
			Subject:    req.Subject,
			TemplateID: req.TemplateID,
			Variables:  req.Variables,
			UserID:     req.UserID,
			BatchID:    batchID,
		}

		opts := queue.DefaultOptions()
		opts.Delay = base + time.Duration(i)*StaggerStep

		if _, err := o.queue.Enqueue(ctx, job, opts); err != nil {
			return nil, fmt.Errorf("enqueue recipient %d of batch %s: %w", i, batchID, err)
		}
	}

	o.log.Info().
		Str("batch_id", batchID).
		Int("recipients", len(req.Recipients)).
		Str("channel", string(req.Channel)).
		Msg("batch created")

	return &Result{
		BatchID:         batchID,
		TotalRecipients: len(req.Recipients),
		Status:          "queued",
	}, nil
}

// scheduleBatch persists one scheduled row per recipient, sendAt
// offset by the stagger ramp. Job ids are assigned now and carried in
// row metadata so batch status is queryable before the rows are due
// and the scheduler enqueues under the same ids.
func (o *Orchestrator) scheduleBatch(ctx context.Context, batchID string, req models.BatchRequest) (*Result, error) {
	sendAt := time.Now()
	if req.SendAt != nil && req.SendAt.After(sendAt) {
		sendAt = *req.SendAt
	}

	now := time.Now()
	for i, recipient := range req.Recipients {
		jobID := uuid.NewString()
		row := &models.ScheduledNotification{
			ID:         uuid.NewString(),
			To:         recipient,
			Channel:    req.Channel,
			Message:    req.Message,
			Subject:    req.Subject,
			TemplateID: req.TemplateID,
			UserID:     req.UserID,
			SendAt:     sendAt.Add(time.Duration(i) * StaggerStep),
			Status:     models.ScheduledPending,
			Metadata: map[string]any{
				"variables": req.Variables,
				"batchId":   batchID,
				"jobId":     jobID,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.CreateScheduled(ctx, row); err != nil {
			return nil, fmt.Errorf("schedule recipient %d of batch %s: %w", i, batchID, err)
		}

		state := &models.JobState{ID: jobID, BatchID: batchID, Status: models.JobWaiting}
		if err := o.store.SaveJobState(ctx, state); err != nil {
			o.log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job state")
		}
	}

	o.log.Info().
		Str("batch_id", batchID).
		Int("recipients", len(req.Recipients)).
		Time("send_at", sendAt).
		Msg("batch scheduled")

	return &Result{
		BatchID:         batchID,
		TotalRecipients: len(req.Recipients),
		Status:          "scheduled",
	}, nil
}

// GetBatchStatus classifies the batch's jobs by current broker state.
func (o *Orchestrator) GetBatchStatus(ctx context.Context, batchID string) (*Status, error) {
	states, err := o.queue.BatchStates(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch states: %w", err)
	}

	status := &Status{Total: len(states)}
	for _, state := range states {
		switch state.Status {
		case models.JobWaiting:
			status.Waiting++
		case models.JobProcessing:
			status.Processing++
		case models.JobCompleted:
			status.Completed++
		case models.JobFailed:
			status.Failed++
		}
	}
	return status, nil
}
