package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/rabbitmq"

	"notifyd/internal/analytics"
	"notifyd/internal/channel"
	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
	"notifyd/internal/template"
	"notifyd/internal/webhook"
)

// DefaultConcurrency is the worker pool size when none is configured.
const DefaultConcurrency = 10

// Broker is the queue surface the processor needs.
type Broker interface {
	EnqueueRetry(ctx context.Context, job *models.Job, delay time.Duration) error
	StartConsumer(ctx context.Context, handler rabbitmq.MessageHandler, workers int) error
}

// Processor pulls jobs from the broker and runs the delivery pipeline:
// render, dispatch, then the guaranteed bookkeeping tail (log row,
// analytics event, webhook fan-out, scheduled close-out).
type Processor struct {
	store      storage.Storage
	broker     Broker
	templates  *template.Service
	dispatcher *channel.Dispatcher
	analytics  *analytics.Recorder
	webhooks   *webhook.Notifier
	backoff    queue.Backoff
	workers    int
	log        zerolog.Logger
}

func NewProcessor(
	store storage.Storage,
	broker Broker,
	templates *template.Service,
	dispatcher *channel.Dispatcher,
	recorder *analytics.Recorder,
	webhooks *webhook.Notifier,
	workers int,
	log zerolog.Logger,
) *Processor {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	return &Processor{
		store:      store,
		broker:     broker,
		templates:  templates,
		dispatcher: dispatcher,
		analytics:  recorder,
		webhooks:   webhooks,
		backoff:    queue.DefaultOptions().Backoff,
		workers:    workers,
		log:        log.With().Str("component", "worker").Logger(),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	if err := p.broker.StartConsumer(ctx, p.handleMessage, p.workers); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	p.log.Info().Int("workers", p.workers).Msg("processor started")
	return nil
}

// handleMessage runs one delivery attempt. Returning nil acks the
// message; retries are re-published with a backoff delay, so the
// original delivery is acked either way except when the re-publish
// itself fails (then the broker requeues).
func (p *Processor) handleMessage(ctx context.Context, delivery amqp091.Delivery) error {
	var job models.Job
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		p.log.Error().Err(err).Msg("discarding undecodable job")
		return nil
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = queue.DefaultOptions().Attempts
	}

	p.saveState(ctx, &job, models.JobProcessing, "")

	p.log.Info().
		Str("job_id", job.ID).
		Str("channel", string(job.Channel)).
		Str("to", job.To).
		Int("attempt", job.Attempts+1).
		Msg("processing notification")

	err := p.process(ctx, &job)

	job.Attempts++
	terminal := err == nil || job.Attempts >= job.MaxAttempts

	if job.ScheduledID != "" && terminal {
		status := models.ScheduledSent
		if err != nil {
			status = models.ScheduledFailed
		}
		if upErr := p.store.UpdateScheduledStatus(ctx, job.ScheduledID, status); upErr != nil {
			p.log.Error().Err(upErr).
				Str("scheduled_id", job.ScheduledID).
				Msg("failed to close out scheduled notification")
		}
	}

	switch {
	case err == nil:
		p.saveState(ctx, &job, models.JobCompleted, "")
		return nil
	case terminal:
		p.log.Error().Err(err).
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Msg("job terminally failed")
		p.saveState(ctx, &job, models.JobFailed, err.Error())
		return nil
	default:
		delay := p.backoff.NextDelay(job.Attempts)
		// Retrying early is harmless; exceeding the delayed queue's
		// horizon is not.
		if delay > queue.MaxDelay {
			delay = queue.MaxDelay
		}
		if pubErr := p.broker.EnqueueRetry(ctx, &job, delay); pubErr != nil {
			p.log.Error().Err(pubErr).
				Str("job_id", job.ID).
				Msg("failed to schedule retry, requeueing delivery")
			return pubErr
		}
		p.saveState(ctx, &job, models.JobWaiting, err.Error())
		p.log.Warn().Err(err).
			Str("job_id", job.ID).
			Dur("retry_in", delay).
			Msg("job failed, retry scheduled")
		return nil
	}
}

// process runs render and dispatch for one attempt. The deferred log
// write runs on every exit path so each attempt leaves exactly one
// NotificationLog row, holding whatever message/subject was actually
// attempted.
func (p *Processor) process(ctx context.Context, job *models.Job) (err error) {
	finalMessage := job.Message
	finalSubject := job.Subject

	defer func() {
		status := models.LogSuccess
		var errMsg string
		if err != nil {
			status = models.LogFailed
			errMsg = err.Error()
		}

		entry := &models.NotificationLog{
			ID:         uuid.NewString(),
			To:         job.To,
			Channel:    job.Channel,
			Message:    finalMessage,
			Subject:    finalSubject,
			Status:     status,
			Error:      errMsg,
			UserID:     job.UserID,
			TemplateID: job.TemplateID,
			Metadata:   jobMetadata(job),
			CreatedAt:  time.Now(),
		}
		if logErr := p.store.InsertLog(ctx, entry); logErr != nil {
			// Never let a logging failure mask the delivery outcome.
			p.log.Error().Err(logErr).
				Str("job_id", job.ID).
				Msg("failed to write notification log")
		}
	}()

	if job.TemplateID != "" {
		body, subject, renderErr := p.templates.RenderByID(ctx, job.TemplateID, job.Variables)
		if renderErr != nil {
			p.afterFailure(ctx, job, renderErr)
			return fmt.Errorf("render template %s: %w", job.TemplateID, renderErr)
		}
		finalMessage, finalSubject = body, subject
	}

	if sendErr := p.dispatcher.Send(ctx, job.Channel, job.To, finalMessage, finalSubject); sendErr != nil {
		p.afterFailure(ctx, job, sendErr)
		return sendErr
	}

	p.afterSuccess(ctx, job, finalMessage, finalSubject)
	return nil
}

func (p *Processor) afterSuccess(ctx context.Context, job *models.Job, message, subject string) {
	if err := p.analytics.Record(ctx, models.FieldSent, job.Channel); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record analytics event")
	}

	p.webhooks.Notify(ctx, webhook.EventSent, map[string]any{
		"to":      job.To,
		"channel": job.Channel,
		"message": message,
		"subject": subject,
		"batchId": job.BatchID,
		"userId":  job.UserID,
		"jobId":   job.ID,
	})
}

func (p *Processor) afterFailure(ctx context.Context, job *models.Job, cause error) {
	if err := p.analytics.Record(ctx, models.FieldFailed, job.Channel); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record analytics event")
	}

	p.webhooks.Notify(ctx, webhook.EventFailed, map[string]any{
		"to":      job.To,
		"channel": job.Channel,
		"error":   cause.Error(),
		"batchId": job.BatchID,
		"userId":  job.UserID,
		"jobId":   job.ID,
	})
}

func (p *Processor) saveState(ctx context.Context, job *models.Job, status models.JobStatus, errMsg string) {
	state := &models.JobState{
		ID:      job.ID,
		BatchID: job.BatchID,
		Status:  status,
		Error:   errMsg,
	}
	if err := p.store.SaveJobState(ctx, state); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to save job state")
	}
}

func jobMetadata(job *models.Job) map[string]any {
	meta := map[string]any{
		"jobId":   job.ID,
		"attempt": job.Attempts + 1,
	}
	if job.BatchID != "" {
		meta["batchId"] = job.BatchID
	}
	if job.ScheduledID != "" {
		meta["scheduledId"] = job.ScheduledID
	}
	return meta
}
