package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"

	"notifyd/internal/models"
	"notifyd/internal/storage"
)

// ErrQueueUnavailable is returned when the broker cannot be reached.
// Callers must surface it instead of silently dropping the notification.
var ErrQueueUnavailable = errors.New("queue unavailable")

const (
	exchangeName  = "notifications"
	readyQueue    = "notifications.ready"
	delayedQueue  = "notifications.delayed"
	readyKey      = "ready"
	delayedKey    = "delayed"
	consumerTag   = "notifications-consumer"
	prefetchCount = 10

	// MaxDelay is the ceiling for per-message delays on the delayed
	// queue. Per-message TTLs only dead-letter at the queue head, so
	// the horizon is kept short: long enough for retry backoff
	// (10s..40s) and the longest batch stagger ramp (1000 recipients
	// at 100ms), short enough that a waiting message cannot hold up
	// later ones for more than a few minutes. Anything further out
	// must go through scheduled notification rows.
	MaxDelay = 5 * time.Minute
)

// ErrDelayTooLong is returned when a publish delay exceeds MaxDelay.
// The caller owns routing such sends through the scheduler path.
var ErrDelayTooLong = errors.New("delay exceeds queue ceiling")

// Manager is the queue client: it owns the broker topology, publishes
// jobs now or with a delay, and keeps queryable job state in the store.
type Manager struct {
	client    *rabbitmq.RabbitClient
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	store     storage.Storage
	log       zerolog.Logger
}

func NewManager(url string, store storage.Storage, log zerolog.Logger) (*Manager, error) {
	config := rabbitmq.ClientConfig{
		URL:       url,
		Heartbeat: 10 * time.Second,
		ReconnectStrat: retry.Strategy{
			Attempts: 10,
			Delay:    2 * time.Second,
			Backoff:  2,
		},
		ProducingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
		ConsumingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
	}

	client, err := rabbitmq.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if err := setupTopology(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchanges and queues: %w", err)
	}

	publisher := rabbitmq.NewPublisher(client, exchangeName, "application/json")

	log.Info().Msg("queue manager initialized")
	return &Manager{
		client:    client,
		publisher: publisher,
		store:     store,
		log:       log.With().Str("component", "queue").Logger(),
	}, nil
}

func setupTopology(client *rabbitmq.RabbitClient) error {
	err := client.DeclareExchange(exchangeName, "direct", true, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// The delayed queue has no consumers. Messages sit until their
	// per-message TTL expires, then dead-letter back into the ready
	// queue. The queue-level TTL is the delay ceiling.
	delayArgs := map[string]interface{}{
		"x-dead-letter-exchange":    exchangeName,
		"x-dead-letter-routing-key": readyKey,
		"x-message-ttl":             int64(MaxDelay / time.Millisecond),
	}

	err = client.DeclareQueue(delayedQueue, exchangeName, delayedKey, true, false, true, delayArgs)
	if err != nil {
		return fmt.Errorf("declare delayed queue: %w", err)
	}

	err = client.DeclareQueue(readyQueue, exchangeName, readyKey, true, false, true, nil)
	if err != nil {
		return fmt.Errorf("declare ready queue: %w", err)
	}

	return nil
}

// Enqueue publishes a job and records its state as waiting. Returns
// the job id. The call confirms broker acceptance and nothing more;
// delivery outcome is observable through job state and logs.
func (m *Manager) Enqueue(ctx context.Context, job *models.Job, opts Options) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if opts.Attempts <= 0 {
		opts = DefaultOptions()
	}
	job.MaxAttempts = opts.Attempts

	if err := m.publish(ctx, job, opts.Delay); err != nil {
		return "", err
	}

	state := &models.JobState{ID: job.ID, BatchID: job.BatchID, Status: models.JobWaiting}
	if err := m.store.SaveJobState(ctx, state); err != nil {
		m.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job state")
	}

	m.log.Info().
		Str("job_id", job.ID).
		Str("channel", string(job.Channel)).
		Dur("delay", opts.Delay).
		Msg("job enqueued")
	return job.ID, nil
}

// EnqueueRetry republishes a failed job with a backoff delay. Attempt
// bookkeeping is the caller's responsibility.
func (m *Manager) EnqueueRetry(ctx context.Context, job *models.Job, delay time.Duration) error {
	return m.publish(ctx, job, delay)
}

func (m *Manager) publish(ctx context.Context, job *models.Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	routingKey := readyKey
	var opts []rabbitmq.PublishOption
	if delay > 0 {
		// Never clamp: a clamped delay would deliver early. Sends
		// past the ceiling belong to the scheduler path.
		if delay > MaxDelay {
			return fmt.Errorf("%w: %s > %s", ErrDelayTooLong, delay, MaxDelay)
		}
		routingKey = delayedKey
		opts = append(opts, rabbitmq.WithExpiration(delay))
	}

	if err := m.publisher.Publish(ctx, body, routingKey, opts...); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// GetJob returns the current state of a job, or storage.ErrNotFound.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.JobState, error) {
	return m.store.GetJobState(ctx, jobID)
}

// BatchStates returns the states of every job in a batch.
func (m *Manager) BatchStates(ctx context.Context, batchID string) ([]*models.JobState, error) {
	return m.store.JobStatesByBatch(ctx, batchID)
}

// Clean prunes at most limit job-state records in the given status
// older than the retention window. Housekeeping only.
func (m *Manager) Clean(ctx context.Context, olderThan time.Duration, limit int, status models.JobStatus) (int, error) {
	return m.store.CleanJobStates(ctx, olderThan, limit, status)
}

// StartConsumer begins delivering ready jobs to the handler with the
// given worker concurrency. Messages are acked manually; a handler
// error nacks with requeue.
func (m *Manager) StartConsumer(ctx context.Context, handler rabbitmq.MessageHandler, workers int) error {
	config := rabbitmq.ConsumerConfig{
		Queue:         readyQueue,
		ConsumerTag:   consumerTag,
		AutoAck:       false,
		Workers:       workers,
		PrefetchCount: prefetchCount,
		Ask: rabbitmq.AskConfig{
			Multiple: false,
		},
		Nack: rabbitmq.NackConfig{
			Multiple: false,
			Requeue:  true,
		},
		Args: nil,
	}

	m.consumer = rabbitmq.NewConsumer(m.client, config, handler)

	go func() {
		if err := m.consumer.Start(ctx); err != nil {
			m.log.Error().Err(err).Msg("consumer stopped with error")
		}
	}()

	m.log.Info().Int("workers", workers).Msg("consumer started")
	return nil
}

func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
