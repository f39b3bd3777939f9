package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/rabbitmq"

	"notifyd/internal/analytics"
	"notifyd/internal/channel"
	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
	"notifyd/internal/template"
	"notifyd/internal/webhook"
)

type fakeBroker struct {
	retries []retryCall
	pubErr  error
}

type retryCall struct {
	job   models.Job
	delay time.Duration
}

func (f *fakeBroker) EnqueueRetry(ctx context.Context, job *models.Job, delay time.Duration) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.retries = append(f.retries, retryCall{job: *job, delay: delay})
	return nil
}

func (f *fakeBroker) StartConsumer(ctx context.Context, handler rabbitmq.MessageHandler, workers int) error {
	return nil
}

type stubSender struct {
	err   error
	calls int
	body  string
}

func (s *stubSender) Send(ctx context.Context, to, body, subject string) error {
	s.calls++
	s.body = body
	return s.err
}

type fixture struct {
	store      *storage.MemoryStorage
	broker     *fakeBroker
	sender     *stubSender
	dispatcher *channel.Dispatcher
	processor  *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage()
	broker := &fakeBroker{}
	sender := &stubSender{}

	dispatcher := channel.NewDispatcher()
	dispatcher.Register(models.ChannelEmail, sender)
	dispatcher.Register(models.ChannelPush, channel.NewPushSender())

	p := NewProcessor(
		store,
		broker,
		template.NewService(store),
		dispatcher,
		analytics.NewRecorder(store, zerolog.Nop()),
		webhook.NewNotifier(nil, "", zerolog.Nop()),
		1,
		zerolog.Nop(),
	)
	return &fixture{store: store, broker: broker, sender: sender, dispatcher: dispatcher, processor: p}
}

func delivery(t *testing.T, job models.Job) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body}
}

func TestHandleMessageSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hello", MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	assert.Equal(t, 1, f.sender.calls)
	assert.Empty(t, f.broker.retries)

	state, err := f.store.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, state.Status)

	logs, err := f.store.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogSuccess, logs[0].Status)
	assert.Equal(t, "hello", logs[0].Message)
	assert.Empty(t, logs[0].Error)

	today := time.Now().Format("2006-01-02")
	counters, err := f.store.RealtimeCounters(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters[models.ChannelEmail].Sent)
}

func TestHandleMessageSchedulesRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("smtp 421")

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hello", MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	require.Len(t, f.broker.retries, 1)
	assert.Equal(t, 1, f.broker.retries[0].job.Attempts)
	assert.Equal(t, 10*time.Second, f.broker.retries[0].delay)

	state, err := f.store.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, state.Status)
	assert.Contains(t, state.Error, "smtp 421")

	logs, err := f.store.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogFailed, logs[0].Status)
}

func TestHandleMessageRetryBackoffGrows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("smtp 421")

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", Attempts: 1, MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	require.Len(t, f.broker.retries, 1)
	assert.Equal(t, 20*time.Second, f.broker.retries[0].delay)
}

func TestHandleMessageRetryDelayNeverExceedsQueueCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("smtp 421")
	f.processor.backoff = queue.Backoff{Type: queue.BackoffTypeExponential, Delay: time.Hour}

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	require.Len(t, f.broker.retries, 1)
	assert.Equal(t, queue.MaxDelay, f.broker.retries[0].delay)
}

func TestHandleMessageTerminalFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("mailbox gone")

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", Attempts: 2, MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	assert.Empty(t, f.broker.retries)

	state, err := f.store.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, state.Status)
	assert.Contains(t, state.Error, "mailbox gone")
}

func TestHandleMessageRetryPublishFailureRequeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("smtp 421")
	f.broker.pubErr = errors.New("broker gone")

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", MaxAttempts: 3}
	err := f.processor.handleMessage(ctx, delivery(t, job))
	assert.ErrorIs(t, err, f.broker.pubErr)
}

func TestHandleMessageDiscardsBadPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.processor.handleMessage(context.Background(), amqp091.Delivery{Body: []byte("{not json")})
	assert.NoError(t, err)

	logs, err := f.store.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestHandleMessageRendersTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.CreateTemplate(ctx, &models.Template{
		ID:       "welcome",
		Name:     "Welcome",
		Subject:  "Hi {{name}}",
		Body:     "Welcome, {{name}}!",
		Channel:  models.ChannelEmail,
		IsActive: true,
	}))

	job := models.Job{
		ID:         "j1",
		To:         "a@x.io",
		Channel:    models.ChannelEmail,
		TemplateID: "welcome",
		Variables:  map[string]any{"name": "Ana"},
	}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	assert.Equal(t, "Welcome, Ana!", f.sender.body)

	logs, err := f.store.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Welcome, Ana!", logs[0].Message)
	assert.Equal(t, "Hi Ana", logs[0].Subject)
}

func TestHandleMessageTemplateMissingFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, TemplateID: "nope", MaxAttempts: 1}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	assert.Zero(t, f.sender.calls)

	logs, err := f.store.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "template")
}

func TestHandleMessagePushChannelFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	job := models.Job{ID: "j1", To: "device-token", Channel: models.ChannelPush, Message: "hi", Attempts: 2, MaxAttempts: 3}
	require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

	state, err := f.store.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, state.Status)

	today := time.Now().Format("2006-01-02")
	counters, err := f.store.RealtimeCounters(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters[models.ChannelPush].Failed)
}

func TestHandleMessageClosesOutScheduled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success marks sent", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.store.CreateScheduled(ctx, &models.ScheduledNotification{
			ID: "s1", Status: models.ScheduledQueued,
		}))

		job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", ScheduledID: "s1", MaxAttempts: 3}
		require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

		n, err := f.store.GetScheduled(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledSent, n.Status)
	})

	t.Run("terminal failure marks failed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.sender.err = errors.New("boom")
		require.NoError(t, f.store.CreateScheduled(ctx, &models.ScheduledNotification{
			ID: "s1", Status: models.ScheduledQueued,
		}))

		job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", ScheduledID: "s1", Attempts: 2, MaxAttempts: 3}
		require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

		n, err := f.store.GetScheduled(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledFailed, n.Status)
	})

	t.Run("retry leaves status queued", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.sender.err = errors.New("boom")
		require.NoError(t, f.store.CreateScheduled(ctx, &models.ScheduledNotification{
			ID: "s1", Status: models.ScheduledQueued,
		}))

		job := models.Job{ID: "j1", To: "a@x.io", Channel: models.ChannelEmail, Message: "hi", ScheduledID: "s1", MaxAttempts: 3}
		require.NoError(t, f.processor.handleMessage(ctx, delivery(t, job)))

		n, err := f.store.GetScheduled(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledQueued, n.Status)
	})
}
