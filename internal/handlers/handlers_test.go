package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/analytics"
	"notifyd/internal/batch"
	"notifyd/internal/handlers"
	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
)

// fakeQueue satisfies both the notify handler's and the batch
// orchestrator's queue surfaces, backed by the shared store.
type fakeQueue struct {
	store      *storage.MemoryStorage
	enqueueErr error
	enqueued   []*models.Job
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *models.Job, opts queue.Options) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	job.ID = fmt.Sprintf("job-%d", len(f.enqueued)+1)
	f.enqueued = append(f.enqueued, job)
	_ = f.store.SaveJobState(ctx, &models.JobState{ID: job.ID, BatchID: job.BatchID, Status: models.JobWaiting})
	return job.ID, nil
}

func (f *fakeQueue) GetJob(ctx context.Context, jobID string) (*models.JobState, error) {
	return f.store.GetJobState(ctx, jobID)
}

func (f *fakeQueue) BatchStates(ctx context.Context, batchID string) ([]*models.JobState, error) {
	return f.store.JobStatesByBatch(ctx, batchID)
}

type env struct {
	store  *storage.MemoryStorage
	queue  *fakeQueue
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := storage.NewMemoryStorage()
	q := &fakeQueue{store: store}

	router := handlers.Router(
		handlers.NewNotifyHandler(store, q),
		handlers.NewBatchHandler(batch.NewOrchestrator(q, store, zerolog.Nop())),
		handlers.NewTemplateHandler(store),
		handlers.NewLogsHandler(store),
		handlers.NewAnalyticsHandler(analytics.NewRecorder(store, zerolog.Nop())),
	)
	return &env{store: store, queue: q, router: router}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateNotification(t *testing.T) {
	t.Parallel()

	t.Run("immediate send is queued", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		rr := e.do(t, http.MethodPost, "/api/notify", `{"to":"a@x.io","channel":"email","message":"hi"}`)
		require.Equal(t, http.StatusAccepted, rr.Code)

		body := decode(t, rr)
		assert.Equal(t, "queued", body["status"])
		assert.NotEmpty(t, body["jobId"])
		require.Len(t, e.queue.enqueued, 1)
		assert.Equal(t, "a@x.io", e.queue.enqueued[0].To)
	})

	t.Run("future sendAt is scheduled, not queued", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		sendAt := time.Now().Add(time.Hour).Format(time.RFC3339)
		rr := e.do(t, http.MethodPost, "/api/notify",
			fmt.Sprintf(`{"to":"a@x.io","channel":"email","message":"hi","sendAt":%q}`, sendAt))
		require.Equal(t, http.StatusAccepted, rr.Code)

		body := decode(t, rr)
		assert.Equal(t, "scheduled", body["status"])
		assert.NotEmpty(t, body["scheduledId"])
		assert.Empty(t, e.queue.enqueued)

		due, err := e.store.FindDueScheduled(context.Background(), time.Now().Add(2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, models.ScheduledPending, due[0].Status)
	})

	t.Run("past sendAt sends immediately", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		sendAt := time.Now().Add(-time.Hour).Format(time.RFC3339)
		rr := e.do(t, http.MethodPost, "/api/notify",
			fmt.Sprintf(`{"to":"a@x.io","channel":"email","message":"hi","sendAt":%q}`, sendAt))
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "queued", decode(t, rr)["status"])
	})

	t.Run("validation failures are 400", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		for name, payload := range map[string]string{
			"missing to":      `{"channel":"email","message":"hi"}`,
			"missing message": `{"to":"a@x.io","channel":"email"}`,
			"bad channel":     `{"to":"a@x.io","channel":"fax","message":"hi"}`,
			"not json":        `{`,
		} {
			rr := e.do(t, http.MethodPost, "/api/notify", payload)
			assert.Equal(t, http.StatusBadRequest, rr.Code, name)
		}
	})

	t.Run("broker outage is 503", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.queue.enqueueErr = queue.ErrQueueUnavailable

		rr := e.do(t, http.MethodPost, "/api/notify", `{"to":"a@x.io","channel":"email","message":"hi"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/notify", `{"to":"a@x.io","channel":"email","message":"hi"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	jobID := decode(t, rr)["jobId"].(string)

	rr = e.do(t, http.MethodGet, "/api/notify/status/"+jobID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(models.JobWaiting), decode(t, rr)["status"])

	rr = e.do(t, http.MethodGet, "/api/notify/status/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBatchEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/batch",
		`{"recipients":["a@x.io","b@x.io","c@x.io"],"channel":"email","message":"hi"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	body := decode(t, rr)
	batchID := body["batchId"].(string)
	assert.True(t, strings.HasPrefix(batchID, "batch_"))
	assert.Equal(t, float64(3), body["totalRecipients"])

	rr = e.do(t, http.MethodGet, "/api/batch/"+batchID+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode(t, rr)
	assert.Equal(t, float64(3), status["total"])
	assert.Equal(t, float64(3), status["waiting"])

	rr = e.do(t, http.MethodGet, "/api/batch/batch_none/status", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/batch", `{"recipients":[],"channel":"email","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBatchFarFutureSendAtIsScheduled(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	sendAt := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	rr := e.do(t, http.MethodPost, "/api/batch",
		fmt.Sprintf(`{"recipients":["a@x.io","b@x.io"],"channel":"email","message":"hi","sendAt":%q}`, sendAt))
	require.Equal(t, http.StatusCreated, rr.Code)

	body := decode(t, rr)
	assert.Equal(t, "scheduled", body["status"])
	assert.Empty(t, e.queue.enqueued)

	// Batch status is queryable before any row is due.
	batchID := body["batchId"].(string)
	rr = e.do(t, http.MethodGet, "/api/batch/"+batchID+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode(t, rr)
	assert.Equal(t, float64(2), status["total"])
	assert.Equal(t, float64(2), status["waiting"])
}

func TestTemplateEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/templates/",
		`{"name":"welcome","channel":"email","subject":"Hi {{name}}","body":"Hello {{name}}!"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode(t, rr)
	id := created["id"].(string)
	assert.Equal(t, true, created["isActive"])

	rr = e.do(t, http.MethodGet, "/api/templates/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "welcome", decode(t, rr)["name"])

	rr = e.do(t, http.MethodPut, "/api/templates/"+id,
		`{"name":"welcome-v2","channel":"email","body":"Hey {{name}}"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "welcome-v2", decode(t, rr)["name"])

	// Delete deactivates instead of removing.
	rr = e.do(t, http.MethodDelete, "/api/templates/"+id, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	tmpl, err := e.store.GetTemplate(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, tmpl.IsActive)

	rr = e.do(t, http.MethodGet, "/api/templates/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/templates/", `{"name":"no body","channel":"email"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogsEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.store.InsertLog(ctx, &models.NotificationLog{
			ID:      fmt.Sprintf("l%d", i),
			Channel: models.ChannelEmail,
			Status:  models.LogSuccess,
		}))
	}

	rr := e.do(t, http.MethodGet, "/api/logs?limit=3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(3), decode(t, rr)["count"])

	rr = e.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(5), decode(t, rr)["count"])

	rr = e.do(t, http.MethodGet, "/api/logs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	today := time.Now().Format("2006-01-02")
	require.NoError(t, e.store.UpsertAnalytics(ctx, today, models.ChannelEmail, models.FieldSent))
	require.NoError(t, e.store.IncrRealtimeCounter(ctx, models.ChannelEmail, models.FieldSent, today))

	rr := e.do(t, http.MethodGet, "/api/analytics/dashboard?days=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	dash := decode(t, rr)
	summary := dash["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["totalSent"])

	rr = e.do(t, http.MethodGet, "/api/analytics/dashboard?days=0", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/analytics/realtime", "")
	require.Equal(t, http.StatusOK, rr.Code)
	realtime := decode(t, rr)
	email := realtime["email"].(map[string]any)
	assert.Equal(t, float64(1), email["sent"])
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
