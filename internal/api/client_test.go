package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/queue"
)

func newTestClient(t *testing.T) (*Client, *queue.Service) {
	t.Helper()
	router, q := newTestRouter(t)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), q
}

func TestClient_RoundTrip(t *testing.T) {
	c, q := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	retries := 1
	created, err := c.Enqueue(ctx, queue.EnqueueRequest{ID: "a", Command: "echo hi", MaxRetries: &retries})
	require.NoError(t, err)
	assert.Equal(t, 1, created.MaxRetries)

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", got.Command)

	pending, err := c.List(ctx, job.StatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[job.StatePending])

	workers, err := c.Workers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 2)

	j, err := q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	j.SetState(job.StateDead)
	require.NoError(t, q.RecordOutcome(ctx, j))

	dead, err := c.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	requeued, err := c.RequeueFromDead(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, requeued.State)
}

func TestClient_ErrorsMatchSentinels(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.StatusCode)

	_, err = c.Enqueue(ctx, queue.EnqueueRequest{ID: "a"})
	assert.ErrorIs(t, err, job.ErrInvalidJob)

	_, err = c.Enqueue(ctx, queue.EnqueueRequest{ID: "a", Command: "true"})
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, queue.EnqueueRequest{ID: "a", Command: "true"})
	assert.ErrorIs(t, err, job.ErrDuplicateID)

	_, err = c.RequeueFromDead(ctx, "a")
	assert.ErrorIs(t, err, job.ErrNotDead)
	assert.NotErrorIs(t, err, job.ErrDuplicateID)

	_, err = c.List(ctx, job.StatePending, job.StateDead)
	assert.ErrorIs(t, err, job.ErrInvalidState)
}

func TestClient_InvalidStateFromServer(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.List(context.Background(), job.State("bogus"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.StatusCode)
	assert.ErrorIs(t, err, job.ErrInvalidState)
	assert.NotErrorIs(t, err, job.ErrInvalidJob)
}

func TestStatusError_Unwrap(t *testing.T) {
	tests := []struct {
		err  *StatusError
		want error
	}{
		{&StatusError{400, `invalid job state: "bogus"`}, job.ErrInvalidState},
		{&StatusError{400, "invalid job state"}, job.ErrInvalidState},
		{&StatusError{400, "invalid job: command is empty"}, job.ErrInvalidJob},
		{&StatusError{404, "job not found: x"}, job.ErrNotFound},
		{&StatusError{400, "job not found: x"}, nil},
		{&StatusError{500, "boom"}, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Unwrap(), tt.err.Message)
	}
}

func TestNewClient_Address(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8474", NewClient("127.0.0.1:8474").baseURL)
	assert.Equal(t, "https://example.com", NewClient("https://example.com/").baseURL)
}
