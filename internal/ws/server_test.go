package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/queuectl/queuectl/internal/job"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub()
	_, a, cancelA := h.Subscribe()
	defer cancelA()
	_, b, cancelB := h.Subscribe()
	defer cancelB()

	j := job.New("a", "true", 3)
	h.OnJobChanged(context.Background(), j)

	assert.Equal(t, j, <-a)
	assert.Equal(t, j, <-b)
	assert.Equal(t, 2, h.NumSubscribers())
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	_, events, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(job.New(job.NewID(), "true", 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	h := NewHub()
	_, events, cancel := h.Subscribe()

	cancel()
	cancel()

	_, ok := <-events
	assert.False(t, ok)
	assert.Equal(t, 0, h.NumSubscribers())

	h.Publish(job.New("a", "true", 0))
}

func TestHandleEvents(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleEvents))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ack AckMessage
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	assert.Equal(t, "ack", ack.Type)
	assert.NotEmpty(t, ack.SubscriberID)

	j := job.New("job_1", "echo hi", 3)
	j.SetState(job.StateProcessing)
	h.Publish(j)

	var msg struct {
		Type string   `json:"type"`
		Job  *job.Job `json:"job"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "job", msg.Type)
	require.NotNil(t, msg.Job)
	assert.Equal(t, "job_1", msg.Job.ID)
	assert.Equal(t, job.StateProcessing, msg.Job.State)

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return h.NumSubscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}
