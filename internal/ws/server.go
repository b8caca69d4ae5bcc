// Package ws streams job changes to websocket subscribers.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	rootlog "github.com/domonda/golog/log"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/queuectl/queuectl/internal/job"
)

var log = rootlog.NewPackageLogger("ws")

const (
	// subscriberBuffer is the number of events queued per subscriber
	// before further events are dropped.
	subscriberBuffer = 64
	heartbeatPeriod  = 30 * time.Second
	writeTimeout     = 5 * time.Second
)

type subscriber struct {
	id      string
	events  chan *job.Job
	dropped int
}

// Hub fans job changes out to subscribers.
// It implements queue.Listener and never blocks the publisher.
type Hub struct {
	subsMu sync.RWMutex
	subs   map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe registers a new subscriber.
// The returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe() (id string, events <-chan *job.Job, cancel func()) {
	s := &subscriber{
		id:     uuid.NewString(),
		events: make(chan *job.Job, subscriberBuffer),
	}

	h.subsMu.Lock()
	h.subs[s.id] = s
	h.subsMu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.subsMu.Lock()
			delete(h.subs, s.id)
			h.subsMu.Unlock()
			close(s.events)
		})
	}
	return s.id, s.events, cancel
}

func (h *Hub) NumSubscribers() int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs)
}

// Publish queues j for every subscriber with room for it.
func (h *Hub) Publish(j *job.Job) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	for _, s := range h.subs {
		select {
		case s.events <- j:
		default:
			s.dropped++
			log.Debug("Dropped job event for slow subscriber").
				Str("subscriberID", s.id).
				Str("jobID", j.ID).
				Int("dropped", s.dropped).
				Log()
		}
	}
}

func (h *Hub) OnJobChanged(_ context.Context, j *job.Job) {
	h.Publish(j)
}

// HandleEvents streams job events to a websocket client.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("WebSocket accept error").Err(err).Log()
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	id, events, cancel := h.Subscribe()
	defer cancel()

	// Subscribers only listen; CloseRead handles control frames and
	// cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	log.Debug("Event subscriber connected").Str("subscriberID", id).Log()
	defer log.Debug("Event subscriber disconnected").Str("subscriberID", id).Log()

	ack := AckMessage{
		Type:         "ack",
		SubscriberID: id,
		Message:      "Subscribed to job events",
	}
	if err := write(ctx, conn, ack); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-events:
			if !ok {
				return
			}
			if err := write(ctx, conn, JobMessage{Type: "job", Job: j}); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(ctx, conn, HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := wsjson.Write(ctx, conn, msg)
	if err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		log.Warn("WebSocket write error").Err(err).Log()
	}
	return err
}
