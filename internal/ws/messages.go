package ws

import (
	"time"

	"github.com/queuectl/queuectl/internal/job"
)

// Server → Subscriber

type AckMessage struct {
	Type         string `json:"type"`
	SubscriberID string `json:"subscriber_id"`
	Message      string `json:"message"`
}

// JobMessage carries a job after a committed state change.
type JobMessage struct {
	Type string   `json:"type"`
	Job  *job.Job `json:"job"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
