package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dead"
)

// States lists every job state in lifecycle order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// ParseState validates a user supplied state name.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range States {
		if st == valid {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// IsTerminal reports whether no worker will touch a job in this state again.
// Dead jobs only come back through a manual requeue.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateDead
}

// IsLeased reports whether a worker owns the job while it is in this state.
func (s State) IsLeased() bool {
	return s == StateProcessing || s == StateFailed
}

type Job struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewID returns an id in the form job_1a2b3c4d.
func NewID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// New creates a pending job. An empty id is replaced by NewID.
func New(id, command string, maxRetries int) *Job {
	if id == "" {
		id = NewID()
	}
	now := time.Now().UTC()
	return &Job{
		ID:         id,
		Command:    command,
		State:      StatePending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the fields a caller can supply.
func (j *Job) Validate() error {
	switch {
	case strings.TrimSpace(j.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidJob)
	case strings.ContainsAny(j.ID, "/ \t\n"):
		return fmt.Errorf("%w: id %q contains '/' or whitespace", ErrInvalidJob, j.ID)
	case strings.TrimSpace(j.Command) == "":
		return fmt.Errorf("%w: empty command", ErrInvalidJob)
	case j.MaxRetries < 0:
		return fmt.Errorf("%w: negative max_retries %d", ErrInvalidJob, j.MaxRetries)
	case j.Attempts < 0:
		return fmt.Errorf("%w: negative attempts %d", ErrInvalidJob, j.Attempts)
	}
	if _, err := ParseState(string(j.State)); err != nil {
		return err
	}
	return nil
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// SetState moves the job to s and refreshes UpdatedAt.
func (j *Job) SetState(s State) {
	j.State = s
	j.UpdatedAt = time.Now().UTC()
}

// IncrementAttempts counts a new execution attempt.
func (j *Job) IncrementAttempts() {
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
}

// CanRetry reports whether a failed attempt may be retried.
// A job gets MaxRetries retries on top of its first attempt.
func (j *Job) CanRetry() bool {
	return j.Attempts <= j.MaxRetries
}

// RequeueFromDead resets a dead job for another round of attempts.
func (j *Job) RequeueFromDead() error {
	if j.State != StateDead {
		return fmt.Errorf("%w: job %s is %s", ErrNotDead, j.ID, j.State)
	}
	j.Attempts = 0
	j.SetState(StatePending)
	return nil
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (j *Job) String() string {
	if j == nil {
		return "nil Job"
	}
	return fmt.Sprintf("Job %s, state %s, attempt %d/%d, command %q", j.ID, j.State, j.Attempts, j.MaxRetries+1, j.Command)
}
