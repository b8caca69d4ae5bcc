// Package queue is the facade through which everything outside the
// worker and the job store talks to the queue.
//
// It validates requests and delegates to the Store. It makes no retry
// decisions of its own: RecordOutcome persists whatever state the worker
// computed.
package queue

import (
	"context"
	"sync"
	"time"

	rootlog "github.com/domonda/golog/log"

	"github.com/queuectl/queuectl/internal/job"
)

var log = rootlog.NewPackageLogger("queue")

// Store is the persistence the Service needs.
// It is implemented by jobstore.Store.
type Store interface {
	Insert(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, states ...job.State) ([]*job.Job, error)
	ClaimNext(ctx context.Context, workerID string) (*job.Job, error)
	Save(ctx context.Context, j *job.Job) error
	Update(ctx context.Context, id string, fn func(*job.Job) error) (*job.Job, error)
	Stats(ctx context.Context) (map[job.State]int, error)
	Heartbeat(ctx context.Context, workerID string, ids ...string) error
	ReapStale(ctx context.Context, olderThan time.Duration) ([]*job.Job, error)
}

// Listener is notified after a job change has been committed.
// Implementations must not block.
type Listener interface {
	OnJobChanged(ctx context.Context, j *job.Job)
}

type ListenerFunc func(ctx context.Context, j *job.Job)

func (f ListenerFunc) OnJobChanged(ctx context.Context, j *job.Job) { f(ctx, j) }

type EnqueueRequest struct {
	ID         string `json:"id,omitempty"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

type Options struct {
	// DefaultMaxRetries is used for requests without max_retries.
	DefaultMaxRetries int
}

type Service struct {
	store             Store
	defaultMaxRetries int

	listenersMtx sync.RWMutex
	listeners    []Listener
}

func New(store Store, opts Options) *Service {
	return &Service{
		store:             store,
		defaultMaxRetries: opts.DefaultMaxRetries,
	}
}

func (s *Service) AddListener(l Listener) {
	s.listenersMtx.Lock()
	defer s.listenersMtx.Unlock()
	s.listeners = append(s.listeners, l)
}

// Enqueue creates a pending job from req.
// A missing id is generated, a missing max_retries uses the default.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*job.Job, error) {
	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	j := job.New(req.ID, req.Command, maxRetries)
	if err := s.store.Insert(ctx, j); err != nil {
		return nil, err
	}

	log.Info("Job enqueued").
		Str("jobID", j.ID).
		Str("command", j.Command).
		Int("maxRetries", j.MaxRetries).
		Log()

	s.notify(ctx, j)
	return j, nil
}

// ClaimNext hands the oldest pending job to workerID.
// It returns nil if there is no pending job.
func (s *Service) ClaimNext(ctx context.Context, workerID string) (*job.Job, error) {
	j, err := s.store.ClaimNext(ctx, workerID)
	if err != nil || j == nil {
		return nil, err
	}
	s.notify(ctx, j)
	return j, nil
}

// RecordOutcome persists the state the worker computed for j.
func (s *Service) RecordOutcome(ctx context.Context, j *job.Job) error {
	if err := s.store.Save(ctx, j); err != nil {
		return err
	}
	s.notify(ctx, j)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs in creation order, optionally only those in states.
func (s *Service) List(ctx context.Context, states ...job.State) ([]*job.Job, error) {
	return s.store.List(ctx, states...)
}

// DeadLetters lists the jobs in the dead letter queue.
func (s *Service) DeadLetters(ctx context.Context) ([]*job.Job, error) {
	return s.store.List(ctx, job.StateDead)
}

func (s *Service) Stats(ctx context.Context) (map[job.State]int, error) {
	return s.store.Stats(ctx)
}

// RequeueFromDead moves a dead job back to pending with its attempts reset.
// Jobs in any other state are left untouched and job.ErrNotDead is returned.
func (s *Service) RequeueFromDead(ctx context.Context, id string) (*job.Job, error) {
	j, err := s.store.Update(ctx, id, (*job.Job).RequeueFromDead)
	if err != nil {
		return nil, err
	}

	log.Info("Job moved from dead letter queue to pending").
		Str("jobID", j.ID).
		Log()

	s.notify(ctx, j)
	return j, nil
}

// Heartbeat renews the leases workerID holds on the jobs with ids.
func (s *Service) Heartbeat(ctx context.Context, workerID string, ids ...string) error {
	return s.store.Heartbeat(ctx, workerID, ids...)
}

// ReapStale puts jobs whose worker stopped renewing its lease
// back into circulation.
func (s *Service) ReapStale(ctx context.Context, olderThan time.Duration) ([]*job.Job, error) {
	reaped, err := s.store.ReapStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	for _, j := range reaped {
		log.Warn("Reclaimed job from unresponsive worker").
			Str("jobID", j.ID).
			Str("state", string(j.State)).
			Int("attempts", j.Attempts).
			Log()
		s.notify(ctx, j)
	}
	return reaped, nil
}

func (s *Service) notify(ctx context.Context, j *job.Job) {
	s.listenersMtx.RLock()
	listeners := s.listeners
	s.listenersMtx.RUnlock()

	for _, l := range listeners {
		l.OnJobChanged(ctx, j.Clone())
	}
}
