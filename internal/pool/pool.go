// Package pool runs a set of workers against one queue and keeps the
// leases of their jobs alive.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/domonda/go-errs"
	rootlog "github.com/domonda/golog/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/queuectl/queuectl/internal/backoff"
	"github.com/queuectl/queuectl/internal/executor"
	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/worker"
)

var log = rootlog.NewPackageLogger("pool")

const (
	ErrAlreadyRunning errs.Sentinel = "worker pool is already running"
	ErrInvalidCount   errs.Sentinel = "worker count must be positive"

	DefaultLeaseTimeout = 10 * time.Minute
)

// Queue is the part of queue.Service the pool uses.
type Queue interface {
	worker.Queue
	Heartbeat(ctx context.Context, workerID string, ids ...string) error
	ReapStale(ctx context.Context, olderThan time.Duration) ([]*job.Job, error)
}

type Options struct {
	Executor     executor.Executor
	Backoff      backoff.Strategy
	PollInterval time.Duration
	// LeaseTimeout is how long a job lease survives without a heartbeat
	// before the reaper puts the job back into circulation.
	LeaseTimeout time.Duration
	// HeartbeatInterval defaults to LeaseTimeout / 3.
	HeartbeatInterval time.Duration
	// ReapInterval defaults to LeaseTimeout / 2, so an orphaned job
	// is reclaimed at most 1.5 * LeaseTimeout after its last heartbeat.
	ReapInterval time.Duration
}

// Pool manages a set of concurrent workers.
type Pool struct {
	queue    Queue
	opts     Options
	registry *Registry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(q Queue, opts Options) *Pool {
	if opts.Executor == nil {
		opts.Executor = executor.NewShell(executor.DefaultTimeout)
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = DefaultLeaseTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = opts.LeaseTimeout / 3
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = opts.LeaseTimeout / 2
	}
	done := make(chan struct{})
	close(done)
	return &Pool{
		queue:    q,
		opts:     opts,
		registry: NewRegistry(),
		done:     done,
	}
}

// Start launches n workers and returns immediately.
// Jobs leased by a previous process are reclaimed first.
func (p *Pool) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return ErrInvalidCount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	// The store admits a single process, so every existing lease is orphaned.
	if _, err := p.queue.ReapStale(ctx, 0); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	p.running = true
	p.stopCh = make(chan struct{})
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil

	log.Info("Worker pool starting").
		Int("count", n).
		Str("leaseTimeout", p.opts.LeaseTimeout.String()).
		Log()

	for range n {
		w := worker.New(
			uuid.NewString(),
			p.queue,
			p.opts.Executor,
			worker.Options{
				PollInterval: p.opts.PollInterval,
				Backoff:      p.opts.Backoff,
			},
		)
		p.registry.Add(w)
		group.Go(func() error {
			defer p.registry.Remove(w.ID())
			return w.Run(groupCtx)
		})
	}

	stopCh := p.stopCh
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		p.heartbeatLoop(groupCtx, stopCh)
	}()
	go func() {
		defer loops.Done()
		p.reaperLoop(groupCtx, stopCh)
	}()

	done := p.done
	go func() {
		err := group.Wait()
		p.stopWorkers()
		loops.Wait()
		cancel()

		p.mu.Lock()
		p.running = false
		p.err = err
		p.mu.Unlock()
		if err != nil {
			log.Error("Worker pool stopped with error").Err(err).Log()
		}
		close(done)
	}()

	return nil
}

// Stop signals all workers to stop after their current job and waits.
// If ctx is done first, running commands are killed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		err := p.err
		p.mu.Unlock()
		return err
	}
	done := p.done
	cancel := p.cancel
	p.mu.Unlock()

	log.Info("Worker pool stopping").Int("workers", p.registry.Len()).Log()
	p.stopWorkers()

	select {
	case <-done:
		log.Info("Worker pool stopped gracefully").Log()
	case <-ctx.Done():
		log.Warn("Worker pool shutdown timed out, cancelling active jobs").Log()
		cancel()
		<-done
	}

	return p.Err()
}

// Done is closed when all workers have exited.
func (p *Pool) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err returns the error that ended the last run, if any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ActiveWorkerIDs returns the ids of the running workers.
func (p *Pool) ActiveWorkerIDs() []string {
	list := p.registry.List()
	ids := make([]string, len(list))
	for i, w := range list {
		ids[i] = w.ID()
	}
	return ids
}

// WorkerStats returns the counters of the running workers.
func (p *Pool) WorkerStats() []worker.Stats {
	list := p.registry.List()
	stats := make([]worker.Stats, len(list))
	for i, w := range list {
		stats[i] = w.Stats()
	}
	return stats
}

// WorkerCounts returns how many workers are running, idle and busy.
func (p *Pool) WorkerCounts() RegistryStats { return p.registry.Stats() }

func (p *Pool) stopWorkers() {
	p.mu.Lock()
	if p.stopCh != nil {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
	}
	p.mu.Unlock()

	for _, w := range p.registry.List() {
		w.Stop()
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(p.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats(ctx)
		}
	}
}

func (p *Pool) sendHeartbeats(ctx context.Context) {
	for _, w := range p.registry.List() {
		jobID := w.CurrentJobID()
		if jobID == "" {
			continue
		}
		if err := p.queue.Heartbeat(ctx, w.ID(), jobID); err != nil {
			log.Warn("Heartbeat failed").
				Str("workerID", w.ID()).
				Str("jobID", jobID).
				Err(err).
				Log()
		}
	}
}

func (p *Pool) reaperLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.ReapStale(ctx, p.opts.LeaseTimeout); err != nil {
				log.Error("Error while reaping stale jobs").Err(err).Log()
			}
		}
	}
}
