// Package worker runs the claim, execute, record loop for one worker.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/domonda/go-errs"
	rootlog "github.com/domonda/golog/log"

	"github.com/queuectl/queuectl/internal/backoff"
	"github.com/queuectl/queuectl/internal/executor"
	"github.com/queuectl/queuectl/internal/job"
)

var log = rootlog.NewPackageLogger("worker")

const DefaultPollInterval = time.Second

// Queue is the part of queue.Service a worker uses.
type Queue interface {
	ClaimNext(ctx context.Context, workerID string) (*job.Job, error)
	RecordOutcome(ctx context.Context, j *job.Job) error
}

type Options struct {
	// PollInterval is the idle sleep when no job is pending.
	PollInterval time.Duration
	// Backoff computes the wait after a failed attempt.
	Backoff backoff.Strategy
}

// Stats are the counters of one worker.
type Stats struct {
	ID            string `json:"id"`
	CurrentJobID  string `json:"current_job_id,omitempty"`
	JobsCompleted int64  `json:"jobs_completed"`
	JobsFailed    int64  `json:"jobs_failed"`
}

type Worker struct {
	id       string
	queue    Queue
	executor executor.Executor
	opts     Options

	stopOnce sync.Once
	stop     chan struct{}

	currentMtx sync.Mutex
	currentJob string

	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
}

func New(id string, q Queue, exec executor.Executor, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewExponential(2, time.Second)
	}
	return &Worker{
		id:       id,
		queue:    q,
		executor: exec,
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

func (w *Worker) ID() string { return w.id }

// CurrentJobID returns the id of the job the worker holds, or "".
func (w *Worker) CurrentJobID() string {
	w.currentMtx.Lock()
	defer w.currentMtx.Unlock()
	return w.currentJob
}

func (w *Worker) Stats() Stats {
	return Stats{
		ID:            w.id,
		CurrentJobID:  w.CurrentJobID(),
		JobsCompleted: w.jobsCompleted.Load(),
		JobsFailed:    w.jobsFailed.Load(),
	}
}

// Stop makes Run return after the current job.
// A job waiting for its backoff is put back to pending at once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Run claims and processes jobs until Stop is called or ctx is done.
// Cancelling ctx also kills a running command.
// A returned error comes from the job store.
func (w *Worker) Run(ctx context.Context) error {
	log, ctx := log.With().
		Str("workerID", w.id).
		SubLoggerContext(ctx)

	log.Info("Worker started").Log()
	defer log.Info("Worker stopped").Log()

	for !w.stopped() && ctx.Err() == nil {
		j, err := w.queue.ClaimNext(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.ErrorCtx(ctx, "Error while claiming the next job").Err(err).Log()
			return err
		}
		if j == nil {
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}

		if err := w.Process(ctx, j); err != nil {
			log.ErrorCtx(ctx, "Error while recording a job outcome").
				Err(err).
				Str("jobID", j.ID).
				Log()
			return err
		}
	}
	return nil
}

// Process runs one claimed job and records every state change.
func (w *Worker) Process(ctx context.Context, j *job.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, j.ID)

	w.setCurrent(j.ID)
	defer w.setCurrent("")

	log, ctx := log.With().
		Str("jobID", j.ID).
		SubLoggerContext(ctx)

	// Outcomes must be recorded even while the worker is being cancelled.
	storeCtx := context.WithoutCancel(ctx)

	j.IncrementAttempts()
	if err := w.queue.RecordOutcome(storeCtx, j); err != nil {
		return err
	}

	log.Info("Processing job").
		Str("command", j.Command).
		Int("attempt", j.Attempts).
		Log()

	res := w.execute(ctx, j.Command)
	if res.Success() {
		w.jobsCompleted.Add(1)
		j.SetState(job.StateCompleted)
		if err := w.queue.RecordOutcome(storeCtx, j); err != nil {
			return err
		}
		log.Info("Job completed").
			Int("attempts", j.Attempts).
			Str("duration", res.Duration.String()).
			Str("stdout", res.Stdout).
			Log()
		return nil
	}

	w.jobsFailed.Add(1)
	msg := log.Warn("Job attempt failed").
		Int("attempt", j.Attempts).
		Int("exitCode", res.ExitCode).
		Str("stderr", res.Stderr)
	if res.TimedOut {
		msg = msg.Str("reason", "timeout")
	}
	if res.Canceled {
		msg = msg.Str("reason", "canceled")
	}
	if res.Err != nil {
		msg = msg.Err(res.Err)
	}
	msg.Log()

	if !j.CanRetry() {
		j.SetState(job.StateDead)
		if err := w.queue.RecordOutcome(storeCtx, j); err != nil {
			return err
		}
		log.Warn("Job moved to dead letter queue").
			Int("attempts", j.Attempts).
			Int("maxRetries", j.MaxRetries).
			Log()
		return nil
	}

	j.SetState(job.StateFailed)
	if err := w.queue.RecordOutcome(storeCtx, j); err != nil {
		return err
	}

	delay := w.opts.Backoff.Delay(j.Attempts)
	log.Info("Retrying job after backoff").
		Str("delay", delay.String()).
		Log()
	w.sleep(ctx, delay)

	j.SetState(job.StatePending)
	return w.queue.RecordOutcome(storeCtx, j)
}

func (w *Worker) execute(ctx context.Context, command string) (res *executor.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &executor.Result{
				ExitCode: -1,
				Err:      errs.Errorf("executor panic: %w", errs.AsErrorWithDebugStack(r)),
			}
		}
	}()

	res = w.executor.Execute(ctx, command)
	if res == nil {
		res = &executor.Result{ExitCode: -1, Err: errs.New("executor returned no result")}
	}
	return res
}

// sleep waits for d, Stop, or ctx, whichever comes first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.stop:
	case <-ctx.Done():
	}
}

func (w *Worker) setCurrent(id string) {
	w.currentMtx.Lock()
	w.currentJob = id
	w.currentMtx.Unlock()
}
