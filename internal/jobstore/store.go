// Package jobstore persists jobs in badger and is the only place
// where job state is mutated.
//
// Every mutation runs in a single badger read-write transaction while
// holding a store wide lock, so a claim, a save and an insert can never
// interleave. Reads use read-only transactions and always see the last
// committed snapshot.
//
// Key layout:
//
//	jobs/<id>                job record (JSON)
//	order/<id>               insertion sequence of the job (8 bytes, big endian)
//	seq/<seq>                id, in creation order
//	state/<state>/<seq>      id, per state in creation order
//	lease/<id>               worker lease of a processing or failed job (JSON)
//	meta/seq                 last issued sequence
package jobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/semaphore"

	"github.com/queuectl/queuectl/internal/db"
	"github.com/queuectl/queuectl/internal/job"
)

const (
	jobPrefix   = "jobs/"
	orderPrefix = "order/"
	seqPrefix   = "seq/"
	statePrefix = "state/"
	leasePrefix = "lease/"
	metaSeqKey  = "meta/seq"

	DefaultLockTimeout = 10 * time.Second
)

// Lease binds a processing or failed job to the worker that claimed it.
type Lease struct {
	WorkerID    string    `json:"worker_id"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

type Options struct {
	// LockTimeout bounds the wait for the store lock.
	// Zero means DefaultLockTimeout.
	LockTimeout time.Duration
}

type Store struct {
	db          *db.Store
	lock        *semaphore.Weighted
	lockTimeout time.Duration
	now         func() time.Time

	// commitHook runs inside every mutating transaction after all
	// writes are staged. A non-nil error aborts the transaction.
	commitHook func(op string) error
}

// Open opens the badger database in dataDir.
// The returned Store owns the database and closes it on Close.
func Open(dataDir string, opts Options) (*Store, error) {
	dbStore, err := db.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", job.ErrStorageUnavailable, err)
	}
	return New(dbStore, opts), nil
}

func New(dbStore *db.Store, opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Store{
		db:          dbStore,
		lock:        semaphore.NewWeighted(1),
		lockTimeout: opts.LockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds a new job.
func (s *Store) Insert(ctx context.Context, j *job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, "insert", func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(jobPrefix + j.ID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", job.ErrDuplicateID, j.ID)
		case !db.IsNotFound(err):
			return err
		}

		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		if err := putJob(txn, j); err != nil {
			return err
		}
		if err := txn.Set([]byte(orderPrefix+j.ID), encodeSeq(seq)); err != nil {
			return err
		}
		if err := txn.Set([]byte(seqPrefix+seqString(seq)), []byte(j.ID)); err != nil {
			return err
		}
		return txn.Set(stateKey(j.State, seq), []byte(j.ID))
	})
}

// Get returns the job with the given id or job.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (j *job.Job, err error) {
	err = s.view(func(txn *badger.Txn) error {
		j, err = getJob(txn, id)
		return err
	})
	return j, err
}

// List returns the jobs in creation order. With states given,
// only jobs in one of those states are returned.
func (s *Store) List(ctx context.Context, states ...job.State) (jobs []*job.Job, err error) {
	err = s.view(func(txn *badger.Txn) error {
		var prefixes []string
		if len(states) == 0 {
			prefixes = []string{seqPrefix}
		} else {
			for _, st := range states {
				prefixes = append(prefixes, statePrefix+string(st)+"/")
			}
		}

		var refs []indexRef
		for _, prefix := range prefixes {
			r, err := scanIndex(txn, prefix, 0)
			if err != nil {
				return err
			}
			refs = append(refs, r...)
		}
		if len(prefixes) > 1 {
			sortRefs(refs)
		}

		jobs = make([]*job.Job, 0, len(refs))
		for _, ref := range refs {
			j, err := getJob(txn, ref.id)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return nil
	})
	return jobs, err
}

// ClaimNext marks the oldest pending job as processing, leases it to
// workerID and returns it. It returns nil without error if no job is pending.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (claimed *job.Job, err error) {
	err = s.mutate(ctx, "claim", func(txn *badger.Txn) error {
		refs, err := scanIndex(txn, statePrefix+string(job.StatePending)+"/", 1)
		if err != nil || len(refs) == 0 {
			return err
		}
		ref := refs[0]

		j, err := getJob(txn, ref.id)
		if err != nil {
			return err
		}
		if j.State != job.StatePending {
			return fmt.Errorf("index says job %s is pending but record has state %s", j.ID, j.State)
		}

		j.State = job.StateProcessing
		j.UpdatedAt = s.now()
		if err := putJob(txn, j); err != nil {
			return err
		}
		if err := moveState(txn, ref.seq, job.StatePending, job.StateProcessing); err != nil {
			return err
		}
		if err := putLease(txn, j.ID, Lease{WorkerID: workerID, HeartbeatAt: s.now()}); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Save overwrites the stored state of an existing job.
// CreatedAt is immutable and kept from the stored record.
// Leaving the processing and failed states releases the worker lease.
func (s *Store) Save(ctx context.Context, j *job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, "save", func(txn *badger.Txn) error {
		old, err := getJob(txn, j.ID)
		if err != nil {
			return err
		}
		seq, err := getSeq(txn, j.ID)
		if err != nil {
			return err
		}

		j.CreatedAt = old.CreatedAt
		if err := putJob(txn, j); err != nil {
			return err
		}
		if old.State != j.State {
			if err := moveState(txn, seq, old.State, j.State); err != nil {
				return err
			}
		}
		if !j.State.IsLeased() {
			return deleteLease(txn, j.ID)
		}
		return nil
	})
}

// Update loads the job with id, applies fn and saves the result
// in one transaction. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(*job.Job) error) (updated *job.Job, err error) {
	err = s.mutate(ctx, "update", func(txn *badger.Txn) error {
		j, err := getJob(txn, id)
		if err != nil {
			return err
		}
		seq, err := getSeq(txn, id)
		if err != nil {
			return err
		}
		oldState := j.State
		if err := fn(j); err != nil {
			return err
		}
		if err := j.Validate(); err != nil {
			return err
		}
		if err := putJob(txn, j); err != nil {
			return err
		}
		if oldState != j.State {
			if err := moveState(txn, seq, oldState, j.State); err != nil {
				return err
			}
		}
		if !j.State.IsLeased() {
			if err := deleteLease(txn, j.ID); err != nil {
				return err
			}
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Stats returns the number of jobs per state.
// Every state is present in the result, with zero if it has no jobs.
func (s *Store) Stats(ctx context.Context) (stats map[job.State]int, err error) {
	err = s.view(func(txn *badger.Txn) error {
		stats = make(map[job.State]int, len(job.States))
		for _, st := range job.States {
			n, err := countPrefix(txn, statePrefix+string(st)+"/")
			if err != nil {
				return err
			}
			stats[st] = n
		}
		return nil
	})
	return stats, err
}

// Lease returns the lease of a job, or nil if it has none.
func (s *Store) Lease(ctx context.Context, id string) (lease *Lease, err error) {
	err = s.view(func(txn *badger.Txn) error {
		lease, err = getLease(txn, id)
		return err
	})
	return lease, err
}

// Heartbeat renews the leases that workerID holds on the given jobs.
// Leases owned by other workers are left untouched.
func (s *Store) Heartbeat(ctx context.Context, workerID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.mutate(ctx, "heartbeat", func(txn *badger.Txn) error {
		for _, id := range ids {
			lease, err := getLease(txn, id)
			if err != nil {
				return err
			}
			if lease == nil || lease.WorkerID != workerID {
				continue
			}
			lease.HeartbeatAt = s.now()
			if err := putLease(txn, id, *lease); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReapStale returns processing and failed jobs whose lease is missing or
// has not been renewed within olderThan back into circulation.
// Jobs that already used up their attempts go to the dead letter queue,
// all others become pending again.
func (s *Store) ReapStale(ctx context.Context, olderThan time.Duration) (reaped []*job.Job, err error) {
	err = s.mutate(ctx, "reap", func(txn *badger.Txn) error {
		reaped = nil
		deadline := s.now().Add(-olderThan)

		for _, st := range []job.State{job.StateProcessing, job.StateFailed} {
			refs, err := scanIndex(txn, statePrefix+string(st)+"/", 0)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				lease, err := getLease(txn, ref.id)
				if err != nil {
					return err
				}
				if lease != nil && lease.HeartbeatAt.After(deadline) {
					continue
				}

				j, err := getJob(txn, ref.id)
				if err != nil {
					return err
				}
				next := job.StatePending
				if !j.CanRetry() {
					next = job.StateDead
				}
				j.State = next
				j.UpdatedAt = s.now()
				if err := putJob(txn, j); err != nil {
					return err
				}
				if err := moveState(txn, ref.seq, st, next); err != nil {
					return err
				}
				if err := deleteLease(txn, j.ID); err != nil {
					return err
				}
				reaped = append(reaped, j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reaped, nil
}

func (s *Store) mutate(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release(1)

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		if s.commitHook != nil {
			return s.commitHook(op)
		}
		return nil
	})
	return storageError(err)
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	return storageError(s.db.View(fn))
}

func (s *Store) acquire(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.lock.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", job.ErrLockTimeout, s.lockTimeout)
	}
	return nil
}

var passThroughErrors = []error{
	job.ErrDuplicateID,
	job.ErrNotFound,
	job.ErrNotDead,
	job.ErrInvalidJob,
	job.ErrInvalidState,
	job.ErrStorageUnavailable,
	job.ErrLockTimeout,
	context.Canceled,
	context.DeadlineExceeded,
}

// storageError marks everything that is not a domain error
// as job.ErrStorageUnavailable.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passThroughErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", job.ErrStorageUnavailable, err)
}

func getJob(txn *badger.Txn, id string) (*job.Job, error) {
	data, err := db.GetValue(txn, jobPrefix+id)
	if db.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &j, nil
}

func putJob(txn *badger.Txn, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return txn.Set([]byte(jobPrefix+j.ID), data)
}

func getSeq(txn *badger.Txn, id string) (uint64, error) {
	data, err := db.GetValue(txn, orderPrefix+id)
	if err != nil {
		return 0, fmt.Errorf("read insertion order of job %s: %w", id, err)
	}
	return decodeSeq(data)
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	var last uint64
	data, err := db.GetValue(txn, metaSeqKey)
	switch {
	case err == nil:
		last, err = decodeSeq(data)
		if err != nil {
			return 0, err
		}
	case !db.IsNotFound(err):
		return 0, err
	}
	next := last + 1
	return next, txn.Set([]byte(metaSeqKey), encodeSeq(next))
}

func moveState(txn *badger.Txn, seq uint64, from, to job.State) error {
	if err := txn.Delete(stateKey(from, seq)); err != nil {
		return err
	}
	id, err := idForSeq(txn, seq)
	if err != nil {
		return err
	}
	return txn.Set(stateKey(to, seq), []byte(id))
}

func idForSeq(txn *badger.Txn, seq uint64) (string, error) {
	data, err := db.GetValue(txn, seqPrefix+seqString(seq))
	if err != nil {
		return "", fmt.Errorf("read creation index %d: %w", seq, err)
	}
	return string(data), nil
}

func getLease(txn *badger.Txn, id string) (*Lease, error) {
	data, err := db.GetValue(txn, leasePrefix+id)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("unmarshal lease of job %s: %w", id, err)
	}
	return &lease, nil
}

func putLease(txn *badger.Txn, id string, lease Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	return txn.Set([]byte(leasePrefix+id), data)
}

func deleteLease(txn *badger.Txn, id string) error {
	return txn.Delete([]byte(leasePrefix + id))
}

func stateKey(st job.State, seq uint64) []byte {
	return []byte(statePrefix + string(st) + "/" + seqString(seq))
}

func seqString(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid sequence value of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
