package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/queuectl/queuectl/internal/api"
	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/jobstore"
	"github.com/queuectl/queuectl/internal/queue"
)

// backend is what the client commands need, served either by a local
// store or by the API of a running worker daemon.
type backend interface {
	api.Queue
}

// remoteBackend is implemented by api.Client and adds worker details.
type remoteBackend interface {
	backend
	FullStats(ctx context.Context) (*api.StatsResponse, error)
}

// openBackend uses the daemon if one is running, since it holds the
// store exclusively, and opens the store directly otherwise.
func (a *app) openBackend(ctx context.Context) (backend, func(), error) {
	if client := a.daemonClient(ctx); client != nil {
		return client, func() {}, nil
	}

	store, err := jobstore.Open(a.cfg.DataDir, jobstore.Options{LockTimeout: a.cfg.LockTimeout()})
	if err != nil {
		if errors.Is(err, job.ErrStorageUnavailable) {
			return nil, nil, fmt.Errorf("%w (is another queuectl process using %s?)", err, a.cfg.DataDir)
		}
		return nil, nil, err
	}
	q := queue.New(store, queue.Options{DefaultMaxRetries: a.cfg.MaxRetries})
	return q, func() { store.Close() }, nil
}

// daemonClient returns a client for the running worker daemon or nil.
func (a *app) daemonClient(ctx context.Context) *api.Client {
	pf, err := readPIDFile(a.cfg.PIDFile())
	if err != nil || !processAlive(pf.PID) {
		return nil
	}
	client := api.NewClient(pf.Addr)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		return nil
	}
	return client
}
