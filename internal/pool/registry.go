package pool

import (
	"slices"
	"sync"

	"github.com/queuectl/queuectl/internal/worker"
)

// RegistryStats counts the registered workers.
type RegistryStats struct {
	Running int `json:"running"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
}

// Registry tracks the running workers of a pool.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*worker.Worker
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*worker.Worker),
	}
}

func (r *Registry) Add(w *worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID()] = w
	log.Debug("Worker registered").Str("workerID", w.ID()).Int("total", len(r.workers)).Log()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
	log.Debug("Worker unregistered").Str("workerID", id).Int("total", len(r.workers)).Log()
}

// List returns the workers sorted by id.
func (r *Registry) List() []*worker.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*worker.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		list = append(list, w)
	}
	slices.SortFunc(list, func(a, b *worker.Worker) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle, busy int
	for _, w := range r.workers {
		if w.CurrentJobID() == "" {
			idle++
		} else {
			busy++
		}
	}

	return RegistryStats{
		Running: len(r.workers),
		Idle:    idle,
		Busy:    busy,
	}
}
