package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/pool"
	"github.com/queuectl/queuectl/internal/queue"
	"github.com/queuectl/queuectl/internal/worker"
)

var startTime = time.Now()

// Queue is the part of queue.Service the API serves.
type Queue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, states ...job.State) ([]*job.Job, error)
	DeadLetters(ctx context.Context) ([]*job.Job, error)
	Stats(ctx context.Context) (map[job.State]int, error)
	RequeueFromDead(ctx context.Context, id string) (*job.Job, error)
}

// Workers reports the running workers. It is implemented by pool.Pool.
type Workers interface {
	WorkerStats() []worker.Stats
	WorkerCounts() pool.RegistryStats
}

type Handlers struct {
	queue   Queue
	workers Workers
}

func NewHandlers(q Queue, workers Workers) *Handlers {
	return &Handlers{queue: q, workers: workers}
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Jobs          map[job.State]int `json:"jobs"`
	Workers       WorkerCounts      `json:"workers"`
	UptimeSeconds int               `json:"uptime_seconds"`
}

type WorkerCounts struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
	Busy   int `json:"busy"`
}

type JobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int        `json:"total"`
}

type WorkersResponse struct {
	Workers []worker.Stats `json:"workers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var counts WorkerCounts
	if h.workers != nil {
		rs := h.workers.WorkerCounts()
		counts = WorkerCounts{Active: rs.Running, Idle: rs.Idle, Busy: rs.Busy}
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Jobs:          stats,
		Workers:       counts,
		UptimeSeconds: int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	j, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	var states []job.State
	if s := r.URL.Query().Get("state"); s != "" {
		state, err := job.ParseState(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		states = append(states, state)
	}

	jobs, err := h.queue.List(r.Context(), states...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJobs(w, jobs)
}

func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.DeadLetters(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJobs(w, jobs)
}

func (h *Handlers) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	j, err := h.queue.RequeueFromDead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WorkersResponse{Workers: h.workerStats()})
}

func (h *Handlers) workerStats() []worker.Stats {
	if h.workers == nil {
		return []worker.Stats{}
	}
	stats := h.workers.WorkerStats()
	if stats == nil {
		stats = []worker.Stats{}
	}
	return stats
}

func writeJobs(w http.ResponseWriter, jobs []*job.Job) {
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Total: len(jobs)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
