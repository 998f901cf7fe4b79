package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RunningJob is the transient in-memory record of an execution in flight.
// Never persisted: it exists from registration until the executing
// goroutine terminates, on every path.
type RunningJob struct {
	ID          uuid.UUID
	Cancel      context.CancelFunc
	ArchivePath string
	ExtractDir  string

	done chan struct{}
}

// Done is closed when the job's goroutine has fully terminated, including
// cleanup.
func (r *RunningJob) Done() <-chan struct{} {
	return r.done
}

// Registry tracks in-flight jobs by id. Entries are inserted by the
// controller before the execution goroutine starts and removed
// unconditionally when it ends, so the map can never leak terminated jobs.
type Registry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*RunningJob
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*RunningJob)}
}

// Add registers a job. Returns false when the id is already running.
func (r *Registry) Add(job *RunningJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return false
	}
	job.done = make(chan struct{})
	r.jobs[job.ID] = job
	return true
}

// Remove drops the entry and closes its Done channel.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if ok {
		close(job.done)
	}
}

// Get returns the running entry for id, if any.
func (r *Registry) Get(id uuid.UUID) (*RunningJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Cancel fires the job's cancellation signal. Returns false when the id is
// not running.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

// CancelAll fires every running job's cancellation signal.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	jobs := make([]*RunningJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.Cancel()
	}
}

// Len reports how many executions are in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
