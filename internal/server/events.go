package server

import (
	"sync"

	"gachavault/internal/core"
	"gachavault/internal/orchestrator"
)

// pullJob tracks one asynchronous pull: its progress stream and, once the
// pull finishes, its outcome. The events channel is closed by finish, which
// is the subscriber's signal to read the outcome.
type pullJob struct {
	events chan core.Progress

	mu     sync.Mutex
	result *orchestrator.Result
	err    error
}

func newPullJob() *pullJob {
	return &pullJob{events: make(chan core.Progress, 64)}
}

// Emit implements core.ProgressSink. A subscriber that stopped draining must
// not stall the pull, so a full buffer drops the event; the terminal outcome
// is delivered out of band and never lost.
func (j *pullJob) Emit(event core.Progress) {
	select {
	case j.events <- event:
	default:
	}
}

func (j *pullJob) finish(result *orchestrator.Result, err error) {
	j.mu.Lock()
	j.result = result
	j.err = err
	j.mu.Unlock()
	close(j.events)
}

func (j *pullJob) outcome() (*orchestrator.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// jobRegistry maps progress channel ids to running pulls.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*pullJob
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*pullJob)}
}

func (r *jobRegistry) add(id string, job *pullJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = job
}

func (r *jobRegistry) get(id string) (*pullJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *jobRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}
