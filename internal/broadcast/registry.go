package broadcast

import "sync"

// Registry is the process-wide job table: id -> Job. The registry mutex only
// guards the map; each Job carries its own counter lock. Lock order is always
// registry -> job, never the reverse.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]*Job{}}
}

// Create registers a job. IDs are caller-generated (UUID) and must be unique.
func (r *Registry) Create(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.id]; exists {
		return ErrDuplicateID
	}
	r.jobs[j.id] = j
	return nil
}

// Get returns the live job. An unknown id is a distinct NotFound outcome,
// never a zeroed job.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok || j == nil {
		return nil, ErrNotFound
	}
	return j, nil
}

// List snapshots every registered job. Order is unspecified.
func (r *Registry) List() []Status {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	r.mu.RUnlock()

	// Snapshot outside the registry lock; job locks are cheap and per-entry.
	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
