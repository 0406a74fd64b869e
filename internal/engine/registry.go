package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/trawler-io/trawler/internal/model"
)

// Registry is the authoritative in-memory store of jobs. Admission checks the
// tenant's concurrency cap and creates the job inside one critical section, so
// two concurrent creates cannot both observe spare capacity.
type Registry struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	outputRoot string
	defaultCap int
}

// NewRegistry creates an empty registry rooted at outputRoot. defaultCap is
// the per-tenant concurrency cap used when a tenant's config does not set one.
func NewRegistry(outputRoot string, defaultCap int) *Registry {
	return &Registry{
		jobs:       make(map[string]*Job),
		outputRoot: outputRoot,
		defaultCap: defaultCap,
	}
}

// Create admits a new pending job for the tenant, allocating its id and
// isolated output directory. It returns a ResourceExhaustedError when the
// tenant's active-job count has reached cap (or the registry default if cap is
// zero).
func (r *Registry) Create(tenantID string, cap int) (*Job, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if cap <= 0 {
		cap = r.defaultCap
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.activeCountLocked(tenantID)
	if current >= cap {
		return nil, &ResourceExhaustedError{TenantID: tenantID, Cap: cap, Current: current}
	}

	id := model.NewID()
	dir := filepath.Join(r.outputRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	job := newJob(id, tenantID, dir)
	r.jobs[id] = job
	return job, nil
}

// Get returns the job with the given id or ErrNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns all jobs in the registry.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

// ListByTenant returns all of a tenant's jobs.
func (r *Registry) ListByTenant(tenantID string) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Job
	for _, job := range r.jobs {
		if job.TenantID() == tenantID {
			out = append(out, job)
		}
	}
	return out
}

// Remove deletes a job from the registry. The caller must guarantee the job
// is terminal and its process handle already cleared.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// ActiveCount returns the number of the tenant's jobs counting against its cap.
func (r *Registry) ActiveCount(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCountLocked(tenantID)
}

func (r *Registry) activeCountLocked(tenantID string) int {
	n := 0
	for _, job := range r.jobs {
		if job.TenantID() == tenantID && model.IsActive(job.Status()) {
			n++
		}
	}
	return n
}

// ActiveTotal returns the number of active jobs across all tenants.
func (r *Registry) ActiveTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, job := range r.jobs {
		if model.IsActive(job.Status()) {
			n++
		}
	}
	return n
}
