package retention

import "fmt"

// Registry keeps jobs in registration order.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register adds job. Job names must be unique since they label metrics.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if _, ok := r.names[job.Name()]; ok {
		return fmt.Errorf("job %q already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
