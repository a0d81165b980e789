package cron

import (
	"context"
	"slices"
)

// Job is one unit of work run on every cycle the lock is held.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order, one per name.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register ignores nil. A job whose name is already taken replaces the
// earlier one in place.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	idx := slices.IndexFunc(r.jobs, func(j Job) bool { return j.Name() == job.Name() })
	if idx >= 0 {
		r.jobs[idx] = job
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy.
func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}
