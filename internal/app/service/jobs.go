package service

import (
	"context"

	"contest_judge/internal/domain/model"
	"contest_judge/internal/platform/queue"
)

// JobQueue is the part of the queue the services enqueue through.
type JobQueue interface {
	Enqueue(ctx context.Context, lane, name string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
	Cancel(ctx context.Context, lane, jobID string) (bool, error)
	Get(ctx context.Context, lane, jobID string) (*queue.Job, error)
}

// enqueueJob routes a job variant to its lane under its dedup id.
func enqueueJob(ctx context.Context, q JobQueue, job model.Job, opts queue.EnqueueOptions) (queue.EnqueueResult, error) {
	opts.JobID = job.JobID()
	return q.Enqueue(ctx, job.Lane(), job.JobName(), job, opts)
}
