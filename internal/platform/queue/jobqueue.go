package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrJobNotFound = errors.New("queue: job not found")

type State string

const (
	StateWaiting State = "waiting"
	StateDelayed State = "delayed"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

// EnqueueResult tells the caller what happened to a job id.
type EnqueueResult int

const (
	// Duplicate means a live job with the same id already existed and was left untouched.
	Duplicate EnqueueResult = iota
	Added
	// Replaced means a waiting or delayed job had its payload overwritten.
	Replaced
	// Deferred means the job is running and one more run with the new
	// payload will follow it.
	Deferred
)

func (r EnqueueResult) String() string {
	switch r {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Deferred:
		return "deferred"
	default:
		return "duplicate"
	}
}

type EnqueueOptions struct {
	// JobID deduplicates: while a job with this id is waiting, delayed or
	// active, further enqueues are no-ops. Empty means a random id.
	JobID    string
	Delay    time.Duration
	Attempts int
	Backoff  time.Duration
	// Replace overwrites the payload of a job that has not started yet. For
	// a running job the payload is kept for a single follow-up run.
	Replace bool
	// Rerun queues a single follow-up run when the job is already running.
	// Later enqueues overwrite the follow-up payload.
	Rerun bool
}

type Job struct {
	ID          string
	Lane        string
	Name        string
	Payload     json.RawMessage
	// NextPayload is the follow-up run queued while the job was active.
	NextPayload json.RawMessage
	Attempt     int
	MaxAttempts int
	Backoff     time.Duration
	State       State
	LastError   string
	CreatedAt   time.Time
	FailedAt    time.Time

	token string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// HandlerFunc processes one job. A returned error schedules a retry with
// exponential backoff until the attempt budget is spent.
type HandlerFunc func(ctx context.Context, job *Job) error

type Options struct {
	Prefix          string
	DefaultAttempts int
	DefaultBackoff  time.Duration
	LockDuration    time.Duration
	PollTimeout     time.Duration
	PromoteInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "queue"
	}
	if o.DefaultAttempts < 1 {
		o.DefaultAttempts = 1
	}
	if o.DefaultBackoff <= 0 {
		o.DefaultBackoff = time.Second
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Second
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
}

const maxBackoff = time.Hour

// Queue is a Redis backed job queue with named lanes. Each lane has a FIFO
// wait list, an active list guarded by per-job locks, a delayed set and a
// failed set kept for inspection.
type Queue struct {
	rdb  *redis.Client
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(rdb *redis.Client, opts Options, log logrus.FieldLogger) *Queue {
	opts.setDefaults()
	return &Queue{rdb: rdb, opts: opts, log: log, now: time.Now}
}

type laneKeys struct {
	base    string
	wait    string
	active  string
	delayed string
	failed  string
	stalled string
}

func (q *Queue) keys(lane string) laneKeys {
	base := q.opts.Prefix + ":" + slug.Make(lane)
	return laneKeys{
		base:    base,
		wait:    base + ":wait",
		active:  base + ":active",
		delayed: base + ":delayed",
		failed:  base + ":failed",
		stalled: base + ":stalled",
	}
}

func (k laneKeys) jobPrefix() string     { return k.base + ":job:" }
func (k laneKeys) lockPrefix() string    { return k.base + ":lock:" }
func (k laneKeys) job(id string) string  { return k.jobPrefix() + id }
func (k laneKeys) lock(id string) string { return k.lockPrefix() + id }

func (q *Queue) Enqueue(ctx context.Context, lane, name string, payload any, opts EnqueueOptions) (EnqueueResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Duplicate, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	if opts.JobID == "" {
		opts.JobID = uuid.NewString()
	}
	if opts.Attempts < 1 {
		opts.Attempts = q.opts.DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = q.opts.DefaultBackoff
	}

	now := q.now()
	readyAt := "0"
	if opts.Delay > 0 {
		readyAt = strconv.FormatInt(now.Add(opts.Delay).UnixMilli(), 10)
	}
	replace, rerun := "0", "0"
	if opts.Replace {
		replace = "1"
	}
	if opts.Rerun {
		rerun = "1"
	}

	k := q.keys(lane)
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{k.job(opts.JobID), k.wait, k.delayed, k.failed},
		opts.JobID, name, string(body), opts.Attempts, opts.Backoff.Milliseconds(),
		readyAt, now.UnixMilli(), replace, rerun,
	).Int()
	if err != nil {
		return Duplicate, fmt.Errorf("failed to enqueue %s job %s: %w", name, opts.JobID, err)
	}

	result := Duplicate
	switch res {
	case 1:
		result = Added
	case 2:
		result = Replaced
	case 3:
		result = Deferred
	}
	q.log.WithFields(logrus.Fields{
		"lane":   lane,
		"job":    name,
		"job_id": opts.JobID,
		"delay":  opts.Delay,
		"result": result.String(),
	}).Debug("job enqueued")
	return result, nil
}

// Cancel removes a job that has not started. It reports false when the job
// is unknown, running or already failed.
func (q *Queue) Cancel(ctx context.Context, lane, jobID string) (bool, error) {
	k := q.keys(lane)
	n, err := cancelScript.Run(ctx, q.rdb, []string{k.job(jobID), k.wait, k.delayed}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return n == 1, nil
}

func (q *Queue) Get(ctx context.Context, lane, jobID string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.keys(lane).job(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(lane, jobID, fields), nil
}

// Failed lists jobs that exhausted their attempts, most recent first.
func (q *Queue) Failed(ctx context.Context, lane string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	k := q.keys(lane)
	ids, err := q.rdb.ZRevRange(ctx, k.failed, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, k.job(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load failed jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for i, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			jobs = append(jobs, jobFromHash(lane, ids[i], fields))
		}
	}
	return jobs, nil
}

// RetryFailed moves a failed job back to the wait list with a fresh attempt budget.
func (q *Queue) RetryFailed(ctx context.Context, lane, jobID string) (bool, error) {
	k := q.keys(lane)
	n, err := retryFailedScript.Run(ctx, q.rdb, []string{k.job(jobID), k.wait, k.failed}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}
	return n == 1, nil
}

type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context, lane string) (Counts, error) {
	k := q.keys(lane)
	var wait, active *redis.IntCmd
	var delayed, failed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, k.wait)
		active = p.LLen(ctx, k.active)
		delayed = p.ZCard(ctx, k.delayed)
		failed = p.ZCard(ctx, k.failed)
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	return Counts{Waiting: wait.Val(), Active: active.Val(), Delayed: delayed.Val(), Failed: failed.Val()}, nil
}

// Process consumes a lane with the given number of workers until ctx is
// cancelled. It returns after every in-flight job has finished.
func (q *Queue) Process(ctx context.Context, lane string, concurrency int, handler HandlerFunc) {
	if concurrency < 1 {
		concurrency = 1
	}
	log := q.log.WithField("lane", lane)
	log.WithField("concurrency", concurrency).Info("queue consumer started")

	var wg sync.WaitGroup
	wg.Add(concurrency + 1)
	go func() {
		defer wg.Done()
		q.maintain(ctx, lane)
	}()
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			q.work(ctx, lane, handler)
		}()
	}
	wg.Wait()
	log.Info("queue consumer stopped")
}

func (q *Queue) maintain(ctx context.Context, lane string) {
	log := q.log.WithField("lane", lane)
	promote := time.NewTicker(q.opts.PromoteInterval)
	defer promote.Stop()
	stalled := time.NewTicker(q.opts.LockDuration)
	defer stalled.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if _, err := q.promoteDelayed(ctx, lane); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("failed to promote delayed jobs")
			}
		case <-stalled.C:
			n, err := q.requeueStalled(ctx, lane)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("failed to check stalled jobs")
			} else if n > 0 {
				log.WithField("count", n).Warn("requeued stalled jobs")
			}
		}
	}
}

func (q *Queue) promoteDelayed(ctx context.Context, lane string) (int, error) {
	k := q.keys(lane)
	return promoteScript.Run(ctx, q.rdb, []string{k.delayed, k.wait},
		q.now().UnixMilli(), k.jobPrefix(), 1000,
	).Int()
}

func (q *Queue) requeueStalled(ctx context.Context, lane string) (int, error) {
	k := q.keys(lane)
	return stalledScript.Run(ctx, q.rdb, []string{k.active, k.stalled, k.wait},
		k.lockPrefix(), k.jobPrefix(),
	).Int()
}

func (q *Queue) work(ctx context.Context, lane string, handler HandlerFunc) {
	log := q.log.WithField("lane", lane)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := q.fetch(ctx, lane)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("failed to fetch job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		q.run(ctx, job, handler)
	}
}

// fetch blocks up to PollTimeout for the next job. A nil job with a nil
// error means nothing was ready.
func (q *Queue) fetch(ctx context.Context, lane string) (*Job, error) {
	k := q.keys(lane)
	id, err := q.rdb.BRPopLPush(ctx, k.wait, k.active, q.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.start(ctx, lane, id)
}

func (q *Queue) start(ctx context.Context, lane, id string) (*Job, error) {
	k := q.keys(lane)
	token := uuid.NewString()
	res, err := startScript.Run(ctx, q.rdb,
		[]string{k.job(id), k.lock(id), k.stalled, k.active},
		id, token, q.opts.LockDuration.Milliseconds(), q.now().UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		// cancelled between pop and start
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start job %s: %w", id, err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	job := jobFromHash(lane, id, fields)
	job.token = token
	return job, nil
}

func (q *Queue) run(ctx context.Context, job *Job, handler HandlerFunc) {
	log := q.log.WithFields(logrus.Fields{
		"lane":    job.Lane,
		"job":     job.Name,
		"job_id":  job.ID,
		"attempt": job.Attempt,
	})

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go q.heartbeat(hbCtx, job)
	err := invoke(ctx, job, handler)
	stopHeartbeat()

	// Bookkeeping must land even when shutdown cancelled the handler.
	bookCtx := context.WithoutCancel(ctx)
	if err == nil {
		rearmed, err := q.complete(bookCtx, job)
		if err != nil {
			log.WithError(err).Error("failed to mark job complete")
		} else if rearmed {
			log.Debug("job completed, follow-up run queued")
		}
		return
	}

	outcome, ferr := q.fail(bookCtx, job, err)
	if ferr != nil {
		log.WithError(ferr).Error("failed to record job failure")
		return
	}
	switch outcome {
	case failRetry:
		log.WithError(err).Warn("job failed, retry scheduled")
	case failSuperseded:
		log.WithError(err).Warn("job failed, follow-up run queued")
	default:
		log.WithError(err).Error("job failed permanently")
	}
}

func invoke(ctx context.Context, job *Job, handler HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) heartbeat(ctx context.Context, job *Job) {
	k := q.keys(job.Lane)
	ticker := time.NewTicker(q.opts.LockDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := extendLockScript.Run(ctx, q.rdb, []string{k.lock(job.ID)},
				job.token, q.opts.LockDuration.Milliseconds()).Err()
			if err != nil && ctx.Err() == nil {
				q.log.WithError(err).WithField("job_id", job.ID).Warn("failed to extend job lock")
			}
		}
	}
}

// complete removes a finished job. It reports true when a follow-up run was
// queued in its place.
func (q *Queue) complete(ctx context.Context, job *Job) (bool, error) {
	k := q.keys(job.Lane)
	n, err := completeScript.Run(ctx, q.rdb,
		[]string{k.active, k.job(job.ID), k.lock(job.ID), k.wait, k.delayed},
		job.ID, job.token, q.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("lock for job %s was lost before completion", job.ID)
	}
	return n == 2, nil
}

type failOutcome int

const (
	failRetry failOutcome = iota + 1
	failFinal
	failSuperseded
)

func (q *Queue) fail(ctx context.Context, job *Job, cause error) (failOutcome, error) {
	k := q.keys(job.Lane)
	now := q.now()
	retry := job.Attempt < job.MaxAttempts
	retryFlag := "0"
	readyAt := now
	if retry {
		retryFlag = "1"
		readyAt = now.Add(backoffDelay(job.Backoff, job.Attempt))
	}

	n, err := failScript.Run(ctx, q.rdb,
		[]string{k.active, k.job(job.ID), k.lock(job.ID), k.delayed, k.failed, k.wait},
		job.ID, job.token, now.UnixMilli(), cause.Error(), retryFlag, readyAt.UnixMilli(),
	).Int()
	if err != nil {
		return 0, err
	}
	if n == -1 {
		return 0, fmt.Errorf("lock for job %s was lost before failure was recorded", job.ID)
	}
	return failOutcome(n), nil
}

// backoffDelay doubles base for every attempt already spent.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func jobFromHash(lane, id string, fields map[string]string) *Job {
	job := &Job{
		ID:        id,
		Lane:      lane,
		Name:      fields["name"],
		Payload:   json.RawMessage(fields["payload"]),
		State:     State(fields["state"]),
		LastError: fields["lastError"],
	}
	if next, ok := fields["nextPayload"]; ok {
		job.NextPayload = json.RawMessage(next)
	}
	job.Attempt, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["maxAttempts"])
	if ms, err := strconv.ParseInt(fields["backoffMs"], 10, 64); err == nil {
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["failedAt"], 10, 64); err == nil {
		job.FailedAt = time.UnixMilli(ms)
	}
	return job
}
