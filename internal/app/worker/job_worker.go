package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"contest_judge/internal/domain/model"
	"contest_judge/internal/platform/queue"

	"github.com/sirupsen/logrus"
)

// Queue is the part of the job queue the worker consumes and feeds.
type Queue interface {
	Enqueue(ctx context.Context, lane, name string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
	Process(ctx context.Context, lane string, concurrency int, handler queue.HandlerFunc)
}

type Evaluator interface {
	Dispatch(ctx context.Context, submissionID string) error
	HandleTimeout(ctx context.Context, submissionID string) error
}

type LeaderboardSyncer interface {
	ResyncCompetition(ctx context.Context, competitionID string) error
}

type HistoryGenerator interface {
	Regenerate(ctx context.Context, competitionID string, teamIDs []string) error
	Trigger(ctx context.Context, competitionID string, teamIDs []string) error
}

type ActiveCompetitions interface {
	ListActiveCompetitionIDs(ctx context.Context, since time.Time) ([]string, error)
}

// recentlyEnded is how long after its end a competition keeps being synced.
const recentlyEnded = 24 * time.Hour

// JobWorker runs the handlers of every lane.
type JobWorker struct {
	queue        Queue
	evaluator    Evaluator
	leaderboard  LeaderboardSyncer
	history      HistoryGenerator
	competitions ActiveCompetitions
	concurrency  map[string]int
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewJobWorker(
	q Queue,
	evaluator Evaluator,
	leaderboard LeaderboardSyncer,
	history HistoryGenerator,
	competitions ActiveCompetitions,
	concurrency map[string]int,
	log logrus.FieldLogger,
) *JobWorker {
	return &JobWorker{
		queue:        q,
		evaluator:    evaluator,
		leaderboard:  leaderboard,
		history:      history,
		competitions: competitions,
		concurrency:  concurrency,
		log:          log,
		now:          time.Now,
	}
}

// Start launches one consumer per lane and the periodic sync scheduler.
// They stop when ctx is cancelled; wg is released as each one exits.
func (w *JobWorker) Start(ctx context.Context, wg *sync.WaitGroup, syncInterval time.Duration) {
	for _, lane := range model.Lanes {
		n := w.concurrency[lane]
		if n < 1 {
			n = 1
		}
		wg.Add(1)
		go func(lane string, n int) {
			defer wg.Done()
			w.log.WithFields(logrus.Fields{"lane": lane, "concurrency": n}).Info("job worker started")
			w.queue.Process(ctx, lane, n, w.Handle)
			w.log.WithField("lane", lane).Info("job worker stopped")
		}(lane, n)
	}

	if syncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.schedulePeriodicSync(ctx, syncInterval)
		}()
	}
}

// Handle decodes a queued job and routes it to its handler.
func (w *JobWorker) Handle(ctx context.Context, job *queue.Job) error {
	log := w.log.WithFields(logrus.Fields{"lane": job.Lane, "job": job.Name, "job_id": job.ID, "attempt": job.Attempt})

	decoded, err := model.DecodeJob(job.Name, job.Payload)
	if err != nil {
		// Retrying cannot fix a payload, so it is dropped.
		log.WithError(err).Error("dropping undecodable job")
		return nil
	}

	switch j := decoded.(type) {
	case model.EvaluateJob:
		return w.evaluator.Dispatch(ctx, j.SubmissionID)
	case model.TimeoutCheckJob:
		return w.evaluator.HandleTimeout(ctx, j.SubmissionID)
	case model.SyncLeaderboardJob:
		return w.leaderboard.ResyncCompetition(ctx, j.CompetitionID)
	case model.PeriodicSyncJob:
		return w.periodicSync(ctx)
	case model.GenerateHistoryJob:
		return w.history.Regenerate(ctx, j.CompetitionID, j.TeamIDs)
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownJob, decoded)
	}
}

// periodicSync queues a resync and a full history run for every competition
// that is running or ended recently.
func (w *JobWorker) periodicSync(ctx context.Context) error {
	ids, err := w.competitions.ListActiveCompetitionIDs(ctx, w.now().Add(-recentlyEnded))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := enqueue(ctx, w.queue, model.SyncLeaderboardJob{CompetitionID: id}, queue.EnqueueOptions{Rerun: true}); err != nil {
			return err
		}
		if err := w.history.Trigger(ctx, id, nil); err != nil {
			return err
		}
	}
	w.log.WithField("competitions", len(ids)).Info("periodic leaderboard sync queued")
	return nil
}

func (w *JobWorker) schedulePeriodicSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.requestPeriodicSync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.requestPeriodicSync(ctx)
		}
	}
}

func (w *JobWorker) requestPeriodicSync(ctx context.Context) {
	if err := enqueue(ctx, w.queue, model.PeriodicSyncJob{}, queue.EnqueueOptions{}); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("failed to queue periodic sync")
	}
}

func enqueue(ctx context.Context, q Queue, job model.Job, opts queue.EnqueueOptions) error {
	opts.JobID = job.JobID()
	if _, err := q.Enqueue(ctx, job.Lane(), job.JobName(), job, opts); err != nil {
		return fmt.Errorf("failed to queue %s: %w", job.JobName(), err)
	}
	return nil
}
