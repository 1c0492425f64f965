// Package app wires configuration, storage, queue and services together for
// the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"contest_judge/internal/api"
	"contest_judge/internal/app/service"
	"contest_judge/internal/app/worker"
	"contest_judge/internal/common/security"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"
	"contest_judge/internal/platform/blobstore"
	"contest_judge/internal/platform/cache"
	"contest_judge/internal/platform/config"
	"contest_judge/internal/platform/database"
	"contest_judge/internal/platform/queue"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const txRetries = 3

type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Services api.Services
	Tokens   *security.Tokens

	db     *sql.DB
	rdb    *redis.Client
	worker *worker.JobWorker
	wg     sync.WaitGroup
}

// New connects to Postgres and Redis, applies migrations and builds every
// service. Close releases the connections.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	db, err := database.Connect(ctx, cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("database connected and migrated")

	rdb, err := queue.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("redis connected")

	blobs, err := blobstore.NewDiskStore(cfg.BlobDir, cfg.BlobPublicBaseURL)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a := &App{Config: cfg, Log: log, db: db, rdb: rdb, Tokens: security.NewTokens(cfg.JWTKey, cfg.JWTTTL)}

	tx := database.NewTransactor(db, txRetries, log.WithField("component", "transactor"))
	submissions := repository.NewPgSubmissionRepository(db)
	problems := repository.NewPgProblemRepository(db)
	competitions := repository.NewPgCompetitionRepository(db)
	leaderboards := repository.NewPgLeaderboardRepository(db)
	history := repository.NewPgHistoryRepository(db)
	cdks := repository.NewPgCdkRepository(db)
	nodes := repository.NewPgEvaluateNodeRepository(db)

	jobs := queue.New(rdb, queue.Options{
		Prefix:          cfg.QueuePrefix,
		DefaultAttempts: cfg.JobAttempts,
		DefaultBackoff:  cfg.JobBackoff,
		LockDuration:    cfg.JobLockDuration,
	}, log.WithField("component", "queue"))
	standings := cache.NewLeaderboardCache(rdb, cfg.QueuePrefix, cfg.LeaderboardCacheTTL)

	leaderboardSvc := service.NewLeaderboardService(tx, leaderboards, submissions, competitions, standingsCache(standings),
		log.WithField("component", "leaderboard"))
	historySvc := service.NewHistoryService(tx, history, submissions, competitions, jobs,
		cfg.HistorySampleGap, cfg.HistoryDebounce, log.WithField("component", "history"))
	evaluationSvc := service.NewEvaluationService(submissions, nodes, blobs, worker.NewHTTPJudgeClient(cfg.JudgeRequestTimeout), jobs,
		cfg.CallbackURL, cfg.EvaluationTimeout, log.WithField("component", "evaluation"))

	a.Services = api.Services{
		Callbacks: service.NewCallbackService(submissions, nodes, security.NewVerifier(cfg.CallbackTolerance),
			leaderboardSvc, historySvc, jobs, cfg.CallbackGlobalSecret, log.WithField("component", "callback")),
		Evaluations: evaluationSvc,
		Submissions: service.NewSubmissionService(submissions, problems, competitions, blobs, evaluationSvc,
			log.WithField("component", "submission")),
		Leaderboard: leaderboardSvc,
		History:     historySvc,
		Cdks:        service.NewCdkService(tx, cdks, competitions, cfg.CdkClaimRetries, log.WithField("component", "cdk")),
		Jobs:        jobs,
		Blobs:       blobs,
	}

	a.worker = worker.NewJobWorker(jobs, evaluationSvc, leaderboardSvc, historySvc, competitions, map[string]int{
		model.LaneEvaluation:      cfg.EvaluationConcurrency,
		model.LaneWatchdog:        cfg.WatchdogConcurrency,
		model.LaneLeaderboardSync: cfg.LeaderboardSyncConcurrency,
		model.LaneHistory:         cfg.HistoryConcurrency,
	}, log.WithField("component", "worker"))
	return a, nil
}

// standingsCache keeps a disabled cache from becoming a non-nil interface.
func standingsCache(c *cache.LeaderboardCache) service.StandingsCache {
	if c == nil {
		return nil
	}
	return c
}

// StartWorkers runs the lane consumers and the periodic sync until ctx ends.
func (a *App) StartWorkers(ctx context.Context) {
	a.worker.Start(ctx, &a.wg, a.Config.LeaderboardSyncInterval)
}

// Wait blocks until every worker started by StartWorkers has returned.
func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) Close() {
	if err := a.rdb.Close(); err != nil {
		a.Log.WithError(err).Warn("closing redis")
	}
	if err := a.db.Close(); err != nil {
		a.Log.WithError(err).Warn("closing database")
	}
}
