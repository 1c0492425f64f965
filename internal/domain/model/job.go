package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	LaneEvaluation      = "evaluation"
	LaneWatchdog        = "watchdog"
	LaneLeaderboardSync = "leaderboard-sync"
	LaneHistory         = "history"
)

// Lanes lists every lane a worker consumes.
var Lanes = []string{LaneEvaluation, LaneWatchdog, LaneLeaderboardSync, LaneHistory}

const (
	JobEvaluate        = "evaluate"
	JobTimeoutCheck    = "timeout-check"
	JobSyncLeaderboard = "sync-leaderboard"
	JobPeriodicSync    = "periodic-sync"
	JobGenerateHistory = "generate-history"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is one of the queued job variants. The set is closed: EvaluateJob,
// TimeoutCheckJob, SyncLeaderboardJob, PeriodicSyncJob, GenerateHistoryJob.
type Job interface {
	JobName() string
	Lane() string
	// JobID is the dedup key within the lane.
	JobID() string
	validate() error
}

type EvaluateJob struct {
	SubmissionID string `json:"submissionId"`
}

func (EvaluateJob) JobName() string   { return JobEvaluate }
func (EvaluateJob) Lane() string      { return LaneEvaluation }
func (j EvaluateJob) JobID() string   { return j.SubmissionID }
func (j EvaluateJob) validate() error { return requireID("submissionId", j.SubmissionID) }

type TimeoutCheckJob struct {
	SubmissionID string `json:"submissionId"`
}

func (TimeoutCheckJob) JobName() string   { return JobTimeoutCheck }
func (TimeoutCheckJob) Lane() string      { return LaneWatchdog }
func (j TimeoutCheckJob) JobID() string   { return j.SubmissionID }
func (j TimeoutCheckJob) validate() error { return requireID("submissionId", j.SubmissionID) }

type SyncLeaderboardJob struct {
	CompetitionID string `json:"competitionId"`
}

func (SyncLeaderboardJob) JobName() string   { return JobSyncLeaderboard }
func (SyncLeaderboardJob) Lane() string      { return LaneLeaderboardSync }
func (j SyncLeaderboardJob) JobID() string   { return "sync-" + j.CompetitionID }
func (j SyncLeaderboardJob) validate() error { return requireID("competitionId", j.CompetitionID) }

type PeriodicSyncJob struct{}

func (PeriodicSyncJob) JobName() string { return JobPeriodicSync }
func (PeriodicSyncJob) Lane() string    { return LaneLeaderboardSync }
func (PeriodicSyncJob) JobID() string   { return JobPeriodicSync }
func (PeriodicSyncJob) validate() error { return nil }

// GenerateHistoryJob with no TeamIDs regenerates every team.
type GenerateHistoryJob struct {
	CompetitionID string   `json:"competitionId"`
	TeamIDs       []string `json:"teamIds"`
}

func (GenerateHistoryJob) JobName() string   { return JobGenerateHistory }
func (GenerateHistoryJob) Lane() string      { return LaneHistory }
func (j GenerateHistoryJob) JobID() string   { return "history-" + j.CompetitionID }
func (j GenerateHistoryJob) validate() error { return requireID("competitionId", j.CompetitionID) }

// DecodeJob turns a queued name and payload back into its variant.
func DecodeJob(name string, raw json.RawMessage) (Job, error) {
	var job Job
	var err error
	switch name {
	case JobEvaluate:
		var j EvaluateJob
		err = json.Unmarshal(raw, &j)
		job = j
	case JobTimeoutCheck:
		var j TimeoutCheckJob
		err = json.Unmarshal(raw, &j)
		job = j
	case JobSyncLeaderboard:
		var j SyncLeaderboardJob
		err = json.Unmarshal(raw, &j)
		job = j
	case JobPeriodicSync:
		job = PeriodicSyncJob{}
	case JobGenerateHistory:
		var j GenerateHistoryJob
		err = json.Unmarshal(raw, &j)
		job = j
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", name, err)
	}
	if err := job.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", name, err)
	}
	return job, nil
}

func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
