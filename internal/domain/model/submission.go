package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubmissionStatus string

const (
	StatusPending   SubmissionStatus = "PENDING"
	StatusJudging   SubmissionStatus = "JUDGING"
	StatusCompleted SubmissionStatus = "COMPLETED"
	StatusError     SubmissionStatus = "ERROR"
)

// IsTerminal reports whether a judge result has already been recorded.
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

type Submission struct {
	ID             string              `json:"id"`
	CompetitionID  string              `json:"competition_id"`
	ProblemID      string              `json:"problem_id"`
	TeamID         string              `json:"team_id"`
	UserID         string              `json:"user_id"`
	BlobLocator    string              `json:"blob_locator"`
	Status         SubmissionStatus    `json:"status"`
	Score          decimal.NullDecimal `json:"score"`
	Logs           *string             `json:"logs,omitempty"`
	EvaluateNodeID *string             `json:"evaluate_node_id,omitempty"`
	SubmittedAt    time.Time           `json:"submitted_at"`
	JudgedAt       *time.Time          `json:"judged_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// JudgeResult is what a judge reports back for one submission.
type JudgeResult struct {
	Status SubmissionStatus
	Score  decimal.NullDecimal
	Logs   *string
}

// ScoredSubmission is the slice of a completed submission the leaderboard
// and history computations need.
type ScoredSubmission struct {
	ID          string
	TeamID      string
	ProblemID   string
	Score       decimal.Decimal
	SubmittedAt time.Time
	CreatedAt   time.Time
}
