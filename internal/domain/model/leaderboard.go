package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Leaderboard struct {
	ID            string    `json:"id"`
	CompetitionID string    `json:"competition_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LeaderboardEntry ids are assigned in insertion order and break rank ties.
type LeaderboardEntry struct {
	ID            int64           `json:"id"`
	LeaderboardID string          `json:"leaderboard_id"`
	TeamID        string          `json:"team_id"`
	TotalScore    decimal.Decimal `json:"total_score"`
	Rank          int             `json:"rank"`
}

type ProblemScore struct {
	ID           string          `json:"id"`
	EntryID      int64           `json:"entry_id"`
	ProblemID    string          `json:"problem_id"`
	Score        decimal.Decimal `json:"score"`
	SubmissionID string          `json:"submission_id"`
	AchievedAt   time.Time       `json:"achieved_at"`
}

// TeamStanding is a resync result before it is written.
type TeamStanding struct {
	TeamID     string
	TotalScore decimal.Decimal
	Problems   []ProblemScore
}

type ProblemStanding struct {
	ProblemID    string          `json:"problem_id"`
	Score        decimal.Decimal `json:"score"`
	SubmissionID string          `json:"submission_id"`
	AchievedAt   time.Time       `json:"achieved_at"`
}

// Standing is one row of the public leaderboard.
type Standing struct {
	Rank       int               `json:"rank"`
	TeamID     string            `json:"team_id"`
	TeamName   string            `json:"team_name"`
	TotalScore decimal.Decimal   `json:"total_score"`
	Problems   []ProblemStanding `json:"problems"`
}

type HistoryPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Score     decimal.Decimal `json:"score"`
}

type TeamHistory struct {
	TeamID string         `json:"team_id"`
	Points []HistoryPoint `json:"points"`
}
