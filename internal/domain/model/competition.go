package model

import "time"

type CdkClaimMode string

const (
	CdkClaimModeTeam   CdkClaimMode = "TEAM"
	CdkClaimModeMember CdkClaimMode = "MEMBER"
)

type CdkConfig struct {
	Enabled      bool         `json:"enabled"`
	ClaimMode    CdkClaimMode `json:"claim_mode"`
	LimitPerUnit int          `json:"limit_per_unit"`
}

// Usable reports whether codes can be claimed under this configuration.
func (c CdkConfig) Usable() bool {
	if !c.Enabled || c.LimitPerUnit < 1 {
		return false
	}
	return c.ClaimMode == CdkClaimModeTeam || c.ClaimMode == CdkClaimModeMember
}

type Competition struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Cdk       CdkConfig  `json:"cdk"`
	CreatedAt time.Time  `json:"created_at"`
}

type Team struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	Name          string `json:"name"`
}
