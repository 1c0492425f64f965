package model

import "time"

type CdkStatus string

const (
	CdkAvailable CdkStatus = "AVAILABLE"
	CdkClaimed   CdkStatus = "CLAIMED"
	CdkVoid      CdkStatus = "VOID"
)

type CompetitionCdk struct {
	ID              string     `json:"id"`
	CompetitionID   string     `json:"competition_id"`
	Code            string     `json:"code"`
	Status          CdkStatus  `json:"status"`
	TeamID          *string    `json:"team_id,omitempty"`
	UserID          *string    `json:"user_id,omitempty"`
	ClaimedByUserID *string    `json:"claimed_by_user_id,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ClaimUnit is who a code gets bound to: a team in TEAM mode, the member
// in MEMBER mode.
type ClaimUnit struct {
	Mode CdkClaimMode
	ID   string
}
