package model

// Problem is one task of a competition. Submissions are scored per problem.
type Problem struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	Title         string `json:"title"`
}
