package model

import "time"

// EvaluateNode is a registered external judge.
type EvaluateNode struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BaseURL      string    `json:"base_url"`
	SharedSecret string    `json:"-"`
	CallbackURL  string    `json:"callback_url"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
