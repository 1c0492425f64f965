package model

// Role claim values carried in bearer tokens. Users themselves live in the
// identity provider that issues the tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
