package domain

import "time"

// CaseComment is an agent-authored comment. The engine keeps it only as the trigger of
// lifecycle effects.
type CaseComment struct {
	ID        string
	TenantID  string
	CaseID    string
	AuthorID  string
	Body      string
	IsPublic  bool
	CreatedAt time.Time
}
