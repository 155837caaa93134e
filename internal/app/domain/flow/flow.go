package flow

import "time"

// Status describes the lifecycle state of a flow definition.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ValidStatus reports whether s is one of the recognized flow states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusActive, StatusInactive:
		return true
	}
	return false
}

// Flow is a named, org-scoped DAG definition; the template.
type Flow struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	IsDeleted bool      `json:"is_deleted,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is an immutable snapshot of a flow's graph. Version numbers form a
// gap-free sequence starting at 1.
type Version struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"`
	Version   int            `json:"version"`
	Graph     Graph          `json:"graph"`
	Variables map[string]any `json:"variables,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
