package notification

import "time"

// Type classifies a user-visible notification.
type Type string

const (
	TypeInfo  Type = "info"
	TypeWarn  Type = "warn"
	TypeError Type = "error"
)

// Notification is one entry in the org's user-visible event queue.
type Notification struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID string    `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
