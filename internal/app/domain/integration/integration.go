package integration

import "time"

// Status is the verified health of an integration.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// Integration is an org's declared dependency on an external system and the
// last known health. Names are unique per org, case-insensitive.
type Integration struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	TestURL     string     `json:"test_url,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Env selects which provider environment a connection targets.
type Env string

const (
	EnvSandbox    Env = "sandbox"
	EnvProduction Env = "production"
)

// Connection holds encrypted provider credentials owned by the user who
// created them. ConfigEnc never leaves the store in plaintext.
type Connection struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Provider    string    `json:"provider"`
	Env         Env       `json:"env"`
	Label       string    `json:"label"`
	ConfigEnc   []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// TxEvent is an aggregated rollup of one outbound provider call.
type TxEvent struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Success   bool      `json:"success"`
	LatencyMS *int64    `json:"latency_ms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
