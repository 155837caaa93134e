package account

import "time"

// Organization is the tenancy container. Every other row references exactly
// one organization.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a member of an organization. Email comparison is case-insensitive.
type User struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	RateLimit       int        `json:"rate_limit"`
	AllowIPList     bool       `json:"allow_ip_whitelist"`
	SendErrorAlerts bool       `json:"send_error_alerts"`
	ProfilePicture  string     `json:"profile_picture,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ReactivationWindow bounds how long a deactivated user stays eligible for
// reactivation.
const ReactivationWindow = 30 * 24 * time.Hour

// ReactivationEligible reports whether the user can still be reactivated.
func (u User) ReactivationEligible(now time.Time) bool {
	if u.DeactivatedAt == nil {
		return true
	}
	return now.Sub(*u.DeactivatedAt) <= ReactivationWindow
}

// Active reports whether the user may authenticate and mutate state.
func (u User) Active() bool {
	return u.DeactivatedAt == nil
}

// PendingUser holds a signup awaiting email verification. Rows expire after
// CodeTTL and are swept.
type PendingUser struct {
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	VerificationCode string    `json:"-"`
	LastSentAt       time.Time `json:"last_sent_at"`
}

// CodeTTL is how long a verification code remains valid.
const CodeTTL = 24 * time.Hour

// Expired reports whether the pending signup is stale.
func (p PendingUser) Expired(now time.Time) bool {
	return now.Sub(p.LastSentAt) > CodeTTL
}

// IPAllowlistEntry authorizes a source address for a user with the allowlist
// enabled.
type IPAllowlistEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	IPAddress   string    `json:"ip_address"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RateSample is one admitted authenticated request, kept for quota accounting.
type RateSample struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	IPAddress string    `json:"ip_address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry is an append-only record of an authenticated state change.
type AuditEntry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Route      string         `json:"route,omitempty"`
	Method     string         `json:"method,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
