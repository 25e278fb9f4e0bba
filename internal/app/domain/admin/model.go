// Package admin defines back-office models: impersonation sessions and the
// audit trail of administrative actions.
package admin

import "time"

// ImpersonationSession grants an admin time-bounded delegated access to
// another user's account. Sessions end explicitly, or by expiry.
type ImpersonationSession struct {
	ID           string     `json:"id"`
	AdminID      string     `json:"admin_id"`
	TargetUserID string     `json:"target_user_id"`
	Reason       string     `json:"reason"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session is usable at the given instant.
func (s ImpersonationSession) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// AuditEntry records one administrative action.
type AuditEntry struct {
	ID         string                 `json:"id"`
	AdminID    string                 `json:"admin_id"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
