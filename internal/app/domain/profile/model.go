// Package profile defines user account and subscription models.
package profile

import "time"

// Roles assigned by the hosted auth provider and mirrored on profiles.
const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
)

// DefaultGameLimit returns the game-creation quota granted by a tier.
func (t Tier) DefaultGameLimit() int {
	if t == TierPlus {
		return 100
	}
	return 3
}

// SubscriptionStatus mirrors the billing provider's view of a subscription.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Profile represents a user of the platform together with their
// subscription state and usage counters.
type Profile struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	DisplayName        string             `json:"display_name"`
	School             string             `json:"school,omitempty"`
	Role               string             `json:"role"`
	Tier               Tier               `json:"tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	StripeCustomerID   string             `json:"-"`
	GamesCreated       int                `json:"games_created"`
	GameLimit          int                `json:"game_limit"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// LoginRecord is one row of a profile's login history.
type LoginRecord struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// QuotaResult reports the outcome of an atomic game-slot claim.
type QuotaResult struct {
	Allowed      bool `json:"allowed"`
	GamesCreated int  `json:"games_created"`
	GameLimit    int  `json:"game_limit"`
}
