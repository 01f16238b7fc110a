package domain

import "time"

// FederatedIdentity links an external (provider, subject) pair to an internal
// user id. Created on first successful resolution when the provider allows
// auto-provisioning, or seeded administratively. Deactivation is
// administrative only; rows are never deleted automatically.
type FederatedIdentity struct {
	ProviderKey    string    `json:"provider_key"`
	Subject        string    `json:"subject"`
	InternalUserID int64     `json:"internal_user_id"`
	Email          string    `json:"email,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	Active         bool      `json:"active"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}
