// Package domain contains the core data types shared across VibeGate.
package domain

import "time"

// ClaimPaths configures which token claims carry identity attributes for a
// provider. Empty fields fall back to built-in alias lists.
type ClaimPaths struct {
	Subject string `json:"subject" yaml:"subject"`
	Role    string `json:"role" yaml:"role"`
	Email   string `json:"email" yaml:"email"`
}

// ProviderRecord represents a configured external identity provider.
// Records are owned by the provider refresh loop; everything else reads them
// through the registry snapshot.
type ProviderRecord struct {
	Key                 string     `json:"key"`
	DisplayName         string     `json:"display_name"`
	Issuer              string     `json:"issuer"`
	SchemeID            string     `json:"scheme_id"`
	DiscoveryURL        string     `json:"discovery_url"`
	Audience            string     `json:"audience"`
	ClockSkewSeconds    int        `json:"clock_skew_seconds"`
	Active              bool       `json:"active"`
	Bootstrap           bool       `json:"bootstrap"`
	DisabledAt          *time.Time `json:"disabled_at,omitempty"`
	DisableGraceMinutes int        `json:"disable_grace_minutes,omitempty"`
	ClaimPaths          ClaimPaths `json:"claim_paths"`
	AutoProvision       bool       `json:"auto_provision"`
	DefaultRole         string     `json:"default_role,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// InGracePeriod reports whether a disabled provider is still inside its
// configured grace window at the given instant.
func (p *ProviderRecord) InGracePeriod(now time.Time) bool {
	if p.Active || p.DisabledAt == nil || p.DisableGraceMinutes <= 0 {
		return false
	}
	return now.Before(p.DisabledAt.Add(time.Duration(p.DisableGraceMinutes) * time.Minute))
}

// ProviderHealth describes one provider's state for the health endpoint.
type ProviderHealth struct {
	Key                 string     `json:"key"`
	Issuer              string     `json:"issuer"`
	Active              bool       `json:"active"`
	Bootstrap           bool       `json:"bootstrap"`
	SchemeRegistered    bool       `json:"scheme_registered"`
	DisabledAt          *time.Time `json:"disabled_at,omitempty"`
	DisableGraceMinutes int        `json:"disable_grace_minutes,omitempty"`
}
