// Package audit records every access decision the gateway makes, allowed or
// denied, for security review and compliance.
package audit

import (
	"context"
	"time"
)

// Event is one recorded access decision.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Actor identifies the caller: the internal user id for federated
	// callers, the key prefix for admin-key callers, or "anonymous".
	Actor     string `json:"actor"`
	ActorType string `json:"actor_type"` // "federated", "admin_key", "anonymous"

	// ProviderKey and Subject are set for federated callers.
	ProviderKey string `json:"provider_key,omitempty"`
	Subject     string `json:"subject,omitempty"`

	Method string `json:"method"`
	Path   string `json:"path"`

	// RequiredLevel and EffectiveLevel are the level the route demanded and
	// the level the caller resolved to.
	RequiredLevel  string `json:"required_level"`
	EffectiveLevel string `json:"effective_level"`

	// StatementType is the classifier tag for query requests.
	StatementType string `json:"statement_type,omitempty"`

	// Decision is the outcome, one of the Decision* constants.
	Decision string `json:"decision"`

	// Reason carries detail for denials.
	Reason string `json:"reason,omitempty"`

	RequestID  string `json:"request_id,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
}

// Decision values.
const (
	DecisionAllowed          = "allowed"
	DecisionAuthFailed       = "auth_failed"
	DecisionIdentityDenied   = "identity_denied"
	DecisionPermissionDenied = "permission_denied"
	DecisionStatementDenied  = "statement_denied"
	DecisionInvalidSQL       = "invalid_sql"
)

// Actor types.
const (
	ActorTypeFederated = "federated"
	ActorTypeAdminKey  = "admin_key"
	ActorTypeAnonymous = "anonymous"
)

// ListOptions provides filtering and pagination options for listing events.
type ListOptions struct {
	Limit       int
	Offset      int
	Actor       string
	ProviderKey string
	Decision    string
	Since       *time.Time
	Until       *time.Time
}

// AuditLogger defines the interface for decision logging.
type AuditLogger interface {
	// Log records an access decision.
	Log(ctx context.Context, event *Event) error

	// List retrieves events with optional filtering, newest first.
	// Returns the page and the total number of matching events.
	List(ctx context.Context, opts ListOptions) ([]*Event, int, error)
}
