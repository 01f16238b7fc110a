package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"vibegate/internal/domain"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
)

var (
	// ErrIdentityInactive is returned when the caller's federated identity
	// exists but has been administratively deactivated.
	ErrIdentityInactive = errors.New("federated identity is deactivated")

	// ErrProvisioningDisabled is returned when no identity exists and the
	// provider does not allow auto-provisioning.
	ErrProvisioningDisabled = errors.New("identity auto-provisioning is disabled for this provider")
)

// defaultTouchStaleness is how old a last-seen timestamp must be before a
// request refreshes it. Keeps the hot path from writing on every call.
const defaultTouchStaleness = 5 * time.Minute

// Resolution is the outcome of resolving a federated identity.
type Resolution struct {
	UserID      int64
	Provisioned bool
}

// IdentityResolver maps a verified (provider, subject) pair to an internal
// user id, auto-provisioning a new identity when the provider permits it.
type IdentityResolver struct {
	store        storage.IdentityStore
	seq          *SequenceAllocator
	logger       observability.Logger
	staleness    time.Duration
	touchLimiter *rate.Limiter
	now          func() time.Time
}

// NewIdentityResolver creates a resolver over the given identity store.
func NewIdentityResolver(store storage.IdentityStore, seq *SequenceAllocator, logger observability.Logger) *IdentityResolver {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &IdentityResolver{
		store:     store,
		seq:       seq,
		logger:    logger.WithComponent("identity-resolver"),
		staleness: defaultTouchStaleness,
		// Last-seen refreshes are best effort; cap the write rate so a
		// traffic burst cannot turn into a write storm.
		touchLimiter: rate.NewLimiter(rate.Limit(50), 100),
		now:          time.Now,
	}
}

// Resolve looks up or provisions the identity for a verified subject.
//
// Existing active identities get an opportunistic last-seen/email refresh
// when stale. Deactivated identities fail with ErrIdentityInactive. Missing
// identities are created only when the provider allows auto-provisioning; a
// concurrent duplicate insert resolves idempotently through the store's
// (provider, subject) uniqueness.
func (r *IdentityResolver) Resolve(ctx context.Context, provider *domain.ProviderRecord, subject, email string) (Resolution, error) {
	id, err := r.store.GetIdentity(ctx, provider.Key, subject)
	if err == nil {
		if !id.Active {
			return Resolution{}, ErrIdentityInactive
		}
		r.maybeTouch(ctx, id, email)
		return Resolution{UserID: id.InternalUserID}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Resolution{}, fmt.Errorf("lookup identity: %w", err)
	}

	if !provider.AutoProvision {
		return Resolution{}, ErrProvisioningDisabled
	}
	return r.provision(ctx, provider.Key, subject, email)
}

func (r *IdentityResolver) provision(ctx context.Context, providerKey, subject, email string) (Resolution, error) {
	userID, err := r.seq.Next(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("allocate user id: %w", err)
	}

	now := r.now().UTC()
	identity := &domain.FederatedIdentity{
		ProviderKey:    providerKey,
		Subject:        subject,
		InternalUserID: userID,
		Email:          email,
		Active:         true,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}
	err = r.store.CreateIdentity(ctx, identity)
	if err == nil {
		r.logger.InfoContext(ctx, "provisioned federated identity",
			"provider", providerKey, "user_id", userID)
		return Resolution{UserID: userID, Provisioned: true}, nil
	}

	// A concurrent request provisioned the same subject first; the row it
	// created is the authoritative one.
	if errors.Is(err, storage.ErrConflict) {
		existing, lookupErr := r.store.GetIdentity(ctx, providerKey, subject)
		if lookupErr != nil {
			return Resolution{}, fmt.Errorf("re-lookup after provisioning race: %w", lookupErr)
		}
		if !existing.Active {
			return Resolution{}, ErrIdentityInactive
		}
		return Resolution{UserID: existing.InternalUserID}, nil
	}
	return Resolution{}, fmt.Errorf("create identity: %w", err)
}

// maybeTouch refreshes last-seen and email when the record is stale. Failures
// are logged, never surfaced: freshness tracking must not fail requests.
func (r *IdentityResolver) maybeTouch(ctx context.Context, id *domain.FederatedIdentity, email string) {
	now := r.now().UTC()
	if now.Sub(id.LastSeenAt) < r.staleness && (email == "" || email == id.Email) {
		return
	}
	if !r.touchLimiter.Allow() {
		return
	}
	if email == "" {
		email = id.Email
	}
	if err := r.store.TouchIdentity(ctx, id.ProviderKey, id.Subject, email, now); err != nil {
		r.logger.WarnContext(ctx, "last-seen refresh failed",
			"provider", id.ProviderKey, "user_id", id.InternalUserID, "error", err)
	}
}
