package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vibegate/internal/domain"
	"vibegate/internal/storage"
)

func newResolver(s *storage.MemoryStore) *IdentityResolver {
	return NewIdentityResolver(s, NewSequenceAllocator(s), nil)
}

func provisioningProvider() *domain.ProviderRecord {
	return &domain.ProviderRecord{Key: "okta", AutoProvision: true}
}

func TestIdentityResolverProvisions(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	r := newResolver(s)

	res, err := r.Resolve(ctx, provisioningProvider(), "user-1", "u1@example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Provisioned {
		t.Error("expected Provisioned=true on first resolution")
	}
	if res.UserID == 0 {
		t.Error("expected non-zero user id")
	}

	stored, err := s.GetIdentity(ctx, "okta", "user-1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if stored.Email != "u1@example.com" || !stored.Active {
		t.Errorf("provisioned record = %+v", stored)
	}

	// Second resolution finds the same identity without provisioning.
	again, err := r.Resolve(ctx, provisioningProvider(), "user-1", "u1@example.com")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if again.Provisioned || again.UserID != res.UserID {
		t.Errorf("second resolution = %+v, want same user id, not provisioned", again)
	}
}

func TestIdentityResolverProvisioningDisabled(t *testing.T) {
	s := storage.NewMemoryStore()
	r := newResolver(s)

	p := &domain.ProviderRecord{Key: "okta", AutoProvision: false}
	_, err := r.Resolve(context.Background(), p, "user-1", "")
	if !errors.Is(err, ErrProvisioningDisabled) {
		t.Fatalf("err = %v, want ErrProvisioningDisabled", err)
	}
}

func TestIdentityResolverInactive(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateIdentity(ctx, &domain.FederatedIdentity{
		ProviderKey: "okta", Subject: "user-1", InternalUserID: 7,
		Active: false, FirstSeenAt: now, LastSeenAt: now,
	})
	r := newResolver(s)

	_, err := r.Resolve(ctx, provisioningProvider(), "user-1", "")
	if !errors.Is(err, ErrIdentityInactive) {
		t.Fatalf("err = %v, want ErrIdentityInactive", err)
	}
}

func TestIdentityResolverSequenceContinuesFromPersistedMax(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateIdentity(ctx, &domain.FederatedIdentity{
		ProviderKey: "okta", Subject: "existing", InternalUserID: 500,
		Active: true, FirstSeenAt: now, LastSeenAt: now,
	})
	r := newResolver(s)

	res, err := r.Resolve(ctx, provisioningProvider(), "user-new", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.UserID != 501 {
		t.Errorf("user id = %d, want 501", res.UserID)
	}
}

func TestIdentityResolverConcurrentProvisioning(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	r := newResolver(s)

	const workers = 16
	results := make([]Resolution, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(ctx, provisioningProvider(), "shared-subject", "")
		}(i)
	}
	wg.Wait()

	provisioned := 0
	var userID int64
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].Provisioned {
			provisioned++
		}
		if userID == 0 {
			userID = results[i].UserID
		} else if results[i].UserID != userID {
			t.Fatalf("divergent user ids: %d vs %d", userID, results[i].UserID)
		}
	}
	if provisioned != 1 {
		t.Errorf("provisioned %d times, want exactly 1", provisioned)
	}
}

func TestIdentityResolverStaleTouch(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	old := time.Now().UTC().Add(-time.Hour)
	_ = s.CreateIdentity(ctx, &domain.FederatedIdentity{
		ProviderKey: "okta", Subject: "user-1", InternalUserID: 1,
		Email: "old@example.com", Active: true, FirstSeenAt: old, LastSeenAt: old,
	})
	r := newResolver(s)

	if _, err := r.Resolve(ctx, provisioningProvider(), "user-1", "new@example.com"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, _ := s.GetIdentity(ctx, "okta", "user-1")
	if !got.LastSeenAt.After(old) {
		t.Error("stale last-seen not refreshed")
	}
	if got.Email != "new@example.com" {
		t.Errorf("email = %q, want refreshed", got.Email)
	}
}

func TestSequenceAllocatorMonotonic(t *testing.T) {
	s := storage.NewMemoryStore()
	a := NewSequenceAllocator(s)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 10; i++ {
		id, err := a.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}
