package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"vibegate/internal/domain"
)

func testProvider(key, issuer string) *domain.ProviderRecord {
	now := time.Now().UTC()
	return &domain.ProviderRecord{
		Key:          key,
		DisplayName:  key,
		Issuer:       issuer,
		SchemeID:     "scheme-" + key,
		DiscoveryURL: issuer + "/.well-known/openid-configuration",
		Audience:     "vibegate",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStoreProviderCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := testProvider("okta", "https://okta.example.com")
	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if err := s.CreateProvider(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate key error = %v, want ErrConflict", err)
	}
	dupIssuer := testProvider("okta2", "https://okta.example.com")
	if err := s.CreateProvider(ctx, dupIssuer); !errors.Is(err, ErrDuplicateIssuer) {
		t.Fatalf("duplicate issuer error = %v, want ErrDuplicateIssuer", err)
	}

	got, err := s.GetProvider(ctx, "okta")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if got.Issuer != p.Issuer {
		t.Errorf("issuer = %q, want %q", got.Issuer, p.Issuer)
	}

	byIssuer, err := s.GetProviderByIssuer(ctx, "https://okta.example.com")
	if err != nil {
		t.Fatalf("GetProviderByIssuer: %v", err)
	}
	if byIssuer.Key != "okta" {
		t.Errorf("key = %q, want okta", byIssuer.Key)
	}

	// Returned records are copies: mutating them must not affect the store.
	got.Active = false
	refetched, _ := s.GetProvider(ctx, "okta")
	if !refetched.Active {
		t.Error("store record mutated through returned copy")
	}

	p.Active = false
	now := time.Now().UTC()
	p.DisabledAt = &now
	if err := s.UpdateProvider(ctx, p); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	refetched, _ = s.GetProvider(ctx, "okta")
	if refetched.Active || refetched.DisabledAt == nil {
		t.Error("update not applied")
	}

	if err := s.DeleteProvider(ctx, "okta"); err != nil {
		t.Fatalf("DeleteProvider: %v", err)
	}
	if _, err := s.GetProvider(ctx, "okta"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetProviderByIssuer(ctx, "https://okta.example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatal("issuer index not cleaned up on delete")
	}
}

func TestMemoryStoreUpdateIssuerReindexes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := testProvider("okta", "https://old.example.com")
	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	p.Issuer = "https://new.example.com"
	if err := s.UpdateProvider(ctx, p); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	if _, err := s.GetProviderByIssuer(ctx, "https://old.example.com"); !errors.Is(err, ErrNotFound) {
		t.Error("old issuer still indexed")
	}
	if _, err := s.GetProviderByIssuer(ctx, "https://new.example.com"); err != nil {
		t.Errorf("new issuer not indexed: %v", err)
	}
}

func TestMemoryStoreRoleMappings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m := &domain.RoleMapping{
		ID:               "rm-1",
		ProviderKey:      "okta",
		ExternalRole:     "analysts",
		PermissionLevel:  "read",
		DeniedStatements: []string{"COPY"},
	}
	if err := s.UpsertRoleMapping(ctx, m); err != nil {
		t.Fatalf("UpsertRoleMapping: %v", err)
	}

	// Upserting the same (provider, role) under a new id replaces the old row.
	m2 := &domain.RoleMapping{
		ID:              "rm-2",
		ProviderKey:     "okta",
		ExternalRole:    "analysts",
		PermissionLevel: "write",
	}
	if err := s.UpsertRoleMapping(ctx, m2); err != nil {
		t.Fatalf("UpsertRoleMapping replace: %v", err)
	}
	got, err := s.GetRoleMapping(ctx, "okta", "analysts")
	if err != nil {
		t.Fatalf("GetRoleMapping: %v", err)
	}
	if got.PermissionLevel != "write" || got.ID != "rm-2" {
		t.Errorf("mapping not replaced: %+v", got)
	}
	all, err := s.ListRoleMappings(ctx, "okta")
	if err != nil || len(all) != 1 {
		t.Fatalf("ListRoleMappings = %d mappings, err %v; want 1", len(all), err)
	}

	if err := s.DeleteRoleMapping(ctx, "rm-2"); err != nil {
		t.Fatalf("DeleteRoleMapping: %v", err)
	}
	if _, err := s.GetRoleMapping(ctx, "okta", "analysts"); !errors.Is(err, ErrNotFound) {
		t.Fatal("mapping survived delete")
	}
}

func TestMemoryStoreClientMappings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	active, err := s.HasActiveClientMappings(ctx, "okta")
	if err != nil || active {
		t.Fatalf("HasActiveClientMappings empty = %v, %v; want false, nil", active, err)
	}

	m := &domain.ClientMapping{
		ID:                 "cm-1",
		ProviderKey:        "okta",
		TenantID:           "tenant-a",
		Active:             true,
		MaxPermissionLevel: "write",
	}
	if err := s.UpsertClientMapping(ctx, m); err != nil {
		t.Fatalf("UpsertClientMapping: %v", err)
	}

	active, err = s.HasActiveClientMappings(ctx, "okta")
	if err != nil || !active {
		t.Fatalf("HasActiveClientMappings = %v, %v; want true, nil", active, err)
	}

	got, err := s.GetClientMapping(ctx, "okta", "tenant-a")
	if err != nil || got.MaxPermissionLevel != "write" {
		t.Fatalf("GetClientMapping = %+v, %v", got, err)
	}

	m.Active = false
	if err := s.UpsertClientMapping(ctx, m); err != nil {
		t.Fatalf("UpsertClientMapping update: %v", err)
	}
	active, _ = s.HasActiveClientMappings(ctx, "okta")
	if active {
		t.Error("inactive mapping counted as active")
	}
}

func TestMemoryStoreIdentities(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now().UTC()
	id := &domain.FederatedIdentity{
		ProviderKey:    "okta",
		Subject:        "user-1",
		InternalUserID: 100,
		Email:          "u1@example.com",
		Active:         true,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}
	if err := s.CreateIdentity(ctx, id); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.CreateIdentity(ctx, id); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate identity error = %v, want ErrConflict", err)
	}

	later := now.Add(time.Hour)
	if err := s.TouchIdentity(ctx, "okta", "user-1", "new@example.com", later); err != nil {
		t.Fatalf("TouchIdentity: %v", err)
	}
	got, err := s.GetIdentity(ctx, "okta", "user-1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if !got.LastSeenAt.Equal(later) || got.Email != "new@example.com" {
		t.Errorf("touch not applied: %+v", got)
	}

	if err := s.SetIdentityActive(ctx, "okta", "user-1", false); err != nil {
		t.Fatalf("SetIdentityActive: %v", err)
	}
	got, _ = s.GetIdentity(ctx, "okta", "user-1")
	if got.Active {
		t.Error("identity still active")
	}

	max, err := s.MaxInternalUserID(ctx)
	if err != nil || max != 100 {
		t.Fatalf("MaxInternalUserID = %d, %v; want 100", max, err)
	}

	_ = s.CreateIdentity(ctx, &domain.FederatedIdentity{
		ProviderKey: "okta", Subject: "user-2", InternalUserID: 250,
		Active: true, FirstSeenAt: now, LastSeenAt: now,
	})
	list, total, err := s.ListIdentities(ctx, "okta", 1, 0)
	if err != nil || total != 2 || len(list) != 1 {
		t.Fatalf("ListIdentities = %d items, total %d, err %v", len(list), total, err)
	}
	if list[0].InternalUserID != 100 {
		t.Errorf("expected lowest id first, got %d", list[0].InternalUserID)
	}
}
