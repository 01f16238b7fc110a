package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"vibegate/internal/audit"
	"vibegate/internal/domain"
	"vibegate/internal/proxy"
)

func queryBody(sql string) *strings.Reader {
	return strings.NewReader(`{"sql":` + jsonString(sql) + `}`)
}

func jsonString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func TestGatewayForwardsAllowedQuery(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("SELECT * FROM metrics"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	req, body := g.upstream.last()
	if req == nil {
		t.Fatal("upstream never called")
	}
	if string(body) != `{"sql":"SELECT * FROM metrics"}` {
		t.Errorf("upstream body = %q, want the original body rewound", body)
	}
	if req.Header.Get(proxy.HeaderService) != "vibegate-test" {
		t.Errorf("service header = %q", req.Header.Get(proxy.HeaderService))
	}
	if req.Header.Get(proxy.HeaderUserID) == "" {
		t.Error("user id header missing")
	}

	ts := req.Header.Get(proxy.HeaderTimestamp)
	sig := req.Header.Get(proxy.HeaderSignature)
	signer := proxy.NewSigner([]byte(testUpstreamSecret))
	if !signer.Verify(ts, http.MethodPost, "/v1/query", sig) {
		t.Error("upstream signature does not verify")
	}
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	g := newTestGateway(t)

	resp := g.do(t, http.MethodPost, "/v1/query", "", queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if code := errCode(t, resp); code != CodeAuthFailed {
		t.Errorf("code = %q, want AUTH_FAILED", code)
	}
	if g.upstream.count() != 0 {
		t.Error("request reached upstream without authentication")
	}
}

func TestGatewayRejectsGarbageToken(t *testing.T) {
	g := newTestGateway(t)

	resp := g.do(t, http.MethodPost, "/v1/query", "not.a.jwt", queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if code := errCode(t, resp); code != CodeAuthFailed {
		t.Errorf("code = %q, want AUTH_FAILED", code)
	}
}

func TestGatewayPermissionDenied(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("UPDATE t SET x = 1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Error.Code != CodePermissionDenied {
		t.Errorf("code = %q, want PERMISSION_DENIED", env.Error.Code)
	}
	// The denial names both levels.
	if !strings.Contains(env.Error.Message, "write") || !strings.Contains(env.Error.Message, "read") {
		t.Errorf("message %q should name required and effective levels", env.Error.Message)
	}
	if g.upstream.count() != 0 {
		t.Error("denied request reached upstream")
	}

	events, total, err := g.audit.List(context.Background(), audit.ListOptions{Decision: audit.DecisionPermissionDenied})
	if err != nil || total != 1 {
		t.Fatalf("audit events: total %d, err %v", total, err)
	}
	e := events[0]
	if e.RequiredLevel != "write" || e.EffectiveLevel != "read" || e.StatementType != "UPDATE" {
		t.Errorf("audit event = %+v", e)
	}
	if e.ActorType != audit.ActorTypeFederated || e.ProviderKey != "okta" || e.Subject != "alice" {
		t.Errorf("audit actor = %+v", e)
	}
}

func TestGatewayStatementDenied(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "writers", "write", "COPY", "DELETE")
	token := g.idp.mint(t, "bob", map[string]any{"roles": []string{"writers"}})

	tests := []struct {
		name string
		sql  string
	}{
		{"exact tag", "COPY t FROM '/data'"},
		{"base type under WITH", "WITH x AS (SELECT 1) DELETE FROM t"},
		{"base type under EXPLAIN", "EXPLAIN DELETE FROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody(tt.sql))
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", resp.StatusCode)
			}
			if code := errCode(t, resp); code != CodeStatementDenied {
				t.Errorf("code = %q, want STATEMENT_DENIED", code)
			}
		})
	}

	// Statements outside the denied set still pass.
	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("INSERT INTO t VALUES (1)"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed statement status = %d, want 200", resp.StatusCode)
	}
}

func TestGatewayInvalidSQLRejectedEvenForAdmin(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name string
		body string
	}{
		{"unclassifiable sql", `{"sql":"FROBNICATE the database"}`},
		{"multi statement", `{"sql":"SELECT 1; DROP TABLE t"}`},
		{"not json", `this is not json`},
		{"missing sql field", `{"query":"SELECT 1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.do(t, http.MethodPost, "/v1/query", g.adminKey, strings.NewReader(tt.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if code := errCode(t, resp); code != CodeInvalidSQL {
				t.Errorf("code = %q, want INVALID_SQL", code)
			}
		})
	}
	if g.upstream.count() != 0 {
		t.Error("invalid query reached upstream")
	}
}

func TestGatewayInvalidSQLRequiresAdminForOthers(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	// A non-admin caller with a broken body is denied on level before the
	// classification error is disclosed.
	resp := g.do(t, http.MethodPost, "/v1/query", token, strings.NewReader(`{"nope":true}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if code := errCode(t, resp); code != CodePermissionDenied {
		t.Errorf("code = %q, want PERMISSION_DENIED", code)
	}
}

func TestGatewayIdentityDeniedAfterDeactivation(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	// First call provisions the identity.
	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initial status = %d, want 200", resp.StatusCode)
	}

	if err := g.store.SetIdentityActive(context.Background(), "okta", "alice", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	resp = g.do(t, http.MethodPost, "/v1/query", token, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if code := errCode(t, resp); code != CodeIdentityNotResolved {
		t.Errorf("code = %q, want IDENTITY_NOT_RESOLVED", code)
	}
}

func TestGatewayTenantCeiling(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "writers", "write")
	if err := g.store.UpsertClientMapping(context.Background(), &domain.ClientMapping{
		ID:                 "cm-1",
		ProviderKey:        "okta",
		TenantID:           "tenant-a",
		Active:             true,
		MaxPermissionLevel: "read",
		Tier:               "standard",
	}); err != nil {
		t.Fatalf("seed client mapping: %v", err)
	}

	// Ceiling caps a write role down to read.
	capped := g.idp.mint(t, "bob", map[string]any{
		"roles":     []string{"writers"},
		"tenant_id": "tenant-a",
	})
	resp := g.do(t, http.MethodPost, "/v1/query", capped, queryBody("UPDATE t SET x = 1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("capped status = %d, want 403", resp.StatusCode)
	}

	resp = g.do(t, http.MethodPost, "/v1/query", capped, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read under ceiling status = %d, want 200", resp.StatusCode)
	}
	req, _ := g.upstream.last()
	if req.Header.Get(proxy.HeaderTenant) != "tenant-a" {
		t.Errorf("tenant header = %q", req.Header.Get(proxy.HeaderTenant))
	}
	if req.Header.Get(proxy.HeaderTier) != "standard" {
		t.Errorf("tier header = %q", req.Header.Get(proxy.HeaderTier))
	}

	// Once any active mapping exists, a token without a tenant claim gets
	// nothing at all.
	noTenant := g.idp.mint(t, "bob", map[string]any{"roles": []string{"writers"}})
	resp = g.do(t, http.MethodPost, "/v1/query", noTenant, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing tenant status = %d, want 403", resp.StatusCode)
	}
}

func TestGatewayUpstreamUnavailable(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	g.upstream.srv.Close()

	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if code := errCode(t, resp); code != CodeUpstreamUnavailable {
		t.Errorf("code = %q, want UPSTREAM_UNAVAILABLE", code)
	}
}

func TestGatewaySchemaRouteRequiresSchemaLevel(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	g.seedRoleMapping(t, "dba", "schema")

	reader := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})
	resp := g.do(t, http.MethodGet, "/v1/schemas/main", reader, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("reader on schemas = %d, want 403", resp.StatusCode)
	}

	dba := g.idp.mint(t, "dana", map[string]any{"roles": []string{"dba"}})
	resp = g.do(t, http.MethodGet, "/v1/schemas/main", dba, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dba on schemas = %d, want 200 (forwarded)", resp.StatusCode)
	}
	req, _ := g.upstream.last()
	if req.URL.Path != "/v1/schemas/main" {
		t.Errorf("upstream path = %q", req.URL.Path)
	}
}

func TestGatewayReadRouteHeuristics(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	// GET is read level and forwarded.
	resp := g.do(t, http.MethodGet, "/v1/collections", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}

	// POST outside /v1/query demands write.
	resp = g.do(t, http.MethodPost, "/v1/collections", token, strings.NewReader(`{}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("POST status = %d, want 403", resp.StatusCode)
	}
}

func TestGatewayHealthz(t *testing.T) {
	g := newTestGateway(t)

	resp := g.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 without credentials", resp.StatusCode)
	}
}

func TestGatewayAuditRecordsAllowedDecisions(t *testing.T) {
	g := newTestGateway(t)
	g.seedRoleMapping(t, "analysts", "read")
	token := g.idp.mint(t, "alice", map[string]any{"roles": []string{"analysts"}})

	resp := g.do(t, http.MethodPost, "/v1/query", token, queryBody("SELECT 1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	events, total, err := g.audit.List(context.Background(), audit.ListOptions{Decision: audit.DecisionAllowed})
	if err != nil || total != 1 {
		t.Fatalf("allowed audit events: total %d, err %v", total, err)
	}
	e := events[0]
	if e.StatementType != "SELECT" || e.StatusCode != http.StatusOK || e.RequestID == "" {
		t.Errorf("audit event = %+v", e)
	}
}
