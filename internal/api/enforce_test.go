package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"vibegate/internal/auth"
)

func TestStatementDenied(t *testing.T) {
	tests := []struct {
		name   string
		denied []string
		tag    string
		want   bool
	}{
		{"empty set", nil, "SELECT", false},
		{"exact match", []string{"COPY"}, "COPY", true},
		{"case insensitive", []string{"copy"}, "COPY", true},
		{"wildcard", []string{"*"}, "SELECT", true},
		{"no match", []string{"COPY", "DELETE"}, "INSERT", false},
		{"with prefix stripped", []string{"DELETE"}, "WITH...DELETE", true},
		{"explain prefix stripped", []string{"DELETE"}, "EXPLAIN DELETE", true},
		{"explain with chain", []string{"SELECT"}, "EXPLAIN WITH...SELECT", true},
		{"full tag denial", []string{"WITH...DELETE"}, "WITH...DELETE", true},
		{"base denial does not match other base", []string{"SELECT"}, "WITH...DELETE", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statementDenied(tt.denied, tt.tag); got != tt.want {
				t.Errorf("statementDenied(%v, %q) = %v, want %v", tt.denied, tt.tag, got, tt.want)
			}
		})
	}
}

func TestExtractSQLField(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"exact key", `{"sql":"SELECT 1"}`, "SELECT 1", false},
		{"case insensitive key", `{"SQL":"SELECT 1"}`, "SELECT 1", false},
		{"exact key wins", `{"SQL":"DROP TABLE t","sql":"SELECT 1"}`, "SELECT 1", false},
		{"extra fields ignored", `{"sql":"SELECT 1","params":[1,2]}`, "SELECT 1", false},
		{"missing field", `{"query":"SELECT 1"}`, "", true},
		{"not an object", `[1,2,3]`, "", true},
		{"not json", `SELECT 1`, "", true},
		{"sql not a string", `{"sql":42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractSQLField([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("extractSQLField(%q) = %q, want error", tt.body, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractSQLField(%q): %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("extractSQLField(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestRequirementForRoutes(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantLevel auth.Level
		wantTag   string
	}{
		{"query select", "POST", "/v1/query", `{"sql":"SELECT 1"}`, auth.LevelRead, "SELECT"},
		{"query drop schema", "POST", "/v1/query", `{"sql":"DROP SCHEMA s"}`, auth.LevelAdmin, "DROP SCHEMA"},
		{"admin root", "GET", "/v1/admin/providers", "", auth.LevelAdmin, "ADMIN_API"},
		{"admin nested", "DELETE", "/v1/admin/role-mappings/1", "", auth.LevelAdmin, "ADMIN_API"},
		{"schemas", "PUT", "/v1/schemas/main", "", auth.LevelSchema, "HTTP_PUT"},
		{"plain get", "GET", "/v1/collections", "", auth.LevelRead, "HTTP_GET"},
		{"head", "HEAD", "/v1/collections", "", auth.LevelRead, "HTTP_HEAD"},
		{"options", "OPTIONS", "/v1/collections", "", auth.LevelRead, "HTTP_OPTIONS"},
		{"plain post", "POST", "/v1/collections", "", auth.LevelWrite, "HTTP_POST"},
		{"delete", "DELETE", "/v1/collections/1", "", auth.LevelWrite, "HTTP_DELETE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			got, err := s.requirementFor(req)
			if err != nil {
				t.Fatalf("requirementFor: %v", err)
			}
			if got.classifyErr != nil {
				t.Fatalf("unexpected classify error: %v", got.classifyErr)
			}
			if got.level != tt.wantLevel || got.tag != tt.wantTag {
				t.Errorf("requirement = {%v %q}, want {%v %q}", got.level, got.tag, tt.wantLevel, tt.wantTag)
			}
		})
	}
}

func TestRequirementForForcedErrors(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `nope`},
		{"no sql field", `{"x":1}`},
		{"unclassifiable", `{"sql":"HELLO"}`},
		{"oversized", `{"sql":"` + strings.Repeat("a", maxQueryBodyBytes) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(tt.body))
			got, err := s.requirementFor(req)
			if err != nil {
				t.Fatalf("requirementFor: %v", err)
			}
			if got.classifyErr == nil {
				t.Fatal("expected a forced classification error")
			}
			if got.level != auth.LevelAdmin || got.tag != classifyErrorTag {
				t.Errorf("requirement = {%v %q}, want {admin ERROR}", got.level, got.tag)
			}
		})
	}
}

func TestClassifyQueryBodyRewindsBody(t *testing.T) {
	s := &Server{}
	body := `{"sql":"SELECT 1"}`
	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(body))

	if _, err := s.requirementFor(req); err != nil {
		t.Fatalf("requirementFor: %v", err)
	}

	buf := make([]byte, len(body)+1)
	n, _ := req.Body.Read(buf)
	if string(buf[:n]) != body {
		t.Errorf("body after classification = %q, want %q", buf[:n], body)
	}
}
