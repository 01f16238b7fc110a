package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vibegate/internal/audit"
	"vibegate/internal/auth"
	"vibegate/internal/sqlclass"
)

// maxQueryBodyBytes bounds the request body the enforcement stage will
// buffer for classification.
const maxQueryBodyBytes = sqlclass.MaxStatementBytes

// classifyErrorTag marks requests whose SQL could not be classified. Such
// requests require Admin and are still rejected with 400.
const classifyErrorTag = "ERROR"

// requirement is the access demand computed for one request.
type requirement struct {
	level auth.Level
	tag   string

	// classifyErr is set when the query body could not be classified;
	// the request is then rejected even for admins.
	classifyErr error
}

// enforce compares the caller's effective level against the route's
// requirement and the caller's denied statement set, recording every
// decision in the audit log. Runs after authenticate.
func (s *Server) enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		principal := auth.PrincipalFromContext(r.Context())
		if principal == nil {
			// authenticate always installs a principal; fail closed anyway.
			s.writeError(w, r, http.StatusUnauthorized, CodeAuthFailed, "authentication required")
			return
		}

		req, err := s.requirementFor(r)
		if err != nil {
			// The body could not be read at all.
			s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, "unreadable request body")
			return
		}

		if req.tag != "" && req.classifyErr == nil && s.metrics != nil && r.URL.Path == "/v1/query" {
			s.metrics.RecordClassifierResult(req.tag)
		}

		if !principal.Level.Allows(req.level) {
			s.recordAuthzDecision("denied_permission")
			s.auditDecision(r, principal, req, audit.DecisionPermissionDenied,
				fmt.Sprintf("requires %s", req.level), http.StatusForbidden, start)
			s.writeError(w, r, http.StatusForbidden, CodePermissionDenied,
				fmt.Sprintf("operation requires %s access, caller has %s", req.level, principal.Level))
			return
		}

		if req.classifyErr != nil {
			s.recordAuthzDecision("invalid_sql")
			s.auditDecision(r, principal, req, audit.DecisionInvalidSQL,
				req.classifyErr.Error(), http.StatusBadRequest, start)
			s.writeError(w, r, http.StatusBadRequest, CodeInvalidSQL, req.classifyErr.Error())
			return
		}

		if statementDenied(principal.DeniedStatements, req.tag) {
			s.recordAuthzDecision("denied_statement")
			s.auditDecision(r, principal, req, audit.DecisionStatementDenied,
				fmt.Sprintf("statement type %s is denied for this caller", req.tag),
				http.StatusForbidden, start)
			s.writeError(w, r, http.StatusForbidden, CodeStatementDenied,
				fmt.Sprintf("statement type %s is denied for this caller", req.tag))
			return
		}

		s.recordAuthzDecision("allowed")
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.auditDecision(r, principal, req, audit.DecisionAllowed, "", recorder.status, start)
	})
}

func (s *Server) recordAuthzDecision(decision string) {
	if s.metrics != nil {
		s.metrics.RecordAuthzDecision(decision)
	}
}

// auditDecision records one enforcement outcome.
func (s *Server) auditDecision(r *http.Request, p *auth.Principal, req requirement, decision, reason string, status int, start time.Time) {
	e := &audit.Event{
		Method:         r.Method,
		Path:           r.URL.Path,
		RequiredLevel:  req.level.String(),
		EffectiveLevel: p.Level.String(),
		StatementType:  req.tag,
		Decision:       decision,
		Reason:         reason,
		StatusCode:     status,
		DurationMS:     s.now().Sub(start).Milliseconds(),
	}
	if p.AdminKey {
		e.Actor = p.Subject
		e.ActorType = audit.ActorTypeAdminKey
	} else {
		e.Actor = fmt.Sprintf("%d", p.UserID)
		e.ActorType = audit.ActorTypeFederated
		e.ProviderKey = p.ProviderKey
		e.Subject = p.Subject
	}
	s.logDecision(r, e)
}

// requirementFor computes the level and statement tag a request demands.
// Query bodies are buffered and rewound so the forwarder still sees the
// full content. The returned error means the body could not be read.
func (s *Server) requirementFor(r *http.Request) (requirement, error) {
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && path == "/v1/query":
		return s.classifyQueryBody(r)
	case isAdminPath(path):
		return requirement{level: auth.LevelAdmin, tag: "ADMIN_API"}, nil
	case path == "/v1/schemas" || strings.HasPrefix(path, "/v1/schemas/"):
		return requirement{level: auth.LevelSchema, tag: "HTTP_" + r.Method}, nil
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return requirement{level: auth.LevelRead, tag: "HTTP_" + r.Method}, nil
	default:
		return requirement{level: auth.LevelWrite, tag: "HTTP_" + r.Method}, nil
	}
}

func isAdminPath(path string) bool {
	return path == "/v1/admin" || strings.HasPrefix(path, "/v1/admin/")
}

// classifyQueryBody extracts the sql field from a query request and
// classifies it. Oversized bodies, malformed JSON, a missing sql field, and
// unclassifiable SQL all force the error requirement: Admin level, tag
// ERROR, rejected 400 regardless of the caller's level.
func (s *Server) classifyQueryBody(r *http.Request) (requirement, error) {
	forced := func(err error) requirement {
		return requirement{level: auth.LevelAdmin, tag: classifyErrorTag, classifyErr: err}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBodyBytes+1))
	if err != nil {
		return requirement{}, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) > maxQueryBodyBytes {
		return forced(fmt.Errorf("request body exceeds %d bytes", maxQueryBodyBytes)), nil
	}

	sql, err := extractSQLField(body)
	if err != nil {
		return forced(err), nil
	}

	res, err := sqlclass.Classify(sql)
	if err != nil {
		return forced(err), nil
	}
	return requirement{level: res.Level, tag: res.StatementType}, nil
}

// extractSQLField pulls the sql field from a JSON query body. The exact key
// "sql" wins; otherwise the first case-insensitive match is used.
func extractSQLField(body []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("request body is not a JSON object: %w", err)
	}

	raw, ok := fields["sql"]
	if !ok {
		for k, v := range fields {
			if strings.EqualFold(k, "sql") {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return "", fmt.Errorf("request body has no sql field")
	}

	var sql string
	if err := json.Unmarshal(raw, &sql); err != nil {
		return "", fmt.Errorf("sql field is not a string")
	}
	return sql, nil
}

// statementDenied reports whether the classified statement tag matches the
// caller's denied set. A denial matches the exact tag, the wildcard "*", or
// the base statement type once WITH.../EXPLAIN wrappers are stripped.
func statementDenied(denied []string, tag string) bool {
	if len(denied) == 0 || tag == "" {
		return false
	}
	base := baseStatementType(tag)
	for _, d := range denied {
		if d == "*" || strings.EqualFold(d, tag) || strings.EqualFold(d, base) {
			return true
		}
	}
	return false
}

// baseStatementType strips WITH... and EXPLAIN prefixes so denials written
// against plain statement types also cover wrapped forms.
func baseStatementType(tag string) string {
	base := strings.TrimPrefix(tag, "EXPLAIN ")
	base = strings.TrimPrefix(base, "WITH...")
	return base
}
