package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"vibegate/internal/audit"
	"vibegate/internal/domain"
	"vibegate/internal/storage"
	"vibegate/internal/validation"
)

// buildAdminMux registers the admin configuration API. Every route here is
// already behind the Admin requirement from the enforcement stage.
func (s *Server) buildAdminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admin/providers", s.handleCreateProvider)
	mux.HandleFunc("GET /v1/admin/providers", s.handleListProviders)
	mux.HandleFunc("POST /v1/admin/providers/refresh", s.handleRefreshProviders)
	mux.HandleFunc("GET /v1/admin/providers/{key}", s.handleGetProvider)
	mux.HandleFunc("PUT /v1/admin/providers/{key}", s.handleUpdateProvider)
	mux.HandleFunc("DELETE /v1/admin/providers/{key}", s.handleDeleteProvider)

	mux.HandleFunc("PUT /v1/admin/role-mappings", s.handleUpsertRoleMapping)
	mux.HandleFunc("GET /v1/admin/role-mappings", s.handleListRoleMappings)
	mux.HandleFunc("DELETE /v1/admin/role-mappings/{id}", s.handleDeleteRoleMapping)

	mux.HandleFunc("PUT /v1/admin/client-mappings", s.handleUpsertClientMapping)
	mux.HandleFunc("GET /v1/admin/client-mappings", s.handleListClientMappings)
	mux.HandleFunc("DELETE /v1/admin/client-mappings/{id}", s.handleDeleteClientMapping)

	mux.HandleFunc("GET /v1/admin/identities", s.handleListIdentities)
	mux.HandleFunc("POST /v1/admin/identities/{provider}/{subject}/deactivate", s.handleSetIdentityActive(false))
	mux.HandleFunc("POST /v1/admin/identities/{provider}/{subject}/activate", s.handleSetIdentityActive(true))

	mux.HandleFunc("GET /v1/admin/audit", s.handleListAudit)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, CodeNotFound, "unknown admin endpoint")
	})
	return mux
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// triggerRefresh asks the refresh loop for an immediate reconcile so admin
// changes take effect without waiting for the next interval.
func (s *Server) triggerRefresh() {
	if s.refresh != nil {
		s.refresh.TriggerNow()
	}
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var p domain.ProviderRecord
	if !s.decodeBody(w, r, &p) {
		return
	}
	if err := validation.ValidateProvider(&p); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if p.SchemeID == "" {
		p.SchemeID = "scheme-" + p.Key
	}
	p.Active = true
	p.Bootstrap = false
	p.DisabledAt = nil
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = p.CreatedAt

	if err := s.store.CreateProvider(r.Context(), &p); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	s.triggerRefresh()
	writeJSON(w, http.StatusCreated, &p)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProvider(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	existing, err := s.store.GetProvider(r.Context(), key)
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}

	var p domain.ProviderRecord
	if !s.decodeBody(w, r, &p) {
		return
	}
	p.Key = key
	if err := validation.ValidateProvider(&p); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if p.SchemeID == "" {
		p.SchemeID = existing.SchemeID
	}
	p.Bootstrap = existing.Bootstrap
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()

	// Deactivation starts the grace window; reactivation clears it.
	switch {
	case existing.Active && !p.Active:
		disabledAt := s.now().UTC()
		p.DisabledAt = &disabledAt
	case p.Active:
		p.DisabledAt = nil
	default:
		p.DisabledAt = existing.DisabledAt
	}

	if err := s.store.UpdateProvider(r.Context(), &p); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	s.triggerRefresh()
	writeJSON(w, http.StatusOK, &p)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProvider(r.Context(), r.PathValue("key")); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	s.triggerRefresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshProviders(w http.ResponseWriter, r *http.Request) {
	s.triggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (s *Server) handleUpsertRoleMapping(w http.ResponseWriter, r *http.Request) {
	var m domain.RoleMapping
	if !s.decodeBody(w, r, &m) {
		return
	}
	if err := validation.ValidateRoleMapping(&m); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	if m.ID == "" {
		existing, err := s.store.GetRoleMapping(r.Context(), m.ProviderKey, m.ExternalRole)
		switch {
		case err == nil:
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			m.ID = uuid.NewString()
			m.CreatedAt = s.now().UTC()
		default:
			s.writeStoreErr(w, r, err)
			return
		}
	}
	m.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertRoleMapping(r.Context(), &m); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &m)
}

func (s *Server) handleListRoleMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListRoleMappings(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_mappings": mappings})
}

func (s *Server) handleDeleteRoleMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRoleMapping(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertClientMapping(w http.ResponseWriter, r *http.Request) {
	var m domain.ClientMapping
	if !s.decodeBody(w, r, &m) {
		return
	}
	if err := validation.ValidateClientMapping(&m); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	if m.ID == "" {
		existing, err := s.store.GetClientMapping(r.Context(), m.ProviderKey, m.TenantID)
		switch {
		case err == nil:
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			m.ID = uuid.NewString()
			m.CreatedAt = s.now().UTC()
		default:
			s.writeStoreErr(w, r, err)
			return
		}
	}
	m.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertClientMapping(r.Context(), &m); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &m)
}

func (s *Server) handleListClientMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListClientMappings(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_mappings": mappings})
}

func (s *Server) handleDeleteClientMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteClientMapping(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	identities, total, err := s.store.ListIdentities(r.Context(), q.Get("provider"), limit, offset)
	if err != nil {
		s.writeStoreErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identities": identities,
		"total":      total,
	})
}

func (s *Server) handleSetIdentityActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		subject := r.PathValue("subject")
		if err := s.store.SetIdentityActive(r.Context(), provider, subject, active); err != nil {
			s.writeStoreErr(w, r, err)
			return
		}
		id, err := s.store.GetIdentity(r.Context(), provider, subject)
		if err != nil {
			s.writeStoreErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, id)
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, http.StatusNotFound, CodeNotFound, "audit logging is disabled")
		return
	}

	q := r.URL.Query()
	opts := audit.ListOptions{
		Limit:       queryInt(q.Get("limit"), 50),
		Offset:      queryInt(q.Get("offset"), 0),
		Actor:       q.Get("actor"),
		ProviderKey: q.Get("provider"),
		Decision:    q.Get("decision"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, "since must be RFC 3339")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, "until must be RFC 3339")
			return
		}
		opts.Until = &t
	}

	events, total, err := s.audit.List(r.Context(), opts)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "audit query failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
	})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
