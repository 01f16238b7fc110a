package api

import (
	"net/http"

	"vibegate/internal/domain"
)

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status    string                  `json:"status"`
	Providers []domain.ProviderHealth `json:"providers"`
}

// handleHealthz reports per-provider validation readiness. The gateway is
// healthy when every active provider has a registered validation scheme;
// otherwise it answers 503 so load balancers can rotate the instance out.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	providers := s.registry.All()
	health := make([]domain.ProviderHealth, 0, len(providers))
	healthy := true

	for _, p := range providers {
		registered := s.registrar.IsRegistered(p.SchemeID)
		if p.Active && !registered {
			healthy = false
		}
		health = append(health, domain.ProviderHealth{
			Key:                 p.Key,
			Issuer:              p.Issuer,
			Active:              p.Active,
			Bootstrap:           p.Bootstrap,
			SchemeRegistered:    registered,
			DisabledAt:          p.DisabledAt,
			DisableGraceMinutes: p.DisableGraceMinutes,
		})
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Providers: health})
}
