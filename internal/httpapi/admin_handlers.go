package httpapi

import (
	"net/http"

	"ballotguard.org/internal/auth"
)

// handleRegionScope confirms the caller may act on the region in the path.
// The guards have already decided; this only reports the effective scope.
func (a *API) handleRegionScope(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"region":       r.PathValue("region"),
		"principal_id": p.ID,
		"role":         p.Role,
		"regions":      p.RegionList(),
		"unrestricted": a.cfg.Roles.IsTopRank(p.Role),
	})
}
