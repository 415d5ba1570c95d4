package httpapi

import (
	"net/http"
	"time"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/session"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type principalView struct {
	ID          string            `json:"id"`
	Kind        auth.Kind         `json:"kind"`
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
	Regions     []string          `json:"regions"`
	MFAEnabled  bool              `json:"mfa_enabled"`
	Email       string            `json:"email,omitempty"`
	VIN         string            `json:"vin,omitempty"`
	FullName    string            `json:"full_name,omitempty"`
}

type tokenResponse struct {
	AccessToken          string        `json:"access_token"`
	RefreshToken         string        `json:"refresh_token"`
	AccessExpiresAt      time.Time     `json:"access_expires_at"`
	RefreshExpiresAt     time.Time     `json:"refresh_expires_at"`
	Principal            principalView `json:"principal"`
	BackupCodesRemaining *int          `json:"backup_codes_remaining,omitempty"`
}

func viewOf(p auth.Principal) principalView {
	v := principalView{
		ID:          p.ID,
		Kind:        p.Kind,
		Role:        p.Role,
		Permissions: p.PermissionList(),
		Regions:     p.RegionList(),
		MFAEnabled:  p.MFAEnabled,
	}
	switch {
	case p.Admin != nil:
		v.Email, v.FullName = p.Admin.Email, p.Admin.FullName
	case p.Voter != nil:
		v.VIN, v.FullName = p.Voter.VIN, p.Voter.FullName
	}
	return v
}

func tokenResponseOf(res session.Result) tokenResponse {
	out := tokenResponse{
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		Principal:        viewOf(res.Principal),
	}
	if res.BackupCodesRemaining >= 0 {
		n := res.BackupCodesRemaining
		out.BackupCodesRemaining = &n
	}
	return out
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.cfg.Sessions.Login(r.Context(), creds)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponseOf(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.cfg.Sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponseOf(res))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.Fail(auth.CodeAuthHeaderMissing, nil))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}
