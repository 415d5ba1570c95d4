package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/mfa"
)

type codeRequest struct {
	Code string `json:"code"`
}

func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	enr, err := a.cfg.MFA.BeginEnrollment(r.Context(), p)
	if err != nil {
		writeMFAError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enr)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	p, code, ok := principalAndCode(w, r)
	if !ok {
		return
	}
	enabled, err := a.cfg.MFA.VerifyAndEnable(r.Context(), p, code)
	if err != nil {
		writeMFAError(w, r, err)
		return
	}
	if !enabled {
		writeAuthError(w, r, auth.Fail(auth.CodeInvalidMFAToken, nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mfa_enabled": true})
}

func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	p, code, ok := principalAndCode(w, r)
	if !ok {
		return
	}
	disabled, err := a.cfg.MFA.Disable(r.Context(), p, code)
	if err != nil {
		writeMFAError(w, r, err)
		return
	}
	if !disabled {
		writeAuthError(w, r, auth.Fail(auth.CodeInvalidMFAToken, nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mfa_enabled": false})
}

func (a *API) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	codes, err := a.cfg.MFA.GenerateBackupCodes(r.Context(), p)
	if err != nil {
		writeMFAError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backup_codes": codes,
		"remaining":    len(codes),
	})
}

func (a *API) handleBackupRedeem(w http.ResponseWriter, r *http.Request) {
	p, code, ok := principalAndCode(w, r)
	if !ok {
		return
	}
	consumed, remaining, err := a.cfg.MFA.ConsumeBackupCode(r.Context(), p, code)
	if err != nil {
		writeMFAError(w, r, err)
		return
	}
	if !consumed {
		writeAuthError(w, r, auth.Fail(auth.CodeInvalidBackupCode, nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"remaining": remaining})
}

// principalAndCode reads the mounted principal and a {"code": ...} body.
// Disable accepts an empty code when MFA was never enabled.
func principalAndCode(w http.ResponseWriter, r *http.Request) (auth.Principal, string, bool) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auth.Principal{}, "", false
	}
	return p, strings.TrimSpace(req.Code), true
}

func writeMFAError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mfa.ErrNotEnabled), errors.Is(err, mfa.ErrNotEnrolled):
		writeAuthError(w, r, auth.Fail(auth.CodeMFANotEnabled, err))
	default:
		writeAuthError(w, r, err)
	}
}
