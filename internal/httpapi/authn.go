package httpapi

import (
	"net/http"
	"strings"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/obs"
)

const authHeader = "Authorization"

// Mount registers handler behind the authentication and authorization
// pipeline: resolve the bearer token, run guards in order, record the decision
// and only then call handler. Path wildcards in pattern are passed to guards
// as params.
func (a *API) Mount(pattern string, handler http.Handler, guards ...auth.Guard) {
	a.mux.Handle(pattern, a.protect(pattern, handler, guards))
}

func (a *API) protect(pattern string, next http.Handler, guards []auth.Guard) http.Handler {
	names := patternParams(pattern)
	route := routeOf(pattern)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal, err := a.cfg.Resolver.Authenticate(ctx, r.Header.Get(authHeader))
		if err != nil {
			a.deny(w, r, nil, route, "authenticate", err)
			return
		}

		params := make(auth.Params, len(names))
		for _, name := range names {
			params[name] = r.PathValue(name)
		}
		if err := auth.Check(principal, params, guards...); err != nil {
			a.deny(w, r, &principal, route, "authorize", err)
			return
		}

		a.cfg.Audit.Record(ctx, &principal, audit.Outcome{
			Action:       audit.ActionAccessGranted,
			ResourceType: "route",
			ResourceID:   route,
			Details:      map[string]any{"method": r.Method, "path": r.URL.Path},
		})
		obs.ObserveAuthDecision("authorize", "OK")
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(ctx, principal)))
	})
}

func (a *API) deny(w http.ResponseWriter, r *http.Request, p *auth.Principal, route, stage string, err error) {
	ae, _ := auth.AsError(err)
	details := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"code":   string(ae.Code),
		"tier":   string(ae.Tier()),
	}
	a.cfg.Audit.Record(r.Context(), p, audit.Outcome{
		Action:       audit.ActionAccessDenied,
		ResourceType: "route",
		ResourceID:   route,
		Failed:       true,
		Suspicious:   ae.Tier() == auth.TierAuthentication,
		Details:      details,
	})
	obs.ObserveAuthDecision(stage, string(ae.Code))
	if ae.Tier() == auth.TierInternal {
		obs.Diagnostic("auth_internal_error", map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"code":       string(ae.Code),
			"error":      ae.Error(),
		})
	}
	writeAuthError(w, r, ae)
}

// patternParams lists the wildcard names of a ServeMux pattern.
func patternParams(pattern string) []string {
	var names []string
	for _, seg := range strings.Split(routeOf(pattern), "/") {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
		name = strings.TrimSuffix(name, "...")
		if name != "" && name != "$" {
			names = append(names, name)
		}
	}
	return names
}

// routeOf strips the method and host from a ServeMux pattern.
func routeOf(pattern string) string {
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = strings.TrimSpace(pattern[i+1:])
	}
	if i := strings.IndexByte(pattern, '/'); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}
