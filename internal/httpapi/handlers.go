package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/mfa"
	"ballotguard.org/internal/obs"
	"ballotguard.org/internal/session"
)

// ReadyCheck is a readiness check, typically a database ping.
type ReadyCheck struct {
	DB *sql.DB
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Authenticator resolves the Authorization header into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (auth.Principal, error)
}

// Sessions issues and refreshes token pairs.
type Sessions interface {
	Login(ctx context.Context, creds session.Credentials) (session.Result, error)
	Refresh(ctx context.Context, refreshToken string) (session.Result, error)
}

// SecondFactor is the MFA surface exposed over HTTP.
type SecondFactor interface {
	BeginEnrollment(ctx context.Context, p auth.Principal) (mfa.Enrollment, error)
	VerifyAndEnable(ctx context.Context, p auth.Principal, code string) (bool, error)
	Disable(ctx context.Context, p auth.Principal, code string) (bool, error)
	GenerateBackupCodes(ctx context.Context, p auth.Principal) ([]string, error)
	ConsumeBackupCode(ctx context.Context, p auth.Principal, code string) (bool, int, error)
}

// Recorder receives the outcome of every guarded request.
type Recorder interface {
	Record(ctx context.Context, p *auth.Principal, o audit.Outcome) audit.Stream
}

// Subscriber is the live feed of suspicious voter audit entries.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan audit.VoterAuditEntry
}

// Config carries the collaborators and limits of the HTTP layer.
type Config struct {
	Roles      *auth.RoleTable
	Resolver   Authenticator
	Sessions   Sessions
	MFA        SecondFactor
	Audit      Recorder
	Suspicious Subscriber
	Ready      ReadyCheck
	Version    string

	CORSOrigins    []string
	TrustedProxies []string
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSec     float64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	cfg     Config
	guards  *auth.Guards
	proxies TrustedProxies
}

// New builds the API and registers the built-in routes.
func New(cfg Config) (*API, error) {
	if cfg.Roles == nil || cfg.Resolver == nil || cfg.Sessions == nil || cfg.MFA == nil || cfg.Audit == nil {
		return nil, errors.New("httpapi: roles, resolver, sessions, mfa and audit are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		guards:  auth.NewGuards(cfg.Roles),
		proxies: proxies,
	}
	g := a.guards

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// session
	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, cfg.RateBurst, cfg.RatePerSec)
	}
	a.mux.Handle("POST /v1/auth/login", limited(a.handleLogin))
	a.mux.Handle("POST /v1/auth/refresh", limited(a.handleRefresh))
	a.Mount("GET /v1/auth/me", http.HandlerFunc(a.handleMe))

	// mfa: one bucket per principal across every code-checking route
	mfaLimiter := newRateLimiter(cfg.RatePerSec, cfg.RateBurst)
	perPrincipal := func(h http.HandlerFunc) http.Handler {
		return limitBy(mfaLimiter, principalKey, h)
	}
	a.Mount("POST /v1/mfa/enroll", perPrincipal(a.handleMFAEnroll))
	a.Mount("POST /v1/mfa/verify", perPrincipal(a.handleMFAVerify))
	a.Mount("POST /v1/mfa/disable", perPrincipal(a.handleMFADisable))
	a.Mount("POST /v1/mfa/backup-codes", perPrincipal(a.handleBackupCodes))
	a.Mount("POST /v1/mfa/backup-codes/redeem", perPrincipal(a.handleBackupRedeem))

	a.Mount("GET /v1/admin/regions/{region}/scope", http.HandlerFunc(a.handleRegionScope),
		g.RequireRole(auth.RoleRegionalElectoralOfficer),
		g.RequireRegionalAccess("region"),
	)
	if cfg.Suspicious != nil {
		a.Mount("GET /v1/audit/suspicious/stream", http.HandlerFunc(a.SuspiciousStream),
			g.RequirePermission(auth.PermAuditRead),
			g.RequireMFACompleted(),
		)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a, nil
}

// Guards returns the guard factory bound to the API's role table.
func (a *API) Guards() *auth.Guards { return a.guards }

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = obs.Instrument(h)
	h = CORS(a.cfg.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(a.proxies)(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ballotguard",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.cfg.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ballotguard",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var codeMessages = map[auth.Code]string{
	auth.CodeAuthHeaderMissing:       "authorization header is required",
	auth.CodeInvalidToken:            "invalid token",
	auth.CodeTokenExpired:            "token expired",
	auth.CodeInvalidTokenPayload:     "invalid token",
	auth.CodeInvalidRole:             "role is not valid for this account",
	auth.CodeUserNotFound:            "invalid token",
	auth.CodeAccountInactive:         "account is inactive",
	auth.CodeInsufficientPermissions: "insufficient permissions",
	auth.CodeRegionAccessDenied:      "region is outside your scope",
	auth.CodeRegionRequired:          "region is required",
	auth.CodeMFANotEnabled:           "multi-factor authentication must be enabled",
	auth.CodeMFARequired:             "multi-factor code is required",
	auth.CodeInvalidMFAToken:         "invalid multi-factor code",
	auth.CodeInvalidBackupCode:       "invalid backup code",
	auth.CodeInvalidCredentials:      "invalid credentials",
	auth.CodeAuthUnavailable:         "authentication temporarily unavailable",
	auth.CodeAuthError:               "authentication error",
}

// writeAuthError is the only place an auth.Error becomes an HTTP response.
// The cause is never written to the client.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	ae, _ := auth.AsError(err)
	if ae == nil {
		ae = auth.Fail(auth.CodeAuthError, nil)
	}
	msg, ok := codeMessages[ae.Code]
	if !ok {
		msg = strings.ToLower(http.StatusText(ae.Status))
	}
	if ae.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ballotguard", error="invalid_token"`)
	}
	payload := map[string]any{
		"error": msg,
		"code":  string(ae.Code),
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, ae.Status, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
