package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/mfa"
	"ballotguard.org/internal/session"
	"ballotguard.org/internal/store/memory"
	"ballotguard.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	api   *API
	codec *auth.TokenCodec
	sink  *memory.AuditSink
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(h)
}

// newTestAPI wires the full stack on memory stores. mount runs before the
// server starts so extra guarded routes can be registered.
func newTestAPI(t *testing.T, mount ...func(*API)) *apiClient {
	t.Helper()
	return newTestAPIWith(t, nil, mount...)
}

// newTestAPIWith is newTestAPI with a hook to adjust Config before New.
func newTestAPIWith(t *testing.T, tune func(*Config), mount ...func(*API)) *apiClient {
	t.Helper()

	admins := memory.NewAdmins(
		auth.AdminRecord{ID: "admin-ec", Email: "ec@example.org", AdminType: auth.RoleElectoralCommissioner, Active: true, PasswordHash: mustHash(t, "s3cret")},
		auth.AdminRecord{ID: "admin-reo", Email: "reo@example.org", AdminType: auth.RoleRegionalElectoralOfficer, Regions: []string{"lagos"}, Active: true},
		auth.AdminRecord{ID: "admin-sec", Email: "sec@example.org", AdminType: auth.RoleSecurityOfficer, Active: true, MFAEnabled: true},
		auth.AdminRecord{ID: "admin-sec2", Email: "sec2@example.org", AdminType: auth.RoleSecurityOfficer, Active: true},
	)
	voters := memory.NewVoters(
		auth.VoterRecord{ID: "voter-1", VIN: "VIN0001", RegionID: "kano", Active: true, PasswordHash: mustHash(t, "pa55")},
	)
	sink := memory.NewAuditSink()
	hub := stream.New[audit.VoterAuditEntry](8)

	roles := auth.DefaultRoleTable()
	codec, err := auth.NewTokenCodec(roles, "access-secret", "refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	resolver, err := auth.NewResolver(codec, roles, admins, voters)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	router := audit.NewRouter(sink, audit.WithPublisher(hub))
	manager, err := mfa.NewManager(memory.NewMFA(), memory.NewBackupCodes(), auth.MFAFlags{Admins: admins, Voters: voters}, router)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sessions, err := session.NewService(codec, resolver, admins, voters, manager, router)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := Config{
		Roles:      roles,
		Resolver:   resolver,
		Sessions:   sessions,
		MFA:        manager,
		Audit:      router,
		Suspicious: hub,
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
	}
	if tune != nil {
		tune(&cfg)
	}
	api, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, fn := range mount {
		fn(api)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		api:     api,
		codec:   codec,
		sink:    sink,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

// bearerFor mints an access token directly, for accounts without passwords.
func (c *apiClient) bearerFor(id string, role auth.Role) map[string]string {
	c.t.Helper()
	pair, err := c.codec.IssuePair(id, role)
	if err != nil {
		c.t.Fatalf("IssuePair: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + pair.AccessToken}
}

func (c *apiClient) login(creds map[string]any) tokenResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", creds, nil)
	if resp.StatusCode != http.StatusOK {
		body := decode[map[string]any](c.t, resp)
		c.t.Fatalf("login status %d: %v", resp.StatusCode, body)
	}
	return decode[tokenResponse](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectAuthError(t *testing.T, resp *http.Response, status int, code auth.Code) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != string(code) {
		t.Fatalf("expected code %s, got %v", code, body["code"])
	}
	if body["error"] == nil || body["error"] == "" {
		t.Fatalf("expected error message")
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request_id")
	}
}

func adminActions(sink *memory.AuditSink, actor string) []string {
	var out []string
	for _, e := range sink.AdminLogs() {
		if e.ActorID == actor {
			out = append(out, e.Action)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	body := decode[map[string]any](t, resp)
	if body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}

	resp = api.get("/readyz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	tokens := api.login(map[string]any{"email": "ec@example.org", "password": "s3cret"})
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("empty tokens issued")
	}
	if tokens.BackupCodesRemaining != nil {
		t.Fatalf("unexpected backup code count on password login")
	}

	resp := api.get("/v1/auth/me", map[string]string{"Authorization": "Bearer " + tokens.AccessToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", resp.StatusCode)
	}
	me := decode[principalView](t, resp)
	if me.ID != "admin-ec" || me.Kind != auth.KindAdmin || me.Role != auth.RoleElectoralCommissioner || me.Email != "ec@example.org" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	actions := adminActions(api.sink, "admin-ec")
	if !contains(actions, audit.ActionLoginSuccess) || !contains(actions, audit.ActionAccessGranted) {
		t.Fatalf("expected login_success and access_granted in admin log, got %v", actions)
	}
	if len(api.sink.VoterAudits()) != 0 {
		t.Fatalf("admin activity leaked into voter audit stream")
	}
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/login", map[string]any{"email": "ec@example.org", "password": "wrong"}, nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	expectAuthError(t, resp, http.StatusUnauthorized, auth.CodeInvalidCredentials)

	resp = api.post("/v1/auth/login", map[string]any{"email": "nobody@example.org", "password": "wrong"}, nil)
	expectAuthError(t, resp, http.StatusUnauthorized, auth.CodeInvalidCredentials)

	resp = api.post("/v1/auth/login", map[string]any{"email": "ec@example.org", "password": "s3cret", "role": "SystemAdministrator"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestGuardedRouteRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	expectAuthError(t, api.get("/v1/auth/me", nil), http.StatusUnauthorized, auth.CodeAuthHeaderMissing)
	expectAuthError(t, api.get("/v1/auth/me", map[string]string{"Authorization": "Bearer not-a-jwt"}),
		http.StatusUnauthorized, auth.CodeInvalidToken)

	audits := api.sink.VoterAudits()
	if len(audits) != 2 {
		t.Fatalf("expected two voter audit entries, got %d", len(audits))
	}
	for _, e := range audits {
		if e.ActionType != audit.ActionAccessDenied || !e.IsSuspicious || e.ActorID != "" {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
}

func TestRegionScopeGuards(t *testing.T) {
	api := newTestAPI(t)
	reo := api.bearerFor("admin-reo", auth.RoleRegionalElectoralOfficer)

	resp := api.get("/v1/admin/regions/lagos/scope", reo)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 in own region, got %d", resp.StatusCode)
	}
	scope := decode[map[string]any](t, resp)
	if scope["region"] != "lagos" || scope["principal_id"] != "admin-reo" {
		t.Fatalf("unexpected scope: %v", scope)
	}

	expectAuthError(t, api.get("/v1/admin/regions/ogun/scope", reo), http.StatusForbidden, auth.CodeRegionAccessDenied)

	voter := api.bearerFor("voter-1", auth.RoleVoter)
	expectAuthError(t, api.get("/v1/admin/regions/kano/scope", voter), http.StatusForbidden, auth.CodeInsufficientPermissions)

	actions := adminActions(api.sink, "admin-reo")
	if !contains(actions, audit.ActionAccessGranted) || !contains(actions, audit.ActionAccessDenied) {
		t.Fatalf("expected granted and denied entries for admin-reo, got %v", actions)
	}
	if !contains(adminActions(api.sink, "voter-1"), audit.ActionAccessDenied) {
		t.Fatalf("voter denial on an admin route must land in the admin log")
	}
}

func TestMountRunsGuards(t *testing.T) {
	var seen string
	api := newTestAPI(t, func(a *API) {
		a.Mount("POST /v1/admin/elections", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			seen = p.ID
			w.WriteHeader(http.StatusCreated)
		}), a.Guards().RequirePermission(auth.PermElectionCreate))
	})

	resp := api.post("/v1/admin/elections", nil, api.bearerFor("admin-ec", auth.RoleElectoralCommissioner))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || seen != "admin-ec" {
		t.Fatalf("expected 201 for commissioner, got %d (seen %q)", resp.StatusCode, seen)
	}

	expectAuthError(t, api.post("/v1/admin/elections", nil, api.bearerFor("admin-reo", auth.RoleRegionalElectoralOfficer)),
		http.StatusForbidden, auth.CodeInsufficientPermissions)
}

func TestVoterMFAFlow(t *testing.T) {
	api := newTestAPI(t)
	tokens := api.login(map[string]any{"vin": "vin0001", "password": "pa55"})
	bearer := map[string]string{"Authorization": "Bearer " + tokens.AccessToken}

	expectAuthError(t, api.post("/v1/mfa/backup-codes", nil, bearer), http.StatusForbidden, auth.CodeMFANotEnabled)

	resp := api.post("/v1/mfa/enroll", nil, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enroll status %d", resp.StatusCode)
	}
	enr := decode[mfa.Enrollment](t, resp)
	if enr.Secret == "" || !strings.HasPrefix(enr.URI, "otpauth://") {
		t.Fatalf("unexpected enrollment: %+v", enr)
	}

	expectAuthError(t, api.post("/v1/mfa/verify", map[string]any{"code": "12345x"}, bearer),
		http.StatusUnauthorized, auth.CodeInvalidMFAToken)

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	resp = api.post("/v1/mfa/verify", map[string]any{"code": code}, bearer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d", resp.StatusCode)
	}

	resp = api.post("/v1/mfa/backup-codes", nil, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backup-codes status %d", resp.StatusCode)
	}
	generated := decode[struct {
		Codes     []string `json:"backup_codes"`
		Remaining int      `json:"remaining"`
	}](t, resp)
	if len(generated.Codes) != 10 || generated.Remaining != 10 {
		t.Fatalf("unexpected batch: %+v", generated)
	}

	resp = api.post("/v1/mfa/backup-codes/redeem", map[string]any{"code": generated.Codes[0]}, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem status %d", resp.StatusCode)
	}
	if got := decode[map[string]any](t, resp)["remaining"]; got != float64(9) {
		t.Fatalf("remaining after redeem = %v", got)
	}
	expectAuthError(t, api.post("/v1/mfa/backup-codes/redeem", map[string]any{"code": generated.Codes[0]}, bearer),
		http.StatusUnauthorized, auth.CodeInvalidBackupCode)

	expectAuthError(t, api.post("/v1/auth/login", map[string]any{"vin": "VIN0001", "password": "pa55"}, nil),
		http.StatusUnauthorized, auth.CodeMFARequired)

	second := api.login(map[string]any{"vin": "VIN0001", "password": "pa55", "backup_code": generated.Codes[1]})
	if second.BackupCodesRemaining == nil || *second.BackupCodesRemaining != 8 {
		t.Fatalf("unexpected remaining count: %v", second.BackupCodesRemaining)
	}
	if !second.Principal.MFAEnabled {
		t.Fatalf("principal should report MFA enabled")
	}

	for _, e := range api.sink.AdminLogs() {
		if e.ActorID == "voter-1" {
			t.Fatalf("voter MFA activity leaked into admin log: %+v", e)
		}
	}
}

func TestMFARoutesShareOneBucketPerPrincipal(t *testing.T) {
	api := newTestAPIWith(t, func(cfg *Config) {
		cfg.RateBurst = 3
		cfg.RatePerSec = 0.001
	})
	tokens := api.login(map[string]any{"vin": "VIN0001", "password": "pa55"})
	bearer := map[string]string{"Authorization": "Bearer " + tokens.AccessToken}

	// Guesses spread across routes and forwarded addresses draw on one budget.
	guesses := []struct {
		path string
		body map[string]any
	}{
		{"/v1/mfa/verify", map[string]any{"code": "000000"}},
		{"/v1/mfa/backup-codes/redeem", map[string]any{"code": "AAAA-AAAA"}},
		{"/v1/mfa/disable", map[string]any{"code": "000000"}},
		{"/v1/mfa/backup-codes/redeem", map[string]any{"code": "BBBB-BBBB"}},
		{"/v1/mfa/verify", map[string]any{"code": "111111"}},
	}
	limited := 0
	for i, g := range guesses {
		headers := map[string]string{
			"Authorization":   bearer["Authorization"],
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
		}
		resp := api.post(g.path, g.body, headers)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			if resp.Header.Get("Retry-After") == "" {
				t.Fatalf("429 without Retry-After on %s", g.path)
			}
			limited++
		}
	}
	if limited != len(guesses)-3 {
		t.Fatalf("limited %d of %d guesses, want %d", limited, len(guesses), len(guesses)-3)
	}

	// Another principal keeps its own bucket.
	other := api.bearerFor("admin-sec2", auth.RoleSecurityOfficer)
	resp := api.post("/v1/mfa/verify", map[string]any{"code": "000000"}, other)
	resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		t.Fatalf("second principal throttled by first principal's guesses")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	api := newTestAPI(t)
	tokens := api.login(map[string]any{"email": "ec@example.org", "password": "s3cret"})

	resp := api.post("/v1/auth/refresh", map[string]any{"refresh_token": tokens.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d", resp.StatusCode)
	}
	refreshed := decode[tokenResponse](t, resp)
	if refreshed.AccessToken == "" || refreshed.Principal.ID != "admin-ec" {
		t.Fatalf("unexpected refresh response: %+v", refreshed)
	}

	expectAuthError(t, api.post("/v1/auth/refresh", map[string]any{"refresh_token": tokens.AccessToken}, nil),
		http.StatusUnauthorized, auth.CodeInvalidToken)
}

func TestSuspiciousStream(t *testing.T) {
	api := newTestAPI(t)

	expectAuthError(t, api.get("/v1/audit/suspicious/stream", api.bearerFor("admin-reo", auth.RoleRegionalElectoralOfficer)),
		http.StatusForbidden, auth.CodeInsufficientPermissions)
	expectAuthError(t, api.get("/v1/audit/suspicious/stream", api.bearerFor("admin-sec2", auth.RoleSecurityOfficer)),
		http.StatusForbidden, auth.CodeMFANotEnabled)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/audit/suspicious/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range api.bearerFor("admin-sec", auth.RoleSecurityOfficer) {
		req.Header.Set(k, v)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	failed := api.post("/v1/auth/login", map[string]any{"vin": "VIN9999", "password": "guess"}, nil)
	failed.Body.Close()

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var entry audit.VoterAuditEntry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if entry.ActionType != audit.ActionLoginFailed || !entry.IsSuspicious {
			t.Fatalf("unexpected event: %+v", entry)
		}
		return
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	rr := httptest.NewRecorder()
	writeAuthError(rr, httptest.NewRequest(http.MethodGet, "/", nil), context.DeadlineExceeded)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("unclassified errors must fail closed with 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "deadline") {
		t.Fatalf("cause leaked to client: %s", rr.Body.String())
	}
}
