package session

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/obs"
)

// SecondFactor verifies login-time MFA material.
type SecondFactor interface {
	Verify(ctx context.Context, p auth.Principal, code string) (bool, error)
	ConsumeBackupCode(ctx context.Context, p auth.Principal, code string) (bool, int, error)
}

// Recorder is the audit surface used for every login and refresh attempt.
type Recorder interface {
	Record(ctx context.Context, p *auth.Principal, o audit.Outcome) audit.Stream
}

// Credentials identify an admin by email or a voter by VIN.
type Credentials struct {
	Email      string `json:"email"`
	VIN        string `json:"vin"`
	Password   string `json:"password"`
	MFACode    string `json:"mfa_code"`
	BackupCode string `json:"backup_code"`
}

// Result is a successful login or refresh.
type Result struct {
	Tokens    auth.TokenPair
	Principal auth.Principal
	// BackupCodesRemaining is set when a backup code was redeemed, else -1.
	BackupCodesRemaining int
}

// Service issues token pairs. It owns no state beyond its collaborators.
type Service struct {
	codec    *auth.TokenCodec
	resolver *auth.Resolver
	admins   auth.AdminStore
	voters   auth.VoterStore
	mfa      SecondFactor
	audit    Recorder
}

// NewService wires login and refresh.
func NewService(codec *auth.TokenCodec, resolver *auth.Resolver, admins auth.AdminStore, voters auth.VoterStore, mfa SecondFactor, rec Recorder) (*Service, error) {
	if codec == nil || resolver == nil || admins == nil || voters == nil || mfa == nil || rec == nil {
		return nil, errors.New("session: all dependencies are required")
	}
	return &Service{codec: codec, resolver: resolver, admins: admins, voters: voters, mfa: mfa, audit: rec}, nil
}

// Login checks credentials and the second factor, then issues a token pair.
// Unknown accounts and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, creds Credentials) (Result, error) {
	email := strings.TrimSpace(creds.Email)
	vin := strings.TrimSpace(creds.VIN)
	if (email == "") == (vin == "") || creds.Password == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
		return Result{}, s.loginFailed(ctx, nil, auth.Fail(auth.CodeInvalidCredentials, nil), "malformed")
	}

	var (
		p    auth.Principal
		hash string
		err  error
	)
	if email != "" {
		var rec auth.AdminRecord
		rec, err = s.admins.FindByEmail(ctx, email)
		p, hash = auth.NewAdminPrincipal(rec), rec.PasswordHash
	} else {
		var rec auth.VoterRecord
		rec, err = s.voters.FindByVIN(ctx, vin)
		p, hash = auth.NewVoterPrincipal(rec), rec.PasswordHash
	}
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
		if errors.Is(err, auth.ErrNotFound) {
			return Result{}, s.loginFailed(ctx, nil, auth.Fail(auth.CodeInvalidCredentials, nil), "unknown_account")
		}
		obs.Diagnostic("login_lookup_failed", map[string]any{
			"request_id": audit.RequestIDFromContext(ctx),
			"error":      err.Error(),
		})
		code := auth.CodeAuthError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			code = auth.CodeAuthUnavailable
		}
		return Result{}, s.loginFailed(ctx, nil, auth.Fail(code, err), "store_error")
	}

	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
		return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeInvalidCredentials, nil), "no_password")
	}
	if err := VerifyPassword(hash, creds.Password); err != nil {
		return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeInvalidCredentials, nil), "bad_password")
	}
	if !p.Active {
		return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeAccountInactive, nil), "inactive")
	}
	if owner, ok := s.resolver.Roles().KindOf(p.Role); !ok || owner != p.Kind {
		return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeInvalidRole, auth.ErrUnknownRole), "invalid_role")
	}

	remaining := -1
	if p.MFAEnabled {
		switch {
		case strings.TrimSpace(creds.MFACode) != "":
			ok, err := s.mfa.Verify(ctx, p, creds.MFACode)
			if err != nil {
				return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeAuthError, err), "mfa_error")
			}
			if !ok {
				return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeInvalidMFAToken, nil), "invalid_mfa_code")
			}
		case strings.TrimSpace(creds.BackupCode) != "":
			ok, left, err := s.mfa.ConsumeBackupCode(ctx, p, creds.BackupCode)
			if err != nil {
				return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeAuthError, err), "mfa_error")
			}
			if !ok {
				return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeInvalidBackupCode, nil), "invalid_backup_code")
			}
			remaining = left
		default:
			return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeMFARequired, nil), "mfa_required")
		}
	}

	pair, err := s.codec.IssuePair(p.ID, p.Role)
	if err != nil {
		return Result{}, s.loginFailed(ctx, &p, auth.Fail(auth.CodeAuthError, err), "issue_failed")
	}
	s.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionLoginSuccess,
		ResourceType: "session",
		ResourceID:   p.ID,
		Details:      map[string]any{"mfa": p.MFAEnabled},
	})
	obs.ObserveAuthDecision("login", "OK")
	return Result{Tokens: pair, Principal: p, BackupCodesRemaining: remaining}, nil
}

// Refresh exchanges a refresh token for a new pair. The principal is re-read
// from its store so a demotion or deactivation takes effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(refreshToken), auth.ScopeRefresh)
	if err != nil {
		code := auth.CodeInvalidToken
		if errors.Is(err, auth.ErrExpiredToken) {
			code = auth.CodeTokenExpired
		}
		return Result{}, s.refreshFailed(ctx, nil, auth.Fail(code, err))
	}
	if claims.SubjectID == "" || !claims.Kind.Valid() {
		return Result{}, s.refreshFailed(ctx, nil, auth.Fail(auth.CodeInvalidTokenPayload, nil))
	}
	p, err := s.resolver.LoadKind(ctx, claims.Kind, claims.SubjectID)
	if err != nil {
		return Result{}, s.refreshFailed(ctx, nil, err)
	}
	pair, err := s.codec.IssuePair(p.ID, p.Role)
	if err != nil {
		return Result{}, s.refreshFailed(ctx, &p, auth.Fail(auth.CodeAuthError, err))
	}
	s.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionTokenRefreshed,
		ResourceType: "session",
		ResourceID:   p.ID,
		Details:      map[string]any{"previous_token_id": claims.ID},
	})
	obs.ObserveAuthDecision("refresh", "OK")
	return Result{Tokens: pair, Principal: p, BackupCodesRemaining: -1}, nil
}

func (s *Service) loginFailed(ctx context.Context, p *auth.Principal, ae *auth.Error, reason string) error {
	s.audit.Record(ctx, p, audit.Outcome{
		Action:       audit.ActionLoginFailed,
		ResourceType: "session",
		Failed:       true,
		Suspicious:   true,
		Details:      map[string]any{"code": string(ae.Code), "reason": reason},
	})
	obs.ObserveAuthDecision("login", string(ae.Code))
	return ae
}

func (s *Service) refreshFailed(ctx context.Context, p *auth.Principal, err error) error {
	ae, _ := auth.AsError(err)
	s.audit.Record(ctx, p, audit.Outcome{
		Action:       audit.ActionTokenRefreshFailed,
		ResourceType: "session",
		Failed:       true,
		Suspicious:   true,
		Details:      map[string]any{"code": string(ae.Code)},
	})
	obs.ObserveAuthDecision("refresh", string(ae.Code))
	return ae
}
