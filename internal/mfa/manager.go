package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/obs"
)

const (
	defaultIssuer          = "Ballotguard"
	defaultBackupCodeCount = 10
	totpPeriod             = 30
	totpSkew               = 1
	backupAlphabet         = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupHalf             = 4
)

// Recorder is the audit surface the manager reports every attempt to.
type Recorder interface {
	Record(ctx context.Context, p *auth.Principal, o audit.Outcome) audit.Stream
}

// Enrollment is the material an authenticator app needs to bootstrap.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"enrollment_uri"`
}

// Manager drives the per-principal MFA state machine:
// unenrolled, pending verification, enabled, and back to unenrolled on disable.
type Manager struct {
	store     Store
	codes     BackupCodeStore
	flags     FlagSetter
	audit     Recorder
	issuer    string
	now       func() time.Time
	codeCount int
}

// Option configures a Manager.
type Option func(*Manager) error

// WithIssuer sets the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(m *Manager) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("mfa: issuer must not be empty")
		}
		m.issuer = issuer
		return nil
	}
}

// WithClock overrides the time source used for code validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return errors.New("mfa: clock must not be nil")
		}
		m.now = now
		return nil
	}
}

// WithBackupCodeCount sets the batch size for GenerateBackupCodes (8 to 10).
func WithBackupCodeCount(n int) Option {
	return func(m *Manager) error {
		if n < 8 || n > 10 {
			return fmt.Errorf("mfa: backup code count %d outside 8..10", n)
		}
		m.codeCount = n
		return nil
	}
}

// NewManager wires the MFA stores, the principal flag setter and the audit recorder.
func NewManager(store Store, codes BackupCodeStore, flags FlagSetter, rec Recorder, opts ...Option) (*Manager, error) {
	if store == nil || codes == nil || flags == nil || rec == nil {
		return nil, errors.New("mfa: store, backup codes, flags and recorder are required")
	}
	m := &Manager{
		store:     store,
		codes:     codes,
		flags:     flags,
		audit:     rec,
		issuer:    defaultIssuer,
		now:       time.Now,
		codeCount: defaultBackupCodeCount,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// BeginEnrollment generates a fresh secret for p. While MFA is already enabled
// the new secret is kept pending and replaces the active one only once
// verified, so a rotation attempt never locks the principal out.
func (m *Manager) BeginEnrollment(ctx context.Context, p auth.Principal) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName(p),
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("mfa: generate secret: %w", err)
	}

	subject := SubjectOf(p)
	rec, err := m.store.Get(ctx, subject)
	switch {
	case errors.Is(err, ErrNotEnrolled):
		rec = Record{Subject: subject}
	case err != nil:
		return Enrollment{}, fmt.Errorf("mfa: load record: %w", err)
	}
	if rec.Enabled {
		rec.PendingSecret = key.Secret()
	} else {
		rec.Secret = key.Secret()
		rec.PendingSecret = ""
	}
	rec.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return Enrollment{}, fmt.Errorf("mfa: store record: %w", err)
	}

	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionMFAEnrollmentStarted,
		ResourceType: "mfa",
		ResourceID:   p.ID,
		Details:      map[string]any{"rotation": rec.Enabled},
	})
	obs.ObserveMFAAttempt("enroll", true)
	return Enrollment{Secret: key.Secret(), URI: key.URL()}, nil
}

// VerifyAndEnable checks code against the pending secret (or the current one
// when nothing is pending) and enables MFA on success. A wrong code returns
// false with no state change.
func (m *Manager) VerifyAndEnable(ctx context.Context, p auth.Principal, code string) (bool, error) {
	rec, err := m.store.Get(ctx, SubjectOf(p))
	if errors.Is(err, ErrNotEnrolled) {
		m.reportFailure(ctx, p, audit.ActionMFAVerificationFailed, "verify", "not_enrolled")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mfa: load record: %w", err)
	}

	candidate := rec.PendingSecret
	if candidate == "" {
		candidate = rec.Secret
	}
	if candidate == "" || !m.validate(code, candidate) {
		m.reportFailure(ctx, p, audit.ActionMFAVerificationFailed, "verify", "invalid_code")
		return false, nil
	}

	rec.Secret = candidate
	rec.PendingSecret = ""
	rec.Enabled = true
	rec.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return false, fmt.Errorf("mfa: store record: %w", err)
	}
	if err := m.flags.SetMFAEnabled(ctx, p.Kind, p.ID, true); err != nil {
		return false, fmt.Errorf("mfa: set principal flag: %w", err)
	}

	p.MFAEnabled = true
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionMFAEnabled,
		ResourceType: "mfa",
		ResourceID:   p.ID,
	})
	obs.ObserveMFAAttempt("verify", true)
	return true, nil
}

// Verify checks a login-time code against the enabled secret.
func (m *Manager) Verify(ctx context.Context, p auth.Principal, code string) (bool, error) {
	rec, err := m.enabledRecord(ctx, p)
	if errors.Is(err, ErrNotEnabled) {
		m.reportFailure(ctx, p, audit.ActionMFAVerificationFailed, "login", "not_enabled")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !m.validate(code, rec.Secret) {
		m.reportFailure(ctx, p, audit.ActionMFAVerificationFailed, "login", "invalid_code")
		return false, nil
	}
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionMFAVerified,
		ResourceType: "mfa",
		ResourceID:   p.ID,
	})
	obs.ObserveMFAAttempt("login", true)
	return true, nil
}

// Disable turns MFA off after checking code against the enabled secret. The
// secret and every backup code are discarded. Disabling a principal without
// MFA enabled succeeds without changes.
//
// The principal flag is cleared first: a failure part way through may leave
// an orphaned secret behind but never mfaEnabled=true without one.
func (m *Manager) Disable(ctx context.Context, p auth.Principal, code string) (bool, error) {
	rec, err := m.enabledRecord(ctx, p)
	if errors.Is(err, ErrNotEnabled) {
		m.audit.Record(ctx, &p, audit.Outcome{
			Action:       audit.ActionMFADisabled,
			ResourceType: "mfa",
			ResourceID:   p.ID,
			Details:      map[string]any{"noop": true},
		})
		obs.ObserveMFAAttempt("disable", true)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !m.validate(code, rec.Secret) {
		m.reportFailure(ctx, p, audit.ActionMFADisableFailed, "disable", "invalid_code")
		return false, nil
	}

	if err := m.flags.SetMFAEnabled(ctx, p.Kind, p.ID, false); err != nil {
		return false, fmt.Errorf("mfa: set principal flag: %w", err)
	}
	subject := SubjectOf(p)
	if err := m.store.Clear(ctx, subject); err != nil {
		return false, fmt.Errorf("mfa: clear record: %w", err)
	}
	if err := m.codes.Clear(ctx, subject); err != nil {
		return false, fmt.Errorf("mfa: clear backup codes: %w", err)
	}

	p.MFAEnabled = false
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionMFADisabled,
		ResourceType: "mfa",
		ResourceID:   p.ID,
	})
	obs.ObserveMFAAttempt("disable", true)
	return true, nil
}

// GenerateBackupCodes issues a fresh batch and invalidates any previous one.
// The plaintext codes are returned once and only their hashes are stored.
func (m *Manager) GenerateBackupCodes(ctx context.Context, p auth.Principal) ([]string, error) {
	if _, err := m.enabledRecord(ctx, p); err != nil {
		return nil, err
	}
	codes := make([]string, 0, m.codeCount)
	hashes := make([]string, 0, m.codeCount)
	seen := make(map[string]struct{}, m.codeCount)
	for len(codes) < m.codeCount {
		code, err := newBackupCode()
		if err != nil {
			return nil, fmt.Errorf("mfa: generate backup code: %w", err)
		}
		h := HashBackupCode(code)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, h)
	}
	if err := m.codes.Replace(ctx, SubjectOf(p), hashes); err != nil {
		return nil, fmt.Errorf("mfa: store backup codes: %w", err)
	}
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionBackupCodesGenerated,
		ResourceType: "mfa",
		ResourceID:   p.ID,
		Details:      map[string]any{"count": len(codes)},
	})
	obs.ObserveMFAAttempt("backup_generate", true)
	return codes, nil
}

// ConsumeBackupCode redeems code once. It returns false for unknown or
// already used codes, and the number of codes still unused.
func (m *Manager) ConsumeBackupCode(ctx context.Context, p auth.Principal, code string) (bool, int, error) {
	subject := SubjectOf(p)
	normalized := normalizeBackupCode(code)
	ok := false
	if normalized != "" {
		var err error
		ok, err = m.codes.Consume(ctx, subject, HashBackupCode(normalized))
		if err != nil {
			return false, 0, fmt.Errorf("mfa: consume backup code: %w", err)
		}
	}
	remaining, err := m.codes.Remaining(ctx, subject)
	if err != nil {
		remaining = -1
		obs.Diagnostic("backup_code_count_failed", map[string]any{"principal_id": p.ID, "error": err.Error()})
	}
	if !ok {
		m.reportFailure(ctx, p, audit.ActionBackupCodeFailed, "backup_redeem", "invalid_code")
		return false, remaining, nil
	}
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       audit.ActionBackupCodeUsed,
		ResourceType: "mfa",
		ResourceID:   p.ID,
		Details:      map[string]any{"remaining": remaining},
	})
	obs.ObserveMFAAttempt("backup_redeem", true)
	return true, remaining, nil
}

// Remaining reports how many unused backup codes p holds.
func (m *Manager) Remaining(ctx context.Context, p auth.Principal) (int, error) {
	return m.codes.Remaining(ctx, SubjectOf(p))
}

func (m *Manager) enabledRecord(ctx context.Context, p auth.Principal) (Record, error) {
	rec, err := m.store.Get(ctx, SubjectOf(p))
	if errors.Is(err, ErrNotEnrolled) {
		return Record{}, ErrNotEnabled
	}
	if err != nil {
		return Record{}, fmt.Errorf("mfa: load record: %w", err)
	}
	if !rec.Enabled || rec.Secret == "" {
		return Record{}, ErrNotEnabled
	}
	return rec, nil
}

func (m *Manager) validate(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (m *Manager) reportFailure(ctx context.Context, p auth.Principal, action, operation, reason string) {
	m.audit.Record(ctx, &p, audit.Outcome{
		Action:       action,
		ResourceType: "mfa",
		ResourceID:   p.ID,
		Failed:       true,
		Suspicious:   true,
		Details:      map[string]any{"reason": reason},
	})
	obs.ObserveMFAAttempt(operation, false)
}

func accountName(p auth.Principal) string {
	switch {
	case p.Admin != nil && p.Admin.Email != "":
		return p.Admin.Email
	case p.Voter != nil && p.Voter.VIN != "":
		return p.Voter.VIN
	default:
		return p.ID
	}
}

// HashBackupCode returns the storage form of a backup code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func normalizeBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func newBackupCode() (string, error) {
	buf := make([]byte, backupHalf*2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, backupHalf*2+1)
	for i, b := range buf {
		if i == backupHalf {
			out = append(out, '-')
		}
		out = append(out, backupAlphabet[int(b)%len(backupAlphabet)])
	}
	return string(out), nil
}
