package mfa

import (
	"context"
	"errors"
	"time"

	"ballotguard.org/internal/auth"
)

var (
	// ErrNotEnrolled means no MFA record exists for the principal.
	ErrNotEnrolled = errors.New("mfa: not enrolled")
	// ErrNotEnabled means the principal has not completed MFA verification.
	ErrNotEnabled = errors.New("mfa: not enabled")
)

// Subject identifies the principal an MFA record belongs to. Admin and voter
// identifiers live in separate namespaces.
type Subject struct {
	Kind auth.Kind
	ID   string
}

// SubjectOf returns the MFA subject for p.
func SubjectOf(p auth.Principal) Subject {
	return Subject{Kind: p.Kind, ID: p.ID}
}

// Record is the persisted MFA state. PendingSecret holds a rotated secret that
// has not been verified yet; Secret is only used for verification once Enabled.
type Record struct {
	Subject       Subject
	Secret        string
	PendingSecret string
	Enabled       bool
	UpdatedAt     time.Time
}

// Store persists MFA records. Get returns ErrNotEnrolled when absent.
type Store interface {
	Get(ctx context.Context, s Subject) (Record, error)
	Put(ctx context.Context, rec Record) error
	Clear(ctx context.Context, s Subject) error
}

// BackupCodeStore persists hashed single-use backup codes.
type BackupCodeStore interface {
	// Replace discards every existing code for s and stores hashes.
	Replace(ctx context.Context, s Subject, hashes []string) error
	// Consume marks the code with hash as used. It returns false when the code
	// is unknown or already consumed. Concurrent calls for the same code must
	// succeed at most once.
	Consume(ctx context.Context, s Subject, hash string) (bool, error)
	// Remaining counts unconsumed codes.
	Remaining(ctx context.Context, s Subject) (int, error)
	Clear(ctx context.Context, s Subject) error
}

// FlagSetter flips the mfaEnabled attribute on the principal's own record.
type FlagSetter interface {
	SetMFAEnabled(ctx context.Context, kind auth.Kind, id string, enabled bool) error
}
