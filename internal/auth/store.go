package auth

import "context"

// AdminStore loads electoral staff accounts. Lookups return ErrNotFound when
// no record matches.
type AdminStore interface {
	FindByID(ctx context.Context, id string) (AdminRecord, error)
	FindByEmail(ctx context.Context, email string) (AdminRecord, error)
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}

// VoterStore loads registered voters. Lookups return ErrNotFound when no
// record matches.
type VoterStore interface {
	FindByID(ctx context.Context, id string) (VoterRecord, error)
	FindByVIN(ctx context.Context, vin string) (VoterRecord, error)
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}

// MFAFlags flips the mfaEnabled attribute on whichever store owns the principal.
type MFAFlags struct {
	Admins AdminStore
	Voters VoterStore
}

// SetMFAEnabled updates the flag for the principal identified by kind and id.
func (f MFAFlags) SetMFAEnabled(ctx context.Context, kind Kind, id string, enabled bool) error {
	switch kind {
	case KindAdmin:
		if f.Admins == nil {
			return ErrNotFound
		}
		return f.Admins.SetMFAEnabled(ctx, id, enabled)
	case KindVoter:
		if f.Voters == nil {
			return ErrNotFound
		}
		return f.Voters.SetMFAEnabled(ctx, id, enabled)
	default:
		return ErrUnknownRole
	}
}
