package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Resolver turns a bearer token into a live Principal. It only reads from the
// stores and is safe for concurrent use.
type Resolver struct {
	codec         *TokenCodec
	roles         *RoleTable
	admins        AdminStore
	voters        VoterStore
	lookupTimeout time.Duration
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds each store read. A timed-out read fails the
// authentication attempt.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// NewResolver wires the codec, role table and principal stores.
func NewResolver(codec *TokenCodec, roles *RoleTable, admins AdminStore, voters VoterStore, opts ...ResolverOption) (*Resolver, error) {
	if codec == nil || roles == nil {
		return nil, errors.New("auth: codec and role table are required")
	}
	if admins == nil || voters == nil {
		return nil, errors.New("auth: admin and voter stores are required")
	}
	r := &Resolver{codec: codec, roles: roles, admins: admins, voters: voters}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Roles exposes the role table the resolver validates against.
func (r *Resolver) Roles() *RoleTable { return r.roles }

// Authenticate resolves the principal for an Authorization header value.
func (r *Resolver) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Principal{}, Fail(CodeAuthHeaderMissing, err)
	}
	claims, err := r.codec.Verify(token, ScopeAccess)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return Principal{}, Fail(CodeTokenExpired, err)
		}
		return Principal{}, Fail(CodeInvalidToken, err)
	}
	if claims.SubjectID == "" || strings.TrimSpace(string(claims.Role)) == "" {
		return Principal{}, Fail(CodeInvalidTokenPayload, nil)
	}
	return r.Load(ctx, claims.SubjectID, claims.Role)
}

// Load dispatches on the namespace of role and loads the principal.
func (r *Resolver) Load(ctx context.Context, subjectID string, role Role) (Principal, error) {
	kind, ok := r.roles.KindOf(role)
	if !ok {
		return Principal{}, Fail(CodeInvalidRole, ErrUnknownRole)
	}
	return r.LoadKind(ctx, kind, subjectID)
}

// LoadKind loads the principal from the store owning kind and checks liveness.
func (r *Resolver) LoadKind(ctx context.Context, kind Kind, subjectID string) (Principal, error) {
	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}

	var (
		principal Principal
		err       error
	)
	switch kind {
	case KindAdmin:
		var rec AdminRecord
		rec, err = r.admins.FindByID(ctx, subjectID)
		if err == nil {
			principal = NewAdminPrincipal(rec)
		}
	case KindVoter:
		var rec VoterRecord
		rec, err = r.voters.FindByID(ctx, subjectID)
		if err == nil {
			principal = NewVoterPrincipal(rec)
		}
	default:
		return Principal{}, Fail(CodeInvalidRole, ErrUnknownRole)
	}
	if err != nil {
		return Principal{}, lookupFailure(ctx, err)
	}

	if owner, ok := r.roles.KindOf(principal.Role); !ok || owner != kind {
		return Principal{}, Fail(CodeInvalidRole, ErrUnknownRole)
	}
	if !principal.Active {
		return Principal{}, Fail(CodeAccountInactive, nil)
	}
	return principal, nil
}

func lookupFailure(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return Fail(CodeUserNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return Fail(CodeAuthUnavailable, err)
	default:
		return Fail(CodeAuthError, err)
	}
}
