package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "ballotguard"

	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var errMissingSecret = errors.New("secret is not configured")

// Claims is the JWT payload. Refresh tokens never carry Role; they carry Kind so
// the resolver knows which store to re-read.
type Claims struct {
	Role  Role  `json:"role,omitempty"`
	Kind  Kind  `json:"kind,omitempty"`
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// TokenClaims are the verified claims handed to callers.
type TokenClaims struct {
	ID        string
	SubjectID string
	Role      Role
	Kind      Kind
	Scope     Scope
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies bearer tokens. Access and refresh tokens use
// independent secrets.
type TokenCodec struct {
	roles         *RoleTable
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// CodecOption configures TokenCodec behavior.
type CodecOption func(*TokenCodec) error

// WithTTLs overrides token lifetimes. Non-positive values are rejected.
func WithTTLs(access, refresh time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if access <= 0 {
			return &ConfigError{Field: "access_ttl", Err: errors.New("must be positive")}
		}
		if refresh <= 0 {
			return &ConfigError{Field: "refresh_ttl", Err: errors.New("must be positive")}
		}
		c.accessTTL, c.refreshTTL = access, refresh
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewTokenCodec builds a codec. Missing or shared secrets are a ConfigError.
func NewTokenCodec(roles *RoleTable, accessSecret, refreshSecret string, opts ...CodecOption) (*TokenCodec, error) {
	if roles == nil {
		return nil, &ConfigError{Field: "role_table", Err: errors.New("is required")}
	}
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" {
		return nil, &ConfigError{Field: "access_token_secret", Err: errMissingSecret}
	}
	if refreshSecret == "" {
		return nil, &ConfigError{Field: "refresh_token_secret", Err: errMissingSecret}
	}
	if accessSecret == refreshSecret {
		return nil, &ConfigError{Field: "refresh_token_secret", Err: errors.New("must differ from the access token secret")}
	}
	c := &TokenCodec{
		roles:         roles,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		issuer:        defaultIssuer,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *TokenCodec) secretFor(scope Scope) ([]byte, error) {
	var secret []byte
	switch scope {
	case ScopeAccess:
		secret = c.accessSecret
	case ScopeRefresh:
		secret = c.refreshSecret
	default:
		return nil, fmt.Errorf("auth: unknown token scope %q", scope)
	}
	if len(secret) == 0 {
		return nil, &ConfigError{Field: string(scope) + "_token_secret", Err: errMissingSecret}
	}
	return secret, nil
}

func (c *TokenCodec) ttlFor(scope Scope) time.Duration {
	if scope == ScopeRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token for subjectID. A zero ttl selects the scope default;
// negative values produce an already expired token.
func (c *TokenCodec) Issue(subjectID string, role Role, scope Scope, ttl time.Duration) (string, error) {
	token, _, err := c.issue(subjectID, role, scope, ttl)
	return token, err
}

func (c *TokenCodec) issue(subjectID string, role Role, scope Scope, ttl time.Duration) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	kind, ok := c.roles.KindOf(role)
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	secret, err := c.secretFor(scope)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl == 0 {
		ttl = c.ttlFor(scope)
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if scope == ScopeAccess {
		claims.Role = role
	} else {
		claims.Kind = kind
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// IssuePair issues a fresh access/refresh pair with the configured lifetimes.
func (c *TokenCodec) IssuePair(subjectID string, role Role) (TokenPair, error) {
	access, accessExp, err := c.issue(subjectID, role, ScopeAccess, c.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := c.issue(subjectID, role, ScopeRefresh, c.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks signature, expiry and scope. It returns ErrExpiredToken for
// timing failures and ErrInvalidToken for everything else.
func (c *TokenCodec) Verify(token string, expected Scope) (TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenClaims{}, ErrInvalidToken
	}
	secret, err := c.secretFor(expected)
	if err != nil {
		return TokenClaims{}, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrExpiredToken
		}
		return TokenClaims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return TokenClaims{}, ErrInvalidToken
	}
	if claims.Scope != expected {
		return TokenClaims{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return TokenClaims{}, ErrInvalidToken
	}

	return TokenClaims{
		ID:        claims.ID,
		SubjectID: strings.TrimSpace(claims.Subject),
		Role:      claims.Role,
		Kind:      claims.Kind,
		Scope:     claims.Scope,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingHeader
	}
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingHeader
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingHeader
	}
	return token, nil
}
