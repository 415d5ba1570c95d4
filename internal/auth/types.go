package auth

import "time"

// Kind distinguishes the two principal populations sharing one entry point.
type Kind string

const (
	KindAdmin Kind = "admin"
	KindVoter Kind = "voter"
)

// Valid reports whether k is a known principal kind.
func (k Kind) Valid() bool {
	return k == KindAdmin || k == KindVoter
}

// Scope selects the signing secret and lifetime of a token.
type Scope string

const (
	ScopeAccess  Scope = "access"
	ScopeRefresh Scope = "refresh"
)

// Role is a role name from the role table.
type Role string

// Permission is a fine-grained capability.
type Permission string

// AdminRecord is an electoral staff account as loaded from the admin store.
type AdminRecord struct {
	ID           string
	Email        string
	FullName     string
	AdminType    Role
	Permissions  []Permission
	Regions      []string
	Active       bool
	MFAEnabled   bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VoterRecord is a registered voter as loaded from the voter store.
type VoterRecord struct {
	ID           string
	VIN          string
	FullName     string
	Role         Role
	Permissions  []Permission
	RegionID     string
	Active       bool
	MFAEnabled   bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
