package auth

import (
	"sort"
	"strings"
)

// Principal is the authenticated actor attached to a request. Exactly one of
// Admin or Voter is set, matching Kind.
type Principal struct {
	ID          string
	Kind        Kind
	Role        Role
	Permissions map[Permission]struct{}
	Regions     map[string]struct{}
	Active      bool
	MFAEnabled  bool

	Admin *AdminRecord
	Voter *VoterRecord
}

// NewAdminPrincipal builds a principal from an admin store record.
func NewAdminPrincipal(rec AdminRecord) Principal {
	p := Principal{
		ID:          rec.ID,
		Kind:        KindAdmin,
		Role:        rec.AdminType,
		Permissions: permissionSet(rec.Permissions),
		Regions:     regionSet(rec.Regions...),
		Active:      rec.Active,
		MFAEnabled:  rec.MFAEnabled,
	}
	p.Admin = &rec
	return p
}

// NewVoterPrincipal builds a principal from a voter store record. Voters
// without an explicit role default to RoleVoter.
func NewVoterPrincipal(rec VoterRecord) Principal {
	if strings.TrimSpace(string(rec.Role)) == "" {
		rec.Role = RoleVoter
	}
	p := Principal{
		ID:          rec.ID,
		Kind:        KindVoter,
		Role:        rec.Role,
		Permissions: permissionSet(rec.Permissions),
		Regions:     regionSet(rec.RegionID),
		Active:      rec.Active,
		MFAEnabled:  rec.MFAEnabled,
	}
	p.Voter = &rec
	return p
}

// HasExplicitPermission reports whether perm was granted directly to the principal.
func (p Principal) HasExplicitPermission(perm Permission) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// InRegion reports whether the principal is scoped to region.
func (p Principal) InRegion(region string) bool {
	_, ok := p.Regions[strings.TrimSpace(region)]
	return ok
}

// PermissionList returns the explicit permissions sorted.
func (p Principal) PermissionList() []Permission {
	out := make([]Permission, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegionList returns the region scope sorted.
func (p Principal) RegionList() []string {
	out := make([]string, 0, len(p.Regions))
	for k := range p.Regions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func permissionSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, perm := range perms {
		perm = Permission(strings.TrimSpace(string(perm)))
		if perm == "" {
			continue
		}
		set[perm] = struct{}{}
	}
	return set
}

func regionSet(regions ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}
