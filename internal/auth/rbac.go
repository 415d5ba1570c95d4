package auth

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleEntry is one row of the static role table.
type RoleEntry struct {
	Role        Role         `yaml:"role"`
	Rank        int          `yaml:"rank"`
	Kind        Kind         `yaml:"kind"`
	Permissions []Permission `yaml:"permissions"`
}

type roleDef struct {
	rank  int
	kind  Kind
	perms map[Permission]struct{}
}

// RoleTable maps role names to ranks and permission sets. It is built once at
// startup and is read-only afterwards, so it is safe for concurrent use.
type RoleTable struct {
	roles   map[Role]roleDef
	top     Role
	topRank int
}

// NewRoleTable validates entries and builds an immutable table. Ranks must be
// unique and SystemAdministrator must hold the maximum rank.
func NewRoleTable(entries []RoleEntry) (*RoleTable, error) {
	if len(entries) == 0 {
		return nil, errors.New("role table: no roles defined")
	}
	t := &RoleTable{roles: make(map[Role]roleDef, len(entries))}
	ranks := make(map[int]Role, len(entries))
	for _, e := range entries {
		name := Role(strings.TrimSpace(string(e.Role)))
		if name == "" {
			return nil, errors.New("role table: role name is required")
		}
		if _, dup := t.roles[name]; dup {
			return nil, fmt.Errorf("role table: duplicate role %s", name)
		}
		if e.Rank <= 0 {
			return nil, fmt.Errorf("role table: role %s must have a positive rank", name)
		}
		if other, dup := ranks[e.Rank]; dup {
			return nil, fmt.Errorf("role table: roles %s and %s share rank %d", other, name, e.Rank)
		}
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("role table: role %s has unknown kind %q", name, e.Kind)
		}
		ranks[e.Rank] = name
		perms := make(map[Permission]struct{}, len(e.Permissions))
		for _, p := range e.Permissions {
			p = Permission(strings.TrimSpace(string(p)))
			if p != "" {
				perms[p] = struct{}{}
			}
		}
		t.roles[name] = roleDef{rank: e.Rank, kind: e.Kind, perms: perms}
		if e.Rank > t.topRank {
			t.top, t.topRank = name, e.Rank
		}
	}
	sysadmin, ok := t.roles[RoleSystemAdministrator]
	if !ok {
		return nil, fmt.Errorf("role table: %s is required", RoleSystemAdministrator)
	}
	if sysadmin.rank != t.topRank {
		return nil, fmt.Errorf("role table: %s must hold the maximum rank", RoleSystemAdministrator)
	}
	if sysadmin.kind != KindAdmin {
		return nil, fmt.Errorf("role table: %s must be an admin role", RoleSystemAdministrator)
	}
	return t, nil
}

// DefaultRoleTable returns the table built from BuiltinRoles.
func DefaultRoleTable() *RoleTable {
	t, err := NewRoleTable(BuiltinRoles)
	if err != nil {
		panic(err)
	}
	return t
}

type roleFile struct {
	Roles []RoleEntry `yaml:"roles"`
}

// LoadRoleTable reads a YAML document of the form
//
//	roles:
//	  - role: ElectionManager
//	    rank: 65
//	    kind: admin
//	    permissions:
//	      - election:create
func LoadRoleTable(r io.Reader) (*RoleTable, error) {
	var doc roleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("role table: decode: %w", err)
	}
	return NewRoleTable(doc.Roles)
}

// Rank returns the numeric seniority of role, or 0 if the role is unknown.
func (t *RoleTable) Rank(role Role) int {
	return t.roles[role].rank
}

// Known reports whether role is defined in the table.
func (t *RoleTable) Known(role Role) bool {
	_, ok := t.roles[role]
	return ok
}

// KindOf returns the principal namespace a role belongs to.
func (t *RoleTable) KindOf(role Role) (Kind, bool) {
	def, ok := t.roles[role]
	if !ok {
		return "", false
	}
	return def.kind, true
}

// HasEqualOrHigherRole reports whether userRole is at least as senior as
// requiredRole. Unknown user roles never satisfy a requirement.
func (t *RoleTable) HasEqualOrHigherRole(userRole, requiredRole Role) bool {
	if !t.Known(userRole) {
		return false
	}
	return t.Rank(userRole) >= t.Rank(requiredRole)
}

// RoleImplies reports whether role grants permission. The top-rank role
// implies every permission.
func (t *RoleTable) RoleImplies(role Role, permission Permission) bool {
	def, ok := t.roles[role]
	if !ok {
		return false
	}
	if role == t.top {
		return true
	}
	_, granted := def.perms[permission]
	return granted
}

// IsTopRank reports whether role holds the maximum rank.
func (t *RoleTable) IsTopRank(role Role) bool {
	return t.Known(role) && role == t.top
}

// Entries returns the table ordered by descending rank.
func (t *RoleTable) Entries() []RoleEntry {
	out := make([]RoleEntry, 0, len(t.roles))
	for name, def := range t.roles {
		perms := make([]Permission, 0, len(def.perms))
		for p := range def.perms {
			perms = append(perms, p)
		}
		sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
		out = append(out, RoleEntry{Role: name, Rank: def.rank, Kind: def.kind, Permissions: perms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank > out[j].Rank })
	return out
}
