package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleTeamLeader Role = "team_leader"
	RoleOperator   Role = "operator"
)

type Permission string

const (
	ViewKPIs           Permission = "view_kpis"
	CreateKPIs         Permission = "create_kpis"
	EditKPIs           Permission = "edit_kpis"
	DeleteKPIs         Permission = "delete_kpis"
	ViewActions        Permission = "view_actions"
	CreateActions      Permission = "create_actions"
	EditActions        Permission = "edit_actions"
	DeleteActions      Permission = "delete_actions"
	CompleteActions    Permission = "complete_actions"
	ViewProblems       Permission = "view_problems"
	CreateProblems     Permission = "create_problems"
	EditProblems       Permission = "edit_problems"
	DeleteProblems     Permission = "delete_problems"
	EscalateProblems   Permission = "escalate_problems"
	ViewWorkstations   Permission = "view_workstations"
	ManageWorkstations Permission = "manage_workstations"
	ViewReports        Permission = "view_reports"
	GenerateReports    Permission = "generate_reports"
	ViewSettings       Permission = "view_settings"
	ManageUsers        Permission = "manage_users"
	ManageCategories   Permission = "manage_categories"
)

// Kind names an entity family that has create/edit/delete permissions.
type Kind string

const (
	KindKPIs     Kind = "kpis"
	KindActions  Kind = "actions"
	KindProblems Kind = "problems"
)

var Kinds = []Kind{KindKPIs, KindActions, KindProblems}

// AllPermissions is the closed permission vocabulary.
var AllPermissions = []Permission{
	ViewKPIs, CreateKPIs, EditKPIs, DeleteKPIs,
	ViewActions, CreateActions, EditActions, DeleteActions, CompleteActions,
	ViewProblems, CreateProblems, EditProblems, DeleteProblems, EscalateProblems,
	ViewWorkstations, ManageWorkstations,
	ViewReports, GenerateReports,
	ViewSettings, ManageUsers, ManageCategories,
}

// Roles lists the known roles from most to least privileged.
var Roles = []Role{RoleAdmin, RoleManager, RoleTeamLeader, RoleOperator}

var ErrDenied = errors.New("permission denied")

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Role       Role
	Permission Permission
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required (role %q)", e.Permission, e.Role)
}

func (e ForbiddenError) Is(target error) bool { return target == ErrDenied }

// DefaultTable returns the stock role to permission table.
func DefaultTable() map[Role][]Permission {
	return map[Role][]Permission{
		RoleAdmin: append([]Permission(nil), AllPermissions...),
		RoleManager: {
			ViewKPIs, CreateKPIs, EditKPIs,
			ViewActions, CreateActions, EditActions, DeleteActions, CompleteActions,
			ViewProblems, CreateProblems, EditProblems, EscalateProblems,
			ViewWorkstations, ManageWorkstations,
			ViewReports, GenerateReports,
			ViewSettings, ManageCategories,
		},
		RoleTeamLeader: {
			ViewKPIs, EditKPIs,
			ViewActions, CreateActions, EditActions, CompleteActions,
			ViewProblems, CreateProblems, EditProblems, EscalateProblems,
			ViewWorkstations,
			ViewReports,
			ViewSettings,
		},
		RoleOperator: {
			ViewKPIs,
			ViewActions, CompleteActions,
			ViewProblems, CreateProblems,
			ViewWorkstations,
			ViewSettings,
		},
	}
}

// Matrix answers permission questions for a role. It is read-only once built
// and safe for concurrent use.
type Matrix struct {
	roles map[Role]map[Permission]struct{}
}

// NewMatrix copies table into a set-backed matrix.
func NewMatrix(table map[Role][]Permission) Matrix {
	m := Matrix{roles: make(map[Role]map[Permission]struct{}, len(table))}
	for role, perms := range table {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		m.roles[role] = set
	}
	return m
}

func DefaultMatrix() Matrix {
	return NewMatrix(DefaultTable())
}

// Has reports whether role holds perm. Unknown roles hold nothing.
func (m Matrix) Has(role Role, perm Permission) bool {
	set, ok := m.roles[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// HasAny is false for an empty list.
func (m Matrix) HasAny(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if m.Has(role, p) {
			return true
		}
	}
	return false
}

// HasAll is true for an empty list.
func (m Matrix) HasAll(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if !m.Has(role, p) {
			return false
		}
	}
	return true
}

func (m Matrix) CanCreate(role Role, kind Kind) bool {
	return m.Has(role, Permission("create_"+string(kind)))
}

func (m Matrix) CanEdit(role Role, kind Kind) bool {
	return m.Has(role, Permission("edit_"+string(kind)))
}

func (m Matrix) CanDelete(role Role, kind Kind) bool {
	return m.Has(role, Permission("delete_"+string(kind)))
}

func (m Matrix) CanComplete(role Role) bool {
	return m.Has(role, CompleteActions)
}

func (m Matrix) CanEscalate(role Role) bool {
	return m.Has(role, EscalateProblems)
}

// Require returns a ForbiddenError when role lacks perm.
func (m Matrix) Require(role Role, perm Permission) error {
	if m.Has(role, perm) {
		return nil
	}
	return ForbiddenError{Role: role, Permission: perm}
}

// RequireAny reports the first listed permission when none is held.
func (m Matrix) RequireAny(role Role, perms ...Permission) error {
	if m.HasAny(role, perms...) {
		return nil
	}
	var first Permission
	if len(perms) > 0 {
		first = perms[0]
	}
	return ForbiddenError{Role: role, Permission: first}
}

// Permissions returns the sorted permissions granted to role.
func (m Matrix) Permissions(role Role) []Permission {
	set := m.roles[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roles returns the configured roles in privilege order, unknown ones last.
func (m Matrix) Roles() []Role {
	out := make([]Role, 0, len(m.roles))
	for r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := Rank(out[i]), Rank(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i] < out[j]
	})
	return out
}

// Table returns a copy of the matrix as a role to sorted permissions table.
func (m Matrix) Table() map[Role][]Permission {
	out := make(map[Role][]Permission, len(m.roles))
	for r := range m.roles {
		out[r] = m.Permissions(r)
	}
	return out
}

// Validate checks the vocabulary, that delete implies edit for every kind,
// and that admin (when configured) holds every permission any role holds.
func (m Matrix) Validate() error {
	known := make(map[Permission]struct{}, len(AllPermissions))
	for _, p := range AllPermissions {
		known[p] = struct{}{}
	}
	var problems []string
	for _, role := range m.Roles() {
		for p := range m.roles[role] {
			if _, ok := known[p]; !ok {
				problems = append(problems, fmt.Sprintf("role %s has unknown permission %s", role, p))
			}
		}
		for _, kind := range Kinds {
			if m.CanDelete(role, kind) && !m.CanEdit(role, kind) {
				problems = append(problems, fmt.Sprintf("role %s can delete %s but not edit them", role, kind))
			}
		}
	}
	if _, ok := m.roles[RoleAdmin]; ok {
		for _, role := range m.Roles() {
			for p := range m.roles[role] {
				if !m.Has(RoleAdmin, p) {
					problems = append(problems, fmt.Sprintf("admin lacks %s granted to %s", p, role))
				}
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid permission matrix: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Rank orders the built-in roles; unknown roles rank 0.
func Rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 4
	case RoleManager:
		return 3
	case RoleTeamLeader:
		return 2
	case RoleOperator:
		return 1
	}
	return 0
}

// AtLeast reports whether role ranks at or above min.
func AtLeast(role, min Role) bool {
	r := Rank(role)
	return r > 0 && r >= Rank(min)
}

func Label(role Role) string {
	switch role {
	case RoleAdmin:
		return "Administrator"
	case RoleManager:
		return "Manager"
	case RoleTeamLeader:
		return "Team leader"
	case RoleOperator:
		return "Operator"
	}
	return string(role)
}

// ParseRole normalizes s and reports whether it names a built-in role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, Rank(r) > 0
}
