package model

// Role is the caller's privilege level, taken from verified JWT claims.
// The core trusts this value and does not re-verify it.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Privileged reports whether r may see real identities, trait scores, and the
// raw response map. Only teachers are privileged.
func (r Role) Privileged() bool {
	return r == RoleTeacher
}
