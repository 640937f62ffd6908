package auth

// Role gates admin surface access. Admin implies viewer; there is no
// hierarchy beyond that.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the role is one the gateway knows.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission reports whether a held role satisfies a required one.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// AnySatisfies reports whether any held role string satisfies any of the
// required ones. Used by the admin JWT middleware.
func AnySatisfies(held []string, required []Role) bool {
	for _, req := range required {
		for _, have := range held {
			if Role(have).HasPermission(req) {
				return true
			}
		}
	}
	return false
}
