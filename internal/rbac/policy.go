package rbac

import (
	"strings"

	"github.com/mind-engage/mindengage-editor/internal/auth"
)

// Policy maps platform role claims to an access right.
type Policy struct {
	Markers []string
}

// DefaultPolicy uses WriteRoleMarkers.
var DefaultPolicy = Policy{Markers: WriteRoleMarkers}

// AccessRight grants write iff any role contains any marker. Order does not
// matter; a nil or empty role list is read.
func (p Policy) AccessRight(roles []string) auth.AccessRight {
	for _, role := range roles {
		for _, m := range p.Markers {
			if m != "" && strings.Contains(role, m) {
				return auth.Write
			}
		}
	}
	return auth.Read
}

// AccessRightForRoles applies DefaultPolicy.
func AccessRightForRoles(roles []string) auth.AccessRight {
	return DefaultPolicy.AccessRight(roles)
}
