package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOwner administers a tenant's campaigns.
	RoleOwner = "owner"
	// RoleSupervisor runs campaigns and may hang up live channels.
	RoleSupervisor = "supervisor"
	// RoleAgent watches live channels only.
	RoleAgent = "agent"
	// RoleAnalyst reads campaigns, attempts and summaries.
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
	// RoleNetworkOperator is hidden: it must be allowed explicitly.
	RoleNetworkOperator = "network_operator"
)

// Role bundles used by the route table.
var (
	Operators = []string{RoleOwner, RoleSupervisor}
	Readers   = []string{RoleOwner, RoleSupervisor, RoleAnalyst}
	Watchers  = []string{RoleOwner, RoleSupervisor, RoleAgent}
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleNetworkOperator }

// Known reports whether role is one the dialer recognises.
func Known(role string) bool {
	switch role {
	case RoleOwner, RoleSupervisor, RoleAgent, RoleAnalyst, RoleSuperAdmin, RoleNetworkOperator:
		return true
	}
	return false
}
