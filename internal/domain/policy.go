package domain

import "fmt"

// Permission is a capability key attached to a role.
type Permission string

const (
	PermManageRoles          Permission = "manage-roles"
	PermReadRoles            Permission = "read-roles"
	PermManageIdentities     Permission = "manage-identities"
	PermManageSubscriptions  Permission = "manage-subscriptions"
	PermReadSubscriptions    Permission = "read-subscriptions"
	PermReadAudit            Permission = "read-audit"
	PermReceiveNotifications Permission = "receive-notifications"
)

var AllPermissions = []Permission{
	PermManageRoles,
	PermReadRoles,
	PermManageIdentities,
	PermManageSubscriptions,
	PermReadSubscriptions,
	PermReadAudit,
	PermReceiveNotifications,
}

func ParsePermission(s string) (Permission, error) {
	for _, p := range AllPermissions {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, s)
}

type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonMissingPermission Reason = "missing-permission"
	ReasonInactiveIdentity  Reason = "inactive-identity"
	ReasonNoRole            Reason = "no-role"
)

type Decision struct {
	Allowed    bool       `json:"allowed"`
	Permission Permission `json:"permission"`
	Reason     Reason     `json:"reason"`
}

// Principal is the authenticated caller with its resolved permission set.
type Principal struct {
	Identity    Identity
	SessionID   string
	Role        Role
	Permissions map[Permission]struct{}
}

func NewPrincipal(identity Identity, sessionID string, role Role) Principal {
	set := make(map[Permission]struct{}, len(role.Permissions))
	for _, p := range role.Permissions {
		set[p] = struct{}{}
	}
	return Principal{Identity: identity, SessionID: sessionID, Role: role, Permissions: set}
}

func (p Principal) Has(perm Permission) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// Evaluate decides whether the principal may exercise perm. An empty perm
// only requires an active identity.
func Evaluate(p Principal, perm Permission) Decision {
	switch {
	case !p.Identity.Active:
		return Decision{Permission: perm, Reason: ReasonInactiveIdentity}
	case perm == "":
		return Decision{Allowed: true, Reason: ReasonGranted}
	case p.Role.ID == "":
		return Decision{Permission: perm, Reason: ReasonNoRole}
	case !p.Has(perm):
		return Decision{Permission: perm, Reason: ReasonMissingPermission}
	}
	return Decision{Allowed: true, Permission: perm, Reason: ReasonGranted}
}

func (r Role) Grants(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
