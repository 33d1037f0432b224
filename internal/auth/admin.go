package auth

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role is the admin privilege level.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Admin permissions. RoleAdmin maps to a fixed set; RoleSuperAdmin holds all
// permissions implicitly.
const (
	PermProposalsRead   = "proposals.read"
	PermProposalsReview = "proposals.review"
	PermDisputesRead    = "disputes.read"
	PermDisputesReview  = "disputes.review"
	PermConfigRead      = "config.read"
)

var adminPermissions = []string{
	PermProposalsRead,
	PermProposalsReview,
	PermDisputesRead,
	PermDisputesReview,
	PermConfigRead,
}

// Admin is a resolved admin principal.
type Admin struct {
	Address string
	Role    Role
}

// HasPermission reports whether the admin may perform the action.
func (a Admin) HasPermission(perm string) bool {
	if a.Role == RoleSuperAdmin {
		return true
	}
	for _, p := range adminPermissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AdminRegistry resolves addresses to admin principals via two static
// allow-lists.
type AdminRegistry struct {
	admins      map[string]struct{}
	superAdmins map[string]struct{}
}

// NewAdminRegistry builds a registry from the configured allow-lists.
// Addresses that are not valid hex addresses are ignored.
func NewAdminRegistry(adminAddrs, superAdminAddrs []string) *AdminRegistry {
	r := &AdminRegistry{
		admins:      make(map[string]struct{}, len(adminAddrs)),
		superAdmins: make(map[string]struct{}, len(superAdminAddrs)),
	}
	for _, a := range adminAddrs {
		if norm, ok := normalizeAddress(a); ok {
			r.admins[norm] = struct{}{}
		}
	}
	for _, a := range superAdminAddrs {
		if norm, ok := normalizeAddress(a); ok {
			r.superAdmins[norm] = struct{}{}
		}
	}
	return r
}

// Resolve returns the admin principal for an address, or false when the
// address is on neither allow-list.
func (r *AdminRegistry) Resolve(address string) (Admin, bool) {
	norm, ok := normalizeAddress(address)
	if !ok {
		return Admin{}, false
	}
	if _, ok := r.superAdmins[norm]; ok {
		return Admin{Address: norm, Role: RoleSuperAdmin}, true
	}
	if _, ok := r.admins[norm]; ok {
		return Admin{Address: norm, Role: RoleAdmin}, true
	}
	return Admin{}, false
}

// normalizeAddress validates a hex address and lowercases it for map lookups.
func normalizeAddress(address string) (string, bool) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), true
}
