package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of roles a POS user can hold. Decode it once with
// ParseRole and switch on it; never compare role codes as strings.
type Role uint8

const (
	RoleOwner Role = iota + 1
	RoleManager
	RoleCashier
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(code string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "OWNER":
		return RoleOwner, nil
	case "MANAGER":
		return RoleManager, nil
	case "CASHIER":
		return RoleCashier, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, code)
}

func (r Role) Code() string {
	switch r {
	case RoleOwner:
		return "OWNER"
	case RoleManager:
		return "MANAGER"
	case RoleCashier:
		return "CASHIER"
	}
	return "UNKNOWN"
}

func (r Role) String() string { return strings.ToLower(r.Code()) }

// CanAdministerSessions reports whether the role may revoke other users' sessions.
func (r Role) CanAdministerSessions() bool {
	switch r {
	case RoleOwner, RoleManager:
		return true
	case RoleCashier:
		return false
	}
	return false
}

// RoleLookup resolves a tenant-scoped role id to its decoded Role.
type RoleLookup interface {
	RoleOf(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
}
