// Package acl implements the role registry gating configuration and
// privileged lending paths.
package acl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"nhblend/crypto"
)

// Role names a capability.
type Role string

const (
	RolePoolAdmin         Role = "pool_admin"
	RoleRiskAdmin         Role = "risk_admin"
	RoleAssetListingAdmin Role = "asset_listing_admin"
	RoleEmergencyAdmin    Role = "emergency_admin"
	RoleFlashBorrower     Role = "flash_borrower"
)

var knownRoles = map[Role]struct{}{
	RolePoolAdmin:         {},
	RoleRiskAdmin:         {},
	RoleAssetListingAdmin: {},
	RoleEmergencyAdmin:    {},
	RoleFlashBorrower:     {},
}

// Roles lists every known role in name order.
func Roles() []Role {
	out := make([]Role, 0, len(knownRoles))
	for role := range knownRoles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(name string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := knownRoles[role]; !ok {
		return "", fmt.Errorf("acl: unknown role %q", name)
	}
	return role, nil
}

// Manager stores role memberships.
type Manager struct {
	mu      sync.RWMutex
	members map[Role]map[crypto.Address]struct{}
}

// NewManager returns a registry where admin holds the pool-admin role.
func NewManager(admin crypto.Address) *Manager {
	m := &Manager{members: make(map[Role]map[crypto.Address]struct{})}
	if !admin.IsZero() {
		m.Grant(RolePoolAdmin, admin)
	}
	return m
}

// Grant adds account to role.
func (m *Manager) Grant(role Role, account crypto.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[role]
	if !ok {
		set = make(map[crypto.Address]struct{})
		m.members[role] = set
	}
	set[account] = struct{}{}
}

// Revoke removes account from role.
func (m *Manager) Revoke(role Role, account crypto.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[role], account)
}

// HasRole reports membership.
func (m *Manager) HasRole(role Role, account crypto.Address) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[role][account]
	return ok
}

func (m *Manager) IsPoolAdmin(account crypto.Address) bool { return m.HasRole(RolePoolAdmin, account) }

func (m *Manager) IsRiskAdmin(account crypto.Address) bool { return m.HasRole(RoleRiskAdmin, account) }

func (m *Manager) IsAssetListingAdmin(account crypto.Address) bool {
	return m.HasRole(RoleAssetListingAdmin, account)
}

func (m *Manager) IsEmergencyAdmin(account crypto.Address) bool {
	return m.HasRole(RoleEmergencyAdmin, account)
}

func (m *Manager) IsFlashBorrower(account crypto.Address) bool {
	return m.HasRole(RoleFlashBorrower, account)
}

// Members lists the holders of role ordered by hex address.
func (m *Manager) Members(role Role) []crypto.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crypto.Address, 0, len(m.members[role]))
	for account := range m.members[role] {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}
