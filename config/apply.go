package config

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/oracle"
)

type roleGroup struct {
	name    string
	role    acl.Role
	members []string
}

func (r Roles) groups() []roleGroup {
	return []roleGroup{
		{"PoolAdmins", acl.RolePoolAdmin, r.PoolAdmins},
		{"RiskAdmins", acl.RoleRiskAdmin, r.RiskAdmins},
		{"AssetListingAdmins", acl.RoleAssetListingAdmin, r.AssetListingAdmins},
		{"EmergencyAdmins", acl.RoleEmergencyAdmin, r.EmergencyAdmins},
		{"FlashBorrowers", acl.RoleFlashBorrower, r.FlashBorrowers},
	}
}

// AdminAddress returns the bootstrap pool admin.
func (c *Config) AdminAddress() (crypto.Address, error) {
	return decodeRequired("pool.Admin", c.Pool.Admin)
}

// PoolConfig resolves the settings passed to lending.NewPool.
func (c *Config) PoolConfig() (lending.Config, error) {
	treasury, err := decodeRequired("pool.Treasury", c.Pool.Treasury)
	if err != nil {
		return lending.Config{}, err
	}
	out := lending.DefaultConfig(treasury)
	if c.Pool.FlashLoanPremiumTotal != nil {
		out.FlashLoanPremiumTotal = *c.Pool.FlashLoanPremiumTotal
	}
	if c.Pool.FlashLoanPremiumToProtocol != nil {
		out.FlashLoanPremiumToProtocol = *c.Pool.FlashLoanPremiumToProtocol
	}
	return out, nil
}

// FeePolicy returns the per-action fee policy.
func (c *Config) FeePolicy() fees.Policy {
	policy := fees.Policy{Version: 1, Domains: make(map[string]fees.DomainPolicy, len(c.Fees))}
	for domain, cfg := range c.Fees {
		policy.Domains[fees.NormalizeDomain(domain)] = cfg
	}
	return policy
}

// GrantRoles adds the configured role members to roles.
func (c *Config) GrantRoles(roles *acl.Manager) error {
	for _, group := range c.Roles.groups() {
		for i, value := range group.members {
			addr, err := decodeRequired(fmt.Sprintf("roles.%s[%d]", group.name, i), value)
			if err != nil {
				return err
			}
			roles.Grant(group.role, addr)
		}
	}
	return nil
}

// Apply lists the configured market on pool through the configurator,
// acting as the pool admin, and seeds prices. Reserves already listed are
// skipped so a restored market is not listed twice.
func Apply(c *Config, pool *lending.Pool, prices *oracle.StaticOracle) error {
	if err := Validate(c); err != nil {
		return err
	}
	admin, err := c.AdminAddress()
	if err != nil {
		return err
	}
	if err := c.GrantRoles(pool.ACL()); err != nil {
		return err
	}

	fresh := make([]crypto.Address, 0, len(c.Reserves))
	assets := make([]crypto.Address, len(c.Reserves))
	for i, r := range c.Reserves {
		asset, _ := crypto.DecodeAddress(r.Asset)
		assets[i] = asset
		if r.Price != "" {
			price, _ := uint256.FromDecimal(r.Price)
			prices.SetAssetPrice(asset, price)
		}
		if _, err := pool.GetReserveData(asset); err == nil {
			continue
		}
		if err := listReserve(pool, admin, asset, r); err != nil {
			return fmt.Errorf("reserves[%s]: %w", label(r), err)
		}
		fresh = append(fresh, asset)
	}

	for _, category := range c.EMode {
		if err := pool.SetEModeCategory(admin, category.ID, category.LTV, category.LiquidationThreshold, category.LiquidationBonus, category.Label); err != nil {
			return fmt.Errorf("emode[%d]: %w", category.ID, err)
		}
	}
	for i, r := range c.Reserves {
		if r.EModeCategory == 0 || !contains(fresh, assets[i]) {
			continue
		}
		if err := pool.SetAssetEModeCategory(admin, assets[i], r.EModeCategory); err != nil {
			return fmt.Errorf("reserves[%s].EModeCategory: %w", label(r), err)
		}
	}
	// Freezing parks the LTV, so it runs after every other setting.
	for i, r := range c.Reserves {
		if !r.Frozen || !contains(fresh, assets[i]) {
			continue
		}
		if err := pool.SetReserveFreeze(admin, assets[i], true); err != nil {
			return fmt.Errorf("reserves[%s].Frozen: %w", label(r), err)
		}
	}
	return nil
}

func listReserve(pool *lending.Pool, admin, asset crypto.Address, r Reserve) error {
	steps := []struct {
		field string
		run   func() error
	}{
		{"InterestRate", func() error {
			return pool.InitReserve(admin, lending.InitReserveInput{Asset: asset, Decimals: r.Decimals, InterestRateData: r.InterestRate})
		}},
		{"LiquidationThreshold", func() error {
			return pool.ConfigureReserveAsCollateral(admin, asset, r.LTV, r.LiquidationThreshold, r.LiquidationBonus)
		}},
		{"ReserveFactor", func() error { return pool.SetReserveFactor(admin, asset, r.ReserveFactor) }},
		{"BorrowCap", func() error { return pool.SetBorrowCap(admin, asset, r.BorrowCap) }},
		{"SupplyCap", func() error { return pool.SetSupplyCap(admin, asset, r.SupplyCap) }},
		{"DebtCeiling", func() error { return pool.SetDebtCeiling(admin, asset, r.DebtCeiling) }},
		{"LiquidationProtocolFee", func() error { return pool.SetLiquidationProtocolFee(admin, asset, r.LiquidationProtocolFee) }},
		{"BorrowingEnabled", func() error { return pool.SetReserveBorrowing(admin, asset, r.BorrowingEnabled) }},
		{"FlashLoanEnabled", func() error { return pool.SetReserveFlashLoaning(admin, asset, r.FlashLoanEnabled) }},
		{"SiloedBorrowing", func() error { return pool.SetSiloedBorrowing(admin, asset, r.SiloedBorrowing) }},
		{"BorrowableInIsolation", func() error { return pool.SetBorrowableInIsolation(admin, asset, r.BorrowableInIsolation) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.field, err)
		}
	}
	return nil
}

func label(r Reserve) string {
	if r.Symbol != "" {
		return r.Symbol
	}
	return r.Asset
}

func contains(list []crypto.Address, addr crypto.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
