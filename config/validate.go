package config

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/wadray"
)

// Validate checks the configuration without touching a pool. Errors name
// the offending field.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("configuration is missing")
	}
	if _, err := decodeRequired("pool.Admin", c.Pool.Admin); err != nil {
		return err
	}
	if _, err := decodeRequired("pool.Treasury", c.Pool.Treasury); err != nil {
		return err
	}
	if p := c.Pool.FlashLoanPremiumTotal; p != nil && *p > wadray.PercentageFactor {
		return fmt.Errorf("pool.FlashLoanPremiumTotal: %d exceeds 10000 bps", *p)
	}
	if p := c.Pool.FlashLoanPremiumToProtocol; p != nil && *p > wadray.PercentageFactor {
		return fmt.Errorf("pool.FlashLoanPremiumToProtocol: %d exceeds 10000 bps", *p)
	}
	if len(c.Reserves) > configuration.MaxReserves {
		return fmt.Errorf("reserves: %d entries exceed the maximum of %d", len(c.Reserves), configuration.MaxReserves)
	}

	categories := make(map[uint8]EModeCategory, len(c.EMode))
	for i, category := range c.EMode {
		field := fmt.Sprintf("emode[%d]", i)
		if category.ID == 0 {
			return fmt.Errorf("%s.ID: category 0 is reserved", field)
		}
		if _, dup := categories[category.ID]; dup {
			return fmt.Errorf("%s.ID: duplicate category %d", field, category.ID)
		}
		if category.LTV > category.LiquidationThreshold {
			return fmt.Errorf("%s.LTV: above LiquidationThreshold", field)
		}
		if category.LiquidationBonus <= wadray.PercentageFactor {
			return fmt.Errorf("%s.LiquidationBonus: must exceed 10000", field)
		}
		categories[category.ID] = category
	}

	seen := make(map[crypto.Address]struct{}, len(c.Reserves))
	for i, r := range c.Reserves {
		field := fmt.Sprintf("reserves[%d]", i)
		if r.Symbol != "" {
			field = fmt.Sprintf("reserves[%s]", r.Symbol)
		}
		asset, err := decodeRequired(field+".Asset", r.Asset)
		if err != nil {
			return err
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("%s.Asset: listed twice", field)
		}
		seen[asset] = struct{}{}
		if r.LTV > r.LiquidationThreshold {
			return fmt.Errorf("%s.LTV: above LiquidationThreshold", field)
		}
		if r.LiquidationThreshold != 0 && r.LiquidationBonus <= wadray.PercentageFactor {
			return fmt.Errorf("%s.LiquidationBonus: must exceed 10000 for collateral", field)
		}
		if r.ReserveFactor > wadray.PercentageFactor {
			return fmt.Errorf("%s.ReserveFactor: exceeds 10000 bps", field)
		}
		if r.LiquidationProtocolFee > wadray.PercentageFactor {
			return fmt.Errorf("%s.LiquidationProtocolFee: exceeds 10000 bps", field)
		}
		if r.BorrowCap > configuration.MaxValidBorrowCap {
			return fmt.Errorf("%s.BorrowCap: too large", field)
		}
		if r.SupplyCap > configuration.MaxValidSupplyCap {
			return fmt.Errorf("%s.SupplyCap: too large", field)
		}
		if r.DebtCeiling > configuration.MaxValidDebtCeiling {
			return fmt.Errorf("%s.DebtCeiling: too large", field)
		}
		if err := r.InterestRate.Validate(); err != nil {
			return fmt.Errorf("%s.InterestRate: %w", field, err)
		}
		if r.Price != "" {
			if _, err := uint256.FromDecimal(r.Price); err != nil {
				return fmt.Errorf("%s.Price: %w", field, err)
			}
		}
		if r.EModeCategory != 0 {
			category, ok := categories[r.EModeCategory]
			if !ok {
				return fmt.Errorf("%s.EModeCategory: category %d is not defined", field, r.EModeCategory)
			}
			if category.LiquidationThreshold <= r.LiquidationThreshold {
				return fmt.Errorf("%s.EModeCategory: category %d is below the reserve parameters", field, r.EModeCategory)
			}
		}
	}

	for _, group := range c.Roles.groups() {
		for i, value := range group.members {
			if _, err := decodeRequired(fmt.Sprintf("roles.%s[%d]", group.name, i), value); err != nil {
				return err
			}
		}
	}
	for domain, policy := range c.Fees {
		if policy.FlatFee != nil && !policy.FlatFee.IsZero() && policy.RouteWallet.IsZero() {
			return fmt.Errorf("fees.%s.route_wallet: required when a flat fee is set", domain)
		}
	}
	return nil
}

func decodeRequired(field, value string) (crypto.Address, error) {
	if value == "" {
		return crypto.Address{}, fmt.Errorf("%s: required", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}
