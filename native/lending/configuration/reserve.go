// Package configuration holds the per-reserve risk parameters, the per-user
// collateral/borrowing flags and the efficiency-mode categories of the lending
// core.
package configuration

import (
	"nhblend/native/lending/errcodes"
)

const (
	// DebtCeilingDecimals is the fixed precision debt ceilings and isolated
	// debt counters are expressed in.
	DebtCeilingDecimals = 2
	// MaxReserves bounds the reserve table and therefore the user bitmap.
	MaxReserves = 128

	MaxValidLTV                    = 65_535
	MaxValidLiquidationThreshold   = 65_535
	MaxValidLiquidationBonus       = 65_535
	MaxValidDecimals               = 255
	MaxValidReserveFactor          = 65_535
	MaxValidBorrowCap              = 68_719_476_735
	MaxValidSupplyCap              = 68_719_476_735
	MaxValidLiquidationProtocolFee = 65_535
	MaxValidDebtCeiling            = 1_099_511_627_775
	MaxValidEModeCategory          = 255
)

// ReserveConfiguration is the risk and feature configuration of a reserve.
// Percentages are basis points; caps are whole units of the asset and the debt
// ceiling is expressed with DebtCeilingDecimals decimals. Zero caps mean
// "uncapped" and a zero debt ceiling means the asset is not an isolated
// collateral.
type ReserveConfiguration struct {
	LTV                    uint64
	LiquidationThreshold   uint64
	LiquidationBonus       uint64
	Decimals               uint8
	Active                 bool
	Frozen                 bool
	Paused                 bool
	BorrowingEnabled       bool
	FlashLoanEnabled       bool
	SiloedBorrowing        bool
	BorrowableInIsolation  bool
	ReserveFactor          uint64
	BorrowCap              uint64
	SupplyCap              uint64
	DebtCeiling            uint64
	LiquidationProtocolFee uint64
	EModeCategory          uint8
}

// SetLTV updates the loan to value.
func (c *ReserveConfiguration) SetLTV(ltv uint64) error {
	if ltv > MaxValidLTV {
		return errcodes.ErrInvalidLTV
	}
	c.LTV = ltv
	return nil
}

// SetLiquidationThreshold updates the liquidation threshold.
func (c *ReserveConfiguration) SetLiquidationThreshold(threshold uint64) error {
	if threshold > MaxValidLiquidationThreshold {
		return errcodes.ErrInvalidLiquidationThreshold
	}
	c.LiquidationThreshold = threshold
	return nil
}

// SetLiquidationBonus updates the liquidation bonus. A bonus of 105% is 10500.
func (c *ReserveConfiguration) SetLiquidationBonus(bonus uint64) error {
	if bonus > MaxValidLiquidationBonus {
		return errcodes.ErrInvalidLiquidationBonus
	}
	c.LiquidationBonus = bonus
	return nil
}

func (c *ReserveConfiguration) SetReserveFactor(factor uint64) error {
	if factor > MaxValidReserveFactor {
		return errcodes.ErrInvalidReserveFactor
	}
	c.ReserveFactor = factor
	return nil
}

func (c *ReserveConfiguration) SetBorrowCap(cap uint64) error {
	if cap > MaxValidBorrowCap {
		return errcodes.ErrInvalidBorrowCap
	}
	c.BorrowCap = cap
	return nil
}

func (c *ReserveConfiguration) SetSupplyCap(cap uint64) error {
	if cap > MaxValidSupplyCap {
		return errcodes.ErrInvalidSupplyCap
	}
	c.SupplyCap = cap
	return nil
}

func (c *ReserveConfiguration) SetDebtCeiling(ceiling uint64) error {
	if ceiling > MaxValidDebtCeiling {
		return errcodes.ErrInvalidDebtCeiling
	}
	c.DebtCeiling = ceiling
	return nil
}

func (c *ReserveConfiguration) SetLiquidationProtocolFee(fee uint64) error {
	if fee > MaxValidLiquidationProtocolFee {
		return errcodes.ErrInvalidLiquidationProtocolFee
	}
	c.LiquidationProtocolFee = fee
	return nil
}

// Flags returns the state flags in the order active, frozen, borrowing
// enabled, paused.
func (c ReserveConfiguration) Flags() (active, frozen, borrowing, paused bool) {
	return c.Active, c.Frozen, c.BorrowingEnabled, c.Paused
}

// Params returns the risk parameters in the order ltv, liquidation threshold,
// liquidation bonus, decimals, reserve factor.
func (c ReserveConfiguration) Params() (ltv, threshold, bonus uint64, decimals uint8, reserveFactor uint64) {
	return c.LTV, c.LiquidationThreshold, c.LiquidationBonus, c.Decimals, c.ReserveFactor
}

// IsIsolatedCollateral reports whether supplying the asset as sole collateral
// places a user in isolation mode.
func (c ReserveConfiguration) IsIsolatedCollateral() bool {
	return c.DebtCeiling != 0
}
