package lending

import (
	"math"

	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/wadray"
)

// isolationModeState reports whether the user is in isolation mode: exactly
// one collateral whose reserve carries a debt ceiling.
func (p *Pool) isolationModeState(cfg configuration.UserConfiguration) (bool, crypto.Address, uint64) {
	if !cfg.IsUsingAsCollateralOne() {
		return false, crypto.Address{}, 0
	}
	id, _ := cfg.FirstCollateralID()
	asset := p.state.reserveAddress(id)
	reserve, ok := p.state.reserves[asset]
	if asset.IsZero() || !ok {
		return false, crypto.Address{}, 0
	}
	if ceiling := reserve.Configuration.DebtCeiling; ceiling != 0 {
		return true, asset, ceiling
	}
	return false, crypto.Address{}, 0
}

// siloedBorrowingState reports whether the single asset the user borrows is
// siloed, and which asset it is.
func (p *Pool) siloedBorrowingState(cfg configuration.UserConfiguration) (bool, crypto.Address) {
	if !cfg.IsBorrowingOne() {
		return false, crypto.Address{}
	}
	id, _ := cfg.FirstBorrowingID()
	asset := p.state.reserveAddress(id)
	if reserve, ok := p.state.reserves[asset]; ok && reserve.Configuration.SiloedBorrowing {
		return true, asset
	}
	return false, crypto.Address{}
}

// isolatedDebtUnits converts an amount of an asset with the given decimals
// into debt ceiling units. Results beyond uint64 saturate.
func isolatedDebtUnits(amount *uint256.Int, decimals uint8) uint64 {
	var units *uint256.Int
	if decimals >= configuration.DebtCeilingDecimals {
		divisor, err := wadray.Pow10(decimals - configuration.DebtCeilingDecimals)
		if err != nil {
			return 0
		}
		units = new(uint256.Int).Div(amount, divisor)
	} else {
		factor, _ := wadray.Pow10(configuration.DebtCeilingDecimals - decimals)
		var overflow bool
		units, overflow = new(uint256.Int).MulOverflow(amount, factor)
		if overflow {
			return math.MaxUint64
		}
	}
	if !units.IsUint64() {
		return math.MaxUint64
	}
	return units.Uint64()
}

// updateIsolatedDebtIfIsolated lowers the isolated debt counter of the
// user's isolation collateral by the repaid amount, floored at zero.
func (p *Pool) updateIsolatedDebtIfIsolated(cfg configuration.UserConfiguration, cache *ReserveCache, repaid *uint256.Int) {
	active, collateral, _ := p.isolationModeState(cfg)
	if !active {
		return
	}
	p.reduceIsolatedDebt(collateral, cache.Configuration.Decimals, repaid)
}

func (p *Pool) reduceIsolatedDebt(collateral crypto.Address, decimals uint8, repaid *uint256.Int) {
	reserve, ok := p.state.reserves[collateral]
	if !ok {
		return
	}
	units := isolatedDebtUnits(repaid, decimals)
	if reserve.IsolationModeTotalDebt <= units {
		reserve.IsolationModeTotalDebt = 0
	} else {
		reserve.IsolationModeTotalDebt -= units
	}
	p.emit(events.IsolationModeTotalDebtUpdated{Asset: collateral, TotalDebt: reserve.IsolationModeTotalDebt})
}
