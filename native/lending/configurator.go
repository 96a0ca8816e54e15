package lending

import (
	"strconv"

	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/tokens"
	"nhblend/native/lending/wadray"
)

// Token ledger address labels.
const (
	receiptTokenLabel      = "receipt"
	variableDebtTokenLabel = "variable-debt"
)

// InitReserveInput describes a new listing.
type InitReserveInput struct {
	Asset            crypto.Address
	Decimals         uint8
	InterestRateData rates.InterestRateData
}

func (p *Pool) onlyPoolAdmin(caller crypto.Address) error {
	if !p.acl.IsPoolAdmin(caller) {
		return errcodes.ErrCallerNotPoolAdmin
	}
	return nil
}

func (p *Pool) onlyAssetListingOrPoolAdmin(caller crypto.Address) error {
	if !p.acl.IsPoolAdmin(caller) && !p.acl.IsAssetListingAdmin(caller) {
		return errcodes.ErrCallerNotAssetListingOrPoolAdmin
	}
	return nil
}

func (p *Pool) onlyRiskOrPoolAdmin(caller crypto.Address) error {
	if !p.acl.IsPoolAdmin(caller) && !p.acl.IsRiskAdmin(caller) {
		return errcodes.ErrCallerNotRiskOrPoolAdmin
	}
	return nil
}

func (p *Pool) onlyEmergencyOrPoolAdmin(caller crypto.Address) error {
	if !p.acl.IsPoolAdmin(caller) && !p.acl.IsEmergencyAdmin(caller) {
		return errcodes.ErrCallerNotEmergencyOrPoolAdmin
	}
	return nil
}

func (p *Pool) onlyRiskOrPoolOrEmergencyAdmin(caller crypto.Address) error {
	if !p.acl.IsPoolAdmin(caller) && !p.acl.IsRiskAdmin(caller) && !p.acl.IsEmergencyAdmin(caller) {
		return errcodes.ErrCallerNotRiskPoolOrEmergencyAdmin
	}
	return nil
}

// configure runs an admin operation. Admin operations are not subject to the
// module pause switch.
func (p *Pool) configure(action string, caller crypto.Address, authorize func(crypto.Address) error, fn func(now uint64) error) error {
	err := p.execute(action, false, func(now uint64) error {
		if err := authorize(caller); err != nil {
			return err
		}
		return fn(now)
	})
	if err != nil {
		return err
	}
	p.logger.Info("lending configuration updated", "action", action, "caller", caller.String())
	return nil
}

func (p *Pool) configChanged(asset crypto.Address, field, value string, caller crypto.Address) {
	p.emit(events.ReserveConfigChanged{Asset: asset, Field: field, Value: value, Caller: caller})
}

func formatBool(v bool) string { return strconv.FormatBool(v) }

func formatUint64(v uint64) string { return strconv.FormatUint(v, 10) }

// checkNoSuppliers fails while anyone, the treasury included, holds a claim
// on the reserve's liquidity.
func (p *Pool) checkNoSuppliers(asset crypto.Address) error {
	reserve, receipt, _, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	if !receipt.ScaledTotalSupply().IsZero() || !reserve.AccruedToTreasury.IsZero() {
		return errcodes.ErrReserveLiquidityNotZero
	}
	return nil
}

func (p *Pool) checkNoBorrowers(asset crypto.Address) error {
	debt, err := p.state.debt(asset)
	if err != nil {
		return err
	}
	if !debt.ScaledTotalSupply().IsZero() {
		return errcodes.ErrReserveDebtNotZero
	}
	return nil
}

// syncIndexes brings the indexes of asset up to now.
func (p *Pool) syncIndexes(asset crypto.Address, reserve *ReserveData, now uint64) error {
	debt, err := p.state.debt(asset)
	if err != nil {
		return err
	}
	cache := cacheReserve(reserve, debt)
	return updateState(reserve, &cache, now)
}

// syncRates recomputes the rates of asset from its current totals.
func (p *Pool) syncRates(asset crypto.Address, reserve *ReserveData) error {
	debt, err := p.state.debt(asset)
	if err != nil {
		return err
	}
	cache := cacheReserve(reserve, debt)
	return p.updateInterestRatesAndVirtualBalance(reserve, &cache, asset, nil, nil)
}

// InitReserve lists a new asset in the lowest free reserve slot and binds
// its token ledgers. The reserve starts active, unfrozen and unpaused with
// every risk parameter at zero.
func (p *Pool) InitReserve(caller crypto.Address, input InitReserveInput) error {
	return p.configure("init_reserve", caller, p.onlyAssetListingOrPoolAdmin, func(now uint64) error {
		if input.Asset.IsZero() {
			return errcodes.ErrZeroAddressNotValid
		}
		if _, err := wadray.Pow10(input.Decimals); err != nil {
			return errcodes.ErrInvalidDecimals
		}
		if err := input.InterestRateData.Validate(); err != nil {
			return err
		}
		aToken := crypto.DeriveAddress(receiptTokenLabel, input.Asset)
		debtToken := crypto.DeriveAddress(variableDebtTokenLabel, input.Asset)
		reserve := newReserveData(0, aToken, debtToken, now)
		reserve.Configuration.Decimals = input.Decimals
		reserve.Configuration.Active = true
		if err := p.state.addReserve(input.Asset, reserve); err != nil {
			return err
		}
		p.state.receipts[input.Asset] = tokens.NewReceiptToken(aToken, input.Asset, p.treasury, p.bank)
		p.state.debts[input.Asset] = tokens.NewDebtToken(debtToken, input.Asset)
		if err := p.strategy.SetInterestRateData(input.Asset, input.InterestRateData); err != nil {
			return err
		}
		p.emit(events.ReserveInitialized{
			Asset:             input.Asset,
			ID:                reserve.ID,
			ReceiptToken:      aToken,
			VariableDebtToken: debtToken,
		})
		return nil
	})
}

// DropReserve unlists an asset nobody supplies or borrows and frees its slot.
func (p *Pool) DropReserve(caller, asset crypto.Address) error {
	return p.configure("drop_reserve", caller, p.onlyPoolAdmin, func(uint64) error {
		if err := p.validateDropReserve(asset); err != nil {
			return err
		}
		p.state.dropReserve(asset)
		p.strategy.Remove(asset)
		p.emit(events.ReserveDropped{Asset: asset})
		return nil
	})
}

// ConfigureReserveAsCollateral sets the collateral parameters of asset. A
// zero liquidation threshold disables the asset as collateral.
func (p *Pool) ConfigureReserveAsCollateral(caller, asset crypto.Address, ltv, liquidationThreshold, liquidationBonus uint64) error {
	return p.configure("configure_collateral", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if ltv > liquidationThreshold {
			return errcodes.ErrInvalidReserveParams
		}
		if liquidationThreshold != 0 {
			if liquidationBonus <= wadray.PercentageFactor {
				return errcodes.ErrInvalidReserveParams
			}
			covered, err := wadray.PercentMul(uint256.NewInt(liquidationThreshold), liquidationBonus)
			if err != nil {
				return err
			}
			if covered.GtUint64(wadray.PercentageFactor) {
				return errcodes.ErrInvalidReserveParams
			}
		} else {
			if liquidationBonus != 0 {
				return errcodes.ErrInvalidReserveParams
			}
			if err := p.checkNoSuppliers(asset); err != nil {
				return err
			}
		}
		if category := reserve.Configuration.EModeCategory; category != 0 {
			if p.state.eModeCategory(category).LiquidationThreshold <= liquidationThreshold {
				return errcodes.ErrInvalidEModeCategoryAssignment
			}
		}

		cfg := reserve.Configuration
		newLTV := ltv
		if cfg.Frozen {
			p.state.pendingLTV[asset] = ltv
			newLTV = 0
		}
		if err := cfg.SetLTV(newLTV); err != nil {
			return err
		}
		if err := cfg.SetLiquidationThreshold(liquidationThreshold); err != nil {
			return err
		}
		if err := cfg.SetLiquidationBonus(liquidationBonus); err != nil {
			return err
		}
		reserve.Configuration = cfg
		p.configChanged(asset, "ltv", formatUint64(ltv), caller)
		p.configChanged(asset, "liquidationThreshold", formatUint64(liquidationThreshold), caller)
		p.configChanged(asset, "liquidationBonus", formatUint64(liquidationBonus), caller)
		return nil
	})
}

// SetReserveBorrowing enables or disables borrowing of asset.
func (p *Pool) SetReserveBorrowing(caller, asset crypto.Address, enabled bool) error {
	return p.configure("set_reserve_borrowing", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		reserve.Configuration.BorrowingEnabled = enabled
		p.configChanged(asset, "borrowingEnabled", formatBool(enabled), caller)
		return nil
	})
}

// SetReserveFlashLoaning enables or disables flash loans of asset.
func (p *Pool) SetReserveFlashLoaning(caller, asset crypto.Address, enabled bool) error {
	return p.configure("set_reserve_flashloaning", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		reserve.Configuration.FlashLoanEnabled = enabled
		p.configChanged(asset, "flashLoanEnabled", formatBool(enabled), caller)
		return nil
	})
}

// SetReserveActive activates or deactivates asset. Only a reserve without
// suppliers can be deactivated.
func (p *Pool) SetReserveActive(caller, asset crypto.Address, active bool) error {
	return p.configure("set_reserve_active", caller, p.onlyPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if !active {
			if err := p.checkNoSuppliers(asset); err != nil {
				return err
			}
		}
		reserve.Configuration.Active = active
		p.configChanged(asset, "active", formatBool(active), caller)
		return nil
	})
}

// SetReserveFreeze freezes or unfreezes asset. A frozen reserve accepts no
// new supply or borrow and its LTV is parked until it is unfrozen.
func (p *Pool) SetReserveFreeze(caller, asset crypto.Address, freeze bool) error {
	return p.configure("set_reserve_freeze", caller, p.onlyRiskOrPoolOrEmergencyAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if reserve.Configuration.Frozen == freeze {
			return nil
		}
		if freeze {
			p.state.pendingLTV[asset] = reserve.Configuration.LTV
			reserve.Configuration.LTV = 0
		} else {
			reserve.Configuration.LTV = p.state.pendingLTV[asset]
			delete(p.state.pendingLTV, asset)
		}
		reserve.Configuration.Frozen = freeze
		p.configChanged(asset, "frozen", formatBool(freeze), caller)
		return nil
	})
}

// SetReservePause pauses or unpauses asset. On unpause a grace period of up
// to MaxGracePeriod seconds may be granted during which the reserve cannot
// be liquidated.
func (p *Pool) SetReservePause(caller, asset crypto.Address, paused bool, gracePeriod uint64) error {
	return p.configure("set_reserve_pause", caller, p.onlyEmergencyOrPoolAdmin, func(now uint64) error {
		return p.setReservePause(caller, asset, paused, gracePeriod, now)
	})
}

// SetPoolPause pauses or unpauses every listed reserve.
func (p *Pool) SetPoolPause(caller crypto.Address, paused bool, gracePeriod uint64) error {
	return p.configure("set_pool_pause", caller, p.onlyEmergencyOrPoolAdmin, func(now uint64) error {
		for _, asset := range p.state.reservesList {
			if asset.IsZero() {
				continue
			}
			if err := p.setReservePause(caller, asset, paused, gracePeriod, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) setReservePause(caller, asset crypto.Address, paused bool, gracePeriod, now uint64) error {
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return err
	}
	if !paused && gracePeriod != 0 {
		if gracePeriod > MaxGracePeriod {
			return errcodes.ErrInvalidGracePeriod
		}
		reserve.LiquidationGracePeriodUntil = now + gracePeriod
	}
	reserve.Configuration.Paused = paused
	p.configChanged(asset, "paused", formatBool(paused), caller)
	return nil
}

// SetReserveFactor sets the share of interest routed to the treasury.
// Interest accrued so far is booked at the old factor.
func (p *Pool) SetReserveFactor(caller, asset crypto.Address, factor uint64) error {
	return p.configure("set_reserve_factor", caller, p.onlyRiskOrPoolAdmin, func(now uint64) error {
		if factor > wadray.PercentageFactor {
			return errcodes.ErrInvalidReserveFactor
		}
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := p.syncIndexes(asset, reserve, now); err != nil {
			return err
		}
		if err := reserve.Configuration.SetReserveFactor(factor); err != nil {
			return err
		}
		if err := p.syncRates(asset, reserve); err != nil {
			return err
		}
		p.configChanged(asset, "reserveFactor", formatUint64(factor), caller)
		return nil
	})
}

// SetBorrowCap sets the borrow cap of asset in whole units, 0 for none.
func (p *Pool) SetBorrowCap(caller, asset crypto.Address, borrowCap uint64) error {
	return p.configure("set_borrow_cap", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := reserve.Configuration.SetBorrowCap(borrowCap); err != nil {
			return err
		}
		p.configChanged(asset, "borrowCap", formatUint64(borrowCap), caller)
		return nil
	})
}

// SetSupplyCap sets the supply cap of asset in whole units, 0 for none.
func (p *Pool) SetSupplyCap(caller, asset crypto.Address, supplyCap uint64) error {
	return p.configure("set_supply_cap", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := reserve.Configuration.SetSupplyCap(supplyCap); err != nil {
			return err
		}
		p.configChanged(asset, "supplyCap", formatUint64(supplyCap), caller)
		return nil
	})
}

// SetDebtCeiling turns asset into an isolated collateral with the given
// ceiling, or back into a regular collateral with 0. An existing collateral
// can only become isolated while nobody supplies it.
func (p *Pool) SetDebtCeiling(caller, asset crypto.Address, ceiling uint64) error {
	return p.configure("set_debt_ceiling", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if reserve.Configuration.LiquidationThreshold != 0 && reserve.Configuration.DebtCeiling == 0 {
			if err := p.checkNoSuppliers(asset); err != nil {
				return err
			}
		}
		if err := reserve.Configuration.SetDebtCeiling(ceiling); err != nil {
			return err
		}
		if ceiling == 0 && reserve.IsolationModeTotalDebt != 0 {
			reserve.IsolationModeTotalDebt = 0
			p.emit(events.IsolationModeTotalDebtUpdated{Asset: asset, TotalDebt: 0})
		}
		p.configChanged(asset, "debtCeiling", formatUint64(ceiling), caller)
		return nil
	})
}

// SetSiloedBorrowing marks asset as siloed. Only a reserve without borrowers
// can become siloed.
func (p *Pool) SetSiloedBorrowing(caller, asset crypto.Address, siloed bool) error {
	return p.configure("set_siloed_borrowing", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if siloed {
			if err := p.checkNoBorrowers(asset); err != nil {
				return err
			}
		}
		reserve.Configuration.SiloedBorrowing = siloed
		p.configChanged(asset, "siloedBorrowing", formatBool(siloed), caller)
		return nil
	})
}

// SetBorrowableInIsolation allows asset to be borrowed against isolated
// collateral.
func (p *Pool) SetBorrowableInIsolation(caller, asset crypto.Address, borrowable bool) error {
	return p.configure("set_borrowable_in_isolation", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		reserve.Configuration.BorrowableInIsolation = borrowable
		p.configChanged(asset, "borrowableInIsolation", formatBool(borrowable), caller)
		return nil
	})
}

// SetLiquidationProtocolFee sets the share of the liquidation bonus routed
// to the treasury.
func (p *Pool) SetLiquidationProtocolFee(caller, asset crypto.Address, fee uint64) error {
	return p.configure("set_liquidation_protocol_fee", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		if fee > wadray.PercentageFactor {
			return errcodes.ErrInvalidLiquidationProtocolFee
		}
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := reserve.Configuration.SetLiquidationProtocolFee(fee); err != nil {
			return err
		}
		p.configChanged(asset, "liquidationProtocolFee", formatUint64(fee), caller)
		return nil
	})
}

// SetEModeCategory creates or updates eMode category id. The category must
// stay strictly more generous than every reserve already assigned to it.
func (p *Pool) SetEModeCategory(caller crypto.Address, id uint8, ltv, liquidationThreshold, liquidationBonus uint64, label string) error {
	return p.configure("set_emode_category", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		if id == 0 {
			return errcodes.ErrEModeCategoryReserved
		}
		if ltv == 0 || liquidationThreshold == 0 || ltv > liquidationThreshold || liquidationBonus <= wadray.PercentageFactor {
			return errcodes.ErrInvalidEModeCategoryParams
		}
		covered, err := wadray.PercentMul(uint256.NewInt(liquidationThreshold), liquidationBonus)
		if err != nil {
			return err
		}
		if covered.GtUint64(wadray.PercentageFactor) {
			return errcodes.ErrInvalidEModeCategoryParams
		}
		for _, asset := range p.state.reservesList {
			reserve, ok := p.state.reserves[asset]
			if asset.IsZero() || !ok || reserve.Configuration.EModeCategory != id {
				continue
			}
			if ltv <= reserve.Configuration.LTV || liquidationThreshold <= reserve.Configuration.LiquidationThreshold {
				return errcodes.ErrInvalidEModeCategoryParams
			}
		}
		category := configuration.EModeCategory{
			LTV:                  ltv,
			LiquidationThreshold: liquidationThreshold,
			LiquidationBonus:     liquidationBonus,
			Label:                configuration.NormalizeLabel(label),
		}
		p.state.eModeCategories[id] = category
		p.emit(events.EModeCategoryUpdated{
			CategoryID:           id,
			LTV:                  ltv,
			LiquidationThreshold: liquidationThreshold,
			LiquidationBonus:     liquidationBonus,
			Label:                category.Label,
		})
		return nil
	})
}

// SetAssetEModeCategory assigns asset to eMode category id, or removes it
// from eMode with 0.
func (p *Pool) SetAssetEModeCategory(caller, asset crypto.Address, id uint8) error {
	return p.configure("set_asset_emode_category", caller, p.onlyRiskOrPoolAdmin, func(uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if id != 0 && p.state.eModeCategory(id).LiquidationThreshold <= reserve.Configuration.LiquidationThreshold {
			return errcodes.ErrInvalidEModeCategoryAssignment
		}
		reserve.Configuration.EModeCategory = id
		p.configChanged(asset, "eModeCategory", strconv.Itoa(int(id)), caller)
		return nil
	})
}

// SetReserveInterestRateData installs new rate parameters for asset and
// reprices the reserve with them.
func (p *Pool) SetReserveInterestRateData(caller, asset crypto.Address, data rates.InterestRateData) error {
	return p.configure("set_interest_rate_data", caller, p.onlyRiskOrPoolAdmin, func(now uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := p.syncIndexes(asset, reserve, now); err != nil {
			return err
		}
		if err := p.strategy.SetInterestRateData(asset, data); err != nil {
			return err
		}
		if err := p.syncRates(asset, reserve); err != nil {
			return err
		}
		p.configChanged(asset, "interestRateData", formatUint64(data.OptimalUsageRatio)+"/"+formatUint64(data.BaseVariableBorrowRate)+"/"+formatUint64(data.VariableRateSlope1)+"/"+formatUint64(data.VariableRateSlope2), caller)
		return nil
	})
}

// UpdateFlashloanPremiums sets the flash loan premium and the protocol's
// share of it, both in basis points.
func (p *Pool) UpdateFlashloanPremiums(caller crypto.Address, total, toProtocol uint64) error {
	return p.configure("update_flashloan_premiums", caller, p.onlyPoolAdmin, func(uint64) error {
		if total > wadray.PercentageFactor || toProtocol > wadray.PercentageFactor {
			return errcodes.ErrInvalidFlashloanPremium
		}
		p.state.flashLoanPremiumTotal = total
		p.state.flashLoanPremiumToProtocol = toProtocol
		p.configChanged(crypto.Address{}, "flashLoanPremiumTotal", formatUint64(total), caller)
		p.configChanged(crypto.Address{}, "flashLoanPremiumToProtocol", formatUint64(toProtocol), caller)
		return nil
	})
}
