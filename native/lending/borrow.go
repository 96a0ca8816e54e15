package lending

import (
	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

type borrowParams struct {
	Asset             crypto.Address
	User              crypto.Address
	OnBehalfOf        crypto.Address
	Amount            *uint256.Int
	Mode              InterestRateMode
	ReferralCode      uint16
	ReleaseUnderlying bool
}

// Borrow opens variable-rate debt of amount in asset for caller and releases
// the underlying to caller. Borrowing on behalf of another account is not
// supported.
func (p *Pool) Borrow(caller, asset crypto.Address, amount *uint256.Int, mode InterestRateMode, onBehalfOf crypto.Address, referralCode uint16) error {
	return p.execute("borrow", true, func(now uint64) error {
		return p.executeBorrow(borrowParams{
			Asset:             asset,
			User:              caller,
			OnBehalfOf:        onBehalfOf,
			Amount:            amount,
			Mode:              mode,
			ReferralCode:      referralCode,
			ReleaseUnderlying: true,
		}, now)
	})
}

func (p *Pool) executeBorrow(params borrowParams, now uint64) error {
	if params.User != params.OnBehalfOf {
		return errcodes.ErrCallerMustBeBeneficiary
	}
	reserve, receipt, debt, err := p.loadReserve(params.Asset)
	if err != nil {
		return err
	}
	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return err
	}

	userConfig := p.state.userConfig(params.OnBehalfOf)
	isolated, isolationCollateral, ceiling := p.isolationModeState(userConfig)
	if err := p.validateBorrow(&cache, reserve, validateBorrowParams{
		Asset:                    params.Asset,
		User:                     params.OnBehalfOf,
		Amount:                   params.Amount,
		Mode:                     params.Mode,
		UserConfig:               userConfig,
		UserEModeCategory:        p.state.userEMode[params.OnBehalfOf],
		IsolationModeActive:      isolated,
		IsolationModeCollateral:  isolationCollateral,
		IsolationModeDebtCeiling: ceiling,
		ReleaseUnderlying:        params.ReleaseUnderlying,
		Now:                      now,
	}); err != nil {
		return err
	}
	if err := p.collectFee(params.User, fees.DomainBorrow); err != nil {
		return err
	}

	first, err := debt.MintScaled(params.User, params.OnBehalfOf, params.Amount, cache.NextVariableBorrowIndex)
	if err != nil {
		return err
	}
	cache.NextScaledVariableDebt = debt.ScaledTotalSupply()
	if first {
		if err := p.setBorrowing(params.OnBehalfOf, reserve.ID, true); err != nil {
			return err
		}
	}
	if isolated {
		collateral := p.state.reserves[isolationCollateral]
		collateral.IsolationModeTotalDebt += isolatedDebtUnits(params.Amount, cache.Configuration.Decimals)
		p.emit(events.IsolationModeTotalDebtUpdated{Asset: isolationCollateral, TotalDebt: collateral.IsolationModeTotalDebt})
	}

	var taken *uint256.Int
	if params.ReleaseUnderlying {
		taken = params.Amount
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, params.Asset, nil, taken); err != nil {
		return err
	}
	if params.ReleaseUnderlying {
		if err := receipt.TransferUnderlyingTo(params.User, params.Amount); err != nil {
			return err
		}
	}
	p.emit(events.Borrow{
		Reserve:      params.Asset,
		User:         params.User,
		OnBehalfOf:   params.OnBehalfOf,
		Amount:       new(uint256.Int).Set(params.Amount),
		BorrowRate:   cloneUint(reserve.CurrentVariableBorrowRate),
		ReferralCode: params.ReferralCode,
	})
	return nil
}

// Repay pays back variable debt of onBehalfOf in asset with caller's
// underlying. wadray.MaxUint256() repays the full debt and is only accepted
// when caller repays their own debt. The amount repaid is returned.
func (p *Pool) Repay(caller, asset crypto.Address, amount *uint256.Int, onBehalfOf crypto.Address) (*uint256.Int, error) {
	return p.repay(caller, asset, amount, onBehalfOf, false)
}

// RepayWithATokens pays back caller's own debt by burning caller's receipt
// tokens of the same asset. wadray.MaxUint256() uses the whole receipt
// balance, capped at the debt.
func (p *Pool) RepayWithATokens(caller, asset crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	return p.repay(caller, asset, amount, caller, true)
}

func (p *Pool) repay(caller, asset crypto.Address, amount *uint256.Int, onBehalfOf crypto.Address, useATokens bool) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := p.execute("repay", true, func(now uint64) error {
		var err error
		repaid, err = p.executeRepay(caller, asset, amount, onBehalfOf, useATokens, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

func (p *Pool) executeRepay(caller, asset crypto.Address, amount *uint256.Int, onBehalfOf crypto.Address, useATokens bool, now uint64) (*uint256.Int, error) {
	reserve, receipt, debt, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return nil, err
	}
	userDebt, err := debt.BalanceOf(onBehalfOf, cache.NextVariableBorrowIndex)
	if err != nil {
		return nil, err
	}
	if err := validateRepay(&cache, amount, caller, onBehalfOf, userDebt); err != nil {
		return nil, err
	}
	if err := p.collectFee(caller, fees.DomainRepay); err != nil {
		return nil, err
	}

	requested := amount
	if useATokens && wadray.IsMax(amount) {
		if requested, err = receipt.BalanceOf(caller, cache.NextLiquidityIndex); err != nil {
			return nil, err
		}
	}
	payback := wadray.Min(userDebt, requested)

	if err := debt.BurnScaled(onBehalfOf, payback, cache.NextVariableBorrowIndex); err != nil {
		return nil, err
	}
	cache.NextScaledVariableDebt = debt.ScaledTotalSupply()

	var added *uint256.Int
	if !useATokens {
		added = payback
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, asset, added, nil); err != nil {
		return nil, err
	}
	if payback.Eq(userDebt) {
		if err := p.setBorrowing(onBehalfOf, reserve.ID, false); err != nil {
			return nil, err
		}
	}
	p.updateIsolatedDebtIfIsolated(p.state.userConfig(onBehalfOf), &cache, payback)

	if useATokens {
		if err := receipt.BurnScaled(caller, cache.ATokenAddress, payback, cache.NextLiquidityIndex); err != nil {
			return nil, err
		}
		if receipt.ScaledBalanceOf(caller).IsZero() && p.state.userConfig(caller).IsUsingAsCollateral(reserve.ID) {
			if err := p.setUsingAsCollateral(caller, asset, reserve.ID, false); err != nil {
				return nil, err
			}
		}
	} else {
		if err := p.pullUnderlying(asset, caller, cache.ATokenAddress, payback); err != nil {
			return nil, err
		}
		if err := receipt.HandleRepayment(caller, onBehalfOf, payback); err != nil {
			return nil, err
		}
	}
	p.emit(events.Repay{
		Reserve:    asset,
		User:       onBehalfOf,
		Repayer:    caller,
		Amount:     new(uint256.Int).Set(payback),
		UseATokens: useATokens,
	})
	return new(uint256.Int).Set(payback), nil
}
