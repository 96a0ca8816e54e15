package lending

import (
	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

// Supply deposits amount of asset from caller and mints receipt tokens to
// onBehalfOf.
func (p *Pool) Supply(caller, asset crypto.Address, amount *uint256.Int, onBehalfOf crypto.Address, referralCode uint16) error {
	return p.execute("supply", true, func(now uint64) error {
		return p.executeSupply(caller, asset, amount, onBehalfOf, referralCode, now)
	})
}

func (p *Pool) executeSupply(caller, asset crypto.Address, amount *uint256.Int, onBehalfOf crypto.Address, referralCode uint16, now uint64) error {
	reserve, receipt, debt, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return err
	}
	if err := validateSupply(&cache, reserve, receipt, amount, onBehalfOf); err != nil {
		return err
	}
	if err := p.collectFee(caller, fees.DomainSupply); err != nil {
		return err
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, asset, amount, nil); err != nil {
		return err
	}
	if err := p.pullUnderlying(asset, caller, cache.ATokenAddress, amount); err != nil {
		return err
	}
	first, err := receipt.MintScaled(caller, onBehalfOf, amount, cache.NextLiquidityIndex)
	if err != nil {
		return err
	}
	if first && p.validateUseAsCollateral(p.state.userConfig(onBehalfOf), reserve.Configuration) {
		if err := p.setUsingAsCollateral(onBehalfOf, asset, reserve.ID, true); err != nil {
			return err
		}
	}
	p.emit(events.Supply{
		Reserve:      asset,
		User:         caller,
		OnBehalfOf:   onBehalfOf,
		Amount:       new(uint256.Int).Set(amount),
		ReferralCode: referralCode,
	})
	return nil
}

// Withdraw burns receipt tokens of caller and releases the underlying to to.
// An amount of wadray.MaxUint256() withdraws the full balance. The amount
// withdrawn is returned.
func (p *Pool) Withdraw(caller, asset crypto.Address, amount *uint256.Int, to crypto.Address) (*uint256.Int, error) {
	var withdrawn *uint256.Int
	err := p.execute("withdraw", true, func(now uint64) error {
		var err error
		withdrawn, err = p.executeWithdraw(caller, asset, amount, to, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

func (p *Pool) executeWithdraw(caller, asset crypto.Address, amount *uint256.Int, to crypto.Address, now uint64) (*uint256.Int, error) {
	reserve, receipt, debt, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	if to == reserve.ATokenAddress {
		return nil, errcodes.ErrWithdrawToAToken
	}
	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return nil, err
	}
	balance, err := receipt.BalanceOf(caller, cache.NextLiquidityIndex)
	if err != nil {
		return nil, err
	}
	toWithdraw := amount
	if wadray.IsMax(amount) {
		toWithdraw = balance
	}
	if err := validateWithdraw(&cache, toWithdraw, balance); err != nil {
		return nil, err
	}
	if err := p.collectFee(caller, fees.DomainWithdraw); err != nil {
		return nil, err
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, asset, nil, toWithdraw); err != nil {
		return nil, err
	}
	userConfig := p.state.userConfig(caller)
	isCollateral := userConfig.IsUsingAsCollateral(reserve.ID)
	if isCollateral && toWithdraw.Eq(balance) {
		if err := p.setUsingAsCollateral(caller, asset, reserve.ID, false); err != nil {
			return nil, err
		}
	}
	if err := receipt.BurnScaled(caller, to, toWithdraw, cache.NextLiquidityIndex); err != nil {
		return nil, err
	}
	if isCollateral && p.state.userConfig(caller).IsBorrowingAny() {
		if err := p.validateHFAndLTV(asset, caller, now); err != nil {
			return nil, err
		}
	}
	p.emit(events.Withdraw{Reserve: asset, User: caller, To: to, Amount: new(uint256.Int).Set(toWithdraw)})
	return new(uint256.Int).Set(toWithdraw), nil
}

// SetUserUseReserveAsCollateral enables or disables caller's supply of asset
// as collateral.
func (p *Pool) SetUserUseReserveAsCollateral(caller, asset crypto.Address, useAsCollateral bool) error {
	return p.execute("set_use_as_collateral", true, func(now uint64) error {
		reserve, receipt, _, err := p.loadReserve(asset)
		if err != nil {
			return err
		}
		index, err := normalizedIncome(reserve, now)
		if err != nil {
			return err
		}
		balance, err := receipt.BalanceOf(caller, index)
		if err != nil {
			return err
		}
		if err := validateSetUseReserveAsCollateral(reserve.Configuration, balance); err != nil {
			return err
		}
		userConfig := p.state.userConfig(caller)
		if userConfig.IsUsingAsCollateral(reserve.ID) == useAsCollateral {
			return nil
		}
		if useAsCollateral {
			if !p.validateUseAsCollateral(userConfig, reserve.Configuration) {
				return errcodes.ErrUserInIsolationModeOrLTVZero
			}
			return p.setUsingAsCollateral(caller, asset, reserve.ID, true)
		}
		if err := p.setUsingAsCollateral(caller, asset, reserve.ID, false); err != nil {
			return err
		}
		return p.validateHFAndLTV(asset, caller, now)
	})
}

// FinalizeTransfer moves amount of receipt tokens of asset between users and
// re-validates the sender's position.
func (p *Pool) FinalizeTransfer(asset, from, to crypto.Address, amount *uint256.Int) error {
	return p.execute("transfer", true, func(now uint64) error {
		reserve, receipt, _, err := p.loadReserve(asset)
		if err != nil {
			return err
		}
		if reserve.Configuration.Paused {
			return errcodes.ErrReservePaused
		}
		if to.IsZero() {
			return errcodes.ErrZeroAddressNotValid
		}
		if from == to || amount == nil || amount.IsZero() {
			return nil
		}
		index, err := normalizedIncome(reserve, now)
		if err != nil {
			return err
		}
		fromBefore, err := receipt.BalanceOf(from, index)
		if err != nil {
			return err
		}
		toBefore := receipt.ScaledBalanceOf(to)
		if amount.Gt(fromBefore) {
			return errcodes.ErrNotEnoughAvailableUserBalance
		}
		if err := receipt.Transfer(from, to, amount, index); err != nil {
			return err
		}

		fromConfig := p.state.userConfig(from)
		if fromConfig.IsUsingAsCollateral(reserve.ID) {
			if fromConfig.IsBorrowingAny() {
				if err := p.validateHFAndLTV(asset, from, now); err != nil {
					return err
				}
			}
			if receipt.ScaledBalanceOf(from).IsZero() {
				if err := p.setUsingAsCollateral(from, asset, reserve.ID, false); err != nil {
					return err
				}
			}
		}
		if toBefore.IsZero() && p.validateUseAsCollateral(p.state.userConfig(to), reserve.Configuration) {
			if err := p.setUsingAsCollateral(to, asset, reserve.ID, true); err != nil {
				return err
			}
		}
		p.emit(events.ReceiptTransfer{Reserve: asset, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
		return nil
	})
}
