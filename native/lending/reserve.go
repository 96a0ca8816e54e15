package lending

import (
	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/tokens"
	"nhblend/native/lending/wadray"
)

// cacheReserve snapshots the reserve at the start of an action.
func cacheReserve(reserve *ReserveData, debt *tokens.DebtToken) ReserveCache {
	scaledDebt := debt.ScaledTotalSupply()
	return ReserveCache{
		Configuration:            reserve.Configuration,
		ReserveFactor:            reserve.Configuration.ReserveFactor,
		CurrLiquidityIndex:       cloneUint(reserve.LiquidityIndex),
		NextLiquidityIndex:       cloneUint(reserve.LiquidityIndex),
		CurrVariableBorrowIndex:  cloneUint(reserve.VariableBorrowIndex),
		NextVariableBorrowIndex:  cloneUint(reserve.VariableBorrowIndex),
		CurrLiquidityRate:        cloneUint(reserve.CurrentLiquidityRate),
		CurrVariableBorrowRate:   cloneUint(reserve.CurrentVariableBorrowRate),
		CurrScaledVariableDebt:   scaledDebt,
		NextScaledVariableDebt:   new(uint256.Int).Set(scaledDebt),
		ATokenAddress:            reserve.ATokenAddress,
		VariableDebtTokenAddress: reserve.VariableDebtTokenAddress,
		LastUpdateTimestamp:      reserve.LastUpdateTimestamp,
	}
}

// updateState accrues interest up to now. Calling it again within the same
// timestamp leaves the reserve untouched.
func updateState(reserve *ReserveData, cache *ReserveCache, now uint64) error {
	if reserve.LastUpdateTimestamp == now {
		return nil
	}
	if now < reserve.LastUpdateTimestamp {
		return errcodes.ErrIndexRegression
	}
	if err := updateIndexes(reserve, cache, now); err != nil {
		return err
	}
	if err := accrueToTreasury(reserve, cache); err != nil {
		return err
	}
	reserve.LastUpdateTimestamp = now
	cache.LastUpdateTimestamp = now
	return nil
}

func updateIndexes(reserve *ReserveData, cache *ReserveCache, now uint64) error {
	if !cache.CurrLiquidityRate.IsZero() {
		cumulated, err := wadray.LinearInterest(cache.CurrLiquidityRate, cache.LastUpdateTimestamp, now)
		if err != nil {
			return err
		}
		next, err := wadray.RayMul(cumulated, cache.CurrLiquidityIndex)
		if err != nil {
			return err
		}
		if next.Lt(cache.CurrLiquidityIndex) {
			return errcodes.ErrIndexRegression
		}
		cache.NextLiquidityIndex = next
		reserve.LiquidityIndex = new(uint256.Int).Set(next)
	}
	if !cache.CurrScaledVariableDebt.IsZero() {
		cumulated, err := wadray.CompoundedInterest(cache.CurrVariableBorrowRate, cache.LastUpdateTimestamp, now)
		if err != nil {
			return err
		}
		next, err := wadray.RayMul(cumulated, cache.CurrVariableBorrowIndex)
		if err != nil {
			return err
		}
		if next.Lt(cache.CurrVariableBorrowIndex) {
			return errcodes.ErrIndexRegression
		}
		cache.NextVariableBorrowIndex = next
		reserve.VariableBorrowIndex = new(uint256.Int).Set(next)
	}
	return nil
}

// accrueToTreasury books the reserve factor share of the interest accrued on
// the variable debt since the last update, as a scaled receipt amount.
func accrueToTreasury(reserve *ReserveData, cache *ReserveCache) error {
	if cache.ReserveFactor == 0 || cache.CurrScaledVariableDebt.IsZero() {
		return nil
	}
	prevTotal, err := wadray.RayMul(cache.CurrScaledVariableDebt, cache.CurrVariableBorrowIndex)
	if err != nil {
		return err
	}
	currTotal, err := wadray.RayMul(cache.CurrScaledVariableDebt, cache.NextVariableBorrowIndex)
	if err != nil {
		return err
	}
	accrued := wadray.SubFloor(currTotal, prevTotal)
	amountToMint, err := wadray.PercentMul(accrued, cache.ReserveFactor)
	if err != nil {
		return err
	}
	if amountToMint.IsZero() {
		return nil
	}
	scaled, err := wadray.RayDiv(amountToMint, cache.NextLiquidityIndex)
	if err != nil {
		return err
	}
	reserve.AccruedToTreasury, err = wadray.Add(reserve.AccruedToTreasury, scaled)
	return err
}

// normalizedIncome projects the liquidity index to now without writing it.
func normalizedIncome(reserve *ReserveData, now uint64) (*uint256.Int, error) {
	if reserve.LastUpdateTimestamp == now || reserve.CurrentLiquidityRate.IsZero() {
		return cloneUint(reserve.LiquidityIndex), nil
	}
	cumulated, err := wadray.LinearInterest(reserve.CurrentLiquidityRate, reserve.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return wadray.RayMul(cumulated, reserve.LiquidityIndex)
}

// normalizedDebt projects the variable borrow index to now without writing
// it.
func normalizedDebt(reserve *ReserveData, now uint64) (*uint256.Int, error) {
	if reserve.LastUpdateTimestamp == now || reserve.CurrentVariableBorrowRate.IsZero() {
		return cloneUint(reserve.VariableBorrowIndex), nil
	}
	cumulated, err := wadray.CompoundedInterest(reserve.CurrentVariableBorrowRate, reserve.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return wadray.RayMul(cumulated, reserve.VariableBorrowIndex)
}

// cumulateToLiquidityIndex distributes amount over totalLiquidity by bumping
// the liquidity index, and returns the new index.
func cumulateToLiquidityIndex(reserve *ReserveData, totalLiquidity, amount *uint256.Int) (*uint256.Int, error) {
	amountRay, err := wadray.WadToRay(amount)
	if err != nil {
		return nil, err
	}
	liquidityRay, err := wadray.WadToRay(totalLiquidity)
	if err != nil {
		return nil, err
	}
	ratio, err := wadray.RayDiv(amountRay, liquidityRay)
	if err != nil {
		return nil, err
	}
	factor, err := wadray.Add(ratio, wadray.Ray())
	if err != nil {
		return nil, err
	}
	next, err := wadray.RayMul(factor, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	reserve.LiquidityIndex = next
	return new(uint256.Int).Set(next), nil
}

// updateInterestRatesAndVirtualBalance recomputes the reserve rates from the
// post-action totals and moves the virtual balance by added and taken.
func (p *Pool) updateInterestRatesAndVirtualBalance(reserve *ReserveData, cache *ReserveCache, asset crypto.Address, added, taken *uint256.Int) error {
	if added == nil {
		added = new(uint256.Int)
	}
	if taken == nil {
		taken = new(uint256.Int)
	}
	totalDebt, err := wadray.RayMul(cache.NextScaledVariableDebt, cache.NextVariableBorrowIndex)
	if err != nil {
		return err
	}
	liquidityRate, variableRate, err := p.strategy.CalculateInterestRates(rates.CalculateParams{
		Reserve:                  asset,
		Unbacked:                 new(uint256.Int),
		LiquidityAdded:           added,
		LiquidityTaken:           taken,
		TotalDebt:                totalDebt,
		ReserveFactor:            cache.ReserveFactor,
		VirtualUnderlyingBalance: reserve.VirtualUnderlyingBalance,
	})
	if err != nil {
		return err
	}
	reserve.CurrentLiquidityRate = liquidityRate
	reserve.CurrentVariableBorrowRate = variableRate

	virtual, err := wadray.Add(reserve.VirtualUnderlyingBalance, added)
	if err != nil {
		return err
	}
	if virtual.Lt(taken) {
		return errcodes.ErrVirtualBalanceUnderflow
	}
	reserve.VirtualUnderlyingBalance = virtual.Sub(virtual, taken)

	p.touch(asset)
	p.emit(events.ReserveDataUpdated{
		Reserve:             asset,
		LiquidityRate:       cloneUint(liquidityRate),
		VariableBorrowRate:  cloneUint(variableRate),
		LiquidityIndex:      cloneUint(cache.NextLiquidityIndex),
		VariableBorrowIndex: cloneUint(cache.NextVariableBorrowIndex),
	})
	return nil
}
