package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/wadray"
)

// HealthFactorLiquidationThreshold is a health factor of 1, in wad.
var HealthFactorLiquidationThreshold = wadray.Wad()

// calculateUserAccountData aggregates the collateral and debt of a user in
// the oracle base currency. It does not mutate any state.
func (p *Pool) calculateUserAccountData(params CalculateUserAccountDataParams) (AccountData, error) {
	data := AccountData{
		TotalCollateralBase:  new(uint256.Int),
		TotalDebtBase:        new(uint256.Int),
		AvailableBorrowsBase: new(uint256.Int),
		HealthFactor:         wadray.MaxUint256(),
	}
	if params.UserConfig.IsEmpty() {
		return data, nil
	}

	var eMode configuration.EModeCategory
	if params.UserEModeCategory != 0 {
		eMode = p.state.eModeCategory(params.UserEModeCategory)
	}

	weightedLTV := new(uint256.Int)
	weightedThreshold := new(uint256.Int)
	for id := uint16(0); id < params.ReservesCount; id++ {
		if !params.UserConfig.IsUsingAsCollateralOrBorrowing(id) {
			continue
		}
		asset := p.state.reserveAddress(id)
		if asset.IsZero() {
			continue
		}
		reserve, ok := p.state.reserves[asset]
		if !ok {
			continue
		}
		cfg := reserve.Configuration
		unit, err := wadray.Pow10(cfg.Decimals)
		if err != nil {
			return AccountData{}, err
		}
		price, err := p.oracle.GetAssetPrice(asset)
		if err != nil {
			return AccountData{}, fmt.Errorf("lending: price of %s: %w", asset, err)
		}

		if cfg.LiquidationThreshold != 0 && params.UserConfig.IsUsingAsCollateral(id) {
			balance, err := p.userCollateralInBase(params.User, asset, reserve, price, unit, params.Now)
			if err != nil {
				return AccountData{}, err
			}
			if data.TotalCollateralBase, err = wadray.Add(data.TotalCollateralBase, balance); err != nil {
				return AccountData{}, err
			}
			inEMode := params.UserEModeCategory != 0 && cfg.EModeCategory == params.UserEModeCategory
			if cfg.LTV != 0 {
				ltv := cfg.LTV
				if inEMode {
					ltv = eMode.LTV
				}
				if weightedLTV, err = addWeighted(weightedLTV, balance, ltv); err != nil {
					return AccountData{}, err
				}
			} else {
				data.HasZeroLTVCollateral = true
			}
			threshold := cfg.LiquidationThreshold
			if inEMode {
				threshold = eMode.LiquidationThreshold
			}
			if weightedThreshold, err = addWeighted(weightedThreshold, balance, threshold); err != nil {
				return AccountData{}, err
			}
		}

		if params.UserConfig.IsBorrowing(id) {
			debt, err := p.userDebtInBase(params.User, asset, reserve, price, unit, params.Now)
			if err != nil {
				return AccountData{}, err
			}
			if data.TotalDebtBase, err = wadray.Add(data.TotalDebtBase, debt); err != nil {
				return AccountData{}, err
			}
		}
	}

	if !data.TotalCollateralBase.IsZero() {
		data.AvgLTV = new(uint256.Int).Div(weightedLTV, data.TotalCollateralBase).Uint64()
		data.AvgLiquidationThreshold = new(uint256.Int).Div(weightedThreshold, data.TotalCollateralBase).Uint64()
	}
	if !data.TotalDebtBase.IsZero() {
		adjusted, err := wadray.PercentMul(data.TotalCollateralBase, data.AvgLiquidationThreshold)
		if err != nil {
			return AccountData{}, err
		}
		if data.HealthFactor, err = wadray.WadDiv(adjusted, data.TotalDebtBase); err != nil {
			return AccountData{}, err
		}
	}
	available, err := calculateAvailableBorrows(data.TotalCollateralBase, data.TotalDebtBase, data.AvgLTV)
	if err != nil {
		return AccountData{}, err
	}
	data.AvailableBorrowsBase = available
	return data, nil
}

func addWeighted(sum, balance *uint256.Int, bps uint64) (*uint256.Int, error) {
	weighted, err := wadray.Mul(balance, uint256.NewInt(bps))
	if err != nil {
		return nil, err
	}
	return wadray.Add(sum, weighted)
}

// calculateAvailableBorrows returns how much more base currency a user may
// borrow, floored at zero.
func calculateAvailableBorrows(totalCollateral, totalDebt *uint256.Int, ltv uint64) (*uint256.Int, error) {
	borrowable, err := wadray.PercentMul(totalCollateral, ltv)
	if err != nil {
		return nil, err
	}
	return wadray.SubFloor(borrowable, totalDebt), nil
}

func (p *Pool) userCollateralInBase(user, asset crypto.Address, reserve *ReserveData, price, unit *uint256.Int, now uint64) (*uint256.Int, error) {
	receipt, err := p.state.receipt(asset)
	if err != nil {
		return nil, err
	}
	index, err := normalizedIncome(reserve, now)
	if err != nil {
		return nil, err
	}
	balance, err := wadray.RayMul(receipt.ScaledBalanceOf(user), index)
	if err != nil {
		return nil, err
	}
	value, err := wadray.Mul(balance, price)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(value, unit), nil
}

func (p *Pool) userDebtInBase(user, asset crypto.Address, reserve *ReserveData, price, unit *uint256.Int, now uint64) (*uint256.Int, error) {
	debtToken, err := p.state.debt(asset)
	if err != nil {
		return nil, err
	}
	debt := debtToken.ScaledBalanceOf(user)
	if !debt.IsZero() {
		index, err := normalizedDebt(reserve, now)
		if err != nil {
			return nil, err
		}
		if debt, err = wadray.RayMul(debt, index); err != nil {
			return nil, err
		}
	}
	value, err := wadray.Mul(price, debt)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(value, unit), nil
}

// accountDataFor aggregates the current position of user.
func (p *Pool) accountDataFor(user crypto.Address, now uint64) (AccountData, error) {
	return p.calculateUserAccountData(CalculateUserAccountDataParams{
		UserConfig:        p.state.userConfig(user),
		ReservesCount:     p.state.reservesCount(),
		User:              user,
		UserEModeCategory: p.state.userEMode[user],
		Now:               now,
	})
}

// assetToBase values amount of an asset in base currency.
func assetToBase(amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	unit, err := wadray.Pow10(decimals)
	if err != nil {
		return nil, err
	}
	value, err := wadray.Mul(amount, price)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(value, unit), nil
}
