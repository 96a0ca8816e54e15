package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/tokens"
	"nhblend/native/lending/wadray"
)

const (
	// DefaultLiquidationCloseFactor caps the share of a position's debt one
	// liquidation may repay while the position is still close to healthy.
	DefaultLiquidationCloseFactor = 5000
)

var (
	// CloseFactorHFThreshold is the health factor below which a position can
	// be fully liquidated.
	CloseFactorHFThreshold = uint256.MustFromDecimal("950000000000000000")
	// MinBaseMaxCloseFactorThreshold is the position size, in base currency,
	// under which the close factor does not apply.
	MinBaseMaxCloseFactorThreshold = uint256.NewInt(2000_00000000)
	// MinLeftoverBase is the minimum collateral and debt, in base currency, a
	// partial liquidation must leave behind.
	MinLeftoverBase = uint256.NewInt(1000_00000000)
)

// LiquidationCallParams describes one liquidation request.
type LiquidationCallParams struct {
	Liquidator      crypto.Address
	CollateralAsset crypto.Address
	DebtAsset       crypto.Address
	User            crypto.Address
	DebtToCover     *uint256.Int
	ReceiveAToken   bool
}

// LiquidationResult reports what a liquidation moved.
type LiquidationResult struct {
	DebtRepaid          *uint256.Int
	CollateralSeized    *uint256.Int
	ProtocolFee         *uint256.Int
	Deficits            map[crypto.Address]*uint256.Int
	CollateralExhausted bool
}

type liquidationVars struct {
	userConfig            configuration.UserConfiguration
	userCollateralBalance *uint256.Int
	userReserveDebt       *uint256.Int
	totalCollateralBase   *uint256.Int
	totalDebtBase         *uint256.Int
	healthFactor          *uint256.Int
	liquidationBonus      uint64
	collateralPrice       *uint256.Int
	collateralUnit        *uint256.Int
	debtPrice             *uint256.Int
	debtUnit              *uint256.Int
	actualDebt            *uint256.Int
	actualCollateral      *uint256.Int
	protocolFee           *uint256.Int
	collateralInBase      *uint256.Int
	isolated              bool
	isolationCollateral   crypto.Address
}

// LiquidationCall repays part of the debt of an unhealthy position and seizes
// collateral at a bonus. The liquidator pays the debt asset; the seized
// collateral is delivered as underlying or, with ReceiveAToken, as receipt
// tokens.
func (p *Pool) LiquidationCall(params LiquidationCallParams) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := p.execute("liquidation", true, func(now uint64) error {
		var err error
		result, err = p.executeLiquidationCall(params, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RecordLiquidation(params.CollateralAsset.String(), params.DebtAsset.String())
	for asset, amount := range result.Deficits {
		p.metrics.RecordDeficit(asset.String())
		p.logger.Warn("lending deficit created",
			"user", params.User.String(),
			"asset", asset.String(),
			"amount", amount.Dec())
	}
	p.logger.Info("lending liquidation",
		"user", params.User.String(),
		"liquidator", params.Liquidator.String(),
		"collateral", params.CollateralAsset.String(),
		"debt", params.DebtAsset.String(),
		"debt_repaid", result.DebtRepaid.Dec(),
		"collateral_seized", result.CollateralSeized.Dec())
	return result, nil
}

func (p *Pool) executeLiquidationCall(params LiquidationCallParams, now uint64) (*LiquidationResult, error) {
	debtReserve, _, debtToken, err := p.loadReserve(params.DebtAsset)
	if err != nil {
		return nil, err
	}
	collateralReserve, collateralReceipt, collateralDebt, err := p.loadReserve(params.CollateralAsset)
	if err != nil {
		return nil, err
	}
	debtCache := cacheReserve(debtReserve, debtToken)
	if err := updateState(debtReserve, &debtCache, now); err != nil {
		return nil, err
	}
	collateralCache := cacheReserve(collateralReserve, collateralDebt)
	if err := updateState(collateralReserve, &collateralCache, now); err != nil {
		return nil, err
	}

	vars := liquidationVars{userConfig: p.state.userConfig(params.User)}
	account, err := p.calculateUserAccountData(CalculateUserAccountDataParams{
		UserConfig:        vars.userConfig,
		ReservesCount:     p.state.reservesCount(),
		User:              params.User,
		UserEModeCategory: p.state.userEMode[params.User],
		Now:               now,
	})
	if err != nil {
		return nil, err
	}
	vars.totalCollateralBase = account.TotalCollateralBase
	vars.totalDebtBase = account.TotalDebtBase
	vars.healthFactor = account.HealthFactor

	if vars.userCollateralBalance, err = collateralReceipt.BalanceOf(params.User, collateralCache.NextLiquidityIndex); err != nil {
		return nil, err
	}
	if vars.userReserveDebt, err = debtToken.BalanceOf(params.User, debtCache.NextVariableBorrowIndex); err != nil {
		return nil, err
	}
	if params.DebtToCover == nil || params.DebtToCover.IsZero() {
		return nil, errcodes.ErrInvalidAmount
	}
	if err := validateLiquidationCall(vars.userConfig, collateralReserve, debtReserve, vars.userReserveDebt, vars.healthFactor, now); err != nil {
		return nil, err
	}
	if err := p.collectFee(params.Liquidator, fees.DomainLiquidation); err != nil {
		return nil, err
	}

	if err := p.loadLiquidationPrices(&vars, params, collateralReserve, debtReserve); err != nil {
		return nil, err
	}
	if err := p.calculateLiquidationAmounts(&vars, params, collateralReserve); err != nil {
		return nil, err
	}
	if err := checkLiquidationDust(&vars); err != nil {
		return nil, err
	}

	vars.isolated, vars.isolationCollateral, _ = p.isolationModeState(vars.userConfig)

	seizedTotal, err := wadray.Add(vars.actualCollateral, vars.protocolFee)
	if err != nil {
		return nil, err
	}
	if seizedTotal.Eq(vars.userCollateralBalance) {
		if err := p.setUsingAsCollateral(params.User, params.CollateralAsset, collateralReserve.ID, false); err != nil {
			return nil, err
		}
	}
	hasNoCollateralLeft := vars.totalCollateralBase.Eq(vars.collateralInBase)

	result := &LiquidationResult{
		DebtRepaid:          new(uint256.Int).Set(vars.actualDebt),
		CollateralSeized:    new(uint256.Int).Set(vars.actualCollateral),
		ProtocolFee:         new(uint256.Int).Set(vars.protocolFee),
		Deficits:            make(map[crypto.Address]*uint256.Int),
		CollateralExhausted: hasNoCollateralLeft,
	}

	deficit, err := p.burnDebtTokens(params.DebtAsset, debtReserve, &debtCache, debtToken, params.User, vars.userReserveDebt, vars.actualDebt, hasNoCollateralLeft)
	if err != nil {
		return nil, err
	}
	if !deficit.IsZero() {
		result.Deficits[params.DebtAsset] = deficit
	}
	if vars.isolated {
		p.reduceIsolatedDebt(vars.isolationCollateral, debtCache.Configuration.Decimals, vars.actualDebt)
	}

	if params.ReceiveAToken {
		if err := p.liquidateReceiptTokens(params, collateralReserve, collateralReceipt, vars.actualCollateral, now); err != nil {
			return nil, err
		}
	} else {
		if err := p.burnCollateralReceiptTokens(params, collateralReserve, collateralReceipt, collateralDebt, vars.actualCollateral, now); err != nil {
			return nil, err
		}
	}

	if !vars.protocolFee.IsZero() {
		if err := p.transferLiquidationProtocolFee(params.User, collateralReserve, collateralReceipt, vars.protocolFee); err != nil {
			return nil, err
		}
	}

	if hasNoCollateralLeft && p.state.userConfig(params.User).IsBorrowingAny() {
		if err := p.burnBadDebt(params.User, now, result.Deficits); err != nil {
			return nil, err
		}
	}

	if err := p.pullUnderlying(params.DebtAsset, params.Liquidator, debtCache.ATokenAddress, vars.actualDebt); err != nil {
		return nil, err
	}
	debtReceipt, err := p.state.receipt(params.DebtAsset)
	if err != nil {
		return nil, err
	}
	if err := debtReceipt.HandleRepayment(params.Liquidator, params.User, vars.actualDebt); err != nil {
		return nil, err
	}

	p.emit(events.LiquidationCall{
		CollateralAsset:            params.CollateralAsset,
		DebtAsset:                  params.DebtAsset,
		User:                       params.User,
		DebtToCover:                new(uint256.Int).Set(vars.actualDebt),
		LiquidatedCollateralAmount: new(uint256.Int).Set(vars.actualCollateral),
		Liquidator:                 params.Liquidator,
		ReceiveAToken:              params.ReceiveAToken,
	})
	return result, nil
}

func (p *Pool) loadLiquidationPrices(vars *liquidationVars, params LiquidationCallParams, collateral, debt *ReserveData) error {
	vars.liquidationBonus = collateral.Configuration.LiquidationBonus
	if category := p.state.userEMode[params.User]; category != 0 && collateral.Configuration.EModeCategory == category {
		vars.liquidationBonus = p.state.eModeCategory(category).LiquidationBonus
	}
	var err error
	if vars.collateralPrice, err = p.oracle.GetAssetPrice(params.CollateralAsset); err != nil {
		return fmt.Errorf("lending: price of %s: %w", params.CollateralAsset, err)
	}
	if vars.debtPrice, err = p.oracle.GetAssetPrice(params.DebtAsset); err != nil {
		return fmt.Errorf("lending: price of %s: %w", params.DebtAsset, err)
	}
	if vars.collateralUnit, err = wadray.Pow10(collateral.Configuration.Decimals); err != nil {
		return err
	}
	if vars.debtUnit, err = wadray.Pow10(debt.Configuration.Decimals); err != nil {
		return err
	}
	return nil
}

// calculateLiquidationAmounts applies the close factor and sizes the seized
// collateral.
func (p *Pool) calculateLiquidationAmounts(vars *liquidationVars, params LiquidationCallParams, collateral *ReserveData) error {
	debtInBase, err := wadray.MulDiv(vars.userReserveDebt, vars.debtPrice, vars.debtUnit)
	if err != nil {
		return err
	}
	collateralInBase, err := wadray.MulDiv(vars.userCollateralBalance, vars.collateralPrice, vars.collateralUnit)
	if err != nil {
		return err
	}

	maxLiquidatable := vars.userReserveDebt
	if !collateralInBase.Lt(MinBaseMaxCloseFactorThreshold) &&
		!debtInBase.Lt(MinBaseMaxCloseFactorThreshold) &&
		vars.healthFactor.Gt(CloseFactorHFThreshold) {
		closeFactorBase, err := wadray.PercentMul(vars.totalDebtBase, DefaultLiquidationCloseFactor)
		if err != nil {
			return err
		}
		if debtInBase.Gt(closeFactorBase) {
			if maxLiquidatable, err = wadray.MulDiv(closeFactorBase, vars.debtUnit, vars.debtPrice); err != nil {
				return err
			}
		}
	}
	debtToCover := wadray.Min(params.DebtToCover, maxLiquidatable)

	return p.availableCollateralToLiquidate(vars, collateral.Configuration.LiquidationProtocolFee, debtToCover)
}

// availableCollateralToLiquidate converts debtToCover into collateral plus
// bonus. When the user's collateral cannot cover it, the whole balance is
// seized and the debt repaid is reduced accordingly. The protocol fee is
// carved out of the bonus.
func (p *Pool) availableCollateralToLiquidate(vars *liquidationVars, protocolFeeBps uint64, debtToCover *uint256.Int) error {
	numerator, err := wadray.Mul(vars.debtPrice, debtToCover)
	if err != nil {
		return err
	}
	if numerator, err = wadray.Mul(numerator, vars.collateralUnit); err != nil {
		return err
	}
	denominator, err := wadray.Mul(vars.collateralPrice, vars.debtUnit)
	if err != nil {
		return err
	}
	baseCollateral, err := wadray.Div(numerator, denominator)
	if err != nil {
		return err
	}
	maxCollateral, err := wadray.PercentMul(baseCollateral, vars.liquidationBonus)
	if err != nil {
		return err
	}

	var collateralAmount, debtNeeded *uint256.Int
	if maxCollateral.Gt(vars.userCollateralBalance) {
		collateralAmount = new(uint256.Int).Set(vars.userCollateralBalance)
		num, err := wadray.Mul(vars.collateralPrice, collateralAmount)
		if err != nil {
			return err
		}
		if num, err = wadray.Mul(num, vars.debtUnit); err != nil {
			return err
		}
		den, err := wadray.Mul(vars.debtPrice, vars.collateralUnit)
		if err != nil {
			return err
		}
		if debtNeeded, err = wadray.Div(num, den); err != nil {
			return err
		}
		if debtNeeded, err = wadray.PercentDiv(debtNeeded, vars.liquidationBonus); err != nil {
			return err
		}
	} else {
		collateralAmount = maxCollateral
		debtNeeded = new(uint256.Int).Set(debtToCover)
	}

	if vars.collateralInBase, err = wadray.MulDiv(collateralAmount, vars.collateralPrice, vars.collateralUnit); err != nil {
		return err
	}

	vars.protocolFee = new(uint256.Int)
	if protocolFeeBps != 0 {
		withoutBonus, err := wadray.PercentDiv(collateralAmount, vars.liquidationBonus)
		if err != nil {
			return err
		}
		bonus := wadray.SubFloor(collateralAmount, withoutBonus)
		if vars.protocolFee, err = wadray.PercentMul(bonus, protocolFeeBps); err != nil {
			return err
		}
		collateralAmount = wadray.SubFloor(collateralAmount, vars.protocolFee)
	}
	vars.actualCollateral = collateralAmount
	vars.actualDebt = debtNeeded
	return nil
}

// checkLiquidationDust rejects partial liquidations that would leave a
// position too small to be worth liquidating again.
func checkLiquidationDust(vars *liquidationVars) error {
	seized, err := wadray.Add(vars.actualCollateral, vars.protocolFee)
	if err != nil {
		return err
	}
	if !vars.actualDebt.Lt(vars.userReserveDebt) || !seized.Lt(vars.userCollateralBalance) {
		return nil
	}
	leftoverDebt, err := wadray.MulDiv(new(uint256.Int).Sub(vars.userReserveDebt, vars.actualDebt), vars.debtPrice, vars.debtUnit)
	if err != nil {
		return err
	}
	leftoverCollateral, err := wadray.MulDiv(new(uint256.Int).Sub(vars.userCollateralBalance, seized), vars.collateralPrice, vars.collateralUnit)
	if err != nil {
		return err
	}
	if leftoverDebt.Lt(MinLeftoverBase) || leftoverCollateral.Lt(MinLeftoverBase) {
		return errcodes.ErrMustNotLeaveDust
	}
	return nil
}

// burnDebtTokens burns the repaid debt. When the user has no collateral
// left the whole debt is burned and the unpaid part is booked as deficit,
// which is returned.
func (p *Pool) burnDebtTokens(asset crypto.Address, reserve *ReserveData, cache *ReserveCache, debt *tokens.DebtToken, user crypto.Address, userDebt, repaid *uint256.Int, hasNoCollateralLeft bool) (*uint256.Int, error) {
	burn := repaid
	outstanding := new(uint256.Int)
	if hasNoCollateralLeft {
		burn = userDebt
		outstanding = wadray.SubFloor(userDebt, repaid)
	}
	if !burn.IsZero() {
		if err := debt.BurnScaled(user, burn, cache.NextVariableBorrowIndex); err != nil {
			return nil, err
		}
	}
	cache.NextScaledVariableDebt = debt.ScaledTotalSupply()

	if !outstanding.IsZero() {
		deficit, err := wadray.Add(reserve.Deficit, outstanding)
		if err != nil {
			return nil, err
		}
		reserve.Deficit = deficit
		p.emit(events.DeficitCreated{User: user, DebtAsset: asset, Amount: new(uint256.Int).Set(outstanding)})
	}
	if hasNoCollateralLeft || userDebt.Eq(repaid) {
		if err := p.setBorrowing(user, reserve.ID, false); err != nil {
			return nil, err
		}
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, cache, asset, repaid, nil); err != nil {
		return nil, err
	}
	return outstanding, nil
}

// burnBadDebt writes off every remaining borrow of a user whose collateral
// has been exhausted.
func (p *Pool) burnBadDebt(user crypto.Address, now uint64, deficits map[crypto.Address]*uint256.Int) error {
	cfg := p.state.userConfig(user)
	for id := uint16(0); id < p.state.reservesCount(); id++ {
		if !cfg.IsBorrowing(id) {
			continue
		}
		asset := p.state.reserveAddress(id)
		if asset.IsZero() {
			continue
		}
		reserve, _, debt, err := p.loadReserve(asset)
		if err != nil {
			return err
		}
		cache := cacheReserve(reserve, debt)
		if err := updateState(reserve, &cache, now); err != nil {
			return err
		}
		userDebt, err := debt.BalanceOf(user, cache.NextVariableBorrowIndex)
		if err != nil {
			return err
		}
		deficit, err := p.burnDebtTokens(asset, reserve, &cache, debt, user, userDebt, new(uint256.Int), true)
		if err != nil {
			return err
		}
		if !deficit.IsZero() {
			deficits[asset] = deficit
		}
	}
	return nil
}

// liquidateReceiptTokens hands the seized receipt tokens to the liquidator,
// enabling them as collateral when they are the liquidator's first balance.
func (p *Pool) liquidateReceiptTokens(params LiquidationCallParams, reserve *ReserveData, receipt *tokens.ReceiptToken, amount *uint256.Int, now uint64) error {
	index, err := normalizedIncome(reserve, now)
	if err != nil {
		return err
	}
	liquidatorBefore := receipt.ScaledBalanceOf(params.Liquidator)
	if err := receipt.TransferOnLiquidation(params.User, params.Liquidator, amount, index); err != nil {
		return err
	}
	if liquidatorBefore.IsZero() {
		cfg := p.state.userConfig(params.Liquidator)
		if p.validateUseAsCollateral(cfg, reserve.Configuration) {
			return p.setUsingAsCollateral(params.Liquidator, params.CollateralAsset, reserve.ID, true)
		}
	}
	return nil
}

// burnCollateralReceiptTokens burns the seized receipt tokens and releases
// the underlying to the liquidator. The reserve is re-cached because the
// debt leg may have touched the same reserve.
func (p *Pool) burnCollateralReceiptTokens(params LiquidationCallParams, reserve *ReserveData, receipt *tokens.ReceiptToken, debt *tokens.DebtToken, amount *uint256.Int, now uint64) error {
	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return err
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, params.CollateralAsset, nil, amount); err != nil {
		return err
	}
	return receipt.BurnScaled(params.User, params.Liquidator, amount, cache.NextLiquidityIndex)
}

// transferLiquidationProtocolFee moves the protocol's share of the bonus to
// the treasury, clamped to what the user still holds.
func (p *Pool) transferLiquidationProtocolFee(user crypto.Address, reserve *ReserveData, receipt *tokens.ReceiptToken, fee *uint256.Int) error {
	scaledFee, err := wadray.RayDiv(fee, reserve.LiquidityIndex)
	if err != nil {
		return err
	}
	if remaining := receipt.ScaledBalanceOf(user); scaledFee.Gt(remaining) {
		scaledFee = remaining
	}
	return receipt.TransferScaled(user, p.treasury, scaledFee)
}
