package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/tokens"
	"nhblend/native/lending/wadray"
)

// MaxGracePeriod bounds the liquidation grace period granted on unpause.
const MaxGracePeriod = 4 * 60 * 60

func validateReserveUsable(cfg configuration.ReserveConfiguration) error {
	if !cfg.Active {
		return errcodes.ErrReserveInactive
	}
	if cfg.Paused {
		return errcodes.ErrReservePaused
	}
	return nil
}

func capUnits(capacity uint64, decimals uint8) (*uint256.Int, error) {
	unit, err := wadray.Pow10(decimals)
	if err != nil {
		return nil, err
	}
	return wadray.Mul(uint256.NewInt(capacity), unit)
}

func validateSupply(cache *ReserveCache, reserve *ReserveData, receipt *tokens.ReceiptToken, amount *uint256.Int, onBehalfOf crypto.Address) error {
	if amount == nil || amount.IsZero() {
		return errcodes.ErrInvalidAmount
	}
	if err := validateReserveUsable(cache.Configuration); err != nil {
		return err
	}
	if cache.Configuration.Frozen {
		return errcodes.ErrReserveFrozen
	}
	if onBehalfOf.IsZero() {
		return errcodes.ErrZeroAddressNotValid
	}
	if onBehalfOf == cache.ATokenAddress {
		return errcodes.ErrSupplyToAToken
	}
	if supplyCap := cache.Configuration.SupplyCap; supplyCap != 0 {
		scaled, err := wadray.Add(receipt.ScaledTotalSupply(), reserve.AccruedToTreasury)
		if err != nil {
			return err
		}
		total, err := wadray.RayMul(scaled, cache.NextLiquidityIndex)
		if err != nil {
			return err
		}
		if total, err = wadray.Add(total, amount); err != nil {
			return errcodes.ErrSupplyCapExceeded
		}
		limit, err := capUnits(supplyCap, cache.Configuration.Decimals)
		if err != nil {
			return err
		}
		if total.Gt(limit) {
			return errcodes.ErrSupplyCapExceeded
		}
	}
	return nil
}

func validateWithdraw(cache *ReserveCache, amount, userBalance *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errcodes.ErrInvalidAmount
	}
	if amount.Gt(userBalance) {
		return errcodes.ErrNotEnoughAvailableUserBalance
	}
	return validateReserveUsable(cache.Configuration)
}

// validateBorrowParams carries the inputs of validateBorrow.
type validateBorrowParams struct {
	Asset                    crypto.Address
	User                     crypto.Address
	Amount                   *uint256.Int
	Mode                     InterestRateMode
	UserConfig               configuration.UserConfiguration
	UserEModeCategory        uint8
	IsolationModeActive      bool
	IsolationModeCollateral  crypto.Address
	IsolationModeDebtCeiling uint64
	ReleaseUnderlying        bool
	Now                      uint64
}

func (p *Pool) validateBorrow(cache *ReserveCache, reserve *ReserveData, params validateBorrowParams) error {
	cfg := cache.Configuration
	if params.Amount == nil || params.Amount.IsZero() {
		return errcodes.ErrInvalidAmount
	}
	if err := validateReserveUsable(cfg); err != nil {
		return err
	}
	if cfg.Frozen {
		return errcodes.ErrReserveFrozen
	}
	if !cfg.BorrowingEnabled {
		return errcodes.ErrBorrowingNotEnabled
	}
	// Flash loans opening debt have already taken the liquidity out.
	if params.ReleaseUnderlying && reserve.VirtualUnderlyingBalance.Lt(params.Amount) {
		return errcodes.ErrNotEnoughAvailableLiquidity
	}
	if params.Mode != InterestRateModeVariable {
		return errcodes.ErrInvalidInterestRateModeSelected
	}

	if cfg.BorrowCap != 0 {
		totalDebt, err := wadray.RayMul(cache.CurrScaledVariableDebt, cache.NextVariableBorrowIndex)
		if err != nil {
			return err
		}
		if totalDebt, err = wadray.Add(totalDebt, params.Amount); err != nil {
			return errcodes.ErrBorrowCapExceeded
		}
		limit, err := capUnits(cfg.BorrowCap, cfg.Decimals)
		if err != nil {
			return err
		}
		if totalDebt.Gt(limit) {
			return errcodes.ErrBorrowCapExceeded
		}
	}

	if params.IsolationModeActive {
		if !cfg.BorrowableInIsolation {
			return errcodes.ErrAssetNotBorrowableInIsolation
		}
		collateral := p.state.reserves[params.IsolationModeCollateral]
		units := isolatedDebtUnits(params.Amount, cfg.Decimals)
		current := collateral.IsolationModeTotalDebt
		if units > params.IsolationModeDebtCeiling || current > params.IsolationModeDebtCeiling-units {
			return errcodes.ErrDebtCeilingExceeded
		}
	}

	if params.UserEModeCategory != 0 && cfg.EModeCategory != params.UserEModeCategory {
		return errcodes.ErrInconsistentEModeCategory
	}

	account, err := p.calculateUserAccountData(CalculateUserAccountDataParams{
		UserConfig:        params.UserConfig,
		ReservesCount:     p.state.reservesCount(),
		User:              params.User,
		UserEModeCategory: params.UserEModeCategory,
		Now:               params.Now,
	})
	if err != nil {
		return err
	}
	if account.TotalCollateralBase.IsZero() {
		return errcodes.ErrCollateralBalanceIsZero
	}
	if account.AvgLTV == 0 {
		return errcodes.ErrLTVValidationFailed
	}
	if !account.HealthFactor.Gt(HealthFactorLiquidationThreshold) {
		return errcodes.ErrHealthFactorLowerThanLiquidationThreshold
	}

	price, err := p.oracle.GetAssetPrice(params.Asset)
	if err != nil {
		return fmt.Errorf("lending: price of %s: %w", params.Asset, err)
	}
	amountBase, err := assetToBase(params.Amount, price, cfg.Decimals)
	if err != nil {
		return err
	}
	needed, err := wadray.Add(account.TotalDebtBase, amountBase)
	if err != nil {
		return err
	}
	if needed, err = wadray.PercentDiv(needed, account.AvgLTV); err != nil {
		return err
	}
	if needed.Gt(account.TotalCollateralBase) {
		return errcodes.ErrCollateralCannotCoverNewBorrow
	}

	if params.UserConfig.IsBorrowingAny() {
		siloed, siloedAsset := p.siloedBorrowingState(params.UserConfig)
		if siloed {
			if siloedAsset != params.Asset {
				return errcodes.ErrSiloedBorrowingViolation
			}
		} else if cfg.SiloedBorrowing {
			return errcodes.ErrSiloedBorrowingViolation
		}
	}
	return nil
}

func validateRepay(cache *ReserveCache, amount *uint256.Int, caller, onBehalfOf crypto.Address, debt *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errcodes.ErrInvalidAmount
	}
	if wadray.IsMax(amount) && caller != onBehalfOf {
		return errcodes.ErrNoExplicitAmountToRepayOnBehalf
	}
	if err := validateReserveUsable(cache.Configuration); err != nil {
		return err
	}
	if debt.IsZero() {
		return errcodes.ErrNoDebtOfSelectedType
	}
	return nil
}

func validateLiquidationCall(userConfig configuration.UserConfiguration, collateral, debt *ReserveData, userDebt, healthFactor *uint256.Int, now uint64) error {
	if err := validateReserveUsable(collateral.Configuration); err != nil {
		return err
	}
	if err := validateReserveUsable(debt.Configuration); err != nil {
		return err
	}
	if collateral.LiquidationGracePeriodUntil >= now || debt.LiquidationGracePeriodUntil >= now {
		return errcodes.ErrLiquidationGracePeriodActive
	}
	if !healthFactor.Lt(HealthFactorLiquidationThreshold) {
		return errcodes.ErrHealthFactorNotBelowThreshold
	}
	if collateral.Configuration.LiquidationThreshold == 0 || !userConfig.IsUsingAsCollateral(collateral.ID) {
		return errcodes.ErrCollateralCannotBeLiquidated
	}
	if userDebt.IsZero() {
		return errcodes.ErrSpecifiedCurrencyNotBorrowedByUser
	}
	return nil
}

func validateSetUseReserveAsCollateral(cfg configuration.ReserveConfiguration, userBalance *uint256.Int) error {
	if userBalance.IsZero() {
		return errcodes.ErrUnderlyingBalanceZero
	}
	return validateReserveUsable(cfg)
}

func validateFlashloan(reserves []*ReserveData, assets []crypto.Address, amounts []*uint256.Int) error {
	if len(assets) == 0 || len(assets) != len(amounts) || len(reserves) != len(assets) {
		return errcodes.ErrInconsistentFlashloanParams
	}
	for i := range assets {
		for j := i + 1; j < len(assets); j++ {
			if assets[i] == assets[j] {
				return errcodes.ErrFlashloanDuplicateAsset
			}
		}
	}
	for i, reserve := range reserves {
		if err := validateFlashloanSimple(reserve, amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateFlashloanSimple(reserve *ReserveData, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errcodes.ErrInvalidAmount
	}
	cfg := reserve.Configuration
	if cfg.Paused {
		return errcodes.ErrReservePaused
	}
	if !cfg.Active {
		return errcodes.ErrReserveInactive
	}
	if !cfg.FlashLoanEnabled {
		return errcodes.ErrFlashloanDisabled
	}
	if reserve.VirtualUnderlyingBalance.Lt(amount) {
		return errcodes.ErrNotEnoughAvailableLiquidity
	}
	return nil
}

// validateHealthFactor fails when the user's position is liquidatable and
// reports whether any collateral has a zero LTV.
func (p *Pool) validateHealthFactor(user crypto.Address, now uint64) (*uint256.Int, bool, error) {
	account, err := p.accountDataFor(user, now)
	if err != nil {
		return nil, false, err
	}
	if account.HealthFactor.Lt(HealthFactorLiquidationThreshold) {
		return nil, false, errcodes.ErrHealthFactorLowerThanLiquidationThreshold
	}
	return account.HealthFactor, account.HasZeroLTVCollateral, nil
}

// validateHFAndLTV checks the position after collateral of asset left the
// user. While any zero-LTV collateral remains, only zero-LTV assets may be
// withdrawn.
func (p *Pool) validateHFAndLTV(asset, user crypto.Address, now uint64) error {
	_, hasZeroLTV, err := p.validateHealthFactor(user, now)
	if err != nil {
		return err
	}
	if hasZeroLTV {
		if reserve, ok := p.state.reserves[asset]; ok && reserve.Configuration.LTV != 0 {
			return errcodes.ErrLTVValidationFailed
		}
	}
	return nil
}

func (p *Pool) validateSetUserEMode(userConfig configuration.UserConfiguration, categoryID uint8) error {
	if categoryID != 0 && !p.state.eModeCategory(categoryID).Configured() {
		return errcodes.ErrInconsistentEModeCategory
	}
	if userConfig.IsEmpty() || categoryID == 0 {
		return nil
	}
	for id := uint16(0); id < p.state.reservesCount(); id++ {
		if !userConfig.IsBorrowing(id) {
			continue
		}
		asset := p.state.reserveAddress(id)
		reserve, ok := p.state.reserves[asset]
		if !ok {
			continue
		}
		if reserve.Configuration.EModeCategory != categoryID {
			return errcodes.ErrInconsistentEModeCategory
		}
	}
	return nil
}

func (p *Pool) validateDropReserve(asset crypto.Address) error {
	if asset.IsZero() {
		return errcodes.ErrZeroAddressNotValid
	}
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return err
	}
	debt, err := p.state.debt(asset)
	if err != nil {
		return err
	}
	if !debt.ScaledTotalSupply().IsZero() {
		return errcodes.ErrVariableDebtSupplyNotZero
	}
	receipt, err := p.state.receipt(asset)
	if err != nil {
		return err
	}
	if !receipt.ScaledTotalSupply().IsZero() || !reserve.AccruedToTreasury.IsZero() {
		return errcodes.ErrUnderlyingClaimableRightsNotZero
	}
	return nil
}

// validateUseAsCollateral reports whether a reserve may be flagged as
// collateral for a user without further checks.
func (p *Pool) validateUseAsCollateral(userConfig configuration.UserConfiguration, cfg configuration.ReserveConfiguration) bool {
	if cfg.LTV == 0 {
		return false
	}
	if !userConfig.IsUsingAsCollateralAny() {
		return true
	}
	active, _, _ := p.isolationModeState(userConfig)
	return !active && cfg.DebtCeiling == 0
}
