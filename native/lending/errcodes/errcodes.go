// Package errcodes enumerates the numeric failure codes of the lending core.
// Every violated precondition maps to exactly one code so integrators can
// react to a failed action without parsing messages.
package errcodes

import "fmt"

// Category groups codes by the kind of rule that failed.
type Category uint8

const (
	CategoryAuthorization Category = iota + 1
	CategoryReserveState
	CategoryAmount
	CategoryRisk
	CategoryConfiguration
	CategoryFlashLoan
	CategoryInvariant
)

func (c Category) String() string {
	switch c {
	case CategoryAuthorization:
		return "authorization"
	case CategoryReserveState:
		return "reserve_state"
	case CategoryAmount:
		return "amount"
	case CategoryRisk:
		return "risk"
	case CategoryConfiguration:
		return "configuration"
	case CategoryFlashLoan:
		return "flash_loan"
	case CategoryInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a coded lending failure. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code     uint16
	Name     string
	Category Category
}

func (e *Error) Error() string {
	return fmt.Sprintf("lending: %s (code %d)", e.Name, e.Code)
}

// Is reports code equality so wrapped copies still match the sentinel.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var registry = map[uint16]*Error{}

func define(code uint16, name string, category Category) *Error {
	if _, exists := registry[code]; exists {
		panic(fmt.Sprintf("errcodes: duplicate code %d", code))
	}
	err := &Error{Code: code, Name: name, Category: category}
	registry[code] = err
	return err
}

// Lookup returns the registered error for code.
func Lookup(code uint16) (*Error, bool) {
	err, ok := registry[code]
	return err, ok
}

// All returns every registered code. The slice is freshly allocated.
func All() []*Error {
	out := make([]*Error, 0, len(registry))
	for _, err := range registry {
		out = append(out, err)
	}
	return out
}

// Authorization.
var (
	ErrCallerNotPoolAdmin                = define(101, "CALLER_NOT_POOL_ADMIN", CategoryAuthorization)
	ErrCallerNotRiskOrPoolAdmin          = define(102, "CALLER_NOT_RISK_OR_POOL_ADMIN", CategoryAuthorization)
	ErrCallerNotAssetListingOrPoolAdmin  = define(103, "CALLER_NOT_ASSET_LISTING_OR_POOL_ADMIN", CategoryAuthorization)
	ErrCallerNotEmergencyOrPoolAdmin     = define(104, "CALLER_NOT_EMERGENCY_OR_POOL_ADMIN", CategoryAuthorization)
	ErrCallerNotRiskPoolOrEmergencyAdmin = define(105, "CALLER_NOT_RISK_OR_POOL_OR_EMERGENCY_ADMIN", CategoryAuthorization)
	ErrCallerMustBeBeneficiary           = define(106, "CALLER_MUST_BE_BENEFICIARY", CategoryAuthorization)
	ErrNoExplicitAmountToRepayOnBehalf   = define(107, "NO_EXPLICIT_AMOUNT_TO_REPAY_ON_BEHALF", CategoryAuthorization)
)

// Reserve state.
var (
	ErrReserveInactive               = define(201, "RESERVE_INACTIVE", CategoryReserveState)
	ErrReserveFrozen                 = define(202, "RESERVE_FROZEN", CategoryReserveState)
	ErrReservePaused                 = define(203, "RESERVE_PAUSED", CategoryReserveState)
	ErrBorrowingNotEnabled           = define(204, "BORROWING_NOT_ENABLED", CategoryReserveState)
	ErrFlashloanDisabled             = define(205, "FLASHLOAN_DISABLED", CategoryReserveState)
	ErrAssetNotListed                = define(206, "ASSET_NOT_LISTED", CategoryReserveState)
	ErrReserveAlreadyInitialized     = define(207, "RESERVE_ALREADY_INITIALIZED", CategoryReserveState)
	ErrNoMoreReservesAllowed         = define(208, "NO_MORE_RESERVES_ALLOWED", CategoryReserveState)
	ErrLiquidationGracePeriodActive  = define(209, "LIQUIDATION_GRACE_SENTINEL_CHECK_FAILED", CategoryReserveState)
	ErrZeroAddressNotValid           = define(210, "ZERO_ADDRESS_NOT_VALID", CategoryReserveState)
	ErrSupplyToAToken                = define(211, "SUPPLY_TO_ATOKEN", CategoryReserveState)
	ErrWithdrawToAToken              = define(212, "WITHDRAW_TO_ATOKEN", CategoryReserveState)
	ErrModulePaused                  = define(213, "POOL_PAUSED", CategoryReserveState)
	ErrReserveNotConfiguredForLedger = define(214, "RESERVE_LEDGER_NOT_BOUND", CategoryReserveState)
)

// Amounts and balances.
var (
	ErrInvalidAmount                   = define(301, "INVALID_AMOUNT", CategoryAmount)
	ErrNotEnoughAvailableUserBalance   = define(302, "NOT_ENOUGH_AVAILABLE_USER_BALANCE", CategoryAmount)
	ErrSupplyCapExceeded               = define(303, "SUPPLY_CAP_EXCEEDED", CategoryAmount)
	ErrBorrowCapExceeded               = define(304, "BORROW_CAP_EXCEEDED", CategoryAmount)
	ErrNoDebtOfSelectedType            = define(305, "NO_DEBT_OF_SELECTED_TYPE", CategoryAmount)
	ErrInvalidMintAmount               = define(306, "INVALID_MINT_AMOUNT", CategoryAmount)
	ErrInvalidBurnAmount               = define(307, "INVALID_BURN_AMOUNT", CategoryAmount)
	ErrNotEnoughAvailableLiquidity     = define(308, "NOT_ENOUGH_AVAILABLE_LIQUIDITY", CategoryAmount)
	ErrUnderlyingBalanceZero           = define(309, "UNDERLYING_BALANCE_ZERO", CategoryAmount)
	ErrInsufficientUnderlyingBalance   = define(310, "INSUFFICIENT_UNDERLYING_BALANCE", CategoryAmount)
	ErrInvalidInterestRateModeSelected = define(311, "INVALID_INTEREST_RATE_MODE_SELECTED", CategoryAmount)
	ErrInsufficientScaledBalance       = define(312, "INSUFFICIENT_SCALED_BALANCE", CategoryAmount)
)

// Risk.
var (
	ErrCollateralBalanceIsZero                   = define(401, "COLLATERAL_BALANCE_IS_ZERO", CategoryRisk)
	ErrLTVValidationFailed                       = define(402, "LTV_VALIDATION_FAILED", CategoryRisk)
	ErrHealthFactorLowerThanLiquidationThreshold = define(403, "HEALTH_FACTOR_LOWER_THAN_LIQUIDATION_THRESHOLD", CategoryRisk)
	ErrCollateralCannotCoverNewBorrow            = define(404, "COLLATERAL_CANNOT_COVER_NEW_BORROW", CategoryRisk)
	ErrHealthFactorNotBelowThreshold             = define(405, "HEALTH_FACTOR_NOT_BELOW_THRESHOLD", CategoryRisk)
	ErrCollateralCannotBeLiquidated              = define(406, "COLLATERAL_CANNOT_BE_LIQUIDATED", CategoryRisk)
	ErrSpecifiedCurrencyNotBorrowedByUser        = define(407, "SPECIFIED_CURRENCY_NOT_BORROWED_BY_USER", CategoryRisk)
	ErrMustNotLeaveDust                          = define(408, "MUST_NOT_LEAVE_DUST", CategoryRisk)
	ErrAssetNotBorrowableInIsolation             = define(409, "ASSET_NOT_BORROWABLE_IN_ISOLATION", CategoryRisk)
	ErrDebtCeilingExceeded                       = define(410, "DEBT_CEILING_EXCEEDED", CategoryRisk)
	ErrSiloedBorrowingViolation                  = define(411, "SILOED_BORROWING_VIOLATION", CategoryRisk)
	ErrInconsistentEModeCategory                 = define(412, "INCONSISTENT_EMODE_CATEGORY", CategoryRisk)
	ErrUserInIsolationModeOrLTVZero              = define(413, "USER_IN_ISOLATION_MODE_OR_LTV_ZERO", CategoryRisk)
)

// Configuration.
var (
	ErrInvalidLTV                       = define(501, "INVALID_LTV", CategoryConfiguration)
	ErrInvalidLiquidationThreshold      = define(502, "INVALID_LIQ_THRESHOLD", CategoryConfiguration)
	ErrInvalidLiquidationBonus          = define(503, "INVALID_LIQ_BONUS", CategoryConfiguration)
	ErrInvalidDecimals                  = define(504, "INVALID_DECIMALS", CategoryConfiguration)
	ErrInvalidReserveFactor             = define(505, "INVALID_RESERVE_FACTOR", CategoryConfiguration)
	ErrInvalidBorrowCap                 = define(506, "INVALID_BORROW_CAP", CategoryConfiguration)
	ErrInvalidSupplyCap                 = define(507, "INVALID_SUPPLY_CAP", CategoryConfiguration)
	ErrInvalidLiquidationProtocolFee    = define(508, "INVALID_LIQUIDATION_PROTOCOL_FEE", CategoryConfiguration)
	ErrInvalidEModeCategory             = define(509, "INVALID_EMODE_CATEGORY", CategoryConfiguration)
	ErrInvalidDebtCeiling               = define(510, "INVALID_DEBT_CEILING", CategoryConfiguration)
	ErrInvalidReserveIndex              = define(511, "INVALID_RESERVE_INDEX", CategoryConfiguration)
	ErrInvalidReserveParams             = define(512, "INVALID_RESERVE_PARAMS", CategoryConfiguration)
	ErrInvalidOptimalUsageRatio         = define(513, "INVALID_OPTIMAL_USAGE_RATIO", CategoryConfiguration)
	ErrSlope2MustBeGteSlope1            = define(514, "SLOPE_2_MUST_BE_GTE_SLOPE_1", CategoryConfiguration)
	ErrInvalidMaxRate                   = define(515, "INVALID_MAX_RATE", CategoryConfiguration)
	ErrReserveNotConfiguredInStrategy   = define(516, "RESERVE_NOT_CONFIGURED_IN_STRATEGY", CategoryConfiguration)
	ErrEModeCategoryReserved            = define(517, "EMODE_CATEGORY_RESERVED", CategoryConfiguration)
	ErrInvalidEModeCategoryParams       = define(518, "INVALID_EMODE_CATEGORY_PARAMS", CategoryConfiguration)
	ErrReserveLiquidityNotZero          = define(519, "RESERVE_LIQUIDITY_NOT_ZERO", CategoryConfiguration)
	ErrReserveDebtNotZero               = define(520, "RESERVE_DEBT_NOT_ZERO", CategoryConfiguration)
	ErrVariableDebtSupplyNotZero        = define(521, "VARIABLE_DEBT_SUPPLY_NOT_ZERO", CategoryConfiguration)
	ErrUnderlyingClaimableRightsNotZero = define(522, "UNDERLYING_CLAIMABLE_RIGHTS_NOT_ZERO", CategoryConfiguration)
	ErrInvalidGracePeriod               = define(523, "INVALID_GRACE_PERIOD", CategoryConfiguration)
	ErrInvalidFlashloanPremium          = define(524, "INVALID_FLASHLOAN_PREMIUM", CategoryConfiguration)
	ErrInvalidEModeCategoryAssignment   = define(525, "INVALID_EMODE_CATEGORY_ASSIGNMENT", CategoryConfiguration)
	ErrInvalidTreasury                  = define(526, "INVALID_TREASURY", CategoryConfiguration)
)

// Flash loans.
var (
	ErrInconsistentFlashloanParams    = define(601, "INCONSISTENT_FLASHLOAN_PARAMS", CategoryFlashLoan)
	ErrFlashloanDuplicateAsset        = define(602, "FLASHLOAN_DUPLICATE_ASSET", CategoryFlashLoan)
	ErrInvalidFlashloanExecutorReturn = define(603, "INVALID_FLASHLOAN_EXECUTOR_RETURN", CategoryFlashLoan)
	ErrFlashloanReceiptNotConsumed    = define(604, "FLASHLOAN_RECEIPT_NOT_CONSUMED", CategoryFlashLoan)
	ErrFlashloanReceiptConsumed       = define(605, "FLASHLOAN_RECEIPT_ALREADY_CONSUMED", CategoryFlashLoan)
	ErrReentrancy                     = define(606, "REENTRANT_CALL", CategoryFlashLoan)
)

// Internal consistency. These indicate a bug rather than user error.
var (
	ErrReservesListMismatch    = define(901, "INVARIANT_RESERVES_LIST_MISMATCH", CategoryInvariant)
	ErrReserveNotFound         = define(902, "INVARIANT_RESERVE_NOT_FOUND", CategoryInvariant)
	ErrVirtualBalanceUnderflow = define(903, "INVARIANT_VIRTUAL_BALANCE_UNDERFLOW", CategoryInvariant)
	ErrIndexRegression         = define(904, "INVARIANT_INDEX_REGRESSION", CategoryInvariant)
)
