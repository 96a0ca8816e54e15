package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"nhblend/core/types"
	"nhblend/crypto"
)

const (
	TypeReserveInitialized             = "lending.reserve.initialized"
	TypeReserveDropped                 = "lending.reserve.dropped"
	TypeReserveDataUpdated             = "lending.reserve.data_updated"
	TypeReserveConfigChanged           = "lending.reserve.config_changed"
	TypeSupply                         = "lending.supply"
	TypeWithdraw                       = "lending.withdraw"
	TypeBorrow                         = "lending.borrow"
	TypeRepay                          = "lending.repay"
	TypeLiquidationCall                = "lending.liquidation_call"
	TypeFlashLoan                      = "lending.flash_loan"
	TypeReserveUsedAsCollateralEnable  = "lending.collateral.enabled"
	TypeReserveUsedAsCollateralDisable = "lending.collateral.disabled"
	TypeIsolationModeTotalDebtUpdated  = "lending.isolation.total_debt_updated"
	TypeDeficitCreated                 = "lending.deficit.created"
	TypeUserEModeSet                   = "lending.emode.user_set"
	TypeEModeCategoryUpdated           = "lending.emode.category_updated"
	TypeMintedToTreasury               = "lending.treasury.minted"
	TypeReceiptTransfer                = "lending.receipt.transfer"
)

func formatUint(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func setAddress(attrs map[string]string, key string, addr crypto.Address) {
	if !addr.IsZero() {
		attrs[key] = addr.String()
	}
}

// ReserveInitialized is emitted when an asset is listed.
type ReserveInitialized struct {
	Asset             crypto.Address
	ID                uint16
	ReceiptToken      crypto.Address
	VariableDebtToken crypto.Address
}

func (ReserveInitialized) EventType() string { return TypeReserveInitialized }

func (e ReserveInitialized) Event() *types.Event {
	attrs := map[string]string{"id": strconv.FormatUint(uint64(e.ID), 10)}
	setAddress(attrs, "asset", e.Asset)
	setAddress(attrs, "receiptToken", e.ReceiptToken)
	setAddress(attrs, "variableDebtToken", e.VariableDebtToken)
	return &types.Event{Type: TypeReserveInitialized, Attributes: attrs}
}

// ReserveDropped is emitted when a reserve slot is cleared.
type ReserveDropped struct {
	Asset crypto.Address
}

func (ReserveDropped) EventType() string { return TypeReserveDropped }

func (e ReserveDropped) Event() *types.Event {
	attrs := map[string]string{}
	setAddress(attrs, "asset", e.Asset)
	return &types.Event{Type: TypeReserveDropped, Attributes: attrs}
}

// ReserveDataUpdated carries the rates and indices written at the end of an
// action.
type ReserveDataUpdated struct {
	Reserve             crypto.Address
	LiquidityRate       *uint256.Int
	VariableBorrowRate  *uint256.Int
	LiquidityIndex      *uint256.Int
	VariableBorrowIndex *uint256.Int
}

func (ReserveDataUpdated) EventType() string { return TypeReserveDataUpdated }

func (e ReserveDataUpdated) Event() *types.Event {
	attrs := map[string]string{
		"liquidityRate":       formatUint(e.LiquidityRate),
		"variableBorrowRate":  formatUint(e.VariableBorrowRate),
		"liquidityIndex":      formatUint(e.LiquidityIndex),
		"variableBorrowIndex": formatUint(e.VariableBorrowIndex),
	}
	setAddress(attrs, "reserve", e.Reserve)
	return &types.Event{Type: TypeReserveDataUpdated, Attributes: attrs}
}

// ReserveConfigChanged records an administrative change of a single reserve
// or pool parameter.
type ReserveConfigChanged struct {
	Asset  crypto.Address
	Field  string
	Value  string
	Caller crypto.Address
}

func (ReserveConfigChanged) EventType() string { return TypeReserveConfigChanged }

func (e ReserveConfigChanged) Event() *types.Event {
	attrs := map[string]string{"field": e.Field, "value": e.Value}
	setAddress(attrs, "asset", e.Asset)
	setAddress(attrs, "caller", e.Caller)
	return &types.Event{Type: TypeReserveConfigChanged, Attributes: attrs}
}

type Supply struct {
	Reserve      crypto.Address
	User         crypto.Address
	OnBehalfOf   crypto.Address
	Amount       *uint256.Int
	ReferralCode uint16
}

func (Supply) EventType() string { return TypeSupply }

func (e Supply) Event() *types.Event {
	attrs := map[string]string{"amount": formatUint(e.Amount)}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "onBehalfOf", e.OnBehalfOf)
	if e.ReferralCode != 0 {
		attrs["referralCode"] = strconv.FormatUint(uint64(e.ReferralCode), 10)
	}
	return &types.Event{Type: TypeSupply, Attributes: attrs}
}

type Withdraw struct {
	Reserve crypto.Address
	User    crypto.Address
	To      crypto.Address
	Amount  *uint256.Int
}

func (Withdraw) EventType() string { return TypeWithdraw }

func (e Withdraw) Event() *types.Event {
	attrs := map[string]string{"amount": formatUint(e.Amount)}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "to", e.To)
	return &types.Event{Type: TypeWithdraw, Attributes: attrs}
}

// Borrow records a new variable-rate borrow together with the rate the
// reserve charged at the time.
type Borrow struct {
	Reserve      crypto.Address
	User         crypto.Address
	OnBehalfOf   crypto.Address
	Amount       *uint256.Int
	BorrowRate   *uint256.Int
	ReferralCode uint16
}

func (Borrow) EventType() string { return TypeBorrow }

func (e Borrow) Event() *types.Event {
	attrs := map[string]string{
		"amount":           formatUint(e.Amount),
		"interestRateMode": "variable",
		"borrowRate":       formatUint(e.BorrowRate),
	}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "onBehalfOf", e.OnBehalfOf)
	if e.ReferralCode != 0 {
		attrs["referralCode"] = strconv.FormatUint(uint64(e.ReferralCode), 10)
	}
	return &types.Event{Type: TypeBorrow, Attributes: attrs}
}

type Repay struct {
	Reserve    crypto.Address
	User       crypto.Address
	Repayer    crypto.Address
	Amount     *uint256.Int
	UseATokens bool
}

func (Repay) EventType() string { return TypeRepay }

func (e Repay) Event() *types.Event {
	attrs := map[string]string{
		"amount":     formatUint(e.Amount),
		"useATokens": strconv.FormatBool(e.UseATokens),
	}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "repayer", e.Repayer)
	return &types.Event{Type: TypeRepay, Attributes: attrs}
}

type LiquidationCall struct {
	CollateralAsset            crypto.Address
	DebtAsset                  crypto.Address
	User                       crypto.Address
	DebtToCover                *uint256.Int
	LiquidatedCollateralAmount *uint256.Int
	Liquidator                 crypto.Address
	ReceiveAToken              bool
}

func (LiquidationCall) EventType() string { return TypeLiquidationCall }

func (e LiquidationCall) Event() *types.Event {
	attrs := map[string]string{
		"debtToCover":                formatUint(e.DebtToCover),
		"liquidatedCollateralAmount": formatUint(e.LiquidatedCollateralAmount),
		"receiveAToken":              strconv.FormatBool(e.ReceiveAToken),
	}
	setAddress(attrs, "collateralAsset", e.CollateralAsset)
	setAddress(attrs, "debtAsset", e.DebtAsset)
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "liquidator", e.Liquidator)
	return &types.Event{Type: TypeLiquidationCall, Attributes: attrs}
}

type FlashLoan struct {
	Target           crypto.Address
	Initiator        crypto.Address
	Asset            crypto.Address
	Amount           *uint256.Int
	InterestRateMode uint8
	Premium          *uint256.Int
	ReferralCode     uint16
}

func (FlashLoan) EventType() string { return TypeFlashLoan }

func (e FlashLoan) Event() *types.Event {
	attrs := map[string]string{
		"amount":           formatUint(e.Amount),
		"premium":          formatUint(e.Premium),
		"interestRateMode": strconv.FormatUint(uint64(e.InterestRateMode), 10),
	}
	setAddress(attrs, "target", e.Target)
	setAddress(attrs, "initiator", e.Initiator)
	setAddress(attrs, "asset", e.Asset)
	if e.ReferralCode != 0 {
		attrs["referralCode"] = strconv.FormatUint(uint64(e.ReferralCode), 10)
	}
	return &types.Event{Type: TypeFlashLoan, Attributes: attrs}
}

// ReserveUsedAsCollateral reports a flip of a user's collateral flag.
type ReserveUsedAsCollateral struct {
	Reserve crypto.Address
	User    crypto.Address
	Enabled bool
}

func (e ReserveUsedAsCollateral) EventType() string {
	if e.Enabled {
		return TypeReserveUsedAsCollateralEnable
	}
	return TypeReserveUsedAsCollateralDisable
}

func (e ReserveUsedAsCollateral) Event() *types.Event {
	attrs := map[string]string{}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "user", e.User)
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// IsolationModeTotalDebtUpdated carries the new isolated debt counter of a
// collateral reserve, in debt ceiling units.
type IsolationModeTotalDebtUpdated struct {
	Asset     crypto.Address
	TotalDebt uint64
}

func (IsolationModeTotalDebtUpdated) EventType() string { return TypeIsolationModeTotalDebtUpdated }

func (e IsolationModeTotalDebtUpdated) Event() *types.Event {
	attrs := map[string]string{"totalDebt": strconv.FormatUint(e.TotalDebt, 10)}
	setAddress(attrs, "asset", e.Asset)
	return &types.Event{Type: TypeIsolationModeTotalDebtUpdated, Attributes: attrs}
}

// DeficitCreated records debt written off as unrecoverable.
type DeficitCreated struct {
	User      crypto.Address
	DebtAsset crypto.Address
	Amount    *uint256.Int
}

func (DeficitCreated) EventType() string { return TypeDeficitCreated }

func (e DeficitCreated) Event() *types.Event {
	attrs := map[string]string{"amountCreated": formatUint(e.Amount)}
	setAddress(attrs, "user", e.User)
	setAddress(attrs, "debtAsset", e.DebtAsset)
	return &types.Event{Type: TypeDeficitCreated, Attributes: attrs}
}

type UserEModeSet struct {
	User       crypto.Address
	CategoryID uint8
}

func (UserEModeSet) EventType() string { return TypeUserEModeSet }

func (e UserEModeSet) Event() *types.Event {
	attrs := map[string]string{"categoryId": strconv.FormatUint(uint64(e.CategoryID), 10)}
	setAddress(attrs, "user", e.User)
	return &types.Event{Type: TypeUserEModeSet, Attributes: attrs}
}

type EModeCategoryUpdated struct {
	CategoryID           uint8
	LTV                  uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	Label                string
}

func (EModeCategoryUpdated) EventType() string { return TypeEModeCategoryUpdated }

func (e EModeCategoryUpdated) Event() *types.Event {
	return &types.Event{Type: TypeEModeCategoryUpdated, Attributes: map[string]string{
		"categoryId":           strconv.FormatUint(uint64(e.CategoryID), 10),
		"ltv":                  strconv.FormatUint(e.LTV, 10),
		"liquidationThreshold": strconv.FormatUint(e.LiquidationThreshold, 10),
		"liquidationBonus":     strconv.FormatUint(e.LiquidationBonus, 10),
		"label":                e.Label,
	}}
}

type MintedToTreasury struct {
	Reserve crypto.Address
	Amount  *uint256.Int
}

func (MintedToTreasury) EventType() string { return TypeMintedToTreasury }

func (e MintedToTreasury) Event() *types.Event {
	attrs := map[string]string{"amountMinted": formatUint(e.Amount)}
	setAddress(attrs, "reserve", e.Reserve)
	return &types.Event{Type: TypeMintedToTreasury, Attributes: attrs}
}

// ReceiptTransfer records a receipt-token transfer between users.
type ReceiptTransfer struct {
	Reserve crypto.Address
	From    crypto.Address
	To      crypto.Address
	Amount  *uint256.Int
}

func (ReceiptTransfer) EventType() string { return TypeReceiptTransfer }

func (e ReceiptTransfer) Event() *types.Event {
	attrs := map[string]string{"amount": formatUint(e.Amount)}
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "from", e.From)
	setAddress(attrs, "to", e.To)
	return &types.Event{Type: TypeReceiptTransfer, Attributes: attrs}
}
