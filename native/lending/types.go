package lending

import (
	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/wadray"
)

// ReserveData is the persistent state of one listed asset.
type ReserveData struct {
	ID                          uint16
	Configuration               configuration.ReserveConfiguration
	LiquidityIndex              *uint256.Int
	CurrentLiquidityRate        *uint256.Int
	VariableBorrowIndex         *uint256.Int
	CurrentVariableBorrowRate   *uint256.Int
	LastUpdateTimestamp         uint64
	ATokenAddress               crypto.Address
	VariableDebtTokenAddress    crypto.Address
	AccruedToTreasury           *uint256.Int
	IsolationModeTotalDebt      uint64
	VirtualUnderlyingBalance    *uint256.Int
	LiquidationGracePeriodUntil uint64
	Deficit                     *uint256.Int
}

func newReserveData(id uint16, aToken, debtToken crypto.Address, now uint64) *ReserveData {
	return &ReserveData{
		ID:                        id,
		LiquidityIndex:            wadray.Ray(),
		CurrentLiquidityRate:      new(uint256.Int),
		VariableBorrowIndex:       wadray.Ray(),
		CurrentVariableBorrowRate: new(uint256.Int),
		LastUpdateTimestamp:       now,
		ATokenAddress:             aToken,
		VariableDebtTokenAddress:  debtToken,
		AccruedToTreasury:         new(uint256.Int),
		VirtualUnderlyingBalance:  new(uint256.Int),
		Deficit:                   new(uint256.Int),
	}
}

func cloneUint(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Clone returns a deep copy of the reserve.
func (r *ReserveData) Clone() *ReserveData {
	if r == nil {
		return nil
	}
	clone := *r
	clone.LiquidityIndex = cloneUint(r.LiquidityIndex)
	clone.CurrentLiquidityRate = cloneUint(r.CurrentLiquidityRate)
	clone.VariableBorrowIndex = cloneUint(r.VariableBorrowIndex)
	clone.CurrentVariableBorrowRate = cloneUint(r.CurrentVariableBorrowRate)
	clone.AccruedToTreasury = cloneUint(r.AccruedToTreasury)
	clone.VirtualUnderlyingBalance = cloneUint(r.VirtualUnderlyingBalance)
	clone.Deficit = cloneUint(r.Deficit)
	return &clone
}

// ReserveCache is the per-action working copy of a reserve. Next* fields are
// staged by updateState and the token mutations of the action.
type ReserveCache struct {
	Configuration            configuration.ReserveConfiguration
	ReserveFactor            uint64
	CurrLiquidityIndex       *uint256.Int
	NextLiquidityIndex       *uint256.Int
	CurrVariableBorrowIndex  *uint256.Int
	NextVariableBorrowIndex  *uint256.Int
	CurrLiquidityRate        *uint256.Int
	CurrVariableBorrowRate   *uint256.Int
	CurrScaledVariableDebt   *uint256.Int
	NextScaledVariableDebt   *uint256.Int
	ATokenAddress            crypto.Address
	VariableDebtTokenAddress crypto.Address
	LastUpdateTimestamp      uint64
}

// AccountData is the aggregated, base-currency view of a user position.
type AccountData struct {
	TotalCollateralBase     *uint256.Int
	TotalDebtBase           *uint256.Int
	AvailableBorrowsBase    *uint256.Int
	AvgLTV                  uint64
	AvgLiquidationThreshold uint64
	HealthFactor            *uint256.Int
	HasZeroLTVCollateral    bool
}

// CalculateUserAccountDataParams selects the user and eMode context of an
// aggregation.
type CalculateUserAccountDataParams struct {
	UserConfig        configuration.UserConfiguration
	ReservesCount     uint16
	User              crypto.Address
	UserEModeCategory uint8
	Now               uint64
}

// InterestRateMode selects how a flash-loaned amount is settled.
type InterestRateMode uint8

const (
	// InterestRateModeNone repays the loan plus premium in the same action.
	InterestRateModeNone InterestRateMode = 0
	// InterestRateModeVariable converts the loan into variable-rate debt.
	InterestRateModeVariable InterestRateMode = 2
)
