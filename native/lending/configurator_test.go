package lending

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/wadray"
)

func TestConfiguratorRoles(t *testing.T) {
	m := newTestMarket(t)

	err := m.pool.InitReserve(carol, InitReserveInput{Asset: gov, Decimals: 18, InterestRateData: defaultRates})
	require.ErrorIs(t, err, errcodes.ErrCallerNotAssetListingOrPoolAdmin)
	require.ErrorIs(t, m.pool.SetBorrowCap(carol, usdc, 10), errcodes.ErrCallerNotRiskOrPoolAdmin)
	require.ErrorIs(t, m.pool.SetReservePause(carol, usdc, true, 0), errcodes.ErrCallerNotEmergencyOrPoolAdmin)
	require.ErrorIs(t, m.pool.SetReserveFreeze(carol, usdc, true), errcodes.ErrCallerNotRiskPoolOrEmergencyAdmin)

	m.roles.Grant(acl.RoleAssetListingAdmin, carol)
	require.NoError(t, m.pool.InitReserve(carol, InitReserveInput{Asset: gov, Decimals: 18, InterestRateData: defaultRates}))
	require.ErrorIs(t, m.pool.DropReserve(carol, gov), errcodes.ErrCallerNotPoolAdmin)

	m.roles.Grant(acl.RoleRiskAdmin, dave)
	require.NoError(t, m.pool.SetBorrowCap(dave, usdc, 10))
	require.NoError(t, m.pool.SetReserveFreeze(dave, usdc, true))
	require.ErrorIs(t, m.pool.UpdateFlashloanPremiums(dave, 9, 0), errcodes.ErrCallerNotPoolAdmin)
	require.ErrorIs(t, m.pool.SetReservePause(dave, usdc, true, 0), errcodes.ErrCallerNotEmergencyOrPoolAdmin)

	m.roles.Grant(acl.RoleEmergencyAdmin, bob)
	require.NoError(t, m.pool.SetReservePause(bob, usdc, true, 0))
	require.True(t, m.reserve(usdc).Configuration.Paused)
	require.NoError(t, m.pool.SetPoolPause(bob, false, 0))
	require.False(t, m.reserve(usdc).Configuration.Paused)
}

func TestConfigureReserveAsCollateral(t *testing.T) {
	m := newTestMarket(t)

	cases := []struct {
		name           string
		ltv, lt, bonus uint64
	}{
		{"ltv above threshold", 8600, 8500, 10500},
		{"bonus without premium", 8000, 8500, 10000},
		{"bonus overcovers", 9000, 9600, 10500},
		{"bonus on disabled collateral", 0, 0, 10500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.pool.ConfigureReserveAsCollateral(admin, usdc, tc.ltv, tc.lt, tc.bonus)
			require.ErrorIs(t, err, errcodes.ErrInvalidReserveParams)
		})
	}

	err := m.pool.ConfigureReserveAsCollateral(admin, usdc, 0, 0, 0)
	require.ErrorIs(t, err, errcodes.ErrReserveLiquidityNotZero)

	m.events.Reset()
	require.NoError(t, m.pool.ConfigureReserveAsCollateral(admin, usdc, 7000, 7500, 10800))
	cfg := m.reserve(usdc).Configuration
	require.Equal(t, uint64(7000), cfg.LTV)
	require.Equal(t, uint64(7500), cfg.LiquidationThreshold)
	require.Equal(t, uint64(10800), cfg.LiquidationBonus)
	require.Equal(t, []string{
		events.TypeReserveConfigChanged,
		events.TypeReserveConfigChanged,
		events.TypeReserveConfigChanged,
	}, m.events.Types())
}

func TestFreezeParksLTV(t *testing.T) {
	m := newTestMarket(t)

	require.NoError(t, m.pool.SetReserveFreeze(admin, usdc, true))
	cfg := m.reserve(usdc).Configuration
	require.True(t, cfg.Frozen)
	require.Zero(t, cfg.LTV)

	m.events.Reset()
	require.NoError(t, m.pool.SetReserveFreeze(admin, usdc, true))
	require.Empty(t, m.events.Types())

	// New LTV set while frozen waits for the unfreeze.
	require.NoError(t, m.pool.ConfigureReserveAsCollateral(admin, usdc, 7000, 8500, 10500))
	require.Zero(t, m.reserve(usdc).Configuration.LTV)

	require.NoError(t, m.pool.SetReserveFreeze(admin, usdc, false))
	cfg = m.reserve(usdc).Configuration
	require.False(t, cfg.Frozen)
	require.Equal(t, uint64(7000), cfg.LTV)
}

func TestReserveActivation(t *testing.T) {
	m := newTestMarket(t)

	err := m.pool.SetReserveActive(admin, usdc, false)
	require.ErrorIs(t, err, errcodes.ErrReserveLiquidityNotZero)

	m.list(reserveSetup{asset: gov, decimals: 18, price: 10_00000000, ltv: 5000, lt: 6000, bonus: 11000})
	require.NoError(t, m.pool.SetReserveActive(admin, gov, false))
	m.fund(bob, gov, amount("1000"))
	err = m.pool.Supply(bob, gov, amount("1000"), bob, 0)
	require.ErrorIs(t, err, errcodes.ErrReserveInactive)

	require.NoError(t, m.pool.SetReserveActive(admin, gov, true))
	require.NoError(t, m.pool.Supply(bob, gov, amount("1000"), bob, 0))
}

func TestDropReserveFreesSlot(t *testing.T) {
	m := newTestMarket(t)

	require.ErrorIs(t, m.pool.DropReserve(admin, usdc), errcodes.ErrUnderlyingClaimableRightsNotZero)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, dai, amount("1000000"))
	require.ErrorIs(t, m.pool.DropReserve(admin, dai), errcodes.ErrVariableDebtSupplyNotZero)

	m.list(reserveSetup{asset: gov, decimals: 18, price: 10_00000000, ltv: 5000, lt: 6000, bonus: 11000})
	govID := m.reserve(gov).ID
	require.Equal(t, uint16(3), govID)
	require.ErrorIs(t, m.pool.InitReserve(admin, InitReserveInput{Asset: gov, Decimals: 18, InterestRateData: defaultRates}),
		errcodes.ErrReserveAlreadyInitialized)

	require.NoError(t, m.pool.DropReserve(admin, gov))
	_, err := m.pool.GetReserveData(gov)
	require.ErrorIs(t, err, errcodes.ErrAssetNotListed)
	require.True(t, m.pool.GetReservesList()[govID].IsZero())

	next := crypto.DeriveAddress("test-asset", crypto.Address{0x05})
	m.list(reserveSetup{asset: next, decimals: 8, price: 30000_00000000, ltv: 7000, lt: 7500, bonus: 11000})
	require.Equal(t, govID, m.reserve(next).ID)
	require.Len(t, m.pool.GetReservesList(), 4)
}

func TestInitReserveValidation(t *testing.T) {
	m := newTestMarket(t)

	err := m.pool.InitReserve(admin, InitReserveInput{Asset: crypto.Address{}, Decimals: 18, InterestRateData: defaultRates})
	require.ErrorIs(t, err, errcodes.ErrZeroAddressNotValid)

	bad := defaultRates
	bad.VariableRateSlope1 = bad.VariableRateSlope2 + 1
	err = m.pool.InitReserve(admin, InitReserveInput{Asset: gov, Decimals: 18, InterestRateData: bad})
	require.ErrorIs(t, err, errcodes.ErrSlope2MustBeGteSlope1)

	require.NoError(t, m.pool.InitReserve(admin, InitReserveInput{Asset: gov, Decimals: 18, InterestRateData: defaultRates}))
	reserve := m.reserve(gov)
	require.True(t, reserve.Configuration.Active)
	require.False(t, reserve.Configuration.BorrowingEnabled)
	require.Zero(t, reserve.Configuration.LTV)
	require.Equal(t, wadray.Ray().Dec(), reserve.LiquidityIndex.Dec())
	require.Equal(t, crypto.DeriveAddress("receipt", gov), reserve.ATokenAddress)
}

func TestReserveFactorFeedsTreasury(t *testing.T) {
	m := newTestMarket(t)
	require.ErrorIs(t, m.pool.SetReserveFactor(admin, usdc, 10_001), errcodes.ErrInvalidReserveFactor)
	require.NoError(t, m.pool.SetReserveFactor(admin, usdc, 2000))

	m.supply(bob, weth, amount("100000000000000000000"))
	m.borrow(bob, usdc, amount("50000000000"))
	m.advance(secondsPerYear)
	m.supply(carol, usdc, amount("1000000"))

	accrued := m.reserve(usdc).AccruedToTreasury
	require.False(t, accrued.IsZero())
	income, err := m.pool.GetReserveNormalizedIncome(usdc)
	require.NoError(t, err)
	expected, err := wadray.RayMul(accrued, income)
	require.NoError(t, err)

	minted, err := m.pool.MintToTreasury([]crypto.Address{usdc})
	require.NoError(t, err)
	require.Equal(t, expected.Dec(), minted[usdc].Dec())
	require.True(t, m.reserve(usdc).AccruedToTreasury.IsZero())

	receipt, err := m.pool.ReceiptToken(usdc)
	require.NoError(t, err)
	require.False(t, receipt.ScaledBalanceOf(treasury).IsZero())
}

func TestSetReserveInterestRateData(t *testing.T) {
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, usdc, amount("5000000000"))
	before := m.reserve(usdc).CurrentVariableBorrowRate

	steeper := rates.InterestRateData{OptimalUsageRatio: 8000, BaseVariableBorrowRate: 100, VariableRateSlope1: 800, VariableRateSlope2: 9000}
	require.NoError(t, m.pool.SetReserveInterestRateData(admin, usdc, steeper))
	after := m.reserve(usdc).CurrentVariableBorrowRate
	require.True(t, after.Gt(before))

	data, ok := m.pool.InterestRateData(usdc)
	require.True(t, ok)
	require.Equal(t, steeper, data)

	invalid := steeper
	invalid.OptimalUsageRatio = 0
	err := m.pool.SetReserveInterestRateData(admin, usdc, invalid)
	require.ErrorIs(t, err, errcodes.ErrInvalidOptimalUsageRatio)
	data, _ = m.pool.InterestRateData(usdc)
	require.Equal(t, steeper, data)
}

func TestUpdateFlashloanPremiums(t *testing.T) {
	m := newTestMarket(t)
	require.ErrorIs(t, m.pool.UpdateFlashloanPremiums(admin, 10_001, 0), errcodes.ErrInvalidFlashloanPremium)
	require.NoError(t, m.pool.UpdateFlashloanPremiums(admin, 9, 3000))
	total, toProtocol := m.pool.FlashLoanPremiums()
	require.Equal(t, uint64(9), total)
	require.Equal(t, uint64(3000), toProtocol)
}

func TestCapsAndLiquidationProtocolFee(t *testing.T) {
	m := newTestMarket(t)
	require.ErrorIs(t, m.pool.SetLiquidationProtocolFee(admin, weth, 10_001), errcodes.ErrInvalidLiquidationProtocolFee)
	require.NoError(t, m.pool.SetLiquidationProtocolFee(admin, weth, 1000))
	require.Equal(t, uint64(1000), m.reserve(weth).Configuration.LiquidationProtocolFee)

	require.NoError(t, m.pool.SetSupplyCap(admin, weth, 200))
	m.fund(bob, weth, amount("100000000000000000001"))
	err := m.pool.Supply(bob, weth, amount("100000000000000000001"), bob, 0)
	require.ErrorIs(t, err, errcodes.ErrSupplyCapExceeded)
	require.NoError(t, m.pool.Supply(bob, weth, amount("100000000000000000000"), bob, 0))
}
