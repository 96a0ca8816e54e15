package lending

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nhblend/core/events"
	"nhblend/native/lending/errcodes"
)

func stablecoinEMode(t *testing.T, m *testMarket) {
	t.Helper()
	require.NoError(t, m.pool.SetEModeCategory(admin, 1, 9000, 9300, 10100, " stable "))
	require.NoError(t, m.pool.SetAssetEModeCategory(admin, usdc, 1))
	require.NoError(t, m.pool.SetAssetEModeCategory(admin, dai, 1))
}

func TestEModeCategoryValidation(t *testing.T) {
	m := newTestMarket(t)

	require.ErrorIs(t, m.pool.SetEModeCategory(admin, 0, 9000, 9300, 10100, "zero"), errcodes.ErrEModeCategoryReserved)
	require.ErrorIs(t, m.pool.SetEModeCategory(admin, 1, 9400, 9300, 10100, "x"), errcodes.ErrInvalidEModeCategoryParams)
	require.ErrorIs(t, m.pool.SetEModeCategory(admin, 1, 9000, 9300, 10000, "x"), errcodes.ErrInvalidEModeCategoryParams)
	require.ErrorIs(t, m.pool.SetEModeCategory(admin, 1, 9000, 9800, 10500, "x"), errcodes.ErrInvalidEModeCategoryParams)

	// Unknown categories cannot take assets.
	require.ErrorIs(t, m.pool.SetAssetEModeCategory(admin, usdc, 2), errcodes.ErrInvalidEModeCategoryAssignment)

	stablecoinEMode(t, m)
	require.Equal(t, "stable", m.pool.GetEModeCategory(1).Label)

	// The category must stay above every member's own parameters.
	require.ErrorIs(t, m.pool.SetEModeCategory(admin, 1, 8000, 9300, 10100, "stable"), errcodes.ErrInvalidEModeCategoryParams)
	require.ErrorIs(t, m.pool.ConfigureReserveAsCollateral(admin, usdc, 8000, 9300, 10100), errcodes.ErrInvalidEModeCategoryAssignment)
}

func TestEModeRaisesBorrowingPower(t *testing.T) {
	m := newTestMarket(t)
	stablecoinEMode(t, m)
	m.supply(bob, usdc, amount("1000000000"))

	err := m.pool.Borrow(bob, dai, amount("880000000"), InterestRateModeVariable, bob, 0)
	require.ErrorIs(t, err, errcodes.ErrCollateralCannotCoverNewBorrow)

	m.events.Reset()
	require.NoError(t, m.pool.SetUserEMode(bob, 1))
	require.Equal(t, []string{events.TypeUserEModeSet}, m.events.Types())
	require.Equal(t, uint8(1), m.pool.GetUserEMode(bob))

	m.borrow(bob, dai, amount("880000000"))
	account, err := m.pool.GetUserAccountData(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), account.AvgLTV)
	require.Equal(t, uint64(9300), account.AvgLiquidationThreshold)

	// Outside the category the position would be liquidatable.
	err = m.pool.SetUserEMode(bob, 0)
	require.ErrorIs(t, err, errcodes.ErrHealthFactorLowerThanLiquidationThreshold)
	require.Equal(t, uint8(1), m.pool.GetUserEMode(bob))

	err = m.pool.Borrow(bob, weth, amount("1000"), InterestRateModeVariable, bob, 0)
	require.ErrorIs(t, err, errcodes.ErrInconsistentEModeCategory)

	// Setting the current category again is a no-op.
	m.events.Reset()
	require.NoError(t, m.pool.SetUserEMode(bob, 1))
	require.Empty(t, m.events.Types())
}

func TestSetUserEModeValidation(t *testing.T) {
	m := newTestMarket(t)
	stablecoinEMode(t, m)

	require.ErrorIs(t, m.pool.SetUserEMode(bob, 2), errcodes.ErrInconsistentEModeCategory)

	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, weth, amount("1000000000000000000"))
	require.ErrorIs(t, m.pool.SetUserEMode(bob, 1), errcodes.ErrInconsistentEModeCategory)

	m.supply(carol, weth, amount("10000000000000000000"))
	m.borrow(carol, dai, amount("1000000000"))
	require.NoError(t, m.pool.SetUserEMode(carol, 1))
	require.NoError(t, m.pool.SetUserEMode(carol, 0))
	require.Zero(t, m.pool.GetUserEMode(carol))
}

func TestEModeLiquidationBonus(t *testing.T) {
	m := newTestMarket(t)
	stablecoinEMode(t, m)
	m.supply(bob, usdc, amount("10000000000"))
	require.NoError(t, m.pool.SetUserEMode(bob, 1))
	m.borrow(bob, dai, amount("9000000000"))

	// dai at $1.05: 10000 * 0.93 / 9450 < 1.
	m.setPrice(dai, 105_000000)
	m.fund(carol, dai, amount("9000000000"))
	result, err := m.pool.LiquidationCall(liquidate(carol, usdc, dai, amount("1000000000"), false))
	require.NoError(t, err)
	// 1000 dai is worth 1050 usdc, plus the 1% category bonus.
	require.Equal(t, "1060500000", result.CollateralSeized.Dec())
}
