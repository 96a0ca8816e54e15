package lending

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

// openWethPosition has bob borrow 15000 usdc against 10 weth, the most the
// 75% LTV allows at $2000.
func openWethPosition(m *testMarket) {
	m.t.Helper()
	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, usdc, amount("15000000000"))
}

func (m *testMarket) setPrice(asset crypto.Address, price uint64) {
	m.prices.SetAssetPrice(asset, uint256.NewInt(price))
}

func liquidate(liquidator, collateral, debt crypto.Address, cover *uint256.Int, receive bool) LiquidationCallParams {
	return LiquidationCallParams{
		Liquidator:      liquidator,
		CollateralAsset: collateral,
		DebtAsset:       debt,
		User:            bob,
		DebtToCover:     cover,
		ReceiveAToken:   receive,
	}
}

func TestLiquidationRequiresUnhealthyPosition(t *testing.T) {
	m := newTestMarket(t)
	openWethPosition(m)
	m.fund(carol, usdc, amount("15000000000"))

	_, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("1000000000"), false))
	require.ErrorIs(t, err, errcodes.ErrHealthFactorNotBelowThreshold)

	m.setPrice(weth, 1800_00000000)
	_, err = m.pool.LiquidationCall(liquidate(carol, weth, usdc, new(uint256.Int), false))
	require.ErrorIs(t, err, errcodes.ErrInvalidAmount)
	_, err = m.pool.LiquidationCall(liquidate(carol, usdc, usdc, amount("1000000000"), false))
	require.ErrorIs(t, err, errcodes.ErrCollateralCannotBeLiquidated)
	_, err = m.pool.LiquidationCall(liquidate(carol, weth, dai, amount("1000000000"), false))
	require.ErrorIs(t, err, errcodes.ErrSpecifiedCurrencyNotBorrowedByUser)
}

func TestLiquidationCloseFactor(t *testing.T) {
	m := newTestMarket(t)
	openWethPosition(m)
	m.setPrice(weth, 1800_00000000)

	account, err := m.pool.GetUserAccountData(bob)
	require.NoError(t, err)
	require.Equal(t, "960000000000000000", account.HealthFactor.Dec())

	m.fund(carol, usdc, amount("15000000000"))
	m.events.Reset()
	result, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, wadray.MaxUint256(), false))
	require.NoError(t, err)

	// Above 0.95 only half of the debt can go.
	require.Equal(t, "7500000000", result.DebtRepaid.Dec())
	require.Equal(t, "4374999999999999999", result.CollateralSeized.Dec())
	require.True(t, result.ProtocolFee.IsZero())
	require.Empty(t, result.Deficits)
	require.False(t, result.CollateralExhausted)

	supplied, borrowed := m.balances(weth, bob)
	require.Equal(t, "5625000000000000001", supplied.Dec())
	require.True(t, borrowed.IsZero())
	_, borrowed = m.balances(usdc, bob)
	require.Equal(t, "7500000000", borrowed.Dec())

	require.Equal(t, "4374999999999999999", m.bank.BalanceOf(weth, carol).Dec())
	require.Equal(t, "7500000000", m.bank.BalanceOf(usdc, carol).Dec())
	require.Equal(t, "105625000000000000001", m.reserve(weth).VirtualUnderlyingBalance.Dec())

	types := m.events.Types()
	require.Equal(t, events.TypeLiquidationCall, types[len(types)-1])
}

func TestLiquidationProtocolFee(t *testing.T) {
	m := newTestMarket(t)
	require.NoError(t, m.pool.SetLiquidationProtocolFee(admin, weth, 1000))
	openWethPosition(m)
	m.setPrice(weth, 1800_00000000)
	m.fund(carol, usdc, amount("15000000000"))

	result, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, wadray.MaxUint256(), false))
	require.NoError(t, err)
	require.Equal(t, "20833333333333333", result.ProtocolFee.Dec())
	require.Equal(t, "4354166666666666666", result.CollateralSeized.Dec())
	require.Equal(t, "4354166666666666666", m.bank.BalanceOf(weth, carol).Dec())

	fee, _ := m.balances(weth, treasury)
	require.Equal(t, "20833333333333333", fee.Dec())
	supplied, _ := m.balances(weth, bob)
	require.Equal(t, "5625000000000000001", supplied.Dec())
}

func TestLiquidationReceiveReceiptTokens(t *testing.T) {
	m := newTestMarket(t)
	openWethPosition(m)
	m.setPrice(weth, 1800_00000000)
	m.fund(carol, usdc, amount("15000000000"))

	vubBefore := m.reserve(weth).VirtualUnderlyingBalance
	_, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("7500000000"), true))
	require.NoError(t, err)

	supplied, _ := m.balances(weth, carol)
	require.Equal(t, "4374999999999999999", supplied.Dec())
	require.True(t, m.bank.BalanceOf(weth, carol).IsZero())
	require.True(t, m.pool.GetUserConfiguration(carol).IsUsingAsCollateral(m.reserve(weth).ID))
	require.Equal(t, vubBefore.Dec(), m.reserve(weth).VirtualUnderlyingBalance.Dec())
}

func TestLiquidationMustNotLeaveDust(t *testing.T) {
	m := newTestMarket(t)
	openWethPosition(m)
	m.setPrice(weth, 1700_00000000)
	m.fund(carol, usdc, amount("15000000000"))

	// 500 of debt would be left behind.
	_, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("14500000000"), false))
	require.ErrorIs(t, err, errcodes.ErrMustNotLeaveDust)
	require.Equal(t, "15000000000", m.bank.BalanceOf(usdc, carol).Dec())

	_, err = m.pool.LiquidationCall(liquidate(carol, weth, usdc, wadray.MaxUint256(), false))
	require.NoError(t, err)
}

func TestLiquidationBooksDeficit(t *testing.T) {
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, usdc, amount("10000000000"))
	m.borrow(bob, dai, amount("5000000000"))
	m.setPrice(weth, 1000_00000000)
	m.fund(carol, usdc, amount("15000000000"))
	m.events.Reset()

	result, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, wadray.MaxUint256(), false))
	require.NoError(t, err)
	require.True(t, result.CollateralExhausted)
	require.Equal(t, "9523809524", result.DebtRepaid.Dec())
	require.Equal(t, "10000000000000000000", result.CollateralSeized.Dec())
	require.Equal(t, "476190476", result.Deficits[usdc].Dec())
	require.Equal(t, "5000000000", result.Deficits[dai].Dec())

	require.Equal(t, "476190476", m.reserve(usdc).Deficit.Dec())
	require.Equal(t, "5000000000", m.reserve(dai).Deficit.Dec())
	cfg := m.pool.GetUserConfiguration(bob)
	require.True(t, cfg.IsEmpty())
	for _, asset := range []crypto.Address{usdc, dai, weth} {
		supplied, borrowed := m.balances(asset, bob)
		require.True(t, supplied.IsZero(), "supplied %s", asset)
		require.True(t, borrowed.IsZero(), "borrowed %s", asset)
	}

	types := m.events.Types()
	var deficits []int
	for i, typ := range types {
		if typ == events.TypeDeficitCreated {
			deficits = append(deficits, i)
		}
	}
	require.Len(t, deficits, 2)
	require.Equal(t, events.TypeLiquidationCall, types[len(types)-1])
	require.Less(t, deficits[1], len(types)-1)
}

func TestLiquidationGracePeriod(t *testing.T) {
	m := newTestMarket(t)
	openWethPosition(m)
	m.setPrice(weth, 1800_00000000)
	m.fund(carol, usdc, amount("15000000000"))

	require.NoError(t, m.pool.SetReservePause(admin, weth, true, 0))
	_, err := m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("1000000000"), false))
	require.ErrorIs(t, err, errcodes.ErrReservePaused)

	require.NoError(t, m.pool.SetReservePause(admin, weth, false, 3600))
	_, err = m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("1000000000"), false))
	require.ErrorIs(t, err, errcodes.ErrLiquidationGracePeriodActive)

	err = m.pool.SetReservePause(admin, weth, false, MaxGracePeriod+1)
	require.ErrorIs(t, err, errcodes.ErrInvalidGracePeriod)

	m.advance(3601)
	_, err = m.pool.LiquidationCall(liquidate(carol, weth, usdc, amount("1000000000"), false))
	require.NoError(t, err)
}
