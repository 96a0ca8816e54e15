package lending

import (
	"errors"
	"testing"

	"nhblend/native/lending/errcodes"
)

// zeroLTVPosition has bob back 1000 dai of debt with 10 weth and 10000 usdc,
// then governance sets the usdc LTV to zero.
func zeroLTVPosition(t *testing.T) *testMarket {
	t.Helper()
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.supply(bob, usdc, amount("10000000000"))
	m.borrow(bob, dai, amount("1000000000"))

	account, err := m.pool.GetUserAccountData(bob)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if account.HasZeroLTVCollateral {
		t.Fatalf("zero-LTV collateral reported before the LTV change")
	}
	if err := m.pool.ConfigureReserveAsCollateral(admin, usdc, 0, 8500, 10500); err != nil {
		t.Fatalf("zero usdc ltv: %v", err)
	}
	return m
}

func TestZeroLTVCollateralLowersAverageLTV(t *testing.T) {
	m := zeroLTVPosition(t)

	account, err := m.pool.GetUserAccountData(bob)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if !account.HasZeroLTVCollateral {
		t.Fatalf("zero-LTV collateral not reported")
	}
	// 20000 of weth at 75% over 30000 of collateral.
	if account.AvgLTV != 5000 {
		t.Fatalf("avg ltv = %d, want 5000", account.AvgLTV)
	}
	if got := account.TotalCollateralBase.Dec(); got != "3000000000000" {
		t.Fatalf("collateral = %s, want 3000000000000", got)
	}
}

func TestZeroLTVCollateralRestrictsOtherCollateral(t *testing.T) {
	cases := []struct {
		name string
		act  func(m *testMarket) error
		want error
	}{
		{"withdraw weth", func(m *testMarket) error {
			_, err := m.pool.Withdraw(bob, weth, amount("1000000000000000000"), bob)
			return err
		}, errcodes.ErrLTVValidationFailed},
		{"transfer weth", func(m *testMarket) error {
			return m.pool.FinalizeTransfer(weth, bob, carol, amount("1000000000000000000"))
		}, errcodes.ErrLTVValidationFailed},
		{"disable weth collateral", func(m *testMarket) error {
			return m.pool.SetUserUseReserveAsCollateral(bob, weth, false)
		}, errcodes.ErrLTVValidationFailed},
		{"withdraw usdc", func(m *testMarket) error {
			_, err := m.pool.Withdraw(bob, usdc, amount("1000000000"), bob)
			return err
		}, nil},
		{"transfer usdc", func(m *testMarket) error {
			return m.pool.FinalizeTransfer(usdc, bob, carol, amount("1000000000"))
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := zeroLTVPosition(t)
			err := tc.act(m)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEModeLTVNotAppliedToZeroLTVReserve(t *testing.T) {
	m := newTestMarket(t)
	stablecoinEMode(t, m)
	m.supply(bob, usdc, amount("1000000000"))
	if err := m.pool.SetUserEMode(bob, 1); err != nil {
		t.Fatalf("enter emode: %v", err)
	}
	account, err := m.pool.GetUserAccountData(bob)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if account.AvgLTV != 9000 {
		t.Fatalf("emode avg ltv = %d, want 9000", account.AvgLTV)
	}

	if err := m.pool.ConfigureReserveAsCollateral(admin, usdc, 0, 8500, 10500); err != nil {
		t.Fatalf("zero usdc ltv: %v", err)
	}
	account, err = m.pool.GetUserAccountData(bob)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if account.AvgLTV != 0 {
		t.Fatalf("avg ltv = %d, want 0", account.AvgLTV)
	}
	if !account.HasZeroLTVCollateral {
		t.Fatalf("zero-LTV collateral not reported")
	}
	// The liquidation threshold still follows the category.
	if account.AvgLiquidationThreshold != 9300 {
		t.Fatalf("avg threshold = %d, want 9300", account.AvgLiquidationThreshold)
	}
	if !account.AvailableBorrowsBase.IsZero() {
		t.Fatalf("available borrows = %s, want 0", account.AvailableBorrowsBase.Dec())
	}
	err = m.pool.Borrow(bob, dai, amount("1000000"), InterestRateModeVariable, bob, 0)
	if !errors.Is(err, errcodes.ErrLTVValidationFailed) {
		t.Fatalf("borrow against zero-LTV collateral: %v", err)
	}
}

func TestAccountDataSkipsDroppedSlots(t *testing.T) {
	cases := []struct {
		name       string
		collateral bool
		borrowing  bool
	}{
		{"collateral flag", true, false},
		{"borrowing flag", false, true},
		{"both flags", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMarket(t)
			m.supply(bob, weth, amount("10000000000000000000"))
			m.borrow(bob, usdc, amount("1000000000"))
			before, err := m.pool.GetUserAccountData(bob)
			if err != nil {
				t.Fatalf("account data: %v", err)
			}

			m.list(reserveSetup{asset: gov, decimals: 18, price: 10_00000000, ltv: 5000, lt: 6000, bonus: 11000})
			slot := m.reserve(gov).ID
			if err := m.pool.DropReserve(admin, gov); err != nil {
				t.Fatalf("drop gov: %v", err)
			}
			// A stale flag left on the freed slot.
			cfg := m.pool.state.userConfig(bob)
			if err := cfg.SetUsingAsCollateral(slot, tc.collateral); err != nil {
				t.Fatalf("flag collateral: %v", err)
			}
			if err := cfg.SetBorrowing(slot, tc.borrowing); err != nil {
				t.Fatalf("flag borrowing: %v", err)
			}
			m.pool.state.setUserConfig(bob, cfg)

			after, err := m.pool.GetUserAccountData(bob)
			if err != nil {
				t.Fatalf("account data with dropped slot: %v", err)
			}
			if after.TotalCollateralBase.Dec() != before.TotalCollateralBase.Dec() {
				t.Fatalf("collateral %s, want %s", after.TotalCollateralBase.Dec(), before.TotalCollateralBase.Dec())
			}
			if after.TotalDebtBase.Dec() != before.TotalDebtBase.Dec() {
				t.Fatalf("debt %s, want %s", after.TotalDebtBase.Dec(), before.TotalDebtBase.Dec())
			}
			if after.HealthFactor.Dec() != before.HealthFactor.Dec() || after.AvgLTV != before.AvgLTV {
				t.Fatalf("position changed: %+v vs %+v", after, before)
			}
		})
	}
}
