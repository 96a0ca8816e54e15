package lending

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/errcodes"
)

type receiverFunc func(*FlashLoanSession) error

func (f receiverFunc) ExecuteOperation(s *FlashLoanSession) error { return f(s) }

// repayAll settles every receipt according to its mode.
func repayAll(s *FlashLoanSession) error {
	for _, r := range s.Receipts {
		var err error
		if r.Mode == InterestRateModeNone {
			err = s.Repay(r.Asset)
		} else {
			err = s.OpenDebt(r.Asset)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func TestFlashLoanSimple(t *testing.T) {
	m := newTestMarket(t)
	m.fund(dave, usdc, amount("500000"))

	var seen *uint256.Int
	callback := receiverFunc(func(s *FlashLoanSession) error {
		seen = m.bank.BalanceOf(usdc, dave)
		require.Equal(t, "500000", s.Receipts[0].Premium.Dec())
		require.Equal(t, []byte("payload"), s.Params)
		return s.Repay(usdc)
	})
	err := m.pool.FlashLoanSimple(dave, dave, callback, usdc, amount("1000000000"), []byte("payload"), 7)
	require.NoError(t, err)

	require.Equal(t, "1000500000", seen.Dec())
	require.True(t, m.bank.BalanceOf(usdc, dave).IsZero())

	reserve := m.reserve(usdc)
	// The whole premium goes to suppliers: 100000 supplied, 0.5 earned.
	require.Equal(t, "1000005000000000000000000000", reserve.LiquidityIndex.Dec())
	require.Equal(t, "100000500000", reserve.VirtualUnderlyingBalance.Dec())
	require.True(t, reserve.AccruedToTreasury.IsZero())
	supplied, _ := m.balances(usdc, alice)
	require.Equal(t, "100000500000", supplied.Dec())

	evts := m.events.Events()
	last, ok := evts[len(evts)-1].(events.FlashLoan)
	require.True(t, ok)
	require.Equal(t, "500000", last.Premium.Dec())
	require.Equal(t, uint16(7), last.ReferralCode)
}

func TestFlashLoanPremiumSplit(t *testing.T) {
	m := newTestMarket(t)
	require.NoError(t, m.pool.UpdateFlashloanPremiums(admin, 9, 5000))
	m.fund(dave, usdc, amount("900000"))

	err := m.pool.FlashLoanSimple(dave, dave, receiverFunc(repayAll), usdc, amount("1000000000"), nil, 0)
	require.NoError(t, err)

	reserve := m.reserve(usdc)
	require.Equal(t, "1000004500000000000000000000", reserve.LiquidityIndex.Dec())
	require.Equal(t, "449998", reserve.AccruedToTreasury.Dec())

	minted, err := m.pool.MintToTreasury([]crypto.Address{usdc, dai, crypto.DeriveAddress("unlisted")})
	require.NoError(t, err)
	require.Len(t, minted, 1)
	require.Equal(t, "450000", minted[usdc].Dec())
	require.True(t, m.reserve(usdc).AccruedToTreasury.IsZero())
	balance, _ := m.balances(usdc, treasury)
	require.Equal(t, "450000", balance.Dec())
}

func TestFlashLoanRollsBackUnsettledLoans(t *testing.T) {
	m := newTestMarket(t)
	m.fund(dave, usdc, amount("500000"))
	before := m.reserve(usdc)

	err := m.pool.FlashLoanSimple(dave, dave, receiverFunc(func(*FlashLoanSession) error { return nil }), usdc, amount("1000000000"), nil, 0)
	require.ErrorIs(t, err, errcodes.ErrFlashloanReceiptNotConsumed)

	boom := errors.New("boom")
	err = m.pool.FlashLoanSimple(dave, dave, receiverFunc(func(*FlashLoanSession) error { return boom }), usdc, amount("1000000000"), nil, 0)
	require.ErrorIs(t, err, errcodes.ErrInvalidFlashloanExecutorReturn)
	require.ErrorIs(t, err, boom)

	// Acknowledged but the receiver cannot pay the premium.
	err = m.pool.FlashLoanSimple(carol, carol, receiverFunc(repayAll), usdc, amount("1000000000"), nil, 0)
	require.ErrorIs(t, err, errcodes.ErrInsufficientUnderlyingBalance)

	require.Equal(t, "500000", m.bank.BalanceOf(usdc, dave).Dec())
	require.True(t, m.bank.BalanceOf(usdc, carol).IsZero())
	after := m.reserve(usdc)
	require.Equal(t, before.VirtualUnderlyingBalance.Dec(), after.VirtualUnderlyingBalance.Dec())
	require.Equal(t, before.LiquidityIndex.Dec(), after.LiquidityIndex.Dec())
	require.Empty(t, m.events.Types())
}

func TestFlashLoanWaivesPremiumForFlashBorrowers(t *testing.T) {
	m := newTestMarket(t)
	m.roles.Grant(acl.RoleFlashBorrower, dave)

	err := m.pool.FlashLoanSimple(dave, dave, receiverFunc(func(s *FlashLoanSession) error {
		require.True(t, s.Receipts[0].Premium.IsZero())
		return s.Repay(usdc)
	}), usdc, amount("1000000000"), nil, 0)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000000000", m.reserve(usdc).LiquidityIndex.Dec())
}

func TestFlashLoanOpensDebt(t *testing.T) {
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.fund(dave, dai, amount("500000"))

	err := m.pool.FlashLoan(FlashLoanParams{
		Initiator:         bob,
		Receiver:          dave,
		Callback:          receiverFunc(repayAll),
		Assets:            []crypto.Address{usdc, dai},
		Amounts:           []*uint256.Int{amount("1000000000"), amount("1000000000")},
		InterestRateModes: []InterestRateMode{InterestRateModeVariable, InterestRateModeNone},
		OnBehalfOf:        bob,
	})
	require.NoError(t, err)

	require.Equal(t, "1000000000", m.bank.BalanceOf(usdc, dave).Dec())
	require.True(t, m.bank.BalanceOf(dai, dave).IsZero())
	_, debt := m.balances(usdc, bob)
	require.Equal(t, "1000000000", debt.Dec())
	require.True(t, m.pool.GetUserConfiguration(bob).IsBorrowing(m.reserve(usdc).ID))
	require.Equal(t, "99000000000", m.reserve(usdc).VirtualUnderlyingBalance.Dec())

	var flash []events.FlashLoan
	for _, evt := range m.events.Events() {
		if f, ok := evt.(events.FlashLoan); ok {
			flash = append(flash, f)
		}
	}
	require.Len(t, flash, 2)
	require.Equal(t, uint8(InterestRateModeVariable), flash[0].InterestRateMode)
	require.True(t, flash[0].Premium.IsZero())
	require.Equal(t, "500000", flash[1].Premium.Dec())
}

func TestFlashLoanValidation(t *testing.T) {
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	one := amount("1000000")

	base := func() FlashLoanParams {
		return FlashLoanParams{
			Initiator:         bob,
			Receiver:          dave,
			Callback:          receiverFunc(repayAll),
			Assets:            []crypto.Address{usdc},
			Amounts:           []*uint256.Int{one},
			InterestRateModes: []InterestRateMode{InterestRateModeVariable},
			OnBehalfOf:        bob,
		}
	}

	params := base()
	params.OnBehalfOf = carol
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrCallerMustBeBeneficiary)

	params = base()
	params.Assets = []crypto.Address{usdc, usdc}
	params.Amounts = []*uint256.Int{one, one}
	params.InterestRateModes = []InterestRateMode{InterestRateModeVariable, InterestRateModeVariable}
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrFlashloanDuplicateAsset)

	params = base()
	params.InterestRateModes = nil
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrInconsistentFlashloanParams)

	params = base()
	params.InterestRateModes = []InterestRateMode{InterestRateMode(7)}
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrInvalidInterestRateModeSelected)

	params = base()
	params.Amounts = []*uint256.Int{amount("100000000001")}
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrNotEnoughAvailableLiquidity)

	params = base()
	params.Callback = receiverFunc(func(s *FlashLoanSession) error { return s.Repay(usdc) })
	err := m.pool.FlashLoan(params)
	require.ErrorIs(t, err, errcodes.ErrInvalidFlashloanExecutorReturn)
	require.ErrorIs(t, err, errcodes.ErrInconsistentFlashloanParams)

	params = base()
	params.Callback = receiverFunc(func(s *FlashLoanSession) error {
		if err := s.OpenDebt(usdc); err != nil {
			return err
		}
		return s.OpenDebt(usdc)
	})
	require.ErrorIs(t, m.pool.FlashLoan(params), errcodes.ErrFlashloanReceiptConsumed)

	require.NoError(t, m.pool.SetReserveFlashLoaning(admin, usdc, false))
	err = m.pool.FlashLoanSimple(dave, dave, receiverFunc(repayAll), usdc, one, nil, 0)
	require.ErrorIs(t, err, errcodes.ErrFlashloanDisabled)
	err = m.pool.FlashLoanSimple(dave, dave, receiverFunc(repayAll), dai, new(uint256.Int), nil, 0)
	require.ErrorIs(t, err, errcodes.ErrInvalidAmount)
}

// flashWithin fails the test when fn does not return in time.
func flashWithin(t *testing.T, fn func() error) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- fn() }()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("flash loan did not return")
		return nil
	}
}

func TestFlashLoanReceiverReadsPool(t *testing.T) {
	m := newTestMarket(t)
	m.supply(bob, weth, amount("10000000000000000000"))
	m.fund(dave, usdc, amount("500000"))

	var (
		inFlight string
		account  AccountData
		listed   []crypto.Address
	)
	callback := receiverFunc(func(s *FlashLoanSession) error {
		reserve, err := m.pool.GetReserveData(usdc)
		if err != nil {
			return err
		}
		inFlight = reserve.VirtualUnderlyingBalance.Dec()
		if account, err = m.pool.GetUserAccountData(bob); err != nil {
			return err
		}
		other := make(chan []crypto.Address, 1)
		go func() { other <- m.pool.GetReservesList() }()
		select {
		case listed = <-other:
		case <-time.After(5 * time.Second):
			return errors.New("view from another goroutine blocked")
		}
		return s.Repay(usdc)
	})

	err := flashWithin(t, func() error {
		return m.pool.FlashLoanSimple(dave, dave, callback, usdc, amount("1000000000"), nil, 0)
	})
	if err != nil {
		t.Fatalf("flash loan: %v", err)
	}
	if inFlight != "99000000000" {
		t.Fatalf("virtual balance during callback = %s, want 99000000000", inFlight)
	}
	if account.TotalCollateralBase.IsZero() {
		t.Fatalf("account data read during callback is empty")
	}
	if len(listed) != 3 {
		t.Fatalf("reserves listed during callback = %d, want 3", len(listed))
	}
}

func TestFlashLoanRejectsReentrantActions(t *testing.T) {
	cases := []struct {
		name string
		call func(m *testMarket) error
	}{
		{"supply", func(m *testMarket) error {
			return m.pool.Supply(dave, usdc, amount("1000000"), dave, 0)
		}},
		{"withdraw", func(m *testMarket) error {
			_, err := m.pool.Withdraw(alice, usdc, amount("1000000"), alice)
			return err
		}},
		{"nested flash loan", func(m *testMarket) error {
			return m.pool.FlashLoanSimple(dave, dave, receiverFunc(repayAll), dai, amount("1000000"), nil, 0)
		}},
		{"configuration", func(m *testMarket) error {
			return m.pool.SetReserveBorrowing(admin, usdc, false)
		}},
		{"import", func(m *testMarket) error {
			return m.pool.ImportState(&State{})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMarket(t)
			m.fund(dave, usdc, amount("1500000"))
			before := m.reserve(usdc)

			var inner error
			callback := receiverFunc(func(s *FlashLoanSession) error {
				if inner = tc.call(m); inner != nil {
					return inner
				}
				return s.Repay(usdc)
			})
			err := flashWithin(t, func() error {
				return m.pool.FlashLoanSimple(dave, dave, callback, usdc, amount("1000000000"), nil, 0)
			})
			if !errors.Is(inner, errcodes.ErrReentrancy) {
				t.Fatalf("re-entrant call returned %v, want reentrancy error", inner)
			}
			if !errors.Is(err, errcodes.ErrInvalidFlashloanExecutorReturn) || !errors.Is(err, errcodes.ErrReentrancy) {
				t.Fatalf("flash loan returned %v", err)
			}

			after := m.reserve(usdc)
			if after.VirtualUnderlyingBalance.Dec() != before.VirtualUnderlyingBalance.Dec() {
				t.Fatalf("virtual balance %s, want %s", after.VirtualUnderlyingBalance.Dec(), before.VirtualUnderlyingBalance.Dec())
			}
			if got := m.bank.BalanceOf(usdc, dave).Dec(); got != "1500000" {
				t.Fatalf("receiver balance %s, want 1500000", got)
			}
			if types := m.events.Types(); len(types) != 0 {
				t.Fatalf("aborted flash loan emitted %v", types)
			}

			if err := m.pool.Supply(dave, usdc, amount("1000000"), dave, 0); err != nil {
				t.Fatalf("pool unusable after aborted flash loan: %v", err)
			}
		})
	}
}
