package rates

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

var testReserve = crypto.DeriveAddress("asset", crypto.Address{0x01})

func mustRay(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

func newTestStrategy(t *testing.T) *Strategy {
	t.Helper()
	s := NewStrategy()
	require.NoError(t, s.SetInterestRateData(testReserve, InterestRateData{
		OptimalUsageRatio:      5000,
		BaseVariableBorrowRate: 0,
		VariableRateSlope1:     400,
		VariableRateSlope2:     7500,
	}))
	return s
}

func TestCalculateInterestRatesBelowKink(t *testing.T) {
	require := require.New(t)
	s := newTestStrategy(t)

	// 1000 supplied, 400 borrowed in this action.
	liquidity, variable, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		LiquidityTaken:           uint256.NewInt(400),
		TotalDebt:                uint256.NewInt(400),
		ReserveFactor:            1000,
		VirtualUnderlyingBalance: uint256.NewInt(1000),
	})
	require.NoError(err)
	require.Equal(mustRay(t, "32000000000000000000000000").String(), variable.String())  // 3.2%
	require.Equal(mustRay(t, "11520000000000000000000000").String(), liquidity.String()) // 1.152%
}

func TestCalculateInterestRatesAboveKink(t *testing.T) {
	require := require.New(t)
	s := newTestStrategy(t)

	// usage 75%: base + slope1 + slope2 * (0.75-0.5)/(1-0.5)
	liquidity, variable, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		TotalDebt:                uint256.NewInt(750),
		VirtualUnderlyingBalance: uint256.NewInt(250),
	})
	require.NoError(err)
	require.Equal(mustRay(t, "415000000000000000000000000").String(), variable.String())
	expectedLiquidity, err := wadray.RayMul(variable, mustRay(t, "750000000000000000000000000"))
	require.NoError(err)
	require.Equal(expectedLiquidity.String(), liquidity.String())
}

func TestCalculateInterestRatesContinuousAtKink(t *testing.T) {
	require := require.New(t)
	s := newTestStrategy(t)

	_, atKink, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		TotalDebt:                uint256.NewInt(500_000_000),
		VirtualUnderlyingBalance: uint256.NewInt(500_000_000),
	})
	require.NoError(err)
	require.Equal(toRay(400).String(), atKink.String())

	_, below, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		TotalDebt:                uint256.NewInt(499_999_999),
		VirtualUnderlyingBalance: uint256.NewInt(500_000_001),
	})
	require.NoError(err)
	require.True(below.Lt(atKink))
	gap := new(uint256.Int).Sub(atKink, below)
	// A 1e-9 usage step moves the rate by well under 1e-7.
	require.True(gap.Lt(uint256.MustFromDecimal("100000000000000000000")), "gap %s", gap)

	_, above, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		TotalDebt:                uint256.NewInt(500_000_001),
		VirtualUnderlyingBalance: uint256.NewInt(499_999_999),
	})
	require.NoError(err)
	require.True(above.Gt(atKink))
	gap = new(uint256.Int).Sub(above, atKink)
	require.True(gap.Lt(uint256.MustFromDecimal("100000000000000000000")), "gap %s", gap)
}

func TestCalculateInterestRatesNoDebt(t *testing.T) {
	s := NewStrategy()
	require.NoError(t, s.SetInterestRateData(testReserve, InterestRateData{
		OptimalUsageRatio:      8000,
		BaseVariableBorrowRate: 100,
		VariableRateSlope1:     400,
		VariableRateSlope2:     6000,
	}))
	liquidity, variable, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		VirtualUnderlyingBalance: uint256.NewInt(10),
	})
	require.NoError(t, err)
	require.True(t, liquidity.IsZero())
	require.Equal(t, toRay(100).String(), variable.String())
}

func TestCalculateInterestRatesRejectsUnderflow(t *testing.T) {
	s := newTestStrategy(t)
	_, _, err := s.CalculateInterestRates(CalculateParams{
		Reserve:                  testReserve,
		LiquidityTaken:           uint256.NewInt(11),
		VirtualUnderlyingBalance: uint256.NewInt(10),
	})
	require.ErrorIs(t, err, wadray.ErrUnderflow)
}

func TestCalculateInterestRatesUnknownReserve(t *testing.T) {
	_, _, err := NewStrategy().CalculateInterestRates(CalculateParams{Reserve: testReserve})
	require.ErrorIs(t, err, errcodes.ErrReserveNotConfiguredInStrategy)
}

func TestInterestRateDataValidation(t *testing.T) {
	cases := []struct {
		name string
		data InterestRateData
		want error
	}{
		{"optimal zero", InterestRateData{OptimalUsageRatio: 0, VariableRateSlope1: 1, VariableRateSlope2: 2}, errcodes.ErrInvalidOptimalUsageRatio},
		{"optimal full", InterestRateData{OptimalUsageRatio: 10_000, VariableRateSlope1: 1, VariableRateSlope2: 2}, errcodes.ErrInvalidOptimalUsageRatio},
		{"slope order", InterestRateData{OptimalUsageRatio: 8000, VariableRateSlope1: 500, VariableRateSlope2: 400}, errcodes.ErrSlope2MustBeGteSlope1},
		{"max rate", InterestRateData{OptimalUsageRatio: 8000, BaseVariableBorrowRate: 50_000, VariableRateSlope1: 20_000, VariableRateSlope2: 40_000}, errcodes.ErrInvalidMaxRate},
		{"valid", InterestRateData{OptimalUsageRatio: 8000, VariableRateSlope1: 400, VariableRateSlope2: 6000}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.data.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}
