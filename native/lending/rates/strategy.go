// Package rates implements the two-slope interest rate strategy shared by
// every reserve. Parameters are configured per reserve in basis points and
// stored converted to ray.
package rates

import (
	"sync"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

const (
	// MaxBorrowRate caps base+slope1+slope2, in basis points (1000%).
	MaxBorrowRate = 1_000_00
	// MinOptimalPoint and MaxOptimalPoint bound the kink, in basis points.
	MinOptimalPoint = 1_00
	MaxOptimalPoint = 99_00
)

var bpsToRay = uint256.MustFromDecimal("100000000000000000000000") // 1e23

// InterestRateData is the governance-facing parameter set of a reserve, in
// basis points.
type InterestRateData struct {
	OptimalUsageRatio      uint64 `toml:"OptimalUsageRatio"`
	BaseVariableBorrowRate uint64 `toml:"BaseVariableBorrowRate"`
	VariableRateSlope1     uint64 `toml:"VariableRateSlope1"`
	VariableRateSlope2     uint64 `toml:"VariableRateSlope2"`
}

// Validate checks the parameter set and returns the first violated rule.
func (d InterestRateData) Validate() error {
	if d.OptimalUsageRatio < MinOptimalPoint || d.OptimalUsageRatio > MaxOptimalPoint {
		return errcodes.ErrInvalidOptimalUsageRatio
	}
	if d.VariableRateSlope1 > d.VariableRateSlope2 {
		return errcodes.ErrSlope2MustBeGteSlope1
	}
	if d.BaseVariableBorrowRate+d.VariableRateSlope1+d.VariableRateSlope2 > MaxBorrowRate {
		return errcodes.ErrInvalidMaxRate
	}
	return nil
}

// rayParams is InterestRateData converted to ray.
type rayParams struct {
	optimalUsageRatio *uint256.Int
	baseRate          *uint256.Int
	slope1            *uint256.Int
	slope2            *uint256.Int
}

func toRay(bps uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(bps), bpsToRay)
}

// CalculateParams carries the post-action reserve totals used to derive new
// rates. LiquidityAdded and LiquidityTaken are the underlying amounts entering
// and leaving the reserve in the current action.
type CalculateParams struct {
	Reserve                  crypto.Address
	Unbacked                 *uint256.Int
	LiquidityAdded           *uint256.Int
	LiquidityTaken           *uint256.Int
	TotalDebt                *uint256.Int
	ReserveFactor            uint64
	VirtualUnderlyingBalance *uint256.Int
}

// Strategy maps reserve utilisation to a supply and a variable borrow rate.
type Strategy struct {
	mu     sync.RWMutex
	params map[crypto.Address]InterestRateData
	rays   map[crypto.Address]rayParams
}

// NewStrategy returns a strategy with no configured reserves.
func NewStrategy() *Strategy {
	return &Strategy{
		params: make(map[crypto.Address]InterestRateData),
		rays:   make(map[crypto.Address]rayParams),
	}
}

// SetInterestRateData validates and installs the parameters for reserve.
func (s *Strategy) SetInterestRateData(reserve crypto.Address, data InterestRateData) error {
	if reserve.IsZero() {
		return errcodes.ErrZeroAddressNotValid
	}
	if err := data.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[reserve] = data
	s.rays[reserve] = rayParams{
		optimalUsageRatio: toRay(data.OptimalUsageRatio),
		baseRate:          toRay(data.BaseVariableBorrowRate),
		slope1:            toRay(data.VariableRateSlope1),
		slope2:            toRay(data.VariableRateSlope2),
	}
	return nil
}

// InterestRateData returns the basis-point parameters of reserve.
func (s *Strategy) InterestRateData(reserve crypto.Address) (InterestRateData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.params[reserve]
	return data, ok
}

// Remove forgets the parameters of a dropped reserve.
func (s *Strategy) Remove(reserve crypto.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.params, reserve)
	delete(s.rays, reserve)
}

// Reserves lists the configured reserves and their parameters.
func (s *Strategy) Reserves() map[crypto.Address]InterestRateData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[crypto.Address]InterestRateData, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// CalculateInterestRates returns the liquidity rate and the variable borrow
// rate, both in ray, for the supplied post-action totals.
func (s *Strategy) CalculateInterestRates(p CalculateParams) (*uint256.Int, *uint256.Int, error) {
	s.mu.RLock()
	params, ok := s.rays[p.Reserve]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, errcodes.ErrReserveNotConfiguredInStrategy
	}
	if p.ReserveFactor > wadray.PercentageFactor {
		return nil, nil, errcodes.ErrInvalidReserveFactor
	}

	available, err := wadray.Add(orZero(p.VirtualUnderlyingBalance), orZero(p.LiquidityAdded))
	if err != nil {
		return nil, nil, err
	}
	if available, err = wadray.Sub(available, orZero(p.LiquidityTaken)); err != nil {
		return nil, nil, err
	}

	variableRate := new(uint256.Int).Set(params.baseRate)
	totalDebt := orZero(p.TotalDebt)
	if totalDebt.IsZero() {
		return new(uint256.Int), variableRate, nil
	}

	availablePlusDebt, err := wadray.Add(available, totalDebt)
	if err != nil {
		return nil, nil, err
	}
	borrowUsage, err := wadray.RayDiv(totalDebt, availablePlusDebt)
	if err != nil {
		return nil, nil, err
	}
	supplyBase, err := wadray.Add(availablePlusDebt, orZero(p.Unbacked))
	if err != nil {
		return nil, nil, err
	}
	supplyUsage, err := wadray.RayDiv(totalDebt, supplyBase)
	if err != nil {
		return nil, nil, err
	}

	if !borrowUsage.Lt(params.optimalUsageRatio) {
		excessNumerator := new(uint256.Int).Sub(borrowUsage, params.optimalUsageRatio)
		excessDenominator := new(uint256.Int).Sub(wadray.Ray(), params.optimalUsageRatio)
		excessRatio, err := wadray.RayDiv(excessNumerator, excessDenominator)
		if err != nil {
			return nil, nil, err
		}
		excessRate, err := wadray.RayMul(params.slope2, excessRatio)
		if err != nil {
			return nil, nil, err
		}
		variableRate.Add(variableRate, params.slope1)
		variableRate.Add(variableRate, excessRate)
	} else {
		scaled, err := wadray.RayMul(params.slope1, borrowUsage)
		if err != nil {
			return nil, nil, err
		}
		if scaled, err = wadray.RayDiv(scaled, params.optimalUsageRatio); err != nil {
			return nil, nil, err
		}
		variableRate.Add(variableRate, scaled)
	}

	liquidityRate, err := wadray.RayMul(variableRate, supplyUsage)
	if err != nil {
		return nil, nil, err
	}
	if liquidityRate, err = wadray.PercentMul(liquidityRate, wadray.PercentageFactor-p.ReserveFactor); err != nil {
		return nil, nil, err
	}
	return liquidityRate, variableRate, nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// Snapshot captures the configured parameters and returns a function
// restoring them.
func (s *Strategy) Snapshot() func() {
	s.mu.RLock()
	params := make(map[crypto.Address]InterestRateData, len(s.params))
	for k, v := range s.params {
		params[k] = v
	}
	rays := make(map[crypto.Address]rayParams, len(s.rays))
	for k, v := range s.rays {
		rays[k] = v
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.params = params
		s.rays = rays
		s.mu.Unlock()
	}
}
