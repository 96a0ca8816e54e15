package wadray

import "github.com/holiman/uint256"

// LinearInterest returns the simple-interest growth factor, in ray, for a
// yearly rate applied between last and now.
func LinearInterest(rate *uint256.Int, last, now uint64) (*uint256.Int, error) {
	if now <= last || rate.IsZero() {
		return Ray(), nil
	}
	elapsed := uint256.NewInt(now - last)
	accrued, err := Mul(rate, elapsed)
	if err != nil {
		return nil, err
	}
	accrued.Div(accrued, secondsYear)
	return Add(ray, accrued)
}

// CompoundedInterest returns the compounded growth factor, in ray, for a
// yearly rate applied between last and now. The binomial expansion is cut
// after the third term:
//
//	(1+x)^n ≈ 1 + n*x + n*(n-1)/2*x^2 + n*(n-1)*(n-2)/6*x^3
//
// where x is the per-second rate.
func CompoundedInterest(rate *uint256.Int, last, now uint64) (*uint256.Int, error) {
	if now <= last {
		return Ray(), nil
	}
	exp := now - last
	expMinusOne := exp - 1
	var expMinusTwo uint64
	if exp > 2 {
		expMinusTwo = exp - 2
	}

	squared, err := RayMul(rate, rate)
	if err != nil {
		return nil, err
	}
	basePowerTwo := squared.Div(squared, uint256.NewInt(SecondsPerYear*SecondsPerYear))
	cubed, err := RayMul(basePowerTwo, rate)
	if err != nil {
		return nil, err
	}
	basePowerThree := cubed.Div(cubed, secondsYear)

	secondTerm, err := mulChain(basePowerTwo, exp, expMinusOne)
	if err != nil {
		return nil, err
	}
	secondTerm.Div(secondTerm, uint256.NewInt(2))

	thirdTerm, err := mulChain(basePowerThree, exp, expMinusOne, expMinusTwo)
	if err != nil {
		return nil, err
	}
	thirdTerm.Div(thirdTerm, uint256.NewInt(6))

	firstTerm, err := Mul(rate, uint256.NewInt(exp))
	if err != nil {
		return nil, err
	}
	firstTerm.Div(firstTerm, secondsYear)

	out := Ray()
	for _, term := range []*uint256.Int{firstTerm, secondTerm, thirdTerm} {
		if out, err = Add(out, term); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mulChain(base *uint256.Int, factors ...uint64) (*uint256.Int, error) {
	out := new(uint256.Int).Set(base)
	for _, factor := range factors {
		var overflow bool
		if out, overflow = out.MulOverflow(out, uint256.NewInt(factor)); overflow {
			return nil, ErrOverflow
		}
	}
	return out, nil
}
