package wadray

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestLinearInterestOneYear(t *testing.T) {
	rate := u("100000000000000000000000000") // 10%
	got, err := LinearInterest(rate, 0, SecondsPerYear)
	if err != nil {
		t.Fatalf("linear interest: %v", err)
	}
	if got.Dec() != "1100000000000000000000000000" {
		t.Fatalf("unexpected factor: %s", got.Dec())
	}
}

func TestInterestNoElapsedTime(t *testing.T) {
	rate := u("100000000000000000000000000")
	linear, err := LinearInterest(rate, 50, 50)
	if err != nil || !linear.Eq(Ray()) {
		t.Fatalf("linear with zero elapsed: got %v err %v", linear, err)
	}
	compounded, err := CompoundedInterest(rate, 50, 50)
	if err != nil || !compounded.Eq(Ray()) {
		t.Fatalf("compounded with zero elapsed: got %v err %v", compounded, err)
	}
}

func TestCompoundedInterestApproximation(t *testing.T) {
	rate := u("100000000000000000000000000")
	got, err := CompoundedInterest(rate, 0, SecondsPerYear)
	if err != nil {
		t.Fatalf("compounded interest: %v", err)
	}
	// e^0.1 = 1.10517; the third-order expansion lands just below it.
	lower := u("1105000000000000000000000000")
	upper := u("1105200000000000000000000000")
	if got.Lt(lower) || got.Gt(upper) {
		t.Fatalf("compounded factor out of range: %s", got.Dec())
	}
	linear, err := LinearInterest(rate, 0, SecondsPerYear)
	if err != nil {
		t.Fatalf("linear interest: %v", err)
	}
	if !got.Gt(linear) {
		t.Fatalf("compounded %s should exceed linear %s", got.Dec(), linear.Dec())
	}
}

func TestCompoundedInterestSingleSecond(t *testing.T) {
	rate := uint256.NewInt(SecondsPerYear)
	got, err := CompoundedInterest(rate, 9, 10)
	if err != nil {
		t.Fatalf("compounded interest: %v", err)
	}
	want := new(uint256.Int).AddUint64(Ray(), 1)
	if !got.Eq(want) {
		t.Fatalf("got %s want %s", got.Dec(), want.Dec())
	}
}
