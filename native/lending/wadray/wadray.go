// Package wadray implements the fixed-point arithmetic used by the lending
// core. Values are unsigned 256-bit integers; rays carry 27 decimals, wads 18
// and percentages are expressed in basis points. Every operation rounds half
// up and fails instead of wrapping when the 256-bit range is exceeded.
package wadray

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("wadray: uint256 overflow")
	ErrUnderflow      = errors.New("wadray: uint256 underflow")
	ErrDivisionByZero = errors.New("wadray: division by zero")
)

const (
	// PercentageFactor is 100% expressed in basis points.
	PercentageFactor = 10_000
	// HalfPercentageFactor is 50% expressed in basis points.
	HalfPercentageFactor = 5_000
	// SecondsPerYear is the accrual year used for rate conversions.
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	ray         = uint256.MustFromDecimal("1000000000000000000000000000")
	halfRay     = new(uint256.Int).Rsh(ray, 1)
	wad         = uint256.NewInt(1_000_000_000_000_000_000)
	halfWad     = new(uint256.Int).Rsh(wad, 1)
	wadRayRatio = uint256.NewInt(1_000_000_000)
	halfRatio   = new(uint256.Int).Rsh(wadRayRatio, 1)
	percentage  = uint256.NewInt(PercentageFactor)
	secondsYear = uint256.NewInt(SecondsPerYear)
)

// Ray returns 1e27.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

// HalfRay returns 0.5e27.
func HalfRay() *uint256.Int { return new(uint256.Int).Set(halfRay) }

// Wad returns 1e18.
func Wad() *uint256.Int { return new(uint256.Int).Set(wad) }

// HalfWad returns 0.5e18.
func HalfWad() *uint256.Int { return new(uint256.Int).Set(halfWad) }

// MaxUint256 returns the all-ones sentinel used to request "the full amount".
func MaxUint256() *uint256.Int { return new(uint256.Int).SetAllOne() }

// IsMax reports whether x equals the MaxUint256 sentinel.
func IsMax(x *uint256.Int) bool {
	if x == nil {
		return false
	}
	var max uint256.Int
	max.SetAllOne()
	return x.Eq(&max)
}

// mulDivHalfUp computes (x*y + d/2) / d.
func mulDivHalfUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	if x.IsZero() || y.IsZero() {
		return new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	half := new(uint256.Int).Rsh(d, 1)
	if _, overflow = product.AddOverflow(product, half); overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, d), nil
}

// RayMul multiplies two rays, rounding half up.
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDivHalfUp(a, b, ray)
}

// RayDiv divides two rays, rounding half up.
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return mulDivHalfUp(a, ray, b)
}

// WadMul multiplies two wads, rounding half up.
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDivHalfUp(a, b, wad)
}

// WadDiv divides two wads, rounding half up.
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return mulDivHalfUp(a, wad, b)
}

// PercentMul applies a basis-point percentage to value.
func PercentMul(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	return mulDivHalfUp(value, uint256.NewInt(bps), percentage)
}

// PercentDiv divides value by a basis-point percentage.
func PercentDiv(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps == 0 {
		return nil, ErrDivisionByZero
	}
	return mulDivHalfUp(value, percentage, uint256.NewInt(bps))
}

// RayToWad converts a ray into a wad, rounding half up.
func RayToWad(a *uint256.Int) *uint256.Int {
	quotient, remainder := new(uint256.Int).DivMod(a, wadRayRatio, new(uint256.Int))
	if !remainder.Lt(halfRatio) {
		quotient.AddUint64(quotient, 1)
	}
	return quotient
}

// WadToRay converts a wad into a ray.
func WadToRay(a *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, wadRayRatio)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Add returns a+b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns a-b and fails when b exceeds a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return out, nil
}

// SubFloor returns a-b or zero when b exceeds a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if !a.Gt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Mul returns a*b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Div returns the floor of a/b.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv returns the floor of a*b/d. The intermediate product may exceed 256
// bits as long as the quotient fits.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Pow10 returns 10^n.
func Pow10(n uint8) (*uint256.Int, error) {
	if n > 77 {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n))), nil
}
