package configuration

import (
	"math/bits"

	"nhblend/native/lending/errcodes"
)

const (
	borrowingMask  uint64 = 0x5555555555555555
	collateralMask uint64 = 0xAAAAAAAAAAAAAAAA
	words                 = MaxReserves * 2 / 64
)

// UserConfiguration records, for every reserve id, whether the user borrows
// the asset and whether the user's supply counts as collateral. Bit 2*id is
// the borrowing flag and bit 2*id+1 the collateral flag.
type UserConfiguration struct {
	Data [words]uint64
}

func position(id uint16) (word int, shift uint) {
	bit := uint(id) * 2
	return int(bit / 64), bit % 64
}

// SetBorrowing sets or clears the borrowing flag for reserve id.
func (u *UserConfiguration) SetBorrowing(id uint16, borrowing bool) error {
	if id >= MaxReserves {
		return errcodes.ErrInvalidReserveIndex
	}
	word, shift := position(id)
	if borrowing {
		u.Data[word] |= 1 << shift
	} else {
		u.Data[word] &^= 1 << shift
	}
	return nil
}

// SetUsingAsCollateral sets or clears the collateral flag for reserve id.
func (u *UserConfiguration) SetUsingAsCollateral(id uint16, collateral bool) error {
	if id >= MaxReserves {
		return errcodes.ErrInvalidReserveIndex
	}
	word, shift := position(id)
	if collateral {
		u.Data[word] |= 1 << (shift + 1)
	} else {
		u.Data[word] &^= 1 << (shift + 1)
	}
	return nil
}

// IsUsingAsCollateralOrBorrowing reports whether either flag is set for id.
func (u UserConfiguration) IsUsingAsCollateralOrBorrowing(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	word, shift := position(id)
	return (u.Data[word]>>shift)&3 != 0
}

func (u UserConfiguration) IsBorrowing(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	word, shift := position(id)
	return (u.Data[word]>>shift)&1 != 0
}

func (u UserConfiguration) IsUsingAsCollateral(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	word, shift := position(id)
	return (u.Data[word]>>(shift+1))&1 != 0
}

func (u UserConfiguration) count(mask uint64) int {
	total := 0
	for _, w := range u.Data {
		total += bits.OnesCount64(w & mask)
	}
	return total
}

func (u UserConfiguration) IsUsingAsCollateralOne() bool { return u.count(collateralMask) == 1 }

func (u UserConfiguration) IsUsingAsCollateralAny() bool { return u.count(collateralMask) > 0 }

func (u UserConfiguration) IsBorrowingOne() bool { return u.count(borrowingMask) == 1 }

func (u UserConfiguration) IsBorrowingAny() bool { return u.count(borrowingMask) > 0 }

// IsEmpty reports whether the user neither supplies collateral nor borrows.
func (u UserConfiguration) IsEmpty() bool {
	for _, w := range u.Data {
		if w != 0 {
			return false
		}
	}
	return true
}

// FirstCollateralID returns the lowest reserve id flagged as collateral.
func (u UserConfiguration) FirstCollateralID() (uint16, bool) {
	return u.first(collateralMask, 1)
}

// FirstBorrowingID returns the lowest reserve id flagged as borrowed.
func (u UserConfiguration) FirstBorrowingID() (uint16, bool) {
	return u.first(borrowingMask, 0)
}

func (u UserConfiguration) first(mask uint64, offset uint) (uint16, bool) {
	for i, w := range u.Data {
		masked := w & mask
		if masked == 0 {
			continue
		}
		bit := uint(i*64) + uint(bits.TrailingZeros64(masked))
		return uint16((bit - offset) / 2), true
	}
	return 0, false
}
