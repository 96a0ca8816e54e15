package errcodes

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreDistinct(t *testing.T) {
	seen := make(map[string]uint16)
	for _, err := range All() {
		if prev, ok := seen[err.Name]; ok {
			t.Fatalf("name %s registered twice (codes %d and %d)", err.Name, prev, err.Code)
		}
		seen[err.Name] = err.Code
	}
}

func TestWrappedErrorMatchesSentinel(t *testing.T) {
	wrapped := fmt.Errorf("borrow: %w", ErrDebtCeilingExceeded)
	if !errors.Is(wrapped, ErrDebtCeilingExceeded) {
		t.Fatalf("wrapped error should match sentinel")
	}
	if errors.Is(wrapped, ErrBorrowCapExceeded) {
		t.Fatalf("wrapped error matched unrelated code")
	}
	var coded *Error
	if !errors.As(wrapped, &coded) || coded.Code != 410 {
		t.Fatalf("expected to extract code 410, got %v", coded)
	}
}

func TestLookup(t *testing.T) {
	err, ok := Lookup(201)
	if !ok || err != ErrReserveInactive {
		t.Fatalf("lookup 201 returned %v", err)
	}
	if _, ok := Lookup(1); ok {
		t.Fatalf("unexpected code 1")
	}
	if ErrMustNotLeaveDust.Category.String() != "risk" {
		t.Fatalf("unexpected category: %s", ErrMustNotLeaveDust.Category)
	}
}
