package configuration

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EModeCategory groups correlated assets under shared, usually more generous,
// risk parameters. Category 0 is reserved and means "no eMode".
type EModeCategory struct {
	LTV                  uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	Label                string
}

// NormalizeLabel trims and NFC-normalizes a category label so visually equal
// labels compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// Configured reports whether the category has been defined.
func (c EModeCategory) Configured() bool {
	return c.LiquidationThreshold != 0
}
