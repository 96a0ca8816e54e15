package tokens

import (
	"github.com/holiman/uint256"

	"nhblend/crypto"
)

// DebtToken is the borrower-side ledger of a reserve. Balances are not
// transferable.
type DebtToken struct {
	*scaledLedger
}

// NewDebtToken binds a variable debt token at address to the underlying asset.
func NewDebtToken(address, underlying crypto.Address) *DebtToken {
	return &DebtToken{scaledLedger: newScaledLedger(address, underlying)}
}

// MintScaled records amount of new debt at index for onBehalfOf and reports
// whether it is the user's first debt in this reserve.
func (t *DebtToken) MintScaled(_, onBehalfOf crypto.Address, amount, index *uint256.Int) (bool, error) {
	first, _, err := t.mintScaled(onBehalfOf, amount, index)
	return first, err
}

// BurnScaled removes amount of debt at index from user.
func (t *DebtToken) BurnScaled(from crypto.Address, amount, index *uint256.Int) error {
	_, err := t.burnScaled(from, amount, index)
	return err
}
