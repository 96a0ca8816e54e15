package tokens

import (
	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/wadray"
)

// Custodian moves underlying assets between accounts.
type Custodian interface {
	Transfer(asset, from, to crypto.Address, amount *uint256.Int) error
}

// ReceiptToken is the supplier-side ledger of a reserve. The underlying
// liquidity of the reserve is held in custody under the token's own address.
type ReceiptToken struct {
	*scaledLedger
	custodian Custodian
	treasury  crypto.Address
}

// NewReceiptToken binds a receipt token at address to the underlying asset.
func NewReceiptToken(address, underlying, treasury crypto.Address, custodian Custodian) *ReceiptToken {
	return &ReceiptToken{
		scaledLedger: newScaledLedger(address, underlying),
		custodian:    custodian,
		treasury:     treasury,
	}
}

// Treasury returns the account protocol revenue is minted to.
func (t *ReceiptToken) Treasury() crypto.Address { return t.treasury }

// MintScaled mints amount at index to onBehalfOf. It reports whether this is
// the first balance the user holds.
func (t *ReceiptToken) MintScaled(_, onBehalfOf crypto.Address, amount, index *uint256.Int) (bool, error) {
	first, _, err := t.mintScaled(onBehalfOf, amount, index)
	return first, err
}

// BurnScaled burns amount at index from user and releases the underlying to
// receiver. Burning to the token's own address keeps the underlying in the
// reserve, which is how debt is repaid with receipt tokens.
func (t *ReceiptToken) BurnScaled(from, receiver crypto.Address, amount, index *uint256.Int) error {
	if _, err := t.burnScaled(from, amount, index); err != nil {
		return err
	}
	if receiver == t.address {
		return nil
	}
	return t.custodian.Transfer(t.underlying, t.address, receiver, amount)
}

// MintToTreasury mints accrued protocol revenue to the treasury.
func (t *ReceiptToken) MintToTreasury(amount, index *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	_, _, err := t.mintScaled(t.treasury, amount, index)
	return err
}

// Transfer moves amount, valued at index, from one holder to another.
func (t *ReceiptToken) Transfer(from, to crypto.Address, amount, index *uint256.Int) error {
	scaled, err := wadray.RayDiv(amount, index)
	if err != nil {
		return err
	}
	return t.transferScaled(from, to, scaled)
}

// TransferScaled moves a scaled amount between holders.
func (t *ReceiptToken) TransferScaled(from, to crypto.Address, scaled *uint256.Int) error {
	return t.transferScaled(from, to, scaled)
}

// TransferOnLiquidation moves seized collateral without any further checks;
// the liquidation logic has already validated the position.
func (t *ReceiptToken) TransferOnLiquidation(from, to crypto.Address, amount, index *uint256.Int) error {
	return t.Transfer(from, to, amount, index)
}

// TransferUnderlyingTo releases underlying held by the reserve.
func (t *ReceiptToken) TransferUnderlyingTo(target crypto.Address, amount *uint256.Int) error {
	return t.custodian.Transfer(t.underlying, t.address, target, amount)
}

// HandleRepayment is invoked after underlying was repaid into the reserve.
// The in-process token keeps repaid liquidity in custody, so there is nothing
// to forward.
func (t *ReceiptToken) HandleRepayment(_, _ crypto.Address, _ *uint256.Int) error {
	return nil
}
