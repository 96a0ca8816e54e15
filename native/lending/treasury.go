package lending

import (
	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/wadray"
)

// MintToTreasury converts the protocol revenue accrued by each of assets into
// receipt tokens held by the treasury. Inactive and unknown reserves are
// skipped. The minted amounts are returned by asset.
func (p *Pool) MintToTreasury(assets []crypto.Address) (map[crypto.Address]*uint256.Int, error) {
	minted := make(map[crypto.Address]*uint256.Int)
	err := p.execute("mint_to_treasury", false, func(now uint64) error {
		for _, asset := range assets {
			reserve, ok := p.state.reserves[asset]
			if !ok || !reserve.Configuration.Active {
				continue
			}
			accrued := reserve.AccruedToTreasury
			if accrued.IsZero() {
				continue
			}
			receipt, err := p.state.receipt(asset)
			if err != nil {
				return err
			}
			index, err := normalizedIncome(reserve, now)
			if err != nil {
				return err
			}
			amount, err := wadray.RayMul(accrued, index)
			if err != nil {
				return err
			}
			reserve.AccruedToTreasury = new(uint256.Int)
			if err := receipt.MintToTreasury(amount, index); err != nil {
				return err
			}
			minted[asset] = amount
			p.emit(events.MintedToTreasury{Reserve: asset, Amount: new(uint256.Int).Set(amount)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}
