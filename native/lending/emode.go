package lending

import (
	"nhblend/core/events"
	"nhblend/crypto"
)

// SetUserEMode moves caller into eMode category categoryID, or out of eMode
// with 0. Every asset the user borrows must belong to the category and the
// position must stay healthy under the new parameters.
func (p *Pool) SetUserEMode(caller crypto.Address, categoryID uint8) error {
	return p.execute("set_user_emode", true, func(now uint64) error {
		if p.state.userEMode[caller] == categoryID {
			return nil
		}
		userConfig := p.state.userConfig(caller)
		if err := p.validateSetUserEMode(userConfig, categoryID); err != nil {
			return err
		}
		if categoryID == 0 {
			delete(p.state.userEMode, caller)
		} else {
			p.state.userEMode[caller] = categoryID
		}
		if userConfig.IsBorrowingAny() {
			if _, _, err := p.validateHealthFactor(caller, now); err != nil {
				return err
			}
		}
		p.emit(events.UserEModeSet{User: caller, CategoryID: categoryID})
		return nil
	})
}
