package lending

import (
	"nhblend/crypto"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/tokens"
)

const (
	// DefaultFlashLoanPremiumTotal is the flash loan premium in basis points.
	DefaultFlashLoanPremiumTotal = 5
	// DefaultFlashLoanPremiumToProtocol is the share of the premium, in basis
	// points, routed to the treasury.
	DefaultFlashLoanPremiumToProtocol = 0
)

// ProtocolState owns every reserve, user configuration and eMode category of
// one market together with the token ledgers bound to its reserves.
type ProtocolState struct {
	reserves        map[crypto.Address]*ReserveData
	reservesList    []crypto.Address
	users           map[crypto.Address]configuration.UserConfiguration
	userEMode       map[crypto.Address]uint8
	eModeCategories map[uint8]configuration.EModeCategory
	pendingLTV      map[crypto.Address]uint64
	receipts        map[crypto.Address]*tokens.ReceiptToken
	debts           map[crypto.Address]*tokens.DebtToken

	flashLoanPremiumTotal      uint64
	flashLoanPremiumToProtocol uint64
}

// NewProtocolState returns an empty market.
func NewProtocolState() *ProtocolState {
	return &ProtocolState{
		reserves:                   make(map[crypto.Address]*ReserveData),
		users:                      make(map[crypto.Address]configuration.UserConfiguration),
		userEMode:                  make(map[crypto.Address]uint8),
		eModeCategories:            make(map[uint8]configuration.EModeCategory),
		pendingLTV:                 make(map[crypto.Address]uint64),
		receipts:                   make(map[crypto.Address]*tokens.ReceiptToken),
		debts:                      make(map[crypto.Address]*tokens.DebtToken),
		flashLoanPremiumTotal:      DefaultFlashLoanPremiumTotal,
		flashLoanPremiumToProtocol: DefaultFlashLoanPremiumToProtocol,
	}
}

// reservesCount is the length of the reserves list including dropped slots.
func (s *ProtocolState) reservesCount() uint16 {
	return uint16(len(s.reservesList))
}

// reserveAddress resolves a slot id, returning the zero address for dropped
// or unknown slots.
func (s *ProtocolState) reserveAddress(id uint16) crypto.Address {
	if int(id) >= len(s.reservesList) {
		return crypto.Address{}
	}
	return s.reservesList[id]
}

func (s *ProtocolState) reserve(asset crypto.Address) (*ReserveData, error) {
	reserve, ok := s.reserves[asset]
	if !ok {
		return nil, errcodes.ErrAssetNotListed
	}
	if s.reserveAddress(reserve.ID) != asset {
		return nil, errcodes.ErrReservesListMismatch
	}
	return reserve, nil
}

func (s *ProtocolState) receipt(asset crypto.Address) (*tokens.ReceiptToken, error) {
	token, ok := s.receipts[asset]
	if !ok {
		return nil, errcodes.ErrReserveNotConfiguredForLedger
	}
	return token, nil
}

func (s *ProtocolState) debt(asset crypto.Address) (*tokens.DebtToken, error) {
	token, ok := s.debts[asset]
	if !ok {
		return nil, errcodes.ErrReserveNotConfiguredForLedger
	}
	return token, nil
}

func (s *ProtocolState) userConfig(user crypto.Address) configuration.UserConfiguration {
	return s.users[user]
}

func (s *ProtocolState) setUserConfig(user crypto.Address, cfg configuration.UserConfiguration) {
	if cfg.IsEmpty() {
		delete(s.users, user)
		return
	}
	s.users[user] = cfg
}

func (s *ProtocolState) eModeCategory(id uint8) configuration.EModeCategory {
	return s.eModeCategories[id]
}

// addReserve places asset in the lowest free slot and reports whether the
// list grew.
func (s *ProtocolState) addReserve(asset crypto.Address, reserve *ReserveData) error {
	if existing, ok := s.reserves[asset]; ok && s.reserveAddress(existing.ID) == asset {
		return errcodes.ErrReserveAlreadyInitialized
	}
	for i, slot := range s.reservesList {
		if slot.IsZero() {
			reserve.ID = uint16(i)
			s.reservesList[i] = asset
			s.reserves[asset] = reserve
			return nil
		}
	}
	if len(s.reservesList) >= configuration.MaxReserves {
		return errcodes.ErrNoMoreReservesAllowed
	}
	reserve.ID = uint16(len(s.reservesList))
	s.reservesList = append(s.reservesList, asset)
	s.reserves[asset] = reserve
	return nil
}

func (s *ProtocolState) dropReserve(asset crypto.Address) {
	reserve, ok := s.reserves[asset]
	if !ok {
		return
	}
	if s.reserveAddress(reserve.ID) == asset {
		s.reservesList[reserve.ID] = crypto.Address{}
	}
	delete(s.reserves, asset)
	delete(s.pendingLTV, asset)
	delete(s.receipts, asset)
	delete(s.debts, asset)
}

// ReservesList returns the listed assets in slot order. Dropped slots are
// returned as the zero address.
func (s *ProtocolState) ReservesList() []crypto.Address {
	out := make([]crypto.Address, len(s.reservesList))
	copy(out, s.reservesList)
	return out
}

// clone deep-copies every map of the state. Token ledgers are shared; they
// snapshot themselves.
func (s *ProtocolState) clone() *ProtocolState {
	c := &ProtocolState{
		reserves:                   make(map[crypto.Address]*ReserveData, len(s.reserves)),
		reservesList:               append([]crypto.Address(nil), s.reservesList...),
		users:                      make(map[crypto.Address]configuration.UserConfiguration, len(s.users)),
		userEMode:                  make(map[crypto.Address]uint8, len(s.userEMode)),
		eModeCategories:            make(map[uint8]configuration.EModeCategory, len(s.eModeCategories)),
		pendingLTV:                 make(map[crypto.Address]uint64, len(s.pendingLTV)),
		receipts:                   make(map[crypto.Address]*tokens.ReceiptToken, len(s.receipts)),
		debts:                      make(map[crypto.Address]*tokens.DebtToken, len(s.debts)),
		flashLoanPremiumTotal:      s.flashLoanPremiumTotal,
		flashLoanPremiumToProtocol: s.flashLoanPremiumToProtocol,
	}
	for k, v := range s.reserves {
		c.reserves[k] = v.Clone()
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.userEMode {
		c.userEMode[k] = v
	}
	for k, v := range s.eModeCategories {
		c.eModeCategories[k] = v
	}
	for k, v := range s.pendingLTV {
		c.pendingLTV[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.debts {
		c.debts[k] = v
	}
	return c
}

// Snapshot captures the state and returns a function restoring it.
func (s *ProtocolState) Snapshot() func() {
	saved := s.clone()
	return func() { *s = *saved }
}
