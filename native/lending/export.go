package lending

import (
	"fmt"
	"sort"

	"nhblend/crypto"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/tokens"
)

// ReserveState is the persisted form of one listed reserve together with its
// rate parameters and token ledgers.
type ReserveState struct {
	Asset        crypto.Address
	Data         *ReserveData
	Rates        rates.InterestRateData
	PendingLTV   uint64
	HasPending   bool
	Receipts     []tokens.Holding
	VariableDebt []tokens.Holding
}

// UserState is the persisted configuration of one account.
type UserState struct {
	User   crypto.Address
	Config configuration.UserConfiguration
	EMode  uint8
}

// EModeState is a persisted eMode category.
type EModeState struct {
	ID       uint8
	Category configuration.EModeCategory
}

// RoleState lists the holders of one role.
type RoleState struct {
	Role    string
	Members []crypto.Address
}

// State is a complete, deterministic image of a market. Slices are ordered so
// that equal markets export equal values.
type State struct {
	ReservesList               []crypto.Address
	Reserves                   []ReserveState
	Users                      []UserState
	EModeCategories            []EModeState
	Roles                      []RoleState
	FlashLoanPremiumTotal      uint64
	FlashLoanPremiumToProtocol uint64
}

// ExportState captures the market.
func (p *Pool) ExportState() (*State, error) {
	defer p.lockView()()

	s := p.state
	out := &State{
		ReservesList:               s.ReservesList(),
		FlashLoanPremiumTotal:      s.flashLoanPremiumTotal,
		FlashLoanPremiumToProtocol: s.flashLoanPremiumToProtocol,
	}
	for _, asset := range s.reservesList {
		if asset.IsZero() {
			continue
		}
		reserve, receipt, debt, err := p.loadReserve(asset)
		if err != nil {
			return nil, fmt.Errorf("lending: export %s: %w", asset, err)
		}
		data, ok := p.strategy.InterestRateData(asset)
		if !ok {
			return nil, fmt.Errorf("lending: export %s: no interest rate data", asset)
		}
		pending, hasPending := s.pendingLTV[asset]
		out.Reserves = append(out.Reserves, ReserveState{
			Asset:        asset,
			Data:         reserve.Clone(),
			Rates:        data,
			PendingLTV:   pending,
			HasPending:   hasPending,
			Receipts:     receipt.Export(),
			VariableDebt: debt.Export(),
		})
	}

	users := make(map[crypto.Address]struct{}, len(s.users)+len(s.userEMode))
	for user := range s.users {
		users[user] = struct{}{}
	}
	for user := range s.userEMode {
		users[user] = struct{}{}
	}
	for user := range users {
		out.Users = append(out.Users, UserState{User: user, Config: s.users[user], EMode: s.userEMode[user]})
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].User.Hex() < out.Users[j].User.Hex() })

	for id, category := range s.eModeCategories {
		out.EModeCategories = append(out.EModeCategories, EModeState{ID: id, Category: category})
	}
	sort.Slice(out.EModeCategories, func(i, j int) bool { return out.EModeCategories[i].ID < out.EModeCategories[j].ID })

	for _, role := range acl.Roles() {
		members := p.acl.Members(role)
		if len(members) == 0 {
			continue
		}
		out.Roles = append(out.Roles, RoleState{Role: string(role), Members: members})
	}
	return out, nil
}

// ImportState replaces the market with snapshot. The snapshot is checked for
// internal consistency before anything is replaced. Roles are granted on top
// of the existing registry.
func (p *Pool) ImportState(snapshot *State) error {
	if snapshot == nil {
		return fmt.Errorf("lending: nil state")
	}
	if err := p.lockAction(); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if len(snapshot.ReservesList) > configuration.MaxReserves {
		return fmt.Errorf("lending: import: %d reserves exceed the maximum", len(snapshot.ReservesList))
	}
	next := NewProtocolState()
	next.reservesList = append([]crypto.Address(nil), snapshot.ReservesList...)
	next.flashLoanPremiumTotal = snapshot.FlashLoanPremiumTotal
	next.flashLoanPremiumToProtocol = snapshot.FlashLoanPremiumToProtocol
	strategy := rates.NewStrategy()

	for _, rs := range snapshot.Reserves {
		if rs.Data == nil {
			return fmt.Errorf("lending: import %s: missing reserve data", rs.Asset)
		}
		if next.reserveAddress(rs.Data.ID) != rs.Asset {
			return fmt.Errorf("lending: import %s: slot %d does not hold the asset", rs.Asset, rs.Data.ID)
		}
		if _, dup := next.reserves[rs.Asset]; dup {
			return fmt.Errorf("lending: import %s: duplicate reserve", rs.Asset)
		}
		if err := strategy.SetInterestRateData(rs.Asset, rs.Rates); err != nil {
			return fmt.Errorf("lending: import %s: %w", rs.Asset, err)
		}
		data := rs.Data.Clone()
		receipt := tokens.NewReceiptToken(data.ATokenAddress, rs.Asset, p.treasury, p.bank)
		if err := receipt.Import(rs.Receipts); err != nil {
			return fmt.Errorf("lending: import %s receipts: %w", rs.Asset, err)
		}
		debt := tokens.NewDebtToken(data.VariableDebtTokenAddress, rs.Asset)
		if err := debt.Import(rs.VariableDebt); err != nil {
			return fmt.Errorf("lending: import %s debt: %w", rs.Asset, err)
		}
		next.reserves[rs.Asset] = data
		next.receipts[rs.Asset] = receipt
		next.debts[rs.Asset] = debt
		if rs.HasPending {
			next.pendingLTV[rs.Asset] = rs.PendingLTV
		}
	}
	for _, asset := range next.reservesList {
		if _, ok := next.reserves[asset]; !asset.IsZero() && !ok {
			return fmt.Errorf("lending: import: listed asset %s has no reserve", asset)
		}
	}
	for _, u := range snapshot.Users {
		next.setUserConfig(u.User, u.Config)
		if u.EMode != 0 {
			next.userEMode[u.User] = u.EMode
		}
	}
	for _, c := range snapshot.EModeCategories {
		if c.ID == 0 {
			return fmt.Errorf("lending: import: eMode category 0 is reserved")
		}
		next.eModeCategories[c.ID] = c.Category
	}
	roles := make([]acl.Role, len(snapshot.Roles))
	for i, r := range snapshot.Roles {
		role, err := acl.ParseRole(r.Role)
		if err != nil {
			return fmt.Errorf("lending: import: %w", err)
		}
		roles[i] = role
	}

	p.state = next
	p.strategy = strategy
	for i, r := range snapshot.Roles {
		for _, member := range r.Members {
			p.acl.Grant(roles[i], member)
		}
	}
	p.logger.Info("lending state imported", "reserves", len(snapshot.Reserves), "users", len(snapshot.Users))
	return nil
}
