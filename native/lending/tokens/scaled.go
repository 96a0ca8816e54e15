// Package tokens implements the interest-bearing ledgers bound to each
// reserve: the receipt token held by suppliers and the variable debt token
// held by borrowers. Both store scaled balances; the real balance is the
// scaled balance multiplied by the reserve index passed in by the caller.
package tokens

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

// scaledLedger is the balance book shared by receipt and debt tokens.
type scaledLedger struct {
	mu          sync.RWMutex
	address     crypto.Address
	underlying  crypto.Address
	balances    map[crypto.Address]*uint256.Int
	totalSupply *uint256.Int
}

func newScaledLedger(address, underlying crypto.Address) *scaledLedger {
	return &scaledLedger{
		address:     address,
		underlying:  underlying,
		balances:    make(map[crypto.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

// Address returns the ledger identity.
func (l *scaledLedger) Address() crypto.Address { return l.address }

// UnderlyingAsset returns the reserve asset the ledger is bound to.
func (l *scaledLedger) UnderlyingAsset() crypto.Address { return l.underlying }

// ScaledBalanceOf returns the index-independent balance of user.
func (l *scaledLedger) ScaledBalanceOf(user crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[user]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// ScaledTotalSupply returns the sum of every scaled balance.
func (l *scaledLedger) ScaledTotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.totalSupply)
}

// BalanceOf returns the real balance of user at index.
func (l *scaledLedger) BalanceOf(user crypto.Address, index *uint256.Int) (*uint256.Int, error) {
	return wadray.RayMul(l.ScaledBalanceOf(user), index)
}

// TotalSupply returns the real total supply at index.
func (l *scaledLedger) TotalSupply(index *uint256.Int) (*uint256.Int, error) {
	return wadray.RayMul(l.ScaledTotalSupply(), index)
}

// mintScaled credits amount/index to user and reports whether the user held
// nothing before.
func (l *scaledLedger) mintScaled(user crypto.Address, amount, index *uint256.Int) (bool, *uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, index)
	if err != nil {
		return false, nil, err
	}
	if scaled.IsZero() {
		return false, nil, errcodes.ErrInvalidMintAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.credit(user, scaled); err != nil {
		return false, nil, err
	}
	return l.balances[user].Eq(scaled), scaled, nil
}

// burnScaled debits amount/index from user.
func (l *scaledLedger) burnScaled(user crypto.Address, amount, index *uint256.Int) (*uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.IsZero() {
		return nil, errcodes.ErrInvalidBurnAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Burning a full balance must clear it even when rounding overshoots.
	if bal, ok := l.balances[user]; ok && scaled.Gt(bal) {
		if full, err := wadray.RayMul(bal, index); err == nil && full.Eq(amount) {
			scaled = new(uint256.Int).Set(bal)
		}
	}
	if err := l.debit(user, scaled); err != nil {
		return nil, err
	}
	return scaled, nil
}

func (l *scaledLedger) credit(user crypto.Address, scaled *uint256.Int) error {
	total, err := wadray.Add(l.totalSupply, scaled)
	if err != nil {
		return err
	}
	bal, ok := l.balances[user]
	if !ok {
		bal = new(uint256.Int)
	}
	if bal, err = wadray.Add(bal, scaled); err != nil {
		return err
	}
	l.balances[user] = bal
	l.totalSupply = total
	return nil
}

func (l *scaledLedger) debit(user crypto.Address, scaled *uint256.Int) error {
	bal, ok := l.balances[user]
	if !ok || bal.Lt(scaled) {
		return errcodes.ErrInsufficientScaledBalance
	}
	bal = new(uint256.Int).Sub(bal, scaled)
	if bal.IsZero() {
		delete(l.balances, user)
	} else {
		l.balances[user] = bal
	}
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, scaled)
	return nil
}

// transferScaled moves a scaled amount between holders.
func (l *scaledLedger) transferScaled(from, to crypto.Address, scaled *uint256.Int) error {
	if scaled.IsZero() || from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, scaled); err != nil {
		return err
	}
	return l.credit(to, scaled)
}

// Snapshot captures the ledger and returns a function restoring it.
func (l *scaledLedger) Snapshot() func() {
	l.mu.RLock()
	balances := make(map[crypto.Address]*uint256.Int, len(l.balances))
	for user, bal := range l.balances {
		balances[user] = new(uint256.Int).Set(bal)
	}
	total := new(uint256.Int).Set(l.totalSupply)
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		l.balances = balances
		l.totalSupply = total
		l.mu.Unlock()
	}
}

// Holding is a persisted scaled balance.
type Holding struct {
	Holder crypto.Address
	Scaled *uint256.Int
}

// Export lists scaled balances ordered by holder.
func (l *scaledLedger) Export() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Holding, 0, len(l.balances))
	for user, bal := range l.balances {
		out = append(out, Holding{Holder: user, Scaled: new(uint256.Int).Set(bal)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder.Hex() < out[j].Holder.Hex() })
	return out
}

// Import replaces the ledger contents and recomputes the total supply.
func (l *scaledLedger) Import(holdings []Holding) error {
	balances := make(map[crypto.Address]*uint256.Int, len(holdings))
	total := new(uint256.Int)
	for _, h := range holdings {
		if h.Scaled == nil || h.Scaled.IsZero() {
			continue
		}
		var err error
		if total, err = wadray.Add(total, h.Scaled); err != nil {
			return err
		}
		balances[h.Holder] = new(uint256.Int).Set(h.Scaled)
	}
	l.mu.Lock()
	l.balances = balances
	l.totalSupply = total
	l.mu.Unlock()
	return nil
}
