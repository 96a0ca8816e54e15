// Package bank keeps custody balances of underlying assets. The lending core
// moves underlying between users, receipt-token accounts and the treasury
// exclusively through a Ledger.
package bank

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"nhblend/crypto"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrZeroAddress         = errors.New("bank: zero address")
	ErrSupplyOverflow      = errors.New("bank: supply overflow")
)

// Ledger tracks balances per (asset, holder).
type Ledger struct {
	mu       sync.RWMutex
	balances map[crypto.Address]map[crypto.Address]*uint256.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[crypto.Address]map[crypto.Address]*uint256.Int)}
}

// BalanceOf returns a copy of holder's balance of asset.
func (l *Ledger) BalanceOf(asset, holder crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[asset][holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// Credit increases holder's balance out of thin air. It models deposits of
// underlying from outside the protocol (bridges, faucets, genesis).
func (l *Ledger) Credit(asset, holder crypto.Address, amount *uint256.Int) error {
	if holder.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(asset, holder, amount)
}

// Transfer moves amount of asset from one holder to another. A zero amount is
// a no-op.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	holders := l.balances[asset]
	bal, ok := holders[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, balanceString(bal), amount)
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(holders, from)
	}
	return l.add(asset, to, amount)
}

func (l *Ledger) add(asset, holder crypto.Address, amount *uint256.Int) error {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[crypto.Address]*uint256.Int)
		l.balances[asset] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		holders[holder] = new(uint256.Int).Set(amount)
		return nil
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return ErrSupplyOverflow
	}
	return nil
}

// Snapshot captures every balance and returns a function restoring them.
func (l *Ledger) Snapshot() func() {
	l.mu.RLock()
	saved := l.clone()
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		l.balances = saved
		l.mu.Unlock()
	}
}

func (l *Ledger) clone() map[crypto.Address]map[crypto.Address]*uint256.Int {
	out := make(map[crypto.Address]map[crypto.Address]*uint256.Int, len(l.balances))
	for asset, holders := range l.balances {
		copied := make(map[crypto.Address]*uint256.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(uint256.Int).Set(bal)
		}
		out[asset] = copied
	}
	return out
}

// Balance is a single persisted ledger entry.
type Balance struct {
	Asset  crypto.Address
	Holder crypto.Address
	Amount *uint256.Int
}

// Export returns every non-zero balance in a deterministic order.
func (l *Ledger) Export() []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Balance, 0)
	for asset, holders := range l.balances {
		for holder, bal := range holders {
			out = append(out, Balance{Asset: asset, Holder: holder, Amount: new(uint256.Int).Set(bal)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset.Hex() < out[j].Asset.Hex()
		}
		return out[i].Holder.Hex() < out[j].Holder.Hex()
	})
	return out
}

// Import replaces the ledger contents with entries.
func (l *Ledger) Import(entries []Balance) error {
	fresh := make(map[crypto.Address]map[crypto.Address]*uint256.Int)
	for _, entry := range entries {
		if entry.Amount == nil || entry.Amount.IsZero() {
			continue
		}
		holders, ok := fresh[entry.Asset]
		if !ok {
			holders = make(map[crypto.Address]*uint256.Int)
			fresh[entry.Asset] = holders
		}
		if _, dup := holders[entry.Holder]; dup {
			return fmt.Errorf("bank: duplicate balance for %s/%s", entry.Asset, entry.Holder)
		}
		holders[entry.Holder] = new(uint256.Int).Set(entry.Amount)
	}
	l.mu.Lock()
	l.balances = fresh
	l.mu.Unlock()
	return nil
}

func balanceString(bal *uint256.Int) string {
	if bal == nil {
		return "0"
	}
	return bal.Dec()
}
