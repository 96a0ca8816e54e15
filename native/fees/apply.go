// Package fees charges the small fixed per-transaction fee collected at the
// start of supply, withdraw, borrow, repay and liquidation. The fee makes
// rounding arbitrage through many tiny actions unprofitable.
package fees

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"nhblend/crypto"
)

// Fee domains, one per charged action.
const (
	DomainSupply      = "supply"
	DomainWithdraw    = "withdraw"
	DomainBorrow      = "borrow"
	DomainRepay       = "repay"
	DomainLiquidation = "liquidation"
)

var ErrFeeCollection = errors.New("fees: collection failed")

// DomainPolicy captures the configuration applied to a specific fee domain.
type DomainPolicy struct {
	FreeTierAllowance uint64
	FlatFee           *uint256.Int
	Asset             crypto.Address
	RouteWallet       crypto.Address
}

// Policy enumerates the configured fee domains and the policy version.
type Policy struct {
	Version uint64
	Domains map[string]DomainPolicy
}

// Clone returns a deep copy of the policy to avoid accidental aliasing of the
// domain map between callers.
func (p Policy) Clone() Policy {
	clone := Policy{Version: p.Version, Domains: make(map[string]DomainPolicy, len(p.Domains))}
	for domain, cfg := range p.Domains {
		if cfg.FlatFee != nil {
			cfg.FlatFee = new(uint256.Int).Set(cfg.FlatFee)
		}
		clone.Domains[NormalizeDomain(domain)] = cfg
	}
	return clone
}

// DomainConfig resolves the policy for the supplied domain if configured.
func (p Policy) DomainConfig(domain string) (DomainPolicy, bool) {
	if len(p.Domains) == 0 {
		return DomainPolicy{}, false
	}
	cfg, ok := p.Domains[NormalizeDomain(domain)]
	return cfg, ok
}

// NormalizeDomain canonicalises domain identifiers for consistent lookups.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ApplyInput captures the context required to evaluate the fee obligation for
// one action.
type ApplyInput struct {
	Domain     string
	UsageCount uint64
	Config     DomainPolicy
}

// ApplyResult summarises the computed fee and the updated usage counter.
type ApplyResult struct {
	Fee             *uint256.Int
	Counter         uint64
	RouteWallet     crypto.Address
	FreeTierApplied bool
}

// Apply evaluates the policy for one action. The caller is responsible for
// persisting the incremented counter and moving the fee.
func Apply(input ApplyInput) ApplyResult {
	result := ApplyResult{Counter: input.UsageCount + 1, RouteWallet: input.Config.RouteWallet, Fee: new(uint256.Int)}
	if input.Config.FreeTierAllowance > input.UsageCount {
		result.FreeTierApplied = true
		return result
	}
	if input.Config.FlatFee != nil {
		result.Fee.Set(input.Config.FlatFee)
	}
	return result
}

// Transferer moves the fee asset.
type Transferer interface {
	Transfer(asset, from, to crypto.Address, amount *uint256.Int) error
}

// Totals aggregates collected fees per domain.
type Totals struct {
	Domain  string
	Actions uint64
	Fee     *uint256.Int
}

// Collector charges payers according to a Policy.
type Collector struct {
	mu     sync.Mutex
	policy Policy
	bank   Transferer
	usage  map[string]map[crypto.Address]uint64
	totals map[string]Totals
}

// NewCollector returns a collector moving fees through bank.
func NewCollector(policy Policy, bank Transferer) *Collector {
	return &Collector{
		policy: policy.Clone(),
		bank:   bank,
		usage:  make(map[string]map[crypto.Address]uint64),
		totals: make(map[string]Totals),
	}
}

// SetPolicy replaces the active policy. Usage counters are kept.
func (c *Collector) SetPolicy(policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy.Clone()
}

// CollectFee charges payer for one action of the given domain. Domains
// without a policy are free.
func (c *Collector) CollectFee(payer crypto.Address, action string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	domain := NormalizeDomain(action)
	cfg, ok := c.policy.DomainConfig(domain)
	if !ok {
		return nil
	}
	counters, ok := c.usage[domain]
	if !ok {
		counters = make(map[crypto.Address]uint64)
		c.usage[domain] = counters
	}
	result := Apply(ApplyInput{Domain: domain, UsageCount: counters[payer], Config: cfg})
	if !result.Fee.IsZero() {
		if result.RouteWallet.IsZero() {
			return fmt.Errorf("%w: %s route wallet not configured", ErrFeeCollection, domain)
		}
		if err := c.bank.Transfer(cfg.Asset, payer, result.RouteWallet, result.Fee); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFeeCollection, domain, err)
		}
	}
	counters[payer] = result.Counter
	total := c.totals[domain]
	total.Domain = domain
	total.Actions++
	if total.Fee == nil {
		total.Fee = new(uint256.Int)
	}
	total.Fee = new(uint256.Int).Add(total.Fee, result.Fee)
	c.totals[domain] = total
	return nil
}

// Totals returns the aggregated collection for domain.
func (c *Collector) Totals(domain string) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.totals[NormalizeDomain(domain)]
	if total.Fee == nil {
		total.Fee = new(uint256.Int)
	} else {
		total.Fee = new(uint256.Int).Set(total.Fee)
	}
	return total
}

// Snapshot captures usage counters and totals.
func (c *Collector) Snapshot() func() {
	c.mu.Lock()
	usage := make(map[string]map[crypto.Address]uint64, len(c.usage))
	for domain, counters := range c.usage {
		copied := make(map[crypto.Address]uint64, len(counters))
		for payer, n := range counters {
			copied[payer] = n
		}
		usage[domain] = copied
	}
	totals := make(map[string]Totals, len(c.totals))
	for domain, total := range c.totals {
		totals[domain] = total
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.usage = usage
		c.totals = totals
		c.mu.Unlock()
	}
}
