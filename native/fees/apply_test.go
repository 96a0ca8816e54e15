package fees

import (
	"errors"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/state/bank"
)

func TestApplyFreeTier(t *testing.T) {
	cfg := DomainPolicy{FreeTierAllowance: 2, FlatFee: uint256.NewInt(5)}
	first := Apply(ApplyInput{Domain: DomainBorrow, UsageCount: 0, Config: cfg})
	if !first.FreeTierApplied || !first.Fee.IsZero() || first.Counter != 1 {
		t.Fatalf("unexpected first result %+v", first)
	}
	third := Apply(ApplyInput{Domain: DomainBorrow, UsageCount: 2, Config: cfg})
	if third.FreeTierApplied || third.Fee.Uint64() != 5 {
		t.Fatalf("unexpected third result %+v", third)
	}
}

func TestCollectorChargesAndRestores(t *testing.T) {
	feeAsset := crypto.Address{0xfe}
	wallet := crypto.Address{0x77}
	payer := crypto.Address{0x11}

	ledger := bank.NewLedger()
	if err := ledger.Credit(feeAsset, payer, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	collector := NewCollector(Policy{Domains: map[string]DomainPolicy{
		"Borrow ": {FlatFee: uint256.NewInt(4), Asset: feeAsset, RouteWallet: wallet},
	}}, ledger)

	if err := collector.CollectFee(payer, DomainSupply); err != nil {
		t.Fatalf("unconfigured domain should be free: %v", err)
	}
	restore := collector.Snapshot()
	if err := collector.CollectFee(payer, DomainBorrow); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ledger.BalanceOf(feeAsset, wallet); got.Uint64() != 4 {
		t.Fatalf("wallet balance = %s", got)
	}
	if total := collector.Totals(DomainBorrow); total.Actions != 1 || total.Fee.Uint64() != 4 {
		t.Fatalf("unexpected totals %+v", total)
	}
	restore()
	if total := collector.Totals(DomainBorrow); total.Actions != 0 {
		t.Fatalf("totals survived restore: %+v", total)
	}

	if err := collector.CollectFee(payer, DomainBorrow); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := collector.CollectFee(payer, DomainBorrow); err != nil {
		t.Fatalf("collect: %v", err)
	}
	err := collector.CollectFee(payer, DomainBorrow)
	if !errors.Is(err, ErrFeeCollection) {
		t.Fatalf("expected collection failure, got %v", err)
	}
}

func TestDomainPolicyUnmarshalTOML(t *testing.T) {
	wallet := crypto.Address{0x42}
	var decoded struct {
		Fees map[string]DomainPolicy `toml:"fees"`
	}
	doc := `
[fees.borrow]
free_tier_allowance = 3
flat_fee = "1000"
RouteWallet = "` + wallet.Hex() + `"
`
	if _, err := toml.Decode(doc, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	policy := decoded.Fees["borrow"]
	if policy.FreeTierAllowance != 3 || policy.FlatFee.Uint64() != 1000 || policy.RouteWallet != wallet {
		t.Fatalf("unexpected policy %+v", policy)
	}

	if _, err := toml.Decode("[fees.borrow]\nmdr = 1\n", &decoded); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
