package lendingstore

import (
	"fmt"
	"sort"

	"nhblend/native/lending"
	"nhblend/native/lending/oracle"
	"nhblend/state/bank"
)

// Capture assembles a snapshot of a running market. Callers serialize it
// with any writer of the bank or the oracle.
func Capture(pool *lending.Pool, ledger *bank.Ledger, prices *oracle.StaticOracle) (*Snapshot, error) {
	market, err := pool.ExportState()
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{Market: market, Balances: ledger.Export()}
	for asset, price := range prices.Prices() {
		snapshot.Prices = append(snapshot.Prices, Price{Asset: asset, Price: price})
	}
	sort.Slice(snapshot.Prices, func(i, j int) bool {
		return snapshot.Prices[i].Asset.Hex() < snapshot.Prices[j].Asset.Hex()
	})
	return snapshot, nil
}

// Restore loads snapshot into freshly constructed collaborators.
func Restore(snapshot *Snapshot, pool *lending.Pool, ledger *bank.Ledger, prices *oracle.StaticOracle) error {
	if snapshot == nil || snapshot.Market == nil {
		return fmt.Errorf("lendingstore: nil snapshot")
	}
	if err := ledger.Import(snapshot.Balances); err != nil {
		return fmt.Errorf("lendingstore: restore balances: %w", err)
	}
	for _, p := range snapshot.Prices {
		prices.SetAssetPrice(p.Asset, p.Price)
	}
	if err := pool.ImportState(snapshot.Market); err != nil {
		return fmt.Errorf("lendingstore: restore market: %w", err)
	}
	return nil
}
