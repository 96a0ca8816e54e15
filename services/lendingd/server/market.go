package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending"
	"nhblend/native/lending/oracle"
	"nhblend/services/lendingd/journal"
	"nhblend/state/bank"
	"nhblend/state/lendingstore"
)

// Market serializes every mutation of the pool and its collaborators so
// that snapshots always see a consistent image, and journals each one.
type Market struct {
	mu      sync.Mutex
	pool    *lending.Pool
	ledger  *bank.Ledger
	prices  *oracle.StaticOracle
	fees    *fees.Collector
	store   *lendingstore.Store
	journal *journal.Journal
	logger  *slog.Logger
}

// MarketConfig wires a Market. Store may be nil to disable snapshots.
type MarketConfig struct {
	Pool    *lending.Pool
	Ledger  *bank.Ledger
	Prices  *oracle.StaticOracle
	Fees    *fees.Collector
	Store   *lendingstore.Store
	Journal *journal.Journal
	Logger  *slog.Logger
}

func NewMarket(cfg MarketConfig) (*Market, error) {
	if cfg.Pool == nil || cfg.Ledger == nil || cfg.Prices == nil {
		return nil, fmt.Errorf("lendingd: pool, ledger and prices are required")
	}
	if cfg.Journal == nil {
		return nil, fmt.Errorf("lendingd: journal is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Market{
		pool:    cfg.Pool,
		ledger:  cfg.Ledger,
		prices:  cfg.Prices,
		fees:    cfg.Fees,
		store:   cfg.Store,
		journal: cfg.Journal,
		logger:  cfg.Logger,
	}, nil
}

// Pool exposes the underlying pool for read-only views.
func (m *Market) Pool() *lending.Pool { return m.pool }

// Do runs fn as one journaled mutation. The error returned is fn's; journal
// failures are logged since the market has already committed.
func (m *Market) Do(ctx context.Context, entry journal.Entry, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := fn()
	if _, jerr := m.journal.Record(ctx, entry, err); jerr != nil {
		m.logger.Error("journal write failed", "action", entry.Name, "request_id", entry.RequestID, "error", jerr)
	}
	return err
}

// SetPrice updates the oracle quote of a listed asset.
func (m *Market) SetPrice(ctx context.Context, entry journal.Entry, asset crypto.Address, price *uint256.Int) error {
	return m.Do(ctx, entry, func() error {
		if _, err := m.pool.GetReserveData(asset); err != nil {
			return err
		}
		m.prices.SetAssetPrice(asset, price)
		return nil
	})
}

// Credit deposits underlying into holder from outside the protocol.
func (m *Market) Credit(ctx context.Context, entry journal.Entry, asset, holder crypto.Address, amount *uint256.Int) error {
	return m.Do(ctx, entry, func() error {
		return m.ledger.Credit(asset, holder, amount)
	})
}

// BalanceOf returns holder's wallet balance of asset.
func (m *Market) BalanceOf(asset, holder crypto.Address) *uint256.Int {
	return m.ledger.BalanceOf(asset, holder)
}

// Price returns the current oracle quote of asset.
func (m *Market) Price(asset crypto.Address) (*uint256.Int, error) {
	return m.prices.GetAssetPrice(asset)
}

// FeeTotals reports the fees collected in domain.
func (m *Market) FeeTotals(domain string) (fees.Totals, bool) {
	if m.fees == nil {
		return fees.Totals{}, false
	}
	return m.fees.Totals(domain), true
}

// Actions lists journaled actions.
func (m *Market) Actions(ctx context.Context, q journal.Query) ([]journal.Action, error) {
	return m.journal.Actions(ctx, q)
}

var errSnapshotsDisabled = errors.New("lendingd: snapshots disabled")

// Snapshot captures and persists the market. It returns the stored sequence.
func (m *Market) Snapshot(ctx context.Context, reason string) (uint64, error) {
	if m.store == nil {
		return 0, errSnapshotsDisabled
	}
	m.mu.Lock()
	snapshot, err := lendingstore.Capture(m.pool, m.ledger, m.prices)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	seq, err := m.store.Save(snapshot)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := m.journal.RecordSnapshot(ctx, seq, reason); err != nil {
		m.logger.Error("journal write failed", "action", "snapshot", "error", err)
	}
	m.logger.Info("market snapshot saved", "sequence", seq, "reason", reason)
	return seq, nil
}

// RunSnapshots saves a snapshot every interval until ctx is done.
func (m *Market) RunSnapshots(ctx context.Context, interval time.Duration) {
	if m.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Snapshot(ctx, "periodic"); err != nil {
				m.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
