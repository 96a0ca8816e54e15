// Package lendingstore persists lending market snapshots in a key-value
// database. Snapshots are RLP encoded and sealed with a blake3 checksum.
package lendingstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"nhblend/crypto"
	"nhblend/native/lending"
	"nhblend/state/bank"
	"nhblend/storage"
)

const snapshotVersion = 1

var (
	snapshotKey = []byte("lending/state/snapshot")

	// ErrNoSnapshot is returned by Load when nothing has been saved yet.
	ErrNoSnapshot = errors.New("lendingstore: no snapshot")
	// ErrCorrupt is returned when the stored checksum does not match.
	ErrCorrupt = errors.New("lendingstore: snapshot checksum mismatch")
)

// Price is a persisted oracle quote in base-currency units.
type Price struct {
	Asset crypto.Address
	Price *uint256.Int
}

// Snapshot bundles everything needed to restart a market: the protocol
// state, the underlying custody balances and the last oracle prices.
type Snapshot struct {
	Market   *lending.State
	Balances []bank.Balance
	Prices   []Price
}

type envelope struct {
	Version  uint8
	Sequence uint64
	Checksum [32]byte
	Payload  []byte
}

// Store reads and writes market snapshots.
type Store struct {
	db  storage.Database
	mu  sync.Mutex
	seq uint64
}

func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes the snapshot and returns its sequence number.
func (s *Store) Save(snapshot *Snapshot) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("lendingstore not initialised")
	}
	if snapshot == nil || snapshot.Market == nil {
		return 0, fmt.Errorf("lendingstore: nil snapshot")
	}
	payload, err := rlp.EncodeToBytes(snapshot)
	if err != nil {
		return 0, fmt.Errorf("lendingstore: encode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		if prev, err := s.load(); err == nil {
			s.seq = prev.Sequence
		} else if !errors.Is(err, ErrNoSnapshot) {
			return 0, err
		}
	}
	env := envelope{
		Version:  snapshotVersion,
		Sequence: s.seq + 1,
		Checksum: blake3.Sum256(payload),
		Payload:  payload,
	}
	encoded, err := rlp.EncodeToBytes(&env)
	if err != nil {
		return 0, fmt.Errorf("lendingstore: encode envelope: %w", err)
	}
	if err := s.db.Put(snapshotKey, encoded); err != nil {
		return 0, err
	}
	s.seq = env.Sequence
	return env.Sequence, nil
}

// Load returns the latest snapshot and its sequence number.
func (s *Store) Load() (*Snapshot, uint64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("lendingstore not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.load()
	if err != nil {
		return nil, 0, err
	}
	var snapshot Snapshot
	if err := rlp.DecodeBytes(env.Payload, &snapshot); err != nil {
		return nil, 0, fmt.Errorf("lendingstore: decode: %w", err)
	}
	s.seq = env.Sequence
	return &snapshot, env.Sequence, nil
}

// Clear removes the stored snapshot.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
	return s.db.Delete(snapshotKey)
}

func (s *Store) load() (*envelope, error) {
	raw, err := s.db.Get(snapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := rlp.DecodeBytes(raw, &env); err != nil {
		return nil, fmt.Errorf("lendingstore: decode envelope: %w", err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("lendingstore: unsupported snapshot version %d", env.Version)
	}
	if blake3.Sum256(env.Payload) != env.Checksum {
		return nil, ErrCorrupt
	}
	return &env, nil
}
