// Package storage persists the exchange core's records in pebble:
// markets, books, ledger entries, custody balances, sequencer positions
// and trade history. Instruction commits go through Batch so a whole
// place/cancel/settle lands atomically or not at all.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the pebble database at the given path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:             64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions: func() int { return 3 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getJSON(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// LoadMarkets loads every persisted market record.
func (s *Store) LoadMarkets() ([]*market.Market, error) {
	prefix := marketPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*market.Market
	for iter.First(); iter.Valid(); iter.Next() {
		var m market.Market
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("corrupt market record %s: %w", iter.Key(), err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// LoadBook loads one side's resting orders. Returns false if the book
// was never persisted.
func (s *Store) LoadBook(addr common.Address) (*book.Book, bool, error) {
	var b book.Book
	ok, err := s.getJSON(bookKey(addr), &b)
	if err != nil || !ok {
		return nil, false, err
	}
	return &b, true, nil
}

// LoadLedgers loads every ledger entry of one market.
func (s *Store) LoadLedgers(marketAddr common.Address) ([]*ledger.Entry, error) {
	prefix := ledgerPrefix(marketAddr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*ledger.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e ledger.Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("corrupt ledger record %s: %w", iter.Key(), err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// LoadVaultAccounts loads every persisted custody account.
func (s *Store) LoadVaultAccounts() ([]*vault.Account, error) {
	prefix := vaultPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*vault.Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acc vault.Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, fmt.Errorf("corrupt vault record %s: %w", iter.Key(), err)
		}
		out = append(out, &acc)
	}
	return out, nil
}

// LoadSequence loads a market's last issued order id, zero if absent.
func (s *Store) LoadSequence(marketAddr common.Address) (uint64, error) {
	data, closer, err := s.db.Get(seqKey(marketAddr))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt sequence record for %s", marketAddr.Hex())
	}
	return binary.BigEndian.Uint64(data), nil
}

// SaveVaultAccount persists a custody account outside a batch (funding
// path).
func (s *Store) SaveVaultAccount(acc *vault.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return s.db.Set(vaultKey(acc.Address), data, pebble.Sync)
}

// RecentFills returns up to limit fills for a market, newest first.
func (s *Store) RecentFills(marketAddr common.Address, limit int) ([]*book.Fill, error) {
	prefix := fillPrefix(marketAddr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*book.Fill
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var f book.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, fmt.Errorf("corrupt fill record %s: %w", iter.Key(), err)
		}
		out = append(out, &f)
	}
	return out, nil
}

// Batch accumulates one instruction's record writes and commits them
// atomically.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.batch.Set(key, data, nil)
}

func (b *Batch) SaveMarket(m *market.Market) error {
	return b.setJSON(marketKey(m.Address), m)
}

func (b *Batch) SaveBook(addr common.Address, bk *book.Book) error {
	return b.setJSON(bookKey(addr), bk)
}

func (b *Batch) SaveLedger(e *ledger.Entry) error {
	return b.setJSON(ledgerKey(e.Market, e.Owner), e)
}

func (b *Batch) SaveVaultAccount(acc *vault.Account) error {
	return b.setJSON(vaultKey(acc.Address), acc)
}

func (b *Batch) SaveSequence(marketAddr common.Address, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.batch.Set(seqKey(marketAddr), buf[:], nil)
}

func (b *Batch) SaveFill(f *book.Fill) error {
	return b.setJSON(fillKey(f.Market, f.Time, f.ID), f)
}

// Commit writes the batch to pebble atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
