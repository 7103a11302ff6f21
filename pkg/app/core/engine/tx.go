package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
)

// tx stages one instruction's mutations: cloned books, cloned (or
// lazily created) ledger entries, a vault view and pending fill
// records. Nothing is visible until commit; dropping the tx on any
// error leaves market state byte-for-byte unchanged.
type tx struct {
	st   *market.State
	view *vault.View

	books   map[book.Side]*book.Book
	ledgers map[common.Address]*ledger.Entry
	fills   []*book.Fill

	touchedSeq bool
}

func newTx(st *market.State, v *vault.Vault) *tx {
	return &tx{
		st:      st,
		view:    v.Begin(),
		books:   make(map[book.Side]*book.Book),
		ledgers: make(map[common.Address]*ledger.Entry),
	}
}

// book returns the staged clone of one side, cloning on first touch.
func (t *tx) book(side book.Side) *book.Book {
	if b, ok := t.books[side]; ok {
		return b
	}
	b := t.st.Book(side).Clone()
	t.books[side] = b
	return b
}

// takerLedger resolves the caller's entry, creating it lazily on first
// use. The fresh entry only becomes part of the market on commit.
func (t *tx) takerLedger(owner common.Address) *ledger.Entry {
	if e, ok := t.ledgers[owner]; ok {
		return e
	}
	var e *ledger.Entry
	if cur, ok := t.st.LedgerEntry(owner); ok {
		e = cur.Clone()
	} else {
		e = ledger.NewEntry(t.st.Market.Address, owner)
	}
	t.ledgers[owner] = e
	return e
}

// makerLedger resolves a resting order owner's entry through the
// directory and verifies the record really belongs to that identity
// before the engine writes to it.
func (t *tx) makerLedger(owner common.Address) (*ledger.Entry, error) {
	if e, ok := t.ledgers[owner]; ok {
		return e, nil
	}
	cur, ok := t.st.LedgerEntry(owner)
	if !ok {
		return nil, fmt.Errorf("no ledger record for maker %s: %w", owner.Hex(), ErrUnauthorizedAccess)
	}
	if cur.Owner != owner || cur.Market != t.st.Market.Address {
		return nil, fmt.Errorf("ledger record %s/%s does not belong to maker %s: %w",
			cur.Market.Hex(), cur.Owner.Hex(), owner.Hex(), ErrUnauthorizedAccess)
	}
	e := cur.Clone()
	t.ledgers[owner] = e
	return e, nil
}

// commit persists the staged set in one batch, then swaps it into the
// in-memory state. Persistence failure leaves memory untouched.
func (t *tx) commit(e *Engine) error {
	batch := e.store.NewBatch()
	defer batch.Close()

	if b, ok := t.books[book.Bid]; ok {
		if err := batch.SaveBook(t.st.Market.Bids, b); err != nil {
			return err
		}
	}
	if b, ok := t.books[book.Ask]; ok {
		if err := batch.SaveBook(t.st.Market.Asks, b); err != nil {
			return err
		}
	}
	for _, entry := range t.ledgers {
		if err := batch.SaveLedger(entry); err != nil {
			return err
		}
	}
	for _, acc := range t.view.Staged() {
		if err := batch.SaveVaultAccount(&acc); err != nil {
			return err
		}
	}
	if t.touchedSeq {
		if err := batch.SaveSequence(t.st.Market.Address, t.st.Seq.Current()); err != nil {
			return err
		}
	}
	for _, f := range t.fills {
		if err := batch.SaveFill(f); err != nil {
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit instruction batch: %w", err)
	}

	if b, ok := t.books[book.Bid]; ok {
		t.st.Bids = b
	}
	if b, ok := t.books[book.Ask]; ok {
		t.st.Asks = b
	}
	for owner, entry := range t.ledgers {
		t.st.Ledgers[owner] = entry
	}
	t.view.Commit()
	return nil
}
