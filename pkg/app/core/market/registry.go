package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/sequence"
)

var (
	ErrMarketExists   = errors.New("market already initialized")
	ErrMarketNotFound = errors.New("market not found")
)

// State is everything the engine mutates for one market: the record,
// both books, the ledger entries and the order-id sequencer. The mutex
// serializes instructions per market; each place/cancel/settle holds it
// from first read to commit.
type State struct {
	Mu sync.Mutex

	Market  *Market
	Bids    *book.Book
	Asks    *book.Book
	Ledgers map[common.Address]*ledger.Entry // owner -> entry
	Seq     *sequence.Sequencer
}

// NewState assembles a fresh market state with empty books.
func NewState(m *Market, capacity int) *State {
	return &State{
		Market:  m,
		Bids:    book.New(book.Bid, capacity),
		Asks:    book.New(book.Ask, capacity),
		Ledgers: make(map[common.Address]*ledger.Entry),
		Seq:     sequence.New(0),
	}
}

// Book returns the book holding the given side's resting orders.
func (s *State) Book(side book.Side) *book.Book {
	if side == book.Bid {
		return s.Bids
	}
	return s.Asks
}

// LedgerEntry looks up a participant's entry. The engine, not the
// caller, decides when a missing entry is created: lazily on first
// placement, staged with the rest of the instruction.
func (s *State) LedgerEntry(owner common.Address) (*ledger.Entry, bool) {
	e, ok := s.Ledgers[owner]
	return e, ok
}

// Registry is the record directory: a keyed mapping from the derived
// market address to its state. It replaces caller-supplied record
// references entirely; makers are resolved through it during matching.
type Registry struct {
	mu      sync.RWMutex
	markets map[common.Address]*State
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[common.Address]*State)}
}

// Register adds a newly initialized market.
func (r *Registry) Register(st *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[st.Market.Address]; exists {
		return fmt.Errorf("market %s: %w", st.Market.Address.Hex(), ErrMarketExists)
	}
	r.markets[st.Market.Address] = st
	return nil
}

// Get retrieves a market state by derived address.
func (r *Registry) Get(addr common.Address) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.markets[addr]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", addr.Hex(), ErrMarketNotFound)
	}
	return st, nil
}

// Exists checks registration without returning the state.
func (r *Registry) Exists(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[addr]
	return ok
}

// List returns all registered market states.
func (r *Registry) List() []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*State, 0, len(r.markets))
	for _, st := range r.markets {
		out = append(out, st)
	}
	return out
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
