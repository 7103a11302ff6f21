// Package engine orchestrates the exchange core: order placement with
// price-time matching, cancellation, settlement and market
// initialization. Every instruction runs as one serialized transaction
// against a single market's state and either commits fully or aborts
// with zero observable effect.
package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
	"github.com/rapidflow/rapidflow/pkg/crypto"
	"github.com/rapidflow/rapidflow/pkg/sequence"
	"github.com/rapidflow/rapidflow/pkg/storage"
	"github.com/rapidflow/rapidflow/pkg/util"
)

type Config struct {
	// BookCapacity bounds resting orders per book side.
	BookCapacity int

	// FillHistoryLimit caps RecentFills results.
	FillHistoryLimit int
}

type Engine struct {
	registry *market.Registry
	vault    *vault.Vault
	store    *storage.Store
	clock    util.Clock
	log      *zap.SugaredLogger
	cfg      Config
}

func New(store *storage.Store, v *vault.Vault, logger *zap.Logger, cfg Config) *Engine {
	if cfg.BookCapacity <= 0 {
		cfg.BookCapacity = 128
	}
	if cfg.FillHistoryLimit <= 0 {
		cfg.FillHistoryLimit = 100
	}
	return &Engine{
		registry: market.NewRegistry(),
		vault:    v,
		store:    store,
		clock:    util.RealClock{},
		log:      logger.Sugar(),
		cfg:      cfg,
	}
}

// SetClock replaces the timestamp source. Test seam; order identity
// never depends on it.
func (e *Engine) SetClock(c util.Clock) {
	e.clock = c
}

// Load restores markets, books, ledgers, custody balances and
// sequencer positions from the store.
func (e *Engine) Load() error {
	accounts, err := e.store.LoadVaultAccounts()
	if err != nil {
		return fmt.Errorf("load vault accounts: %w", err)
	}
	for _, acc := range accounts {
		e.vault.Restore(acc)
	}

	markets, err := e.store.LoadMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	for _, m := range markets {
		st := market.NewState(m, e.cfg.BookCapacity)

		if b, ok, err := e.store.LoadBook(m.Bids); err != nil {
			return fmt.Errorf("load bids for %s: %w", m.Address.Hex(), err)
		} else if ok {
			st.Bids = b
		}
		if b, ok, err := e.store.LoadBook(m.Asks); err != nil {
			return fmt.Errorf("load asks for %s: %w", m.Address.Hex(), err)
		} else if ok {
			st.Asks = b
		}

		entries, err := e.store.LoadLedgers(m.Address)
		if err != nil {
			return fmt.Errorf("load ledgers for %s: %w", m.Address.Hex(), err)
		}
		for _, entry := range entries {
			st.Ledgers[entry.Owner] = entry
		}

		last, err := e.store.LoadSequence(m.Address)
		if err != nil {
			return fmt.Errorf("load sequence for %s: %w", m.Address.Hex(), err)
		}
		st.Seq = sequence.New(last)

		if err := e.registry.Register(st); err != nil {
			return err
		}
	}

	e.log.Infow("engine_loaded", "markets", e.registry.Count())
	return nil
}

// InitializeMarket creates the market record, both empty books and the
// two custody accounts, all at deterministically derived addresses.
func (e *Engine) InitializeMarket(authority, baseAsset, quoteAsset common.Address) (*market.Market, error) {
	m := market.New(authority, baseAsset, quoteAsset, e.clock.Now().UnixMilli())
	if e.registry.Exists(m.Address) {
		return nil, fmt.Errorf("pair %s/%s: %w", baseAsset.Hex(), quoteAsset.Hex(), ErrMarketExists)
	}

	if err := e.vault.EnsureAccount(m.BaseVault, baseAsset); err != nil {
		return nil, err
	}
	if err := e.vault.EnsureAccount(m.QuoteVault, quoteAsset); err != nil {
		return nil, err
	}

	st := market.NewState(m, e.cfg.BookCapacity)
	if err := e.registry.Register(st); err != nil {
		return nil, err
	}

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveMarket(m); err != nil {
		return nil, err
	}
	if err := batch.SaveBook(m.Bids, st.Bids); err != nil {
		return nil, err
	}
	if err := batch.SaveBook(m.Asks, st.Asks); err != nil {
		return nil, err
	}
	baseAcc, _ := e.vault.Account(m.BaseVault)
	quoteAcc, _ := e.vault.Account(m.QuoteVault)
	if err := batch.SaveVaultAccount(&baseAcc); err != nil {
		return nil, err
	}
	if err := batch.SaveVaultAccount(&quoteAcc); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("persist market: %w", err)
	}

	e.log.Infow("market_initialized",
		"market", m.Address.Hex(),
		"base", baseAsset.Hex(),
		"quote", quoteAsset.Hex(),
		"authority", authority.Hex())
	return m, nil
}

// Fund mints units into a participant's own custody wallet for an
// asset, creating the wallet if needed. Returns the wallet address.
func (e *Engine) Fund(owner, asset common.Address, amount uint64) (common.Address, error) {
	wallet := crypto.WalletAddress(owner, asset)
	if err := e.vault.EnsureAccount(wallet, asset); err != nil {
		return common.Address{}, err
	}
	acc, err := e.vault.Mint(wallet, amount)
	if err != nil {
		return common.Address{}, err
	}
	if err := e.store.SaveVaultAccount(acc); err != nil {
		return common.Address{}, err
	}
	return wallet, nil
}

// PlaceResult reports what one placement did.
type PlaceResult struct {
	OrderID uint64 // id of the resting remainder, 0 if fully filled
	Filled  uint64
	Fills   []*book.Fill
}

// PlaceOrder commits collateral for the full size, crosses the opposite
// book in price-time priority and rests any remainder. Matching always
// executes at the resting order's price; price improvement accrues to
// the taker.
func (e *Engine) PlaceOrder(caller, marketAddr common.Address, side book.Side, price, size uint64) (*PlaceResult, error) {
	if price == 0 || size == 0 {
		return nil, fmt.Errorf("price and size must be positive: %w", ErrInvalidParam)
	}

	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return nil, err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	t := newTx(st, e.vault)
	m := st.Market

	// Commit collateral for the entire requested size before matching.
	// The matching loop then only moves funds between locked and free,
	// never re-validating external balances.
	taker := t.takerLedger(caller)
	var commitAmount uint64
	var commitAsset, marketVault common.Address
	if side == book.Bid {
		commitAmount, err = ledger.Mul(price, size)
		if err != nil {
			return nil, err
		}
		commitAsset, marketVault = m.QuoteAsset, m.QuoteVault
	} else {
		commitAmount = size
		commitAsset, marketVault = m.BaseAsset, m.BaseVault
	}
	wallet := crypto.WalletAddress(caller, commitAsset)
	if err := t.view.Transfer(wallet, marketVault, commitAmount); err != nil {
		return nil, fmt.Errorf("commit collateral: %w", err)
	}
	if side == book.Bid {
		err = taker.LockQuote(commitAmount)
	} else {
		err = taker.LockBase(commitAmount)
	}
	if err != nil {
		return nil, err
	}

	// Cross the opposite book while the head remains price-compatible.
	opp := t.book(side.Opposite())
	now := e.clock.Now().UnixMilli()
	remaining := size
	var fills []*book.Fill

	for remaining > 0 {
		head := opp.Best()
		if head == nil {
			break
		}
		if side == book.Bid && price < head.Price {
			break
		}
		if side == book.Ask && price > head.Price {
			break
		}

		match := remaining
		if head.Size < match {
			match = head.Size
		}
		value, err := ledger.Mul(head.Price, match)
		if err != nil {
			return nil, err
		}

		maker, err := t.makerLedger(head.Owner)
		if err != nil {
			return nil, err
		}

		// Taker moves locked collateral out; maker's offered asset
		// unlocks and the received asset credits free. Underflow here
		// means books and ledgers disagree: abort, nothing partial.
		if side == book.Bid {
			if err := taker.UnlockQuote(value); err != nil {
				return nil, err
			}
			if err := taker.CreditBase(match); err != nil {
				return nil, err
			}
			if err := maker.UnlockBase(match); err != nil {
				return nil, err
			}
			if err := maker.CreditQuote(value); err != nil {
				return nil, err
			}
		} else {
			if err := taker.UnlockBase(match); err != nil {
				return nil, err
			}
			if err := taker.CreditQuote(value); err != nil {
				return nil, err
			}
			if err := maker.UnlockQuote(value); err != nil {
				return nil, err
			}
			if err := maker.CreditBase(match); err != nil {
				return nil, err
			}
		}

		remaining -= match
		head.Size -= match
		if head.Size == 0 {
			opp.Remove(head.ID)
		}

		fills = append(fills, &book.Fill{
			ID:        xid.New().String(),
			Market:    m.Address,
			Taker:     caller,
			Maker:     head.Owner,
			Price:     head.Price,
			Size:      match,
			TakerSide: side,
			Time:      now,
		})
	}

	// Rest the remainder. Collateral for it is already locked.
	var orderID uint64
	if remaining > 0 {
		own := t.book(side)
		orderID = st.Seq.Next()
		t.touchedSeq = true
		o := &book.Order{
			ID:        orderID,
			Owner:     caller,
			Price:     price,
			Size:      remaining,
			CreatedAt: now,
		}
		if err := own.Insert(o); err != nil {
			return nil, fmt.Errorf("rest remainder of %d: %w", remaining, err)
		}
	}

	t.fills = fills
	if err := t.commit(e); err != nil {
		return nil, err
	}

	e.log.Infow("order_placed",
		"market", m.Address.Hex(),
		"owner", caller.Hex(),
		"side", side.String(),
		"price", price,
		"size", size,
		"filled", size-remaining,
		"order_id", orderID)
	return &PlaceResult{OrderID: orderID, Filled: size - remaining, Fills: fills}, nil
}

// CancelOrder removes a resting order and refunds its collateral
// straight from market custody to the owner's wallet, bypassing the
// free balance.
func (e *Engine) CancelOrder(caller, marketAddr common.Address, orderID uint64, side book.Side) error {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	m := st.Market
	existing, ok := st.Book(side).Get(orderID)
	if !ok {
		return fmt.Errorf("order %d on %s side: %w", orderID, side, ErrOrderNotFound)
	}
	if existing.Owner != caller {
		return fmt.Errorf("order %d belongs to %s: %w", orderID, existing.Owner.Hex(), ErrUnauthorizedAccess)
	}

	t := newTx(st, e.vault)
	o, _ := t.book(side).Remove(orderID)

	var refund uint64
	var refundAsset, marketVault common.Address
	if side == book.Bid {
		refund, err = ledger.Mul(o.Price, o.Size)
		if err != nil {
			return err
		}
		refundAsset, marketVault = m.QuoteAsset, m.QuoteVault
	} else {
		refund = o.Size
		refundAsset, marketVault = m.BaseAsset, m.BaseVault
	}

	wallet := crypto.WalletAddress(caller, refundAsset)
	if err := t.view.Transfer(marketVault, wallet, refund); err != nil {
		return fmt.Errorf("refund cancelled order %d: %w", orderID, err)
	}

	entry := t.takerLedger(caller)
	if side == book.Bid {
		err = entry.UnlockQuote(refund)
	} else {
		err = entry.UnlockBase(refund)
	}
	if err != nil {
		// Locked balance smaller than the order's collateral: the
		// books and the ledger disagree. Never recoverable by the
		// caller.
		e.log.Errorw("cancel_accounting_mismatch",
			"market", m.Address.Hex(),
			"order_id", orderID,
			"owner", caller.Hex(),
			"refund", refund)
		return err
	}

	if err := t.commit(e); err != nil {
		return err
	}

	e.log.Infow("order_cancelled",
		"market", m.Address.Hex(),
		"owner", caller.Hex(),
		"order_id", orderID,
		"side", side.String(),
		"refund", refund)
	return nil
}

// SettleFunds moves the caller's accumulated free balances out of
// market custody into their own wallets and zeroes them. Locked
// balances are untouched.
func (e *Engine) SettleFunds(caller, marketAddr common.Address) error {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	m := st.Market
	cur, ok := st.LedgerEntry(caller)
	if !ok || (cur.BaseFree == 0 && cur.QuoteFree == 0) {
		return fmt.Errorf("participant %s: %w", caller.Hex(), ErrNoFundsToSettle)
	}

	t := newTx(st, e.vault)
	entry := t.takerLedger(caller)

	if entry.BaseFree > 0 {
		// A buyer may never have held the base asset before; the
		// destination wallet is created on first settlement.
		wallet := crypto.WalletAddress(caller, m.BaseAsset)
		if err := e.vault.EnsureAccount(wallet, m.BaseAsset); err != nil {
			return err
		}
		if err := t.view.Transfer(m.BaseVault, wallet, entry.BaseFree); err != nil {
			return fmt.Errorf("settle base: %w", err)
		}
		entry.BaseFree = 0
	}
	if entry.QuoteFree > 0 {
		wallet := crypto.WalletAddress(caller, m.QuoteAsset)
		if err := e.vault.EnsureAccount(wallet, m.QuoteAsset); err != nil {
			return err
		}
		if err := t.view.Transfer(m.QuoteVault, wallet, entry.QuoteFree); err != nil {
			return fmt.Errorf("settle quote: %w", err)
		}
		entry.QuoteFree = 0
	}

	if err := t.commit(e); err != nil {
		return err
	}

	e.log.Infow("funds_settled",
		"market", m.Address.Hex(),
		"owner", caller.Hex(),
		"base", cur.BaseFree,
		"quote", cur.QuoteFree)
	return nil
}

// Market returns the static market record.
func (e *Engine) Market(marketAddr common.Address) (*market.Market, error) {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return nil, err
	}
	return st.Market, nil
}

// LedgerOf returns a copy of a participant's ledger entry.
func (e *Engine) LedgerOf(marketAddr, owner common.Address) (ledger.Entry, error) {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return ledger.Entry{}, err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	entry, ok := st.LedgerEntry(owner)
	if !ok {
		return *ledger.NewEntry(marketAddr, owner), nil
	}
	return *entry, nil
}

// Depth returns both aggregated depth ladders in priority order.
func (e *Engine) Depth(marketAddr common.Address) (bids, asks []book.PriceLevel, err error) {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return nil, nil, err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()
	return st.Bids.Levels(), st.Asks.Levels(), nil
}

// Orders returns one side's resting orders in priority order.
func (e *Engine) Orders(marketAddr common.Address, side book.Side) ([]*book.Order, error) {
	st, err := e.registry.Get(marketAddr)
	if err != nil {
		return nil, err
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	orders := st.Book(side).Orders()
	out := make([]*book.Order, len(orders))
	for i, o := range orders {
		cp := *o
		out[i] = &cp
	}
	return out, nil
}

// RecentFills returns the market's trade history, newest first.
func (e *Engine) RecentFills(marketAddr common.Address) ([]*book.Fill, error) {
	if !e.registry.Exists(marketAddr) {
		return nil, fmt.Errorf("market %s: %w", marketAddr.Hex(), ErrMarketNotFound)
	}
	return e.store.RecentFills(marketAddr, e.cfg.FillHistoryLimit)
}
