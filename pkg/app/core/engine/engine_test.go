package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
	"github.com/rapidflow/rapidflow/pkg/storage"
	"github.com/rapidflow/rapidflow/pkg/util"
)

var (
	baseAsset  = common.HexToAddress("0x0000000000000000000000000000000000000B01")
	quoteAsset = common.HexToAddress("0x0000000000000000000000000000000000000901")

	authority = common.HexToAddress("0x0100000000000000000000000000000000000000")
	alice     = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob       = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol     = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

type testEnv struct {
	t      *testing.T
	eng    *Engine
	vault  *vault.Vault
	store  *storage.Store
	mkt    *market.Market
	path   string
	closed bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")

	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	v := vault.New()
	eng := New(store, v, zap.NewNop(), Config{BookCapacity: 8, FillHistoryLimit: 10})

	mkt, err := eng.InitializeMarket(authority, baseAsset, quoteAsset)
	if err != nil {
		t.Fatalf("initialize market: %v", err)
	}

	env := &testEnv{t: t, eng: eng, vault: v, store: store, mkt: mkt, path: path}
	t.Cleanup(func() {
		if !env.closed {
			env.store.Close()
		}
	})
	return env
}

func (env *testEnv) fund(owner, asset common.Address, amount uint64) common.Address {
	env.t.Helper()
	wallet, err := env.eng.Fund(owner, asset, amount)
	if err != nil {
		env.t.Fatalf("fund %s: %v", owner.Hex(), err)
	}
	return wallet
}

func (env *testEnv) entry(owner common.Address) ledgerEntry {
	env.t.Helper()
	e, err := env.eng.LedgerOf(env.mkt.Address, owner)
	if err != nil {
		env.t.Fatalf("ledger of %s: %v", owner.Hex(), err)
	}
	return ledgerEntry{e.BaseFree, e.BaseLocked, e.QuoteFree, e.QuoteLocked}
}

type ledgerEntry struct {
	baseFree, baseLocked, quoteFree, quoteLocked uint64
}

// checkConservation asserts that each market vault holds exactly the sum
// of all ledger free+locked balances for its asset.
func (env *testEnv) checkConservation() {
	env.t.Helper()
	var baseSum, quoteSum uint64
	for _, owner := range []common.Address{alice, bob, carol} {
		e := env.entry(owner)
		baseSum += e.baseFree + e.baseLocked
		quoteSum += e.quoteFree + e.quoteLocked
	}
	if got := env.vault.Balance(env.mkt.BaseVault); got != baseSum {
		env.t.Errorf("base vault = %d, ledger total = %d", got, baseSum)
	}
	if got := env.vault.Balance(env.mkt.QuoteVault); got != quoteSum {
		env.t.Errorf("quote vault = %d, ledger total = %d", got, quoteSum)
	}
}

func TestRestingOrderCommitsCollateral(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.fund(alice, quoteAsset, 1000)

	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 50, 2)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.OrderID == 0 || res.Filled != 0 {
		t.Fatalf("result = %+v, want resting order with no fill", res)
	}

	if got := env.entry(alice); got != (ledgerEntry{0, 0, 0, 100}) {
		t.Errorf("ledger = %+v, want quote_locked=100", got)
	}
	if got := env.vault.Balance(wallet); got != 900 {
		t.Errorf("wallet = %d, want 900", got)
	}
	if got := env.vault.Balance(env.mkt.QuoteVault); got != 100 {
		t.Errorf("quote vault = %d, want 100", got)
	}
	env.checkConservation()
}

func TestPartialFillKeepsRestingOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 5)
	env.fund(alice, quoteAsset, 300)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 5); err != nil {
		t.Fatalf("place ask: %v", err)
	}
	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 3)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if res.Filled != 3 || res.OrderID != 0 {
		t.Fatalf("result = %+v, want fully matched size 3, nothing resting", res)
	}

	asks, err := env.eng.Orders(env.mkt.Address, book.Ask)
	if err != nil {
		t.Fatal(err)
	}
	if len(asks) != 1 || asks[0].Size != 2 {
		t.Fatalf("ask book = %+v, want one order of size 2", asks)
	}

	if got := env.entry(alice); got != (ledgerEntry{3, 0, 0, 0}) {
		t.Errorf("taker ledger = %+v, want base_free=3", got)
	}
	if got := env.entry(bob); got != (ledgerEntry{0, 2, 300, 0}) {
		t.Errorf("maker ledger = %+v, want base_locked=2 quote_free=300", got)
	}
	env.checkConservation()
}

func TestFullFillRemovesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 5)
	env.fund(alice, quoteAsset, 500)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 5); err != nil {
		t.Fatalf("place ask: %v", err)
	}
	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 5)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if res.Filled != 5 || res.OrderID != 0 {
		t.Fatalf("result = %+v, want full fill and no resting order", res)
	}

	asks, _ := env.eng.Orders(env.mkt.Address, book.Ask)
	bids, _ := env.eng.Orders(env.mkt.Address, book.Bid)
	if len(asks) != 0 || len(bids) != 0 {
		t.Fatalf("books not empty: %d asks, %d bids", len(asks), len(bids))
	}
	if got := env.entry(alice); got != (ledgerEntry{5, 0, 0, 0}) {
		t.Errorf("taker ledger = %+v, want base_free=5", got)
	}
	env.checkConservation()
}

func TestCrossingWalksPriceLevels(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 2)
	env.fund(carol, baseAsset, 2)
	env.fund(alice, quoteAsset, 1000)

	// Best ask first: carol at 90 beats bob at 100.
	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(carol, env.mkt.Address, book.Ask, 90, 2); err != nil {
		t.Fatal(err)
	}

	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 3)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if res.Filled != 3 {
		t.Fatalf("filled = %d, want 3", res.Filled)
	}
	if len(res.Fills) != 2 || res.Fills[0].Maker != carol || res.Fills[0].Price != 90 {
		t.Fatalf("fills = %+v, want carol@90 first", res.Fills)
	}
	if res.Fills[1].Maker != bob || res.Fills[1].Price != 100 || res.Fills[1].Size != 1 {
		t.Fatalf("second fill = %+v, want bob@100 size 1", res.Fills[1])
	}

	if got := env.entry(carol); got != (ledgerEntry{0, 0, 180, 0}) {
		t.Errorf("carol ledger = %+v, want quote_free=180", got)
	}
	env.checkConservation()
}

func TestPriceImprovementUsesRestingPrice(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 5)
	env.fund(alice, quoteAsset, 550)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 5); err != nil {
		t.Fatal(err)
	}
	// Bid at 110 commits 550 but matches at the resting 100.
	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 110, 5)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if res.Filled != 5 {
		t.Fatalf("filled = %d, want 5", res.Filled)
	}
	if res.Fills[0].Price != 100 {
		t.Fatalf("fill price = %d, want resting 100", res.Fills[0].Price)
	}

	// Only the settlement value is released from locked; the committed
	// difference stays locked in market custody.
	if got := env.entry(alice); got != (ledgerEntry{5, 0, 0, 50}) {
		t.Errorf("taker ledger = %+v, want base_free=5 quote_locked=50", got)
	}
	env.checkConservation()
}

func TestSelfMatchBalances(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, baseAsset, 2)
	env.fund(alice, quoteAsset, 200)

	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Ask, 100, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 2); err != nil {
		t.Fatal(err)
	}

	if got := env.entry(alice); got != (ledgerEntry{2, 0, 200, 0}) {
		t.Errorf("ledger = %+v, want base_free=2 quote_free=200, nothing locked", got)
	}
	env.checkConservation()
}

func TestCancelRefundsDirectly(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.fund(alice, quoteAsset, 100)

	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 50, 2)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := env.vault.Balance(wallet); got != 0 {
		t.Fatalf("wallet = %d after place, want 0", got)
	}

	if err := env.eng.CancelOrder(alice, env.mkt.Address, res.OrderID, book.Bid); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	bids, _ := env.eng.Orders(env.mkt.Address, book.Bid)
	if len(bids) != 0 {
		t.Fatalf("bid book = %+v, want empty", bids)
	}
	// Refund goes straight to the wallet, never through free.
	if got := env.entry(alice); got != (ledgerEntry{0, 0, 0, 0}) {
		t.Errorf("ledger = %+v, want all zero", got)
	}
	if got := env.vault.Balance(wallet); got != 100 {
		t.Errorf("wallet = %d, want full 100 refund", got)
	}
	env.checkConservation()
}

func TestCancelUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, quoteAsset, 100)
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 50, 2); err != nil {
		t.Fatal(err)
	}
	before := env.entry(alice)

	err := env.eng.CancelOrder(alice, env.mkt.Address, 999, book.Bid)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}

	bids, _ := env.eng.Orders(env.mkt.Address, book.Bid)
	if len(bids) != 1 {
		t.Fatalf("bid book changed on failed cancel")
	}
	if got := env.entry(alice); got != before {
		t.Errorf("ledger changed on failed cancel: %+v -> %+v", before, got)
	}
}

func TestCancelByNonOwner(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, quoteAsset, 100)
	res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 50, 2)
	if err != nil {
		t.Fatal(err)
	}

	err = env.eng.CancelOrder(bob, env.mkt.Address, res.OrderID, book.Bid)
	if !errors.Is(err, ErrUnauthorizedAccess) {
		t.Fatalf("err = %v, want ErrUnauthorizedAccess", err)
	}

	bids, _ := env.eng.Orders(env.mkt.Address, book.Bid)
	if len(bids) != 1 {
		t.Fatalf("order disappeared after unauthorized cancel")
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 5)
	env.fund(alice, quoteAsset, 500)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 5); err != nil {
		t.Fatal(err)
	}

	if err := env.eng.SettleFunds(alice, env.mkt.Address); err != nil {
		t.Fatalf("settle: %v", err)
	}
	baseWallet := env.fund(alice, baseAsset, 0) // derive wallet address, add nothing
	if got := env.vault.Balance(baseWallet); got != 5 {
		t.Errorf("base wallet = %d after settle, want 5", got)
	}
	if got := env.entry(alice); got != (ledgerEntry{0, 0, 0, 0}) {
		t.Errorf("ledger = %+v after settle, want zero", got)
	}

	err := env.eng.SettleFunds(alice, env.mkt.Address)
	if !errors.Is(err, ErrNoFundsToSettle) {
		t.Fatalf("second settle err = %v, want ErrNoFundsToSettle", err)
	}
	if got := env.vault.Balance(baseWallet); got != 5 {
		t.Errorf("base wallet = %d after no-op settle, want 5", got)
	}
}

func TestSettleWithNoActivity(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.SettleFunds(alice, env.mkt.Address); !errors.Is(err, ErrNoFundsToSettle) {
		t.Fatalf("err = %v, want ErrNoFundsToSettle", err)
	}
}

func TestPlaceWithInsufficientWalletAborts(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.fund(alice, quoteAsset, 100)

	// 50 * 3 = 150 > 100 in the wallet.
	_, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 50, 3)
	if !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if got := env.vault.Balance(wallet); got != 100 {
		t.Errorf("wallet = %d after abort, want 100", got)
	}
	if got := env.entry(alice); got != (ledgerEntry{0, 0, 0, 0}) {
		t.Errorf("ledger = %+v after abort, want untouched", got)
	}
	bids, _ := env.eng.Orders(env.mkt.Address, book.Bid)
	if len(bids) != 0 {
		t.Errorf("bid book not empty after abort")
	}
}

func TestFullBookAbortsWholeInstruction(t *testing.T) {
	env := newTestEnv(t)
	wallet := env.fund(alice, quoteAsset, 10000)

	// Capacity is 8 in the test config.
	for i := 0; i < 8; i++ {
		if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, uint64(10+i), 1); err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
	}
	before := env.entry(alice)
	walletBefore := env.vault.Balance(wallet)

	_, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 9, 1)
	if !errors.Is(err, ErrBookFull) {
		t.Fatalf("err = %v, want ErrBookFull", err)
	}

	// The already-staged collateral commitment must be rolled back too.
	if got := env.vault.Balance(wallet); got != walletBefore {
		t.Errorf("wallet = %d after abort, want %d", got, walletBefore)
	}
	if got := env.entry(alice); got != before {
		t.Errorf("ledger changed on aborted place: %+v -> %+v", before, got)
	}
	env.checkConservation()
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, quoteAsset, 1000)

	var last uint64
	for i := 0; i < 3; i++ {
		res, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, uint64(10+i), 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.OrderID <= last {
			t.Fatalf("order id %d not greater than previous %d", res.OrderID, last)
		}
		last = res.OrderID
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, quoteAsset, 100)

	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 0, 1); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("zero price err = %v, want ErrInvalidParam", err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 1, 0); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("zero size err = %v, want ErrInvalidParam", err)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.eng.InitializeMarket(authority, baseAsset, quoteAsset); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("err = %v, want ErrMarketExists", err)
	}
}

func TestUnknownMarket(t *testing.T) {
	env := newTestEnv(t)
	ghost := common.HexToAddress("0xDEAD000000000000000000000000000000000000")
	if _, err := env.eng.PlaceOrder(alice, ghost, book.Bid, 1, 1); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("err = %v, want ErrMarketNotFound", err)
	}
}

func TestConservationAcrossMixedOps(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, quoteAsset, 10000)
	env.fund(bob, baseAsset, 100)
	env.fund(carol, quoteAsset, 5000)

	mustPlace := func(owner common.Address, side book.Side, price, size uint64) *PlaceResult {
		res, err := env.eng.PlaceOrder(owner, env.mkt.Address, side, price, size)
		if err != nil {
			t.Fatalf("place %s %s %d@%d: %v", owner.Hex(), side, size, price, err)
		}
		return res
	}

	mustPlace(bob, book.Ask, 100, 40)
	mustPlace(alice, book.Bid, 100, 15)
	rest := mustPlace(carol, book.Bid, 95, 10)
	mustPlace(bob, book.Ask, 95, 5) // crosses carol's bid
	env.checkConservation()

	if err := env.eng.CancelOrder(carol, env.mkt.Address, rest.OrderID, book.Bid); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.checkConservation()

	if err := env.eng.SettleFunds(alice, env.mkt.Address); err != nil {
		t.Fatalf("settle alice: %v", err)
	}
	if err := env.eng.SettleFunds(bob, env.mkt.Address); err != nil {
		t.Fatalf("settle bob: %v", err)
	}
	env.checkConservation()
}

func TestRecentFillsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	stamp := time.UnixMilli(1_700_000_000_000)
	env.eng.SetClock(util.FixedClock{T: stamp})
	env.fund(bob, baseAsset, 10)
	env.fund(alice, quoteAsset, 2000)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 2); err != nil {
		t.Fatal(err)
	}

	fills, err := env.eng.RecentFills(env.mkt.Address)
	if err != nil {
		t.Fatalf("recent fills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	for _, f := range fills {
		if f.Maker != bob || f.Taker != alice || f.Price != 100 || f.Size != 2 {
			t.Errorf("fill = %+v, want alice taking 2@100 from bob", f)
		}
		if f.Time != stamp.UnixMilli() {
			t.Errorf("fill time = %d, want %d", f.Time, stamp.UnixMilli())
		}
	}
}

func TestReloadRestoresState(t *testing.T) {
	env := newTestEnv(t)
	env.fund(bob, baseAsset, 5)
	env.fund(alice, quoteAsset, 300)

	if _, err := env.eng.PlaceOrder(bob, env.mkt.Address, book.Ask, 100, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.PlaceOrder(alice, env.mkt.Address, book.Bid, 100, 3); err != nil {
		t.Fatal(err)
	}

	if err := env.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	env.closed = true

	store, err := storage.Open(env.path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	v := vault.New()
	eng := New(store, v, zap.NewNop(), Config{BookCapacity: 8, FillHistoryLimit: 10})
	if err := eng.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	asks, err := eng.Orders(env.mkt.Address, book.Ask)
	if err != nil {
		t.Fatalf("orders after reload: %v", err)
	}
	if len(asks) != 1 || asks[0].Size != 2 || asks[0].Owner != bob {
		t.Fatalf("reloaded ask book = %+v, want bob's order of size 2", asks)
	}

	e, err := eng.LedgerOf(env.mkt.Address, bob)
	if err != nil {
		t.Fatal(err)
	}
	if e.BaseLocked != 2 || e.QuoteFree != 300 {
		t.Errorf("reloaded bob ledger = %+v, want base_locked=2 quote_free=300", e)
	}

	if got := v.Balance(env.mkt.BaseVault); got != 5 {
		t.Errorf("reloaded base vault = %d, want 5", got)
	}

	// The sequencer resumes past every issued id.
	if _, err := eng.Fund(carol, quoteAsset, 100); err != nil {
		t.Fatal(err)
	}
	res, err := eng.PlaceOrder(carol, env.mkt.Address, book.Bid, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID <= 1 {
		t.Errorf("order id after reload = %d, want > 1", res.OrderID)
	}
}
