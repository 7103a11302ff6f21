// Package vault is the custody collaborator: it holds asset balances
// for market custody accounts and participant wallets, and exposes the
// atomic transfer primitive the engine settles through. The engine
// never touches balances directly; it stages transfers in a View and
// commits them with the rest of an instruction.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
)

var (
	ErrAccountNotFound     = errors.New("custody account not found")
	ErrAssetMismatch       = errors.New("custody accounts hold different assets")
	ErrInsufficientBalance = errors.New("insufficient custody balance")
)

// Account holds one asset for one address, the token-account model:
// the same owner uses distinct derived addresses per asset.
type Account struct {
	Address common.Address `json:"address"`
	Asset   common.Address `json:"asset"`
	Balance uint64         `json:"balance"`
}

type Vault struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
}

func New() *Vault {
	return &Vault{accounts: make(map[common.Address]*Account)}
}

// EnsureAccount creates the custody account if it does not exist yet.
// Re-ensuring with a different asset is an error.
func (v *Vault) EnsureAccount(addr, asset common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, ok := v.accounts[addr]
	if !ok {
		v.accounts[addr] = &Account{Address: addr, Asset: asset}
		return nil
	}
	if acc.Asset != asset {
		return fmt.Errorf("account %s already holds %s: %w", addr.Hex(), acc.Asset.Hex(), ErrAssetMismatch)
	}
	return nil
}

// Restore injects a persisted account on reload.
func (v *Vault) Restore(acc *Account) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts[acc.Address] = acc
}

// Mint credits freshly issued units to an account. Funding path for
// demos and tests; a real deployment would bridge deposits in here.
func (v *Vault) Mint(addr common.Address, amount uint64) (*Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, ok := v.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("mint to %s: %w", addr.Hex(), ErrAccountNotFound)
	}
	bal, err := ledger.Add(acc.Balance, amount)
	if err != nil {
		return nil, err
	}
	acc.Balance = bal
	return acc, nil
}

// Balance returns the current balance, zero for unknown accounts.
func (v *Vault) Balance(addr common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	acc, ok := v.accounts[addr]
	if !ok {
		return 0
	}
	return acc.Balance
}

// Account returns a copy of the custody account.
func (v *Vault) Account(addr common.Address) (Account, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	acc, ok := v.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// View is a staged set of transfers on top of the vault. Reads see
// staged balances; nothing is visible to the vault until Commit.
type View struct {
	vault    *Vault
	balances map[common.Address]uint64
}

// Begin opens an empty staged view.
func (v *Vault) Begin() *View {
	return &View{vault: v, balances: make(map[common.Address]uint64)}
}

func (w *View) balanceOf(acc *Account) uint64 {
	if bal, ok := w.balances[acc.Address]; ok {
		return bal
	}
	return acc.Balance
}

// Transfer stages an atomic debit/credit between two accounts holding
// the same asset, failing if the staged source balance is insufficient.
func (w *View) Transfer(from, to common.Address, amount uint64) error {
	w.vault.mu.RLock()
	src, okSrc := w.vault.accounts[from]
	dst, okDst := w.vault.accounts[to]
	w.vault.mu.RUnlock()

	if !okSrc {
		return fmt.Errorf("transfer from %s: %w", from.Hex(), ErrAccountNotFound)
	}
	if !okDst {
		return fmt.Errorf("transfer to %s: %w", to.Hex(), ErrAccountNotFound)
	}
	if src.Asset != dst.Asset {
		return fmt.Errorf("transfer %s -> %s: %w", from.Hex(), to.Hex(), ErrAssetMismatch)
	}

	srcBal := w.balanceOf(src)
	if srcBal < amount {
		return fmt.Errorf("transfer of %d from %s (balance %d): %w", amount, from.Hex(), srcBal, ErrInsufficientBalance)
	}
	dstBal, err := ledger.Add(w.balanceOf(dst), amount)
	if err != nil {
		return err
	}

	w.balances[from] = srcBal - amount
	w.balances[to] = dstBal
	return nil
}

// Staged returns copies of the touched accounts carrying their staged
// balances, without applying anything. Used to build the persistence
// batch before the in-memory commit.
func (w *View) Staged() []Account {
	w.vault.mu.RLock()
	defer w.vault.mu.RUnlock()

	out := make([]Account, 0, len(w.balances))
	for addr, bal := range w.balances {
		acc := *w.vault.accounts[addr]
		acc.Balance = bal
		out = append(out, acc)
	}
	return out
}

// Commit applies the staged balances and returns copies of the touched
// accounts for persistence.
func (w *View) Commit() []Account {
	w.vault.mu.Lock()
	defer w.vault.mu.Unlock()

	touched := make([]Account, 0, len(w.balances))
	for addr, bal := range w.balances {
		acc := w.vault.accounts[addr]
		acc.Balance = bal
		touched = append(touched, *acc)
	}
	return touched
}
