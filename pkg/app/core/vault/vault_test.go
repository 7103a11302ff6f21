package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	usdc = common.HexToAddress("0x0000000000000000000000000000000000000901")
	sol  = common.HexToAddress("0x0000000000000000000000000000000000000B01")

	walletA = common.HexToAddress("0xA100000000000000000000000000000000000000")
	walletB = common.HexToAddress("0xB100000000000000000000000000000000000000")
)

func newFunded(t *testing.T) *Vault {
	t.Helper()
	v := New()
	if err := v.EnsureAccount(walletA, usdc); err != nil {
		t.Fatalf("ensure A: %v", err)
	}
	if err := v.EnsureAccount(walletB, usdc); err != nil {
		t.Fatalf("ensure B: %v", err)
	}
	if _, err := v.Mint(walletA, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return v
}

func TestEnsureAccountAssetMismatch(t *testing.T) {
	v := New()
	if err := v.EnsureAccount(walletA, usdc); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Idempotent with same asset.
	if err := v.EnsureAccount(walletA, usdc); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if err := v.EnsureAccount(walletA, sol); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("err = %v, want ErrAssetMismatch", err)
	}
}

func TestViewTransferStagesUntilCommit(t *testing.T) {
	v := newFunded(t)

	w := v.Begin()
	if err := w.Transfer(walletA, walletB, 400); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Nothing visible before commit.
	if got := v.Balance(walletA); got != 1000 {
		t.Fatalf("balance A = %d before commit, want 1000", got)
	}
	if got := v.Balance(walletB); got != 0 {
		t.Fatalf("balance B = %d before commit, want 0", got)
	}

	touched := w.Commit()
	if len(touched) != 2 {
		t.Fatalf("touched = %d accounts, want 2", len(touched))
	}
	if got := v.Balance(walletA); got != 600 {
		t.Errorf("balance A = %d, want 600", got)
	}
	if got := v.Balance(walletB); got != 400 {
		t.Errorf("balance B = %d, want 400", got)
	}
}

func TestViewTransferInsufficient(t *testing.T) {
	v := newFunded(t)

	w := v.Begin()
	if err := w.Transfer(walletA, walletB, 600); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	// The staged view sees the first debit: only 400 left.
	err := w.Transfer(walletA, walletB, 500)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Dropping the view leaves the vault untouched.
	if got := v.Balance(walletA); got != 1000 {
		t.Errorf("balance A = %d after dropped view, want 1000", got)
	}
}

func TestTransferUnknownAccount(t *testing.T) {
	v := newFunded(t)
	ghost := common.HexToAddress("0xDEAD000000000000000000000000000000000000")

	w := v.Begin()
	if err := w.Transfer(ghost, walletB, 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if err := w.Transfer(walletA, ghost, 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestTransferAssetMismatch(t *testing.T) {
	v := newFunded(t)
	solWallet := common.HexToAddress("0xC100000000000000000000000000000000000000")
	if err := v.EnsureAccount(solWallet, sol); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	w := v.Begin()
	if err := w.Transfer(walletA, solWallet, 1); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("err = %v, want ErrAssetMismatch", err)
	}
}
