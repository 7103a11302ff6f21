// Package ledger tracks per-(market, participant) balances for both
// assets of a pair. Locked backs resting orders and pending matches,
// free is withdrawable via settlement. All arithmetic is checked: an
// operation that would overflow or drive a field negative returns an
// error and leaves the entry untouched.
package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMathOverflow      = errors.New("math overflow")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Entry is one participant's balance record within one market.
// Created lazily on first order placement, never deleted.
type Entry struct {
	Market common.Address `json:"market"`
	Owner  common.Address `json:"owner"`

	BaseFree    uint64 `json:"base_free"`
	BaseLocked  uint64 `json:"base_locked"`
	QuoteFree   uint64 `json:"quote_free"`
	QuoteLocked uint64 `json:"quote_locked"`
}

func NewEntry(market, owner common.Address) *Entry {
	return &Entry{Market: market, Owner: owner}
}

// Clone returns an independent copy for transaction staging.
func (e *Entry) Clone() *Entry {
	cp := *e
	return &cp
}

// Add returns a+b, failing on wraparound.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing if b exceeds a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInsufficientFunds
	}
	return a - b, nil
}

// Mul returns a*b, failing on wraparound.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrMathOverflow
	}
	return prod, nil
}

func (e *Entry) LockBase(amount uint64) error {
	v, err := Add(e.BaseLocked, amount)
	if err != nil {
		return err
	}
	e.BaseLocked = v
	return nil
}

func (e *Entry) LockQuote(amount uint64) error {
	v, err := Add(e.QuoteLocked, amount)
	if err != nil {
		return err
	}
	e.QuoteLocked = v
	return nil
}

// UnlockBase releases locked base collateral. Underflow means the books
// and the ledger disagree, which correct bookkeeping never allows.
func (e *Entry) UnlockBase(amount uint64) error {
	v, err := Sub(e.BaseLocked, amount)
	if err != nil {
		return err
	}
	e.BaseLocked = v
	return nil
}

func (e *Entry) UnlockQuote(amount uint64) error {
	v, err := Sub(e.QuoteLocked, amount)
	if err != nil {
		return err
	}
	e.QuoteLocked = v
	return nil
}

func (e *Entry) CreditBase(amount uint64) error {
	v, err := Add(e.BaseFree, amount)
	if err != nil {
		return err
	}
	e.BaseFree = v
	return nil
}

func (e *Entry) CreditQuote(amount uint64) error {
	v, err := Add(e.QuoteFree, amount)
	if err != nil {
		return err
	}
	e.QuoteFree = v
	return nil
}
