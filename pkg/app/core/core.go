// Package core re-exports the exchange subpackages behind one import
// path for callers that want the whole surface.
package core

import (
	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/engine"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
)

// From book package
type (
	Side       = book.Side
	Order      = book.Order
	Fill       = book.Fill
	PriceLevel = book.PriceLevel
	Book       = book.Book
)

const (
	Bid = book.Bid
	Ask = book.Ask
)

func NewBook(side Side, capacity int) *Book {
	return book.New(side, capacity)
}

// From ledger package
type LedgerEntry = ledger.Entry

// From market package
type (
	Market   = market.Market
	Registry = market.Registry
)

func NewRegistry() *Registry {
	return market.NewRegistry()
}

// From vault package
type Vault = vault.Vault

func NewVault() *Vault {
	return vault.New()
}

// From engine package
type (
	Engine       = engine.Engine
	EngineConfig = engine.Config
	PlaceResult  = engine.PlaceResult
)

// Error taxonomy, one place to match against.
var (
	ErrOrderNotFound      = engine.ErrOrderNotFound
	ErrUnauthorizedAccess = engine.ErrUnauthorizedAccess
	ErrInsufficientFunds  = engine.ErrInsufficientFunds
	ErrMathOverflow       = engine.ErrMathOverflow
	ErrNoFundsToSettle    = engine.ErrNoFundsToSettle
	ErrBookFull           = engine.ErrBookFull
	ErrMarketExists       = engine.ErrMarketExists
	ErrMarketNotFound     = engine.ErrMarketNotFound
	ErrInvalidParam       = engine.ErrInvalidParam
)
