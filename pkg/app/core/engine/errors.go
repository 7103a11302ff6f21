package engine

import (
	"errors"

	"github.com/rapidflow/rapidflow/pkg/app/core/book"
	"github.com/rapidflow/rapidflow/pkg/app/core/ledger"
	"github.com/rapidflow/rapidflow/pkg/app/core/market"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrUnauthorizedAccess = errors.New("unauthorized access")
	ErrNoFundsToSettle    = errors.New("no funds to settle")
	ErrInvalidParam       = errors.New("the param is invalid")
)

// The rest of the taxonomy lives where the failing check lives;
// re-exported here so callers can match everything in one place.
var (
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrMathOverflow      = ledger.ErrMathOverflow
	ErrBookFull          = book.ErrBookFull
	ErrMarketExists      = market.ErrMarketExists
	ErrMarketNotFound    = market.ErrMarketNotFound
)
