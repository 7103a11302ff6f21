package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// Design principles:
// 1. Prefix-based for range scans (all ledgers of a market, all trades)
// 2. Lexicographic ordering for time-based queries (zero-padded stamps)
// 3. Derived record address as primary key

const (
	prefixMarket = "mkt:"   // market record
	prefixBook   = "book:"  // one side's resting orders
	prefixLedger = "led:"   // ledger entry
	prefixVault  = "vlt:"   // custody account balance
	prefixSeq    = "seq:"   // order-id sequencer position
	prefixFill   = "fill:"  // trade history
)

// marketKey: "mkt:{address}"
func marketKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMarket, addr.Hex()))
}

func marketPrefix() []byte {
	return []byte(prefixMarket)
}

// bookKey: "book:{bookAddress}"
func bookKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBook, addr.Hex()))
}

// ledgerKey: "led:{market}:{owner}"
func ledgerKey(market, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixLedger, market.Hex(), owner.Hex()))
}

// ledgerPrefix: "led:{market}:" — all entries of one market
func ledgerPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixLedger, market.Hex()))
}

// vaultKey: "vlt:{address}"
func vaultKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixVault, addr.Hex()))
}

func vaultPrefix() []byte {
	return []byte(prefixVault)
}

// seqKey: "seq:{market}"
func seqKey(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSeq, market.Hex()))
}

// fillKey: "fill:{market}:{timestamp}:{fillID}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting.
func fillKey(market common.Address, timestamp int64, fillID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixFill, market.Hex(), timestamp, fillID))
}

// fillPrefix: "fill:{market}:" — all fills of one market
func fillPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, market.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
