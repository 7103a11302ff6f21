package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Record addresses are derived, not allocated: keccak256 over a
// domain-separated seed tuple, truncated to 20 bytes. Any party holding
// the same inputs recomputes the same address without a lookup table.

const (
	seedMarket = "market"
	seedBids   = "bids"
	seedAsks   = "asks"
	seedLedger = "ledger"
	seedVault  = "vault"
	seedWallet = "wallet"
)

func derive(seeds ...[]byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	for _, s := range seeds {
		h.Write(s)
	}
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:]) // last 20 bytes
}

// MarketAddress derives the market record address for an asset pair.
func MarketAddress(base, quote common.Address) common.Address {
	return derive([]byte(seedMarket), base.Bytes(), quote.Bytes())
}

// BidsAddress derives the bid-book address for a market.
func BidsAddress(market common.Address) common.Address {
	return derive([]byte(seedBids), market.Bytes())
}

// AsksAddress derives the ask-book address for a market.
func AsksAddress(market common.Address) common.Address {
	return derive([]byte(seedAsks), market.Bytes())
}

// LedgerAddress derives a participant's ledger-entry address within a market.
func LedgerAddress(market, owner common.Address) common.Address {
	return derive([]byte(seedLedger), market.Bytes(), owner.Bytes())
}

// VaultAddress derives the market's custody account for one asset.
func VaultAddress(market, asset common.Address) common.Address {
	return derive([]byte(seedVault), market.Bytes(), asset.Bytes())
}

// WalletAddress derives a participant's own custody account for one asset.
func WalletAddress(owner, asset common.Address) common.Address {
	return derive([]byte(seedWallet), owner.Bytes(), asset.Bytes())
}
