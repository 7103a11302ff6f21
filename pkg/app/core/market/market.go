package market

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/rapidflow/rapidflow/pkg/crypto"
)

// Market is the static registry record of one trading pair: asset
// identities, custody addresses and book addresses, all deterministically
// derived so any holder of the pair can recompute them. Created once by
// InitializeMarket and immutable afterwards.
type Market struct {
	Address   common.Address `json:"address"`
	Authority common.Address `json:"authority"`

	BaseAsset  common.Address `json:"base_asset"`
	QuoteAsset common.Address `json:"quote_asset"`

	BaseVault  common.Address `json:"base_vault"`
	QuoteVault common.Address `json:"quote_vault"`

	Bids common.Address `json:"bids"`
	Asks common.Address `json:"asks"`

	CreatedAt int64 `json:"created_at"` // unix milli
}

// New derives a market record for an asset pair.
func New(authority, base, quote common.Address, createdAt int64) *Market {
	addr := crypto.MarketAddress(base, quote)
	return &Market{
		Address:    addr,
		Authority:  authority,
		BaseAsset:  base,
		QuoteAsset: quote,
		BaseVault:  crypto.VaultAddress(addr, base),
		QuoteVault: crypto.VaultAddress(addr, quote),
		Bids:       crypto.BidsAddress(addr),
		Asks:       crypto.AsksAddress(addr),
		CreatedAt:  createdAt,
	}
}
