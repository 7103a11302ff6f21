package book

import "github.com/ethereum/go-ethereum/common"

// Side of the book an order rests on.
type Side int8

const (
	Bid Side = iota // buy side, matched against asks
	Ask             // sell side, matched against bids
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker order crosses against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a resting limit order. ID comes from the market's monotonic
// sequencer and doubles as the arrival tie-break: within a price level
// lower id means earlier arrival.
type Order struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Price     uint64         `json:"price"` // quote units per base unit
	Size      uint64         `json:"size"`  // remaining base units, always > 0 while resting
	CreatedAt int64          `json:"created_at"` // unix milli, informational only
}

// Fill is one match between a taker instruction and a resting order.
// Price is always the resting order's price.
type Fill struct {
	ID        string         `json:"id"`
	Market    common.Address `json:"market"`
	Taker     common.Address `json:"taker"`
	Maker     common.Address `json:"maker"`
	Price     uint64         `json:"price"`
	Size      uint64         `json:"size"`
	TakerSide Side           `json:"taker_side"`
	Time      int64          `json:"time"` // unix milli
}
