// Package book holds one side of a market's resting liquidity in
// price-time priority: best price first, earlier arrival first within a
// price level. The ladder is a skiplist of FIFO price levels with an id
// index for direct cancellation.
package book

import (
	"encoding/json"
	"errors"

	"github.com/huandu/skiplist"
)

// ErrBookFull rejects an insertion past the fixed resting-order
// capacity. The caller aborts the whole instruction; the book is never
// silently truncated.
var ErrBookFull = errors.New("order book is at capacity")

type level struct {
	orders []*Order // FIFO, earliest arrival first
}

type Book struct {
	side     Side
	capacity int
	count    int

	ladder *skiplist.SkipList       // price -> *level, best price first
	levels map[uint64]*skiplist.Element
	byID   map[uint64]*Order
}

// New creates an empty book for one side. Bids sort non-increasing by
// price, asks non-decreasing.
func New(side Side, capacity int) *Book {
	cmp := skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		p1, _ := lhs.(uint64)
		p2, _ := rhs.(uint64)

		if p1 == p2 {
			return 0
		}
		if side == Bid {
			// Highest price first.
			if p1 > p2 {
				return -1
			}
			return 1
		}
		// Lowest price first.
		if p1 < p2 {
			return -1
		}
		return 1
	})

	return &Book{
		side:     side,
		capacity: capacity,
		ladder:   skiplist.New(cmp),
		levels:   make(map[uint64]*skiplist.Element),
		byID:     make(map[uint64]*Order),
	}
}

func (b *Book) Side() Side    { return b.side }
func (b *Book) Capacity() int { return b.capacity }
func (b *Book) Len() int      { return b.count }

// Best returns the head of the book: the order every taker crosses
// first. Nil if the book is empty.
func (b *Book) Best() *Order {
	front := b.ladder.Front()
	if front == nil {
		return nil
	}
	lv, _ := front.Value.(*level)
	if len(lv.orders) == 0 {
		return nil
	}
	return lv.orders[0]
}

// Get returns the resting order with the given id.
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Insert places an order at its sort position. Orders carry monotonic
// ids, so appending to the price level keeps FIFO arrival order.
func (b *Book) Insert(o *Order) error {
	if b.count >= b.capacity {
		return ErrBookFull
	}

	el, ok := b.levels[o.Price]
	if ok {
		lv, _ := el.Value.(*level)
		lv.orders = append(lv.orders, o)
	} else {
		el = b.ladder.Set(o.Price, &level{orders: []*Order{o}})
		b.levels[o.Price] = el
	}

	b.byID[o.ID] = o
	b.count++
	return nil
}

// Remove takes the order with the given id out of the book, preserving
// the order of everything else.
func (b *Book) Remove(id uint64) (*Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}

	el := b.levels[o.Price]
	lv, _ := el.Value.(*level)
	for i, cur := range lv.orders {
		if cur.ID == id {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			break
		}
	}
	if len(lv.orders) == 0 {
		b.ladder.Remove(o.Price)
		delete(b.levels, o.Price)
	}

	delete(b.byID, id)
	b.count--
	return o, true
}

// Orders returns every resting order in priority order.
func (b *Book) Orders() []*Order {
	out := make([]*Order, 0, b.count)
	for el := b.ladder.Front(); el != nil; el = el.Next() {
		lv, _ := el.Value.(*level)
		out = append(out, lv.orders...)
	}
	return out
}

// PriceLevel aggregates resting size at one price.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
	Count int    `json:"count"`
}

// Levels returns the aggregated depth ladder in priority order.
func (b *Book) Levels() []PriceLevel {
	out := make([]PriceLevel, 0, b.ladder.Len())
	for el := b.ladder.Front(); el != nil; el = el.Next() {
		lv, _ := el.Value.(*level)
		var total uint64
		for _, o := range lv.orders {
			total += o.Size
		}
		out = append(out, PriceLevel{Price: b.keyOf(el), Size: total, Count: len(lv.orders)})
	}
	return out
}

func (b *Book) keyOf(el *skiplist.Element) uint64 {
	p, _ := el.Key().(uint64)
	return p
}

// Clone returns an independent copy for transaction staging. Order
// structs are copied, not shared.
func (b *Book) Clone() *Book {
	cp := New(b.side, b.capacity)
	for _, o := range b.Orders() {
		oc := *o
		// Insert cannot fail: same capacity, same count.
		_ = cp.Insert(&oc)
	}
	return cp
}

// bookState is the persisted shape of a book.
type bookState struct {
	Side     Side     `json:"side"`
	Capacity int      `json:"capacity"`
	Orders   []*Order `json:"orders"`
}

func (b *Book) MarshalJSON() ([]byte, error) {
	return json.Marshal(bookState{
		Side:     b.side,
		Capacity: b.capacity,
		Orders:   b.Orders(),
	})
}

func (b *Book) UnmarshalJSON(data []byte) error {
	var st bookState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	*b = *New(st.Side, st.Capacity)
	for _, o := range st.Orders {
		if err := b.Insert(o); err != nil {
			return err
		}
	}
	return nil
}
