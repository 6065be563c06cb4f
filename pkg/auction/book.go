package auction

import "github.com/hyunjk/darkpool/pkg/sim"

// LevelHandle is a stable index into the book's level arena. Handles stay
// valid until the level is removed; NilLevel is the null handle.
type LevelHandle int32

const NilLevel LevelHandle = -1

type priceLevel struct {
	price int64
	queue []Order // FIFO, arrival order
	prev  LevelHandle
	next  LevelHandle
	live  bool
}

// Book holds one side of the market as a chain of price levels inside an
// arena. The chain is strictly sorted, best price at the head: descending
// for the buy side, ascending for the sell side. Exactly one level exists
// per price.
type Book struct {
	side   Side
	levels []priceLevel
	free   []LevelHandle
	head   LevelHandle
	tail   LevelHandle
}

func NewBook(side Side) *Book {
	return &Book{side: side, head: NilLevel, tail: NilLevel}
}

// BuildBooks partitions a flat order list into a buy book and a sell book,
// replaying Insert in input order so same-price arrival order is kept.
func BuildBooks(orders []Order) (buy, sell *Book) {
	buy, sell = NewBook(Buy), NewBook(Sell)
	for _, o := range orders {
		if o.Side == Buy {
			buy.Insert(o)
		} else {
			sell.Insert(o)
		}
	}
	return buy, sell
}

func (b *Book) Side() Side  { return b.side }
func (b *Book) Empty() bool { return b.head == NilLevel }

func (b *Book) Head() LevelHandle { return b.head }
func (b *Book) Tail() LevelHandle { return b.tail }

func (b *Book) Prev(h LevelHandle) LevelHandle {
	if lv := b.level(h); lv != nil {
		return lv.prev
	}
	return NilLevel
}

func (b *Book) Next(h LevelHandle) LevelHandle {
	if lv := b.level(h); lv != nil {
		return lv.next
	}
	return NilLevel
}

func (b *Book) Price(h LevelHandle) int64 {
	if lv := b.level(h); lv != nil {
		return lv.price
	}
	return 0
}

func (b *Book) LevelLen(h LevelHandle) int {
	if lv := b.level(h); lv != nil {
		return len(lv.queue)
	}
	return 0
}

// Front returns the oldest order still queued at the level.
func (b *Book) Front(h LevelHandle) (Order, bool) {
	if lv := b.level(h); lv != nil && len(lv.queue) > 0 {
		return lv.queue[0], true
	}
	return Order{}, false
}

// PopFront dequeues the oldest order at the level. The level is left in
// place even if emptied; callers remove it via RemoveLevel.
func (b *Book) PopFront(h LevelHandle) (Order, bool) {
	lv := b.level(h)
	if lv == nil || len(lv.queue) == 0 {
		return Order{}, false
	}
	o := lv.queue[0]
	lv.queue = lv.queue[1:]
	return o, true
}

// Queue returns a copy of the level's order queue, oldest first.
func (b *Book) Queue(h LevelHandle) []Order {
	lv := b.level(h)
	if lv == nil {
		return nil
	}
	out := make([]Order, len(lv.queue))
	copy(out, lv.queue)
	return out
}

// Prices walks the chain head to tail.
func (b *Book) Prices() []int64 {
	var out []int64
	for h := b.head; h != NilLevel; h = b.levels[h].next {
		out = append(out, b.levels[h].price)
	}
	return out
}

// worse reports whether an existing level at price a sorts after a new
// order at price b, per this side's direction.
func (b *Book) worse(a, nb int64) bool {
	if b.side == Buy {
		return a < nb
	}
	return a > nb
}

// Insert merges the order into the level at its price, or splices a new
// level into sorted position. O(live levels).
func (b *Book) Insert(o Order) LevelHandle {
	cur := b.head
	for cur != NilLevel {
		lv := &b.levels[cur]
		if lv.price == o.Price {
			lv.queue = append(lv.queue, o)
			return cur
		}
		if b.worse(lv.price, o.Price) {
			break
		}
		cur = lv.next
	}

	h := b.alloc(o.Price)
	b.levels[h].queue = append(b.levels[h].queue, o)

	switch {
	case b.head == NilLevel: // empty chain
		b.head, b.tail = h, h
	case cur == NilLevel: // worst price so far, append at tail
		b.levels[h].prev = b.tail
		b.levels[b.tail].next = h
		b.tail = h
	case b.levels[cur].prev == NilLevel: // new best, prepend
		b.levels[h].next = b.head
		b.levels[b.head].prev = h
		b.head = h
	default: // splice before cur
		p := b.levels[cur].prev
		b.levels[h].prev = p
		b.levels[h].next = cur
		b.levels[p].next = h
		b.levels[cur].prev = h
	}
	return h
}

// RemoveLevel unlinks the level and returns its slot to the arena. No-op
// for NilLevel or an already removed handle.
func (b *Book) RemoveLevel(h LevelHandle) {
	lv := b.level(h)
	if lv == nil {
		return
	}

	switch {
	case h == b.head && h == b.tail:
		b.head, b.tail = NilLevel, NilLevel
	case h == b.head:
		b.head = lv.next
		b.levels[b.head].prev = NilLevel
	case h == b.tail:
		b.tail = lv.prev
		b.levels[b.tail].next = NilLevel
	default:
		b.levels[lv.prev].next = lv.next
		b.levels[lv.next].prev = lv.prev
	}

	*lv = priceLevel{prev: NilLevel, next: NilLevel}
	b.free = append(b.free, h)
}

// PurgeOwner removes every order of the owner whose authenticity
// ciphertext equals encAuth, across all levels of this book. Decoys in a
// batch share one ciphertext, so revealing one fake identifies them all.
// Levels emptied by the purge are removed, except keep, which the caller
// still holds a candidate pointer into. Returns the number of orders
// removed.
func (b *Book) PurgeOwner(owner sim.AgentID, encAuth string, keep LevelHandle) int {
	removed := 0
	h := b.head
	for h != NilLevel {
		lv := &b.levels[h]
		next := lv.next

		kept := lv.queue[:0]
		for _, o := range lv.queue {
			if o.Owner == owner && o.EncAuthenticity == encAuth {
				removed++
				continue
			}
			kept = append(kept, o)
		}
		lv.queue = kept

		if len(lv.queue) == 0 && h != keep {
			b.RemoveLevel(h)
		}
		h = next
	}
	return removed
}

func (b *Book) alloc(price int64) LevelHandle {
	if n := len(b.free); n > 0 {
		h := b.free[n-1]
		b.free = b.free[:n-1]
		b.levels[h] = priceLevel{price: price, prev: NilLevel, next: NilLevel, live: true}
		return h
	}
	b.levels = append(b.levels, priceLevel{price: price, prev: NilLevel, next: NilLevel, live: true})
	return LevelHandle(len(b.levels) - 1)
}

func (b *Book) level(h LevelHandle) *priceLevel {
	if h < 0 || int(h) >= len(b.levels) || !b.levels[h].live {
		return nil
	}
	return &b.levels[h]
}
