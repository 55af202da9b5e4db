package matching

// priceEntry is one (price, sequence, order-id) triple held in a best-price
// index. Sequence is the per-book monotonic submission counter; it breaks
// ties between entries at the same price so pops occur in FIFO order.
type priceEntry struct {
	price   float64
	seq     uint64
	orderID string
}

// priceHeap is a container/heap.Interface over priceEntry. When descending
// is true the largest price sorts first (the buy-side order book index, and
// the sell-stop index, whose best entry is the highest stop-price still
// below the last trade); when false the smallest price sorts first (the
// sell-side book index, and the buy-stop index). It is lazy: entries for
// cancelled or already-removed orders may linger until compact() (book
// indexes, book.go) or popTriggered() (stop indexes, stops.go) prunes them.
type priceHeap struct {
	entries    []priceEntry
	descending bool
}

func newPriceHeap(descending bool) *priceHeap {
	return &priceHeap{descending: descending}
}

func (h priceHeap) Len() int { return len(h.entries) }

func (h priceHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.price == b.price {
		return a.seq < b.seq
	}
	if h.descending {
		return a.price > b.price
	}
	return a.price < b.price
}

func (h priceHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *priceHeap) Push(x interface{}) {
	h.entries = append(h.entries, x.(priceEntry))
}

func (h *priceHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

func (h *priceHeap) peek() (priceEntry, bool) {
	if len(h.entries) == 0 {
		return priceEntry{}, false
	}
	return h.entries[0], true
}
