package core

import (
	"container/list"

	"github.com/papertrade/engine/internal/domain"
)

// priceLevel is one rung of a ladder: a FIFO queue of resting orders at
// a single price, an element index for O(1) cancellation, and a running
// total of remaining quantity.
type priceLevel struct {
	price domain.Price
	queue *list.List // of *domain.Order
	elems map[domain.OrderID]*list.Element
	total domain.Quantity
}

func newPriceLevel(price domain.Price) *priceLevel {
	return &priceLevel{
		price: price,
		queue: list.New(),
		elems: make(map[domain.OrderID]*list.Element),
	}
}

func (l *priceLevel) add(o *domain.Order) {
	l.elems[o.ID] = l.queue.PushBack(o)
	l.total += o.Remaining()
}

// front is the oldest resting order at this price.
func (l *priceLevel) front() *domain.Order {
	e := l.queue.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*domain.Order)
}

// reduce subtracts filled quantity from the level total after a trade.
func (l *priceLevel) reduce(qty domain.Quantity) {
	l.total -= qty
}

// remove takes an order out of the queue, subtracting whatever quantity
// it still had open.
func (l *priceLevel) remove(id domain.OrderID) (*domain.Order, bool) {
	e, ok := l.elems[id]
	if !ok {
		return nil, false
	}
	delete(l.elems, id)
	o := l.queue.Remove(e).(*domain.Order)
	l.total -= o.Remaining()
	return o, true
}

func (l *priceLevel) empty() bool {
	return l.queue.Len() == 0
}
