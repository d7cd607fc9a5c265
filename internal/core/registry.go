package core

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papertrade/engine/internal/domain"
)

// Registry owns every order the engine has accepted, keyed by id, and
// issues order ids. It also fronts the ledger for the order lifecycle:
// an order is registered only after its funds are locked, and
// cancellation refunds through the same ledger under the registry lock.
type Registry struct {
	ledger *Ledger
	nextID atomic.Uint64

	mu     sync.Mutex
	orders map[domain.OrderID]*domain.Order
}

func NewRegistry(ledger *Ledger) *Registry {
	return &Registry{
		ledger: ledger,
		orders: make(map[domain.OrderID]*domain.Order),
	}
}

func validateOrder(o *domain.Order) error {
	if o.Symbol == "" {
		return domain.ErrInvalidSymbol
	}
	if o.Quantity == 0 {
		return domain.ErrInvalidQuantity
	}
	if o.Type == domain.Limit && o.Price <= 0 {
		return fmt.Errorf("%w: limit orders need a positive price", domain.ErrInvalidPrice)
	}
	if o.Type == domain.Market && o.Price != 0 {
		return fmt.Errorf("%w: market orders carry no price", domain.ErrInvalidPrice)
	}
	return nil
}

// Create validates, locks funds and registers a new order. The
// returned pointer is the registry's own; the matcher and the order's
// book share it. A rejected order comes back with status REJECTED and
// is not registered, so it cannot be queried or cancelled later.
func (r *Registry) Create(user domain.UserID, symbol string, side domain.Side, typ domain.OrderType,
	tif domain.TimeInForce, price domain.Price, qty domain.Quantity) (*domain.Order, error) {

	o := &domain.Order{
		UserID:    user,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		TIF:       tif,
		Price:     price,
		Quantity:  qty,
		Status:    domain.Pending,
		CreatedAt: time.Now(),
	}
	if err := validateOrder(o); err != nil {
		o.Status = domain.Rejected
		return o, err
	}
	locked := RequiredFunds(o)
	if err := r.ledger.Lock(user, locked); err != nil {
		o.Status = domain.Rejected
		return o, err
	}
	o.ID = domain.OrderID(r.nextID.Add(1))

	r.mu.Lock()
	if _, exists := r.orders[o.ID]; exists {
		r.mu.Unlock()
		_ = r.ledger.Unlock(user, locked)
		o.Status = domain.Rejected
		return o, fmt.Errorf("%w: %d", domain.ErrDuplicateOrder, o.ID)
	}
	r.orders[o.ID] = o
	r.mu.Unlock()
	return o, nil
}

func (r *Registry) Get(id domain.OrderID) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	return *o, nil
}

// ApplyFill adds qty to an order's filled quantity and recomputes its
// status. Terminal orders are refused, so a cancel that won the race
// against the matcher can never be filled afterwards.
func (r *Registry) ApplyFill(id domain.OrderID, qty domain.Quantity) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	if o.Status.Terminal() {
		return *o, fmt.Errorf("%w: order %d is %s", domain.ErrSystemError, id, o.Status)
	}
	if qty == 0 || qty > o.Remaining() {
		return *o, fmt.Errorf("%w: fill %d exceeds remaining %d on order %d",
			domain.ErrSystemError, qty, o.Remaining(), id)
	}
	o.Filled += qty
	if o.Filled == o.Quantity {
		o.Status = domain.Filled
	} else {
		o.Status = domain.PartiallyFilled
	}
	return *o, nil
}

func (r *Registry) UpdateStatus(id domain.OrderID, status domain.OrderStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	o.Status = status
	return *o, nil
}

// Cancel refunds the locked remainder for buys and marks the order
// CANCELLED. Removing it from its book is the caller's job.
func (r *Registry) Cancel(id domain.OrderID) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	if o.Status.Terminal() {
		return *o, fmt.Errorf("%w: order %d already %s", domain.ErrSystemError, id, o.Status)
	}
	if o.Side == domain.Buy {
		if err := r.ledger.Unlock(o.UserID, domain.Notional(o.Price, o.Remaining())); err != nil {
			return *o, err
		}
	}
	o.Status = domain.Cancelled
	return *o, nil
}

func (r *Registry) UserOrders(user domain.UserID) []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == user {
			out = append(out, *o)
		}
	}
	sortOrdersByID(out)
	return out
}

// ActiveOrders returns copies of the symbol's PENDING and
// PARTIALLY_FILLED orders.
func (r *Registry) ActiveOrders(symbol string) []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Symbol == symbol && (o.Status == domain.Pending || o.Status == domain.PartiallyFilled) {
			out = append(out, *o)
		}
	}
	sortOrdersByID(out)
	return out
}

// AllOrders returns copies of every registered order, for snapshots.
func (r *Registry) AllOrders() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	sortOrdersByID(out)
	return out
}

// ref hands out the live pointer for book restoration; callers must
// respect the field-mutation discipline (Filled and Status only change
// under the owning locks).
func (r *Registry) ref(id domain.OrderID) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

// Restore replaces the registry contents and advances the id counter
// past the highest restored id.
func (r *Registry) Restore(orders []domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[domain.OrderID]*domain.Order, len(orders))
	var maxID uint64
	for i := range orders {
		o := orders[i]
		r.orders[o.ID] = &o
		if uint64(o.ID) > maxID {
			maxID = uint64(o.ID)
		}
	}
	r.nextID.Store(maxID)
}

func sortOrdersByID(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
