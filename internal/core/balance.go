package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/papertrade/engine/internal/domain"
)

// Ledger tracks mock user funds in cents. Every balance movement in an
// order's lifecycle goes through Lock, Unlock, CompleteTrade or
// Transfer, so Available+Locked summed over all users stays constant
// except for Initialize.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.UserID]*domain.UserBalance
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[domain.UserID]*domain.UserBalance)}
}

// Initialize creates or resets a user's balance.
func (l *Ledger) Initialize(user domain.UserID, amount int64) domain.UserBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := &domain.UserBalance{UserID: user, Available: amount}
	l.balances[user] = b
	return *b
}

// Get returns a copy. Unknown users read as empty balances.
func (l *Ledger) Get(user domain.UserID) domain.UserBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[user]; ok {
		return *b
	}
	return domain.UserBalance{UserID: user}
}

// Lock reserves amount for a pending order, moving it from available
// to locked.
func (l *Ledger) Lock(user domain.UserID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative lock amount %d", domain.ErrSystemError, amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[user]
	if !ok || b.Available < amount {
		return fmt.Errorf("%w: user %d cannot lock %d", domain.ErrInsufficientBalance, user, amount)
	}
	b.Available -= amount
	b.Locked += amount
	return nil
}

// Unlock releases a reservation back to available. A failure here means
// an accounting invariant was already broken upstream.
func (l *Ledger) Unlock(user domain.UserID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative unlock amount %d", domain.ErrSystemError, amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[user]
	if !ok || b.Locked < amount {
		return fmt.Errorf("%w: user %d cannot unlock %d", domain.ErrSystemError, user, amount)
	}
	b.Locked -= amount
	b.Available += amount
	return nil
}

// Transfer moves amount between available balances. from == to is legal
// (self-trades net to zero). The receiver is created on first credit.
func (l *Ledger) Transfer(from, to domain.UserID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative transfer amount %d", domain.ErrSystemError, amount)
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fb, ok := l.balances[from]
	if !ok || fb.Available < amount {
		return fmt.Errorf("%w: user %d cannot pay %d", domain.ErrInsufficientBalance, from, amount)
	}
	tb, ok := l.balances[to]
	if !ok {
		tb = &domain.UserBalance{UserID: to}
		l.balances[to] = tb
	}
	fb.Available -= amount
	tb.Available += amount
	return nil
}

// CompleteTrade settles the buyer's side of one fill: the locked
// portion covering the fill is released to available, where Transfer
// then takes the actual spend. Any price improvement simply stays with
// the buyer. lockedAmount is zero for market buys, which lock nothing.
func (l *Ledger) CompleteTrade(user domain.UserID, lockedAmount, actualAmount int64) error {
	if lockedAmount < 0 || actualAmount < 0 {
		return fmt.Errorf("%w: negative settlement amounts %d/%d", domain.ErrSystemError, lockedAmount, actualAmount)
	}
	if lockedAmount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[user]
	if !ok || b.Locked < lockedAmount {
		return fmt.Errorf("%w: user %d cannot settle %d from locked", domain.ErrSystemError, user, lockedAmount)
	}
	b.Locked -= lockedAmount
	b.Available += lockedAmount
	return nil
}

// All returns balance copies sorted by user id, for snapshots.
func (l *Ledger) All() []domain.UserBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.UserBalance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Restore replaces the ledger contents from snapshot records.
func (l *Ledger) Restore(records []domain.BalanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[domain.UserID]*domain.UserBalance, len(records))
	for _, r := range records {
		l.balances[r.UserID] = &domain.UserBalance{
			UserID:    r.UserID,
			Available: r.Available,
			Locked:    r.Locked,
		}
	}
}

// RequiredFunds is the amount locked up-front for an order: buys lock
// price*quantity (zero for market orders, whose price is zero), sells
// lock nothing in this mock.
func RequiredFunds(o *domain.Order) int64 {
	if o.Side == domain.Buy {
		return domain.Notional(o.Price, o.Quantity)
	}
	return 0
}
