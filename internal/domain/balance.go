package domain

// UserBalance tracks mock funds in cents. Available + Locked is the
// user's total; locking moves value between the two buckets.
type UserBalance struct {
	UserID    UserID
	Available int64
	Locked    int64
}

func (b UserBalance) Total() int64 {
	return b.Available + b.Locked
}
