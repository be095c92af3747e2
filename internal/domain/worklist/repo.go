package worklist

import (
	"context"
)

// WorklistRepository persists worklists.
type WorklistRepository interface {
	// Create fills ID and timestamps. A taken name yields ErrDuplicateName.
	Create(ctx context.Context, wl *WorkList) error
	GetByID(ctx context.Context, id int64) (*WorkList, error)
	GetByName(ctx context.Context, name string) (*WorkList, error)
	Update(ctx context.Context, wl *WorkList) error
	Delete(ctx context.Context, id int64) error
	ListAll(ctx context.Context, limit, offset int) ([]*WorkList, int, error)
	ListSubscribed(ctx context.Context, userID int64) ([]*WorkList, error)
	ListUnsubscribed(ctx context.Context, userID int64) ([]*WorkList, error)
}

// SubscriptionRepository persists user/worklist subscriptions.
type SubscriptionRepository interface {
	// Add inserts sub unless the pair already exists.
	Add(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, userID, worklistID int64) (*Subscription, error)
	// Remove deletes and returns the pair, or ErrSubscriptionMissing.
	Remove(ctx context.Context, userID, worklistID int64) (*Subscription, error)
	DeleteByWorklist(ctx context.Context, worklistID int64) (int64, error)
}

// MembershipRepository persists orders placed on worklists.
type MembershipRepository interface {
	// AddIfAbsent inserts m and leaves an existing row untouched.
	AddIfAbsent(ctx context.Context, m Membership) error
	// Upsert inserts m or overwrites the existing row's metadata.
	Upsert(ctx context.Context, m Membership) error
	Get(ctx context.Context, worklistID, orderID int64) (*Membership, error)
	ListByWorklist(ctx context.Context, worklistID int64) ([]Membership, error)
	// FirstByOrders returns, per order, the membership with the lowest worklist id.
	FirstByOrders(ctx context.Context, orderIDs []int64) (map[int64]Membership, error)
	Remove(ctx context.Context, worklistID int64, orderIDs []int64) ([]Membership, error)
	DeleteByWorklist(ctx context.Context, worklistID int64) (int64, error)
	// SetStatus and SetPriority apply to every worklist holding the orders.
	SetStatus(ctx context.Context, orderIDs []int64, status string) error
	SetPriority(ctx context.Context, orderIDs []int64, priority int) error
	SetNote(ctx context.Context, worklistID int64, orderIDs []int64, note string) error
}
