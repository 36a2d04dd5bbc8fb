// internal/domain/appointment/repository.go
package appointment

import "context"

// WatchRepository persists watches.
type WatchRepository interface {
	Add(ctx context.Context, criteria SearchCriteria) (int64, error)
	Remove(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Watch, error)
}

// SeenRepository is the dedup ledger of already notified slots.
type SeenRepository interface {
	HasSeen(ctx context.Context, key SeenKey) (bool, error)
	// MarkSeen is idempotent.
	MarkSeen(ctx context.Context, key SeenKey) error
}
