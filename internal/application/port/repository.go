package port

import (
	"context"

	"xquote/internal/domain"
)

// Repository mirrors the live snapshot to external storage. It only ever
// holds the latest tick per exchange for the selected pair.
type Repository interface {
	// ResetPair drops mirrored ticks and records the new selection ("" when idle).
	ResetPair(ctx context.Context, pair string) error
	UpsertLatestTick(ctx context.Context, t domain.PriceTick) error
	Close() error
}
