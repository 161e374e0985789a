package tracker

import (
	"context"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) ResetPair(ctx context.Context, pair string) error {
	return nil
}
func (n *noopRepo) UpsertLatestTick(ctx context.Context, t domain.PriceTick) error {
	return nil
}
func (n *noopRepo) Close() error {
	return nil
}
