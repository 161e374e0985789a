package composite

import (
	"context"
	"errors"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) ResetPair(ctx context.Context, pair string) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.ResetPair(ctx, pair); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.PriceTick) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestTick(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
