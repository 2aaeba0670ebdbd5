package cache

import (
	"context"

	"htxsale/backend/internal/domain"
)

// PricingCache fronts the pricing singleton. The receipt preview fetches
// prices on every render, so reads dwarf writes; a short TTL keeps the
// cache honest if an admin updates prices from another process.
type PricingCache interface {
	Get(ctx context.Context) (*domain.Pricing, bool, error)
	Set(ctx context.Context, pricing domain.Pricing) error
	Invalidate(ctx context.Context) error
}

type NoopPricingCache struct{}

func (NoopPricingCache) Get(_ context.Context) (*domain.Pricing, bool, error) {
	return nil, false, nil
}

func (NoopPricingCache) Set(_ context.Context, _ domain.Pricing) error {
	return nil
}

func (NoopPricingCache) Invalidate(_ context.Context) error {
	return nil
}
