package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"htxsale/backend/internal/cache"
	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var ErrMissingHtx = errors.New("missing htx")

type Service struct {
	repo         store.Repository
	pricingCache cache.PricingCache
	htxList      []string
}

func New(repo store.Repository, pricingCache cache.PricingCache, htxList []string) *Service {
	if pricingCache == nil {
		pricingCache = cache.NoopPricingCache{}
	}

	return &Service{
		repo:         repo,
		pricingCache: pricingCache,
		htxList:      htxList,
	}
}

// HTXList returns the configured cooperative units.
func (s *Service) HTXList() []string {
	out := make([]string, len(s.htxList))
	copy(out, s.htxList)
	return out
}

func (s *Service) isConfiguredHtx(htx string) bool {
	for _, name := range s.htxList {
		if name == htx {
			return true
		}
	}
	return false
}

func (s *Service) GetPricing(ctx context.Context) (domain.Pricing, error) {
	if cached, ok, err := s.pricingCache.Get(ctx); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: pricing cache read failed: %v", err)
	}

	pricing, err := s.repo.GetPricing(ctx)
	if err != nil {
		return domain.Pricing{}, err
	}

	if err := s.pricingCache.Set(ctx, pricing); err != nil {
		log.Printf("[service] WARN: pricing cache write failed: %v", err)
	}
	return pricing, nil
}

func (s *Service) SetPricing(ctx context.Context, pricing domain.Pricing) (domain.Pricing, error) {
	if pricing.LogoPrice < 0 || pricing.CardPrice < 0 || pricing.TshirtPrice < 0 {
		return domain.Pricing{}, store.ErrValidation
	}

	saved, err := s.repo.SetPricing(ctx, pricing)
	if err != nil {
		return domain.Pricing{}, err
	}

	if err := s.pricingCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: pricing cache invalidate failed: %v", err)
	}
	return saved, nil
}

// GetInventory reports canonical stock for one HTX in the per-good shape
// the dashboard polls.
func (s *Service) GetInventory(ctx context.Context, htx string) (domain.InventoryResponse, error) {
	htx = strings.TrimSpace(htx)
	if htx == "" {
		return domain.InventoryResponse{}, ErrMissingHtx
	}

	stock, err := s.repo.GetStock(ctx, htx)
	if err != nil {
		return domain.InventoryResponse{}, err
	}

	return domain.InventoryResponse{
		Logo:   domain.GoodQuantity{Quantity: stock.LogoStock},
		Card:   domain.GoodQuantity{Quantity: stock.CardStock},
		Tshirt: domain.GoodQuantity{Quantity: stock.TshirtStock},
	}, nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.HtxStock, error) {
	return s.repo.ListStock(ctx)
}

// SetStock provisions or replenishes a cooperative unit's counters. Stock
// rows never spring into existence on first bill; this is the only door.
func (s *Service) SetStock(ctx context.Context, req domain.StockSetRequest) (domain.HtxStock, error) {
	htx := strings.TrimSpace(req.Htx)
	if htx == "" {
		return domain.HtxStock{}, ErrMissingHtx
	}
	if !s.isConfiguredHtx(htx) {
		return domain.HtxStock{}, store.ErrUnknownHtx
	}
	if req.LogoStock == nil || req.CardStock == nil || req.TshirtStock == nil {
		return domain.HtxStock{}, store.ErrValidation
	}
	if *req.LogoStock < 0 || *req.CardStock < 0 || *req.TshirtStock < 0 {
		return domain.HtxStock{}, store.ErrValidation
	}

	saved, err := s.repo.SetStock(ctx, htx, *req.LogoStock, *req.CardStock, *req.TshirtStock)
	if err != nil {
		return domain.HtxStock{}, err
	}
	return *saved, nil
}

// IssueBill validates and normalizes the request, then hands it to the
// repository, which runs the whole issuance sequence in one transaction.
func (s *Service) IssueBill(ctx context.Context, req domain.BillRequest) (domain.Bill, error) {
	req.Htx = strings.TrimSpace(req.Htx)
	if req.Htx == "" {
		return domain.Bill{}, ErrMissingHtx
	}
	if req.LogoQty < 0 || req.CardQty < 0 || req.TshirtQty < 0 {
		return domain.Bill{}, store.ErrValidation
	}

	if actor, ok := ActorFromContext(ctx); ok && strings.TrimSpace(req.SaleUsername) == "" {
		req.SaleUsername = actor.Username
	}

	bill, err := s.repo.IssueBill(ctx, req)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, saleUsername string, dateFrom string, dateTo string) ([]domain.Bill, error) {
	filter := domain.BillFilter{SaleUsername: strings.TrimSpace(saleUsername)}

	if from, err := parseDate(dateFrom); err != nil {
		return nil, store.ErrValidation
	} else if from != nil {
		filter.DateFrom = from
	}
	if to, err := parseDate(dateTo); err != nil {
		return nil, store.ErrValidation
	} else if to != nil {
		filter.DateTo = to
	}

	return s.repo.ListBills(ctx, filter)
}

func (s *Service) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Bill{}, store.ErrNotFound
	}
	bill, err := s.repo.GetBillByID(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) SearchDrivers(ctx context.Context, query domain.DriverQuery) ([]domain.Driver, error) {
	return s.repo.SearchDrivers(ctx, query)
}

func (s *Service) ListLegacyGoods(ctx context.Context, good domain.Good) ([]domain.LegacyGoodRow, error) {
	return s.repo.ListLegacyGoods(ctx, good)
}

func (s *Service) ListLegacyOrders(ctx context.Context) ([]domain.LegacyOrder, error) {
	return s.repo.ListLegacyOrders(ctx)
}

func (s *Service) GetLegacyOrder(ctx context.Context, id string) (domain.LegacyOrder, error) {
	order, err := s.repo.GetLegacyOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.LegacyOrder{}, err
	}
	return *order, nil
}

// parseDate accepts a calendar date (2006-01-02); empty input means no bound.
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
