package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"storefront-backend/internal/domain"
)

type Availability struct {
	ProductID  string `json:"productId"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	Sufficient bool   `json:"sufficient"`
}

// InventoryService answers advisory stock questions. Nothing is reserved;
// the authoritative check runs inside the order transaction.
type InventoryService struct {
	Products ProductStore
	Cache    AvailabilityCache
	Logger   *zap.Logger
}

func (s *InventoryService) Check(ctx context.Context, productID string, quantity int) (*Availability, error) {
	ctx, span := tracer.Start(ctx, "InventoryService.Check")
	defer span.End()
	if productID == "" {
		return nil, ErrValidation("productId required")
	}
	if quantity < 1 {
		return nil, ErrValidation("quantity must be a positive integer")
	}
	n, err := s.available(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		ProductID:  productID,
		Requested:  quantity,
		Available:  n,
		Sufficient: n >= quantity,
	}, nil
}

func (s *InventoryService) available(ctx context.Context, productID string) (int, error) {
	log := logOrNop(s.Logger)
	if s.Cache != nil {
		n, ok, err := s.Cache.GetAvailability(ctx, productID)
		if err != nil {
			log.Warn("availability cache read failed", zap.String("product_id", productID), zap.Error(err))
		} else if ok {
			return n, nil
		}
	}
	p, err := s.Products.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return 0, ErrNotFound("product")
	}
	if err != nil {
		return 0, persistence("read product", err)
	}
	if s.Cache != nil {
		if err := s.Cache.SetAvailability(ctx, productID, p.Availability); err != nil {
			log.Warn("availability cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return p.Availability, nil
}

// Invalidate drops cached counts after stock changed. On failure the entry
// stays until its TTL runs out.
func (s *InventoryService) Invalidate(ctx context.Context, productIDs ...string) {
	if s == nil || s.Cache == nil || len(productIDs) == 0 {
		return
	}
	if err := s.Cache.Invalidate(ctx, productIDs...); err != nil {
		logOrNop(s.Logger).Warn("availability cache invalidate failed", zap.Strings("product_ids", productIDs), zap.Error(err))
	}
}
