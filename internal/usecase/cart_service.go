package usecase

import (
	"context"
	"errors"
	"time"

	"storefront-backend/internal/domain"
)

// CartService keeps the lines that a cart-sourced order consumes.
type CartService struct {
	Tx       TxManager
	Products ProductStore
	Carts    CartStore
	Now      func() time.Time
}

// Add puts productID in the cart, or raises the quantity of an existing line.
func (s *CartService) Add(ctx context.Context, userID, productID string, quantity int) (*domain.CartItem, error) {
	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	if productID == "" {
		return nil, ErrValidation("productId required")
	}
	if quantity < 1 {
		return nil, ErrValidation("quantity must be a positive integer")
	}
	var item *domain.CartItem
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.Products.GetProduct(ctx, productID); err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return ErrNotFound("product " + productID)
			}
			return err
		}
		items, err := s.Carts.CartItems(ctx, userID)
		if err != nil {
			return err
		}
		item = &domain.CartItem{UserID: userID, ProductID: productID, Quantity: quantity, AddedAt: clock(s.Now)}
		for _, it := range items {
			if it.ProductID == productID {
				item.Quantity += it.Quantity
				item.AddedAt = it.AddedAt
			}
		}
		return s.Carts.PutCartItem(ctx, item)
	})
	if err != nil {
		return nil, domainErr("cart", err)
	}
	return item, nil
}

func (s *CartService) List(ctx context.Context, userID string) ([]domain.CartItem, error) {
	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	items, err := s.Carts.CartItems(ctx, userID)
	if err != nil {
		return nil, persistence("list cart", err)
	}
	return items, nil
}

func (s *CartService) Remove(ctx context.Context, userID, productID string) error {
	if userID == "" {
		return ErrUnauthorized("missing user identity")
	}
	if err := s.Carts.RemoveCartItems(ctx, userID, productID); err != nil {
		return persistence("remove cart item", err)
	}
	return nil
}
