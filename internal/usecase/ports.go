package usecase

import (
	"context"
	"time"

	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/mail"
)

// TxManager runs fn inside one atomic unit of work. Stores called with the
// ctx handed to fn take part in the same transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	// AdjustAvailability adds delta to the product's availability. A
	// negative delta that would go below zero fails with
	// domain.ErrInsufficientAvailability and changes nothing.
	AdjustAvailability(ctx context.Context, id string, delta int) error
	PutProduct(ctx context.Context, p *domain.Product) error
}

type OrderStore interface {
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, o *domain.Order) error
}

type OTPStore interface {
	// LockOTPs serializes issuance for (email, purpose) until the enclosing
	// transaction ends.
	LockOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) error
	InvalidateActiveOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) (int, error)
	InsertOTP(ctx context.Context, o *domain.OtpVerification) error
	// LatestUnusedOTP returns the newest record with used=false, expired or not.
	LatestUnusedOTP(ctx context.Context, email string, purpose domain.OtpPurpose) (*domain.OtpVerification, error)
	// UsedOTPs returns used records for (email, purpose) that expire after now:
	// codes that were consumed or superseded but are still within their TTL.
	UsedOTPs(ctx context.Context, email string, purpose domain.OtpPurpose, now time.Time) ([]domain.OtpVerification, error)
	UpdateOTP(ctx context.Context, o *domain.OtpVerification) error
	PurgeOTPs(ctx context.Context, now time.Time) (int, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	InsertUser(ctx context.Context, u *domain.User) error
}

type CartStore interface {
	CartItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	PutCartItem(ctx context.Context, it *domain.CartItem) error
	RemoveCartItems(ctx context.Context, userID string, productIDs ...string) error
}

type CategoryStore interface {
	InsertCategory(ctx context.Context, c *domain.Category) error
}

type Mailer interface {
	Send(ctx context.Context, m mail.Message) error
}

// AvailabilityCache caches product availability for the advisory read-check.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, productID string) (int, bool, error)
	SetAvailability(ctx context.Context, productID string, n int) error
	Invalidate(ctx context.Context, productIDs ...string) error
}
