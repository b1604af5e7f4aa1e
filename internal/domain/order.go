package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// ParseOrderStatus accepts the canonical values and the legacy
// contacted/completed values written by older schema revisions.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return OrderPending, true
	case "processing", "contacted":
		return OrderProcessing, true
	case "delivered", "completed":
		return OrderDelivered, true
	case "cancelled", "canceled":
		return OrderCancelled, true
	}
	return "", false
}

func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderProcessing
}

type DeliveryOption string

const (
	DeliveryStandard DeliveryOption = "standard"
	DeliveryExpress  DeliveryOption = "express"
)

func (d DeliveryOption) Valid() bool {
	return d == DeliveryStandard || d == DeliveryExpress
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentOnline         PaymentMethod = "online"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentCashOnDelivery || p == PaymentOnline
}

// ItemSource tells where the lines of an order come from: the request
// itself (buy-now) or the user's cart.
type ItemSource string

const (
	SourceDirect ItemSource = "direct"
	SourceCart   ItemSource = "cart"
)

func (s ItemSource) Valid() bool {
	return s == SourceDirect || s == SourceCart
}

type OrderLineItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (l OrderLineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Code           string          `json:"code"`
	Items          []OrderLineItem `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	Total          decimal.Decimal `json:"total"`
	DeliveryOption DeliveryOption  `json:"deliveryOption"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	Source         ItemSource      `json:"source"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey string          `json:"-"`
	RequestHash    string          `json:"-"`
	CancelReason   string          `json:"cancelReason,omitempty"`
	CancelledBy    string          `json:"cancelledBy,omitempty"`
	CancelledAt    *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
