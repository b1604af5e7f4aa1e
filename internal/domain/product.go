package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog; only Price and Availability are read here,
// and Availability is adjusted inside order transactions.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Availability int             `json:"availability"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type CartItem struct {
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}
