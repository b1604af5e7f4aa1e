package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/mail"
	"storefront-backend/internal/metrics"
)

var tracer = otel.Tracer("storefront-backend/internal/usecase")

const (
	maxIdempotencyKeyLen = 128
	maxCancelReasonLen   = 500
	defaultPageSize      = 20
	maxPageSize          = 100
	orderCodeAttempts    = 3
)

type ItemRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type PlaceOrderRequest struct {
	Source         domain.ItemSource
	Items          []ItemRequest
	DeliveryFee    decimal.Decimal
	DeliveryOption domain.DeliveryOption
	PaymentMethod  domain.PaymentMethod
	// ClientTotal is advisory; the stored total is always recomputed.
	ClientTotal    *decimal.Decimal
	IdempotencyKey string
}

func (r *PlaceOrderRequest) validate() error {
	if r.Source == "" {
		r.Source = domain.SourceDirect
	}
	if !r.Source.Valid() {
		return ErrValidation("unknown item source")
	}
	if r.DeliveryOption == "" {
		r.DeliveryOption = domain.DeliveryStandard
	}
	if !r.DeliveryOption.Valid() {
		return ErrValidation("unknown delivery option")
	}
	if !r.PaymentMethod.Valid() {
		return ErrValidation("unknown payment method")
	}
	if r.DeliveryFee.IsNegative() {
		return ErrValidation("delivery fee must not be negative")
	}
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if len(r.IdempotencyKey) > maxIdempotencyKeyLen {
		return ErrValidation("idempotency key too long")
	}
	if r.Source == domain.SourceCart {
		if len(r.Items) > 0 {
			return ErrValidation("cart orders take their items from the cart")
		}
		return nil
	}
	if len(r.Items) == 0 {
		return ErrValidation("items must not be empty")
	}
	return validateItems(r.Items)
}

func validateItems(items []ItemRequest) error {
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return ErrValidation(fmt.Sprintf("items[%d]: productId required", i))
		}
		if it.Quantity < 1 {
			return ErrValidation(fmt.Sprintf("items[%d]: quantity must be a positive integer", i))
		}
		if it.Price.IsNegative() {
			return ErrValidation(fmt.Sprintf("items[%d]: price must not be negative", i))
		}
		if _, dup := seen[it.ProductID]; dup {
			return ErrValidation(fmt.Sprintf("items[%d]: duplicate product %s", i, it.ProductID))
		}
		seen[it.ProductID] = struct{}{}
	}
	return nil
}

// hash fingerprints the parts of the request that decide the order, so a
// reused idempotency key with a different payload can be told apart.
func (r *PlaceOrderRequest) hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", r.Source, r.DeliveryOption, r.PaymentMethod, r.DeliveryFee.String())
	for _, it := range r.Items {
		fmt.Fprintf(h, "|%s:%d:%s", it.ProductID, it.Quantity, it.Price.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

type OrderService struct {
	Tx        TxManager
	Products  ProductStore
	Orders    OrderStore
	Carts     CartStore
	Users     UserStore
	Inventory *InventoryService
	Mailer    Mailer
	Logger    *zap.Logger
	Metrics   *metrics.Registry
	TxTimeout time.Duration
	Now       func() time.Time
}

// PlaceOrder validates the request, then locks, checks and decrements stock
// and writes the order with its lines in one transaction.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, req PlaceOrderRequest) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()
	log := logOrNop(s.Logger)

	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.source", string(req.Source)), attribute.Int("order.items", len(req.Items)))
	hash := req.hash()

	if req.IdempotencyKey != "" {
		if o, err := s.replay(ctx, userID, req.IdempotencyKey, hash); o != nil || err != nil {
			return o, err
		}
	}

	start := time.Now()
	var (
		order *domain.Order
		err   error
	)
	for attempt := 0; attempt < orderCodeAttempts; attempt++ {
		order, err = s.placeTx(ctx, userID, req, hash)
		if !errors.Is(err, domain.ErrDuplicateKey) {
			break
		}
		if req.IdempotencyKey != "" {
			if o, rerr := s.replay(ctx, userID, req.IdempotencyKey, hash); o != nil || rerr != nil {
				return o, rerr
			}
		}
		log.Warn("order code collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		err = domainErr("place order", err)
		s.Metrics.OrderAborted(KindOf(err), time.Since(start))
		span.SetStatus(codes.Error, Message(err))
		if KindOf(err) == KindPersistence {
			log.Error("order transaction aborted", zap.String("user_id", userID), zap.Error(errors.Unwrap(err)))
		}
		return nil, err
	}
	s.Metrics.OrderPlaced(string(order.Source), time.Since(start))
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.code", order.Code))

	if req.ClientTotal != nil && !req.ClientTotal.Equal(order.Total) {
		log.Warn("client total differs from computed total",
			zap.String("order_id", order.ID),
			zap.String("client_total", req.ClientTotal.String()),
			zap.String("total", order.Total.String()))
	}
	s.invalidate(ctx, order)
	s.notifyPlaced(ctx, order)
	log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("code", order.Code),
		zap.String("user_id", userID),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

func (s *OrderService) replay(ctx context.Context, userID, key, hash string) (*domain.Order, error) {
	o, err := s.Orders.FindOrderByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("find order", err)
	}
	if o.RequestHash != hash {
		return nil, ErrIdempotencyReuse
	}
	return o, nil
}

func (s *OrderService) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.TxTimeout > 0 {
		return context.WithTimeout(ctx, s.TxTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *OrderService) placeTx(ctx context.Context, userID string, req PlaceOrderRequest, hash string) (*domain.Order, error) {
	txCtx, cancel := s.txContext(ctx)
	defer cancel()

	now := clock(s.Now)
	code, err := newOrderCode(now)
	if err != nil {
		return nil, err
	}
	order := &domain.Order{
		ID:             newID(),
		UserID:         userID,
		Code:           code,
		DeliveryFee:    req.DeliveryFee,
		DeliveryOption: req.DeliveryOption,
		PaymentMethod:  req.PaymentMethod,
		Source:         req.Source,
		Status:         domain.OrderPending,
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.Tx.WithinTx(txCtx, func(ctx context.Context) error {
		items := req.Items
		if req.Source == domain.SourceCart {
			cart, err := s.Carts.CartItems(ctx, userID)
			if err != nil {
				return err
			}
			if len(cart) == 0 {
				return ErrValidation("cart is empty")
			}
			items = make([]ItemRequest, len(cart))
			for i, c := range cart {
				items[i] = ItemRequest{ProductID: c.ProductID, Quantity: c.Quantity}
			}
			if err := validateItems(items); err != nil {
				return err
			}
		}
		lines, err := s.reserve(ctx, order.ID, items)
		if err != nil {
			return err
		}
		order.Items = lines
		order.Subtotal = decimal.Zero
		for _, l := range lines {
			order.Subtotal = order.Subtotal.Add(l.LineTotal())
		}
		order.Total = order.Subtotal.Add(order.DeliveryFee)
		if err := s.Orders.InsertOrder(ctx, order); err != nil {
			return err
		}
		if req.Source == domain.SourceCart {
			ids := make([]string, len(lines))
			for i, l := range lines {
				ids[i] = l.ProductID
			}
			return s.Carts.RemoveCartItems(ctx, userID, ids...)
		}
		return nil
	})
	if err != nil {
		if errors.Is(txCtx.Err(), context.DeadlineExceeded) && KindOf(err) == KindPersistence {
			return nil, &PersistenceError{Op: "place order (timeout)", Err: err}
		}
		return nil, err
	}
	return order, nil
}

// reserve locks each product in id order, checks price and availability and
// decrements stock. Lines keep the request order.
func (s *OrderService) reserve(ctx context.Context, orderID string, items []ItemRequest) ([]domain.OrderLineItem, error) {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return items[idx[a]].ProductID < items[idx[b]].ProductID })

	lines := make([]domain.OrderLineItem, len(items))
	for _, i := range idx {
		it := items[i]
		p, err := s.Products.GetProductForUpdate(ctx, it.ProductID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, ErrNotFound("product " + it.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if !it.Price.IsZero() && !it.Price.Equal(p.Price) {
			return nil, ErrConflict(fmt.Sprintf("price of product %s changed to %s", p.ID, p.Price.StringFixed(2)))
		}
		if p.Availability < it.Quantity {
			return nil, fmt.Errorf("%w: product %s has %d available", ErrInsufficientStock, p.ID, p.Availability)
		}
		if err := s.Products.AdjustAvailability(ctx, p.ID, -it.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientAvailability) {
				return nil, fmt.Errorf("%w: product %s", ErrInsufficientStock, p.ID)
			}
			return nil, err
		}
		lines[i] = domain.OrderLineItem{
			ID:        newID(),
			OrderID:   orderID,
			ProductID: p.ID,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		}
	}
	return lines, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()
	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, domainErr("order", err)
	}
	if o.UserID != userID {
		return nil, ErrNotFound("order")
	}
	return o, nil
}

type OrderPage struct {
	Orders   []domain.Order `json:"orders"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

func (s *OrderService) ListOrders(ctx context.Context, userID string, page, pageSize int) (*OrderPage, error) {
	ctx, span := tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()
	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)
	if page > math.MaxInt/pageSize {
		return nil, ErrValidation("page out of range")
	}
	orders, total, err := s.Orders.ListOrdersByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return &OrderPage{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

// CancelOrder moves a pending or processing order to cancelled and returns
// its quantities to stock in the same transaction.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID, reason string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()
	log := logOrNop(s.Logger)

	if userID == "" {
		return nil, ErrUnauthorized("missing user identity")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCancelReasonLen {
		return nil, ErrValidation("cancel reason too long")
	}

	txCtx, cancel := s.txContext(ctx)
	defer cancel()
	var order *domain.Order
	err := s.Tx.WithinTx(txCtx, func(ctx context.Context) error {
		o, err := s.Orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound("order")
		}
		if !o.Status.Cancellable() {
			return ErrOrderNotCancelable
		}
		for _, l := range o.Items {
			err := s.Products.AdjustAvailability(ctx, l.ProductID, l.Quantity)
			if errors.Is(err, domain.ErrRecordNotFound) {
				log.Warn("product gone, stock not restored", zap.String("product_id", l.ProductID))
				continue
			}
			if err != nil {
				return err
			}
		}
		now := clock(s.Now)
		o.Status = domain.OrderCancelled
		o.CancelReason = reason
		o.CancelledBy = userID
		o.CancelledAt = &now
		o.UpdatedAt = now
		if err := s.Orders.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		if errors.Is(txCtx.Err(), context.DeadlineExceeded) && KindOf(err) == KindPersistence {
			err = &PersistenceError{Op: "cancel order (timeout)", Err: err}
		}
		err = domainErr("order", err)
		span.SetStatus(codes.Error, Message(err))
		return nil, err
	}
	s.invalidate(ctx, order)
	s.notifyCancelled(ctx, order)
	log.Info("order cancelled", zap.String("order_id", order.ID), zap.String("user_id", userID))
	return order, nil
}

func (s *OrderService) invalidate(ctx context.Context, o *domain.Order) {
	if s.Inventory == nil {
		return
	}
	ids := make([]string, len(o.Items))
	for i, l := range o.Items {
		ids[i] = l.ProductID
	}
	s.Inventory.Invalidate(ctx, ids...)
}

func (s *OrderService) recipient(ctx context.Context, userID string) (string, bool) {
	if s.Users == nil || s.Mailer == nil {
		return "", false
	}
	u, err := s.Users.GetUser(ctx, userID)
	if err != nil {
		logOrNop(s.Logger).Warn("no recipient for order email", zap.String("user_id", userID), zap.Error(err))
		return "", false
	}
	return u.Email, true
}

func (s *OrderService) notifyPlaced(ctx context.Context, o *domain.Order) {
	to, ok := s.recipient(ctx, o.UserID)
	if !ok {
		return
	}
	summary := mail.OrderSummary{
		Code:           o.Code,
		Subtotal:       o.Subtotal.StringFixed(2),
		DeliveryFee:    o.DeliveryFee.StringFixed(2),
		DeliveryOption: string(o.DeliveryOption),
		Total:          o.Total.StringFixed(2),
		PaymentMethod:  string(o.PaymentMethod),
	}
	for _, l := range o.Items {
		summary.Lines = append(summary.Lines, mail.OrderLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
		})
	}
	msg, err := mail.OrderPlacedMessage(to, summary)
	s.deliver(ctx, msg, err, o.ID)
}

func (s *OrderService) notifyCancelled(ctx context.Context, o *domain.Order) {
	to, ok := s.recipient(ctx, o.UserID)
	if !ok {
		return
	}
	msg, err := mail.OrderCancelledMessage(to, o.Code, o.CancelReason)
	s.deliver(ctx, msg, err, o.ID)
}

func (s *OrderService) deliver(ctx context.Context, msg mail.Message, err error, orderID string) {
	if err == nil {
		err = s.Mailer.Send(ctx, msg)
	}
	s.Metrics.Mail(string(msg.Kind), err)
	if err != nil {
		logOrNop(s.Logger).Warn("order email not sent",
			zap.String("order_id", orderID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}
}
