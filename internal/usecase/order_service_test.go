package usecase

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"storefront-backend/internal/domain"
)

func directOrder(items ...ItemRequest) PlaceOrderRequest {
	return PlaceOrderRequest{
		Source:         domain.SourceDirect,
		Items:          items,
		DeliveryFee:    dec("5.00"),
		DeliveryOption: domain.DeliveryStandard,
		PaymentMethod:  domain.PaymentCashOnDelivery,
	}
}

var orderCodePattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-HJKMNP-TV-Z]{8}$`)

func TestPlaceOrder_ComputesTotal(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.user(t, "u1", "buyer@example.com")

	o, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 2, Price: dec("10.00")}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !o.Total.Equal(dec("25.00")) || !o.Subtotal.Equal(dec("20.00")) {
		t.Fatalf("expected total 25.00 subtotal 20.00, got %s %s", o.Total, o.Subtotal)
	}
	if len(o.Items) != 1 || o.Items[0].Quantity != 2 || !o.Items[0].UnitPrice.Equal(dec("10")) {
		t.Fatalf("unexpected lines: %+v", o.Items)
	}
	if o.Status != domain.OrderPending {
		t.Fatalf("expected pending, got %s", o.Status)
	}
	if !orderCodePattern.MatchString(o.Code) || !strings.HasPrefix(o.Code, "ORD-20250314-") {
		t.Fatalf("bad order code %q", o.Code)
	}
	if got := f.availability(t, "P1"); got != 8 {
		t.Fatalf("expected availability 8, got %d", got)
	}
	if f.orderCount(t, "u1") != 1 {
		t.Fatalf("expected exactly one order")
	}
	stored, err := f.store.GetOrder(context.Background(), o.ID)
	if err != nil || len(stored.Items) != 1 {
		t.Fatalf("stored order: %+v %v", stored, err)
	}
	msg := f.mailer.last(t)
	if msg.To != "buyer@example.com" || !strings.Contains(msg.Body, "25.00") {
		t.Fatalf("unexpected confirmation mail: %+v", msg)
	}
}

func TestPlaceOrder_InvalidQuantityPersistsNothing(t *testing.T) {
	for _, q := range []int{0, -1} {
		f := newFixture(t)
		f.product(t, "P1", "10.00", 10)
		f.product(t, "P2", "3.00", 10)
		_, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(
			ItemRequest{ProductID: "P1", Quantity: 1},
			ItemRequest{ProductID: "P2", Quantity: q},
		))
		wantKind(t, err, KindValidation)
		if f.orderCount(t, "u1") != 0 || f.availability(t, "P1") != 10 {
			t.Fatalf("quantity %d: something was persisted", q)
		}
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]PlaceOrderRequest{
		"empty items": directOrder(),
		"duplicate product": directOrder(
			ItemRequest{ProductID: "P1", Quantity: 1},
			ItemRequest{ProductID: "P1", Quantity: 2},
		),
		"negative price": directOrder(ItemRequest{ProductID: "P1", Quantity: 1, Price: dec("-1")}),
		"bad method": func() PlaceOrderRequest {
			r := directOrder(ItemRequest{ProductID: "P1", Quantity: 1})
			r.PaymentMethod = "barter"
			return r
		}(),
		"negative fee": func() PlaceOrderRequest {
			r := directOrder(ItemRequest{ProductID: "P1", Quantity: 1})
			r.DeliveryFee = dec("-0.01")
			return r
		}(),
		"long key": func() PlaceOrderRequest {
			r := directOrder(ItemRequest{ProductID: "P1", Quantity: 1})
			r.IdempotencyKey = strings.Repeat("k", 129)
			return r
		}(),
	}
	for name, req := range cases {
		_, err := f.orders.PlaceOrder(context.Background(), "u1", req)
		if KindOf(err) != KindValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	_, err := f.orders.PlaceOrder(context.Background(), "", directOrder(ItemRequest{ProductID: "P1", Quantity: 1}))
	wantKind(t, err, KindUnauthorized)
}

func TestPlaceOrder_AtomicOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.product(t, "P2", "4.00", 1)

	_, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(
		ItemRequest{ProductID: "P1", Quantity: 3},
		ItemRequest{ProductID: "P2", Quantity: 2},
	))
	wantKind(t, err, KindConflict)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if f.availability(t, "P1") != 10 || f.availability(t, "P2") != 1 {
		t.Fatalf("stock changed after rollback")
	}
	if f.orderCount(t, "u1") != 0 {
		t.Fatalf("order persisted after rollback")
	}
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	_, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(
		ItemRequest{ProductID: "P1", Quantity: 1},
		ItemRequest{ProductID: "nope", Quantity: 1},
	))
	wantKind(t, err, KindNotFound)
	if f.availability(t, "P1") != 10 || f.orderCount(t, "u1") != 0 {
		t.Fatalf("partial order observable")
	}
}

func TestPlaceOrder_PriceChanged(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "12.00", 10)
	_, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1, Price: dec("10.00")}))
	wantKind(t, err, KindConflict)

	o, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1}))
	if err != nil {
		t.Fatalf("zero price should take the current price: %v", err)
	}
	if !o.Items[0].UnitPrice.Equal(dec("12")) {
		t.Fatalf("unit price snapshot wrong: %s", o.Items[0].UnitPrice)
	}
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	req := directOrder(ItemRequest{ProductID: "P1", Quantity: 2, Price: dec("10.00")})
	req.IdempotencyKey = "checkout-1"

	first, err := f.orders.PlaceOrder(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.orders.PlaceOrder(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same order id, got %s and %s", first.ID, second.ID)
	}
	if f.orderCount(t, "u1") != 1 || f.availability(t, "P1") != 8 {
		t.Fatalf("replay created side effects")
	}

	changed := req
	changed.Items = []ItemRequest{{ProductID: "P1", Quantity: 3}}
	if _, err := f.orders.PlaceOrder(context.Background(), "u1", changed); !errors.Is(err, ErrIdempotencyReuse) {
		t.Fatalf("expected idempotency reuse conflict, got %v", err)
	}

	other, err := f.orders.PlaceOrder(context.Background(), "u2", req)
	if err != nil || other.ID == first.ID {
		t.Fatalf("keys are scoped per user: %v", err)
	}
}

func TestPlaceOrder_ConcurrentOrdersDoNotOversell(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 5, 20
	f.product(t, "P1", "10.00", stock)

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1}))
		}(i)
	}
	wg.Wait()

	placed := 0
	for _, err := range errs {
		switch {
		case err == nil:
			placed++
		case !errors.Is(err, ErrInsufficientStock):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if placed != stock {
		t.Fatalf("expected %d orders, got %d", stock, placed)
	}
	if got := f.availability(t, "P1"); got != 0 {
		t.Fatalf("expected availability 0, got %d", got)
	}
	if got := f.orderCount(t, "u1"); got != stock {
		t.Fatalf("expected %d stored orders, got %d", stock, got)
	}
}

func TestPlaceOrder_ConcurrentSameIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	req := directOrder(ItemRequest{ProductID: "P1", Quantity: 2})
	req.IdempotencyKey = "double-click"

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.orders.PlaceOrder(context.Background(), "u1", req)
			errs[i] = err
			if o != nil {
				ids[i] = o.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected one order id, got %s and %s", ids[0], ids[i])
		}
	}
	if f.orderCount(t, "u1") != 1 || f.availability(t, "P1") != 8 {
		t.Fatalf("duplicate submissions had side effects")
	}
}

func TestPlaceOrder_FromCart(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.product(t, "P2", "2.50", 10)
	ctx := context.Background()

	_, err := f.orders.PlaceOrder(ctx, "u1", PlaceOrderRequest{Source: domain.SourceCart, PaymentMethod: domain.PaymentOnline})
	wantKind(t, err, KindValidation)

	if _, err := f.carts.Add(ctx, "u1", "P1", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.carts.Add(ctx, "u1", "P1", 1); err != nil {
		t.Fatalf("add again: %v", err)
	}
	if _, err := f.carts.Add(ctx, "u1", "P2", 4); err != nil {
		t.Fatalf("add p2: %v", err)
	}

	o, err := f.orders.PlaceOrder(ctx, "u1", PlaceOrderRequest{
		Source:         domain.SourceCart,
		DeliveryFee:    dec("0"),
		DeliveryOption: domain.DeliveryExpress,
		PaymentMethod:  domain.PaymentOnline,
	})
	if err != nil {
		t.Fatalf("cart order: %v", err)
	}
	if len(o.Items) != 2 || !o.Total.Equal(dec("30.00")) {
		t.Fatalf("unexpected cart order: %+v total=%s", o.Items, o.Total)
	}
	items, _ := f.carts.List(ctx, "u1")
	if len(items) != 0 {
		t.Fatalf("cart not cleared: %+v", items)
	}
	if f.availability(t, "P1") != 8 || f.availability(t, "P2") != 6 {
		t.Fatalf("stock not decremented")
	}
}

type blockingTx struct{ inner TxManager }

func (b blockingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.inner.WithinTx(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestPlaceOrder_TimeoutRollsBack(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.orders.Tx = blockingTx{inner: f.store}
	f.orders.TxTimeout = 10 * time.Millisecond

	_, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1}))
	wantKind(t, err, KindPersistence)
	if !strings.Contains(Message(err), "timeout") {
		t.Fatalf("expected timeout message, got %q", Message(err))
	}
	if f.orderCount(t, "u1") != 0 {
		t.Fatalf("order persisted after timeout")
	}
}

func TestPlaceOrder_MailFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.user(t, "u1", "buyer@example.com")
	f.mailer.err = errMailDown

	if _, err := f.orders.PlaceOrder(context.Background(), "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1})); err != nil {
		t.Fatalf("mail failure leaked into order: %v", err)
	}
	if f.orderCount(t, "u1") != 1 {
		t.Fatalf("expected committed order")
	}
}

func TestPlaceOrder_ClientTotalIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	core, logs := observer.New(zap.WarnLevel)
	f.orders.Logger = zap.New(core)

	req := directOrder(ItemRequest{ProductID: "P1", Quantity: 2})
	wrong := dec("99.99")
	req.ClientTotal = &wrong
	o, err := f.orders.PlaceOrder(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !o.Total.Equal(dec("25")) {
		t.Fatalf("client total must not be trusted, got %s", o.Total)
	}
	if logs.FilterMessage("client total differs from computed total").Len() != 1 {
		t.Fatalf("expected a warning about the client total")
	}
}

func TestGetAndListOrders(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "1.00", 100)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := f.orders.PlaceOrder(ctx, "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 1}))
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		ids = append(ids, o.ID)
		f.clock.Advance(time.Minute)
	}

	if _, err := f.orders.GetOrder(ctx, "u1", ids[0]); err != nil {
		t.Fatalf("get own order: %v", err)
	}
	_, err := f.orders.GetOrder(ctx, "u2", ids[0])
	wantKind(t, err, KindNotFound)
	_, err = f.orders.GetOrder(ctx, "u1", "missing")
	wantKind(t, err, KindNotFound)

	page, err := f.orders.ListOrders(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Orders) != 2 || page.Orders[0].ID != ids[2] {
		t.Fatalf("unexpected page: %+v", page)
	}
	if _, err := f.orders.ListOrders(ctx, "u1", math.MaxInt/50, 100); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for huge page, got %v", err)
	}
	far, err := f.orders.ListOrders(ctx, "u1", math.MaxInt/100, 100)
	if err != nil || len(far.Orders) != 0 {
		t.Fatalf("last representable page: %+v %v", far, err)
	}
	page, _ = f.orders.ListOrders(ctx, "u1", 0, 1000)
	if page.Page != 1 || page.PageSize != 100 || len(page.Orders) != 3 {
		t.Fatalf("expected clamped paging, got page=%d size=%d", page.Page, page.PageSize)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P1", "10.00", 10)
	f.user(t, "u1", "buyer@example.com")
	ctx := context.Background()

	o, err := f.orders.PlaceOrder(ctx, "u1", directOrder(ItemRequest{ProductID: "P1", Quantity: 4}))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	_, err = f.orders.CancelOrder(ctx, "u2", o.ID, "")
	wantKind(t, err, KindNotFound)

	cancelled, err := f.orders.CancelOrder(ctx, "u1", o.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled || cancelled.CancelledAt == nil || cancelled.CancelledBy != "u1" {
		t.Fatalf("cancellation metadata missing: %+v", cancelled)
	}
	if f.availability(t, "P1") != 10 {
		t.Fatalf("stock not restored: %d", f.availability(t, "P1"))
	}
	if msg := f.mailer.last(t); !strings.Contains(msg.Body, "changed my mind") {
		t.Fatalf("cancellation mail: %+v", msg)
	}

	_, err = f.orders.CancelOrder(ctx, "u1", o.ID, "")
	if !errors.Is(err, ErrOrderNotCancelable) {
		t.Fatalf("expected state error, got %v", err)
	}
	if f.availability(t, "P1") != 10 {
		t.Fatalf("stock restored twice")
	}
}

func TestNewOrderCode(t *testing.T) {
	now := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := newOrderCode(now)
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		if !orderCodePattern.MatchString(c) || !strings.HasPrefix(c, "ORD-20251231-") {
			t.Fatalf("bad code %q", c)
		}
		seen[c] = true
	}
	if len(seen) < 199 {
		t.Fatalf("codes collide too often: %d unique", len(seen))
	}
}
