package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/mail"
	"storefront-backend/internal/infrastructure/repo"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *repo.MemoryStore
	clock  *fakeClock
	mailer *recordingMailer
	orders *OrderService
	carts  *CartService
	otp    *OTPService
	auth   *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	clk := newFakeClock()
	mailer := &recordingMailer{}
	logger := zaptest.NewLogger(t)
	inv := &InventoryService{Products: store, Logger: logger}
	f := &fixture{
		store:  store,
		clock:  clk,
		mailer: mailer,
		orders: &OrderService{
			Tx: store, Products: store, Orders: store, Carts: store, Users: store,
			Inventory: inv, Mailer: mailer, Logger: logger, TxTimeout: time.Second, Now: clk.Now,
		},
		carts: &CartService{Tx: store, Products: store, Carts: store, Now: clk.Now},
		otp: &OTPService{
			Tx: store, Store: store, Mailer: mailer, Logger: logger,
			TTL: 10 * time.Minute, ResendCooldown: time.Minute, MaxAttempts: 3,
			HashCost: bcrypt.MinCost, Now: clk.Now,
		},
	}
	f.auth = &AuthService{Users: store, OTP: f.otp, JWTSecret: "test-secret", TokenTTL: time.Hour, Now: clk.Now}
	return f
}

func (f *fixture) product(t *testing.T, id, price string, avail int) {
	t.Helper()
	if err := f.store.PutProduct(context.Background(), &domain.Product{
		ID: id, Name: id, Price: dec(price), Availability: avail,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (f *fixture) user(t *testing.T, id, email string) {
	t.Helper()
	if err := f.store.InsertUser(context.Background(), &domain.User{ID: id, Email: email}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (f *fixture) availability(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Availability
}

func (f *fixture) orderCount(t *testing.T, userID string) int {
	t.Helper()
	_, total, err := f.store.ListOrdersByUser(context.Background(), userID, 100, 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	return total
}

func wantKind(t *testing.T, err error, kind string) {
	t.Helper()
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
}

var errMailDown = errors.New("smtp down")
