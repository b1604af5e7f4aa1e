package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront-backend/internal/domain"
)

func seedProduct(t *testing.T, s *MemoryStore, id string, price string, avail int) {
	t.Helper()
	if err := s.PutProduct(context.Background(), &domain.Product{
		ID: id, Name: id, Price: decimal.RequireFromString(price), Availability: avail,
	}); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestMemoryStore_WithinTxRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "p1", "10.00", 5)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.AdjustAvailability(ctx, "p1", -3); err != nil {
			return err
		}
		if err := s.InsertOrder(ctx, &domain.Order{ID: "o1", UserID: "u1", Code: "ORD-1"}); err != nil {
			return err
		}
		if err := s.PutCartItem(ctx, &domain.CartItem{UserID: "u1", ProductID: "p1", Quantity: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.Availability != 5 {
		t.Fatalf("availability not restored: %d", p.Availability)
	}
	if _, err := s.GetOrder(ctx, "o1"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("order should not exist after rollback, got %v", err)
	}
	items, _ := s.CartItems(ctx, "u1")
	if len(items) != 0 {
		t.Fatalf("cart should be empty after rollback, got %d", len(items))
	}
}

func TestMemoryStore_WithinTxCommitsAndNests(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "p1", "10.00", 5)

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return s.AdjustAvailability(ctx, "p1", -5)
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.Availability != 0 {
		t.Fatalf("expected 0, got %d", p.Availability)
	}
}

func TestMemoryStore_AdjustAvailability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "p1", "1.00", 2)

	if err := s.AdjustAvailability(ctx, "p1", -3); !errors.Is(err, domain.ErrInsufficientAvailability) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	if err := s.AdjustAvailability(ctx, "missing", -1); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.AdjustAvailability(ctx, "p1", 4); err != nil {
		t.Fatalf("restore: %v", err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.Availability != 6 {
		t.Fatalf("expected 6, got %d", p.Availability)
	}
}

func TestMemoryStore_OrderUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.InsertOrder(ctx, &domain.Order{ID: "o1", UserID: "u1", Code: "A", IdempotencyKey: "k"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertOrder(ctx, &domain.Order{ID: "o2", UserID: "u1", Code: "B", IdempotencyKey: "k"}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate idempotency key, got %v", err)
	}
	if err := s.InsertOrder(ctx, &domain.Order{ID: "o3", UserID: "u2", Code: "A"}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate code, got %v", err)
	}
	if err := s.InsertOrder(ctx, &domain.Order{ID: "o4", UserID: "u2", Code: "C", IdempotencyKey: "k"}); err != nil {
		t.Fatalf("same key for another user should be allowed: %v", err)
	}
	o, err := s.FindOrderByIdempotencyKey(ctx, "u1", "k")
	if err != nil || o.ID != "o1" {
		t.Fatalf("find by key: %+v %v", o, err)
	}
}

func TestMemoryStore_ListOrdersByUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		o := &domain.Order{ID: id, UserID: "u1", Code: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_ = s.InsertOrder(ctx, &domain.Order{ID: "z", UserID: "u2", Code: "z"})

	got, total, err := s.ListOrdersByUser(ctx, "u1", 2, 0)
	if err != nil || total != 3 || len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("page 1: %v total=%d err=%v", got, total, err)
	}
	got, _, _ = s.ListOrdersByUser(ctx, "u1", 2, 2)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("page 2: %v", got)
	}
	got, _, _ = s.ListOrdersByUser(ctx, "u1", 2, 10)
	if len(got) != 0 {
		t.Fatalf("past end: %v", got)
	}
	got, _, err = s.ListOrdersByUser(ctx, "u1", 2, -200)
	if err != nil || len(got) != 2 || got[0].ID != "c" {
		t.Fatalf("negative offset: %v err=%v", got, err)
	}
}

func TestMemoryStore_OTPLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	old := &domain.OtpVerification{ID: "1", Email: "a@b.c", Purpose: domain.PurposeLogin, Code: "123456", CodeHash: "h1", ExpiresAt: now.Add(time.Minute), CreatedAt: now.Add(-time.Minute)}
	if err := s.InsertOTP(ctx, old); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, _ := s.InvalidateActiveOTPs(ctx, "a@b.c", domain.PurposeLogin)
	if n != 1 {
		t.Fatalf("expected 1 invalidated, got %d", n)
	}
	if _, err := s.LatestUnusedOTP(ctx, "a@b.c", domain.PurposeLogin); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected no active otp, got %v", err)
	}

	fresh := &domain.OtpVerification{ID: "2", Email: "a@b.c", Purpose: domain.PurposeLogin, CodeHash: "h2", ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now}
	_ = s.InsertOTP(ctx, fresh)
	got, err := s.LatestUnusedOTP(ctx, "a@b.c", domain.PurposeLogin)
	if err != nil || got.ID != "2" || got.Code != "" {
		t.Fatalf("latest: %+v %v", got, err)
	}
	got.Attempts = 2
	if err := s.UpdateOTP(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.LatestUnusedOTP(ctx, "a@b.c", domain.PurposeLogin)
	if again.Attempts != 2 {
		t.Fatalf("attempts not saved: %d", again.Attempts)
	}

	purged, _ := s.PurgeOTPs(ctx, now.Add(time.Minute))
	if purged != 1 {
		t.Fatalf("expected the used record purged, got %d", purged)
	}
	purged, _ = s.PurgeOTPs(ctx, now.Add(11*time.Minute))
	if purged != 1 {
		t.Fatalf("expected the expired record purged, got %d", purged)
	}
}

func TestMemoryStore_UniqueUsersAndCategories(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.InsertUser(ctx, &domain.User{ID: "u1", Email: "a@b.c"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := s.InsertUser(ctx, &domain.User{ID: "u2", Email: "a@b.c"}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if err := s.InsertCategory(ctx, &domain.Category{ID: "c1", Name: "Shoes", Slug: "shoes"}); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	if err := s.InsertCategory(ctx, &domain.Category{ID: "c2", Name: "Shoes!", Slug: "shoes"}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate slug, got %v", err)
	}
}
