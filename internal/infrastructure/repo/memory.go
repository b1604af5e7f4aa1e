package repo

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"storefront-backend/internal/domain"
)

// MemoryStore keeps every entity in maps guarded by one RWMutex. WithinTx
// holds the write lock for the whole callback and restores a snapshot of
// all maps when the callback fails.
type MemoryStore struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	orders     map[string]domain.Order
	otps       map[string]domain.OtpVerification
	users      map[string]domain.User
	carts      map[string]map[string]domain.CartItem
	categories map[string]domain.Category
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[string]domain.Product),
		orders:     make(map[string]domain.Order),
		otps:       make(map[string]domain.OtpVerification),
		users:      make(map[string]domain.User),
		carts:      make(map[string]map[string]domain.CartItem),
		categories: make(map[string]domain.Category),
	}
}

type memTxKey struct{}

func (m *MemoryStore) inTx(ctx context.Context) bool {
	s, ok := ctx.Value(memTxKey{}).(*MemoryStore)
	return ok && s == m
}

func (m *MemoryStore) rlock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MemoryStore) wlock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

type memSnapshot struct {
	products   map[string]domain.Product
	orders     map[string]domain.Order
	otps       map[string]domain.OtpVerification
	users      map[string]domain.User
	carts      map[string]map[string]domain.CartItem
	categories map[string]domain.Category
}

func (m *MemoryStore) snapshot() memSnapshot {
	carts := make(map[string]map[string]domain.CartItem, len(m.carts))
	for k, v := range m.carts {
		carts[k] = maps.Clone(v)
	}
	return memSnapshot{
		products:   maps.Clone(m.products),
		orders:     maps.Clone(m.orders),
		otps:       maps.Clone(m.otps),
		users:      maps.Clone(m.users),
		carts:      carts,
		categories: maps.Clone(m.categories),
	}
}

func (m *MemoryStore) restore(s memSnapshot) {
	m.products = s.products
	m.orders = s.orders
	m.otps = s.otps
	m.users = s.users
	m.carts = s.carts
	m.categories = s.categories
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snap)
			panic(r)
		}
		if err != nil {
			m.restore(snap)
		}
	}()
	if err = ctx.Err(); err != nil {
		return err
	}
	err = fn(context.WithValue(ctx, memTxKey{}, m))
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// products

func (m *MemoryStore) PutProduct(ctx context.Context, p *domain.Product) error {
	defer m.wlock(ctx)()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.products[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	defer m.rlock(ctx)()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return m.GetProduct(ctx, id)
}

func (m *MemoryStore) AdjustAvailability(ctx context.Context, id string, delta int) error {
	defer m.wlock(ctx)()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if p.Availability+delta < 0 {
		return domain.ErrInsufficientAvailability
	}
	p.Availability += delta
	p.UpdatedAt = time.Now().UTC()
	m.products[id] = p
	return nil
}

// orders

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		o.CancelledAt = &t
	}
	return o
}

func (m *MemoryStore) InsertOrder(ctx context.Context, o *domain.Order) error {
	defer m.wlock(ctx)()
	if _, ok := m.orders[o.ID]; ok {
		return domain.ErrDuplicateKey
	}
	for _, existing := range m.orders {
		if existing.Code == o.Code {
			return domain.ErrDuplicateKey
		}
		if o.IdempotencyKey != "" && existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
			return domain.ErrDuplicateKey
		}
	}
	m.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	defer m.rlock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (m *MemoryStore) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *MemoryStore) FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	defer m.rlock(ctx)()
	for _, o := range m.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			cp := cloneOrder(o)
			return &cp, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (m *MemoryStore) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, int, error) {
	defer m.rlock(ctx)()
	all := make([]domain.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			all = append(all, cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	start := min(max(offset, 0), total)
	end := start + min(max(limit, 0), total-start)
	return all[start:end], total, nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, o *domain.Order) error {
	defer m.wlock(ctx)()
	cur, ok := m.orders[o.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	cur.Status = o.Status
	cur.CancelReason = o.CancelReason
	cur.CancelledBy = o.CancelledBy
	cur.CancelledAt = o.CancelledAt
	cur.UpdatedAt = o.UpdatedAt
	m.orders[o.ID] = cloneOrder(cur)
	return nil
}

// otps

// LockOTPs is a no-op: WithinTx already holds the store-wide write lock.
func (m *MemoryStore) LockOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) error {
	return ctx.Err()
}

func (m *MemoryStore) InvalidateActiveOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) (int, error) {
	defer m.wlock(ctx)()
	n := 0
	for id, o := range m.otps {
		if o.Email == email && o.Purpose == purpose && !o.Used {
			o.Used = true
			m.otps[id] = o
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertOTP(ctx context.Context, o *domain.OtpVerification) error {
	defer m.wlock(ctx)()
	if _, ok := m.otps[o.ID]; ok {
		return domain.ErrDuplicateKey
	}
	cp := *o
	cp.Code = ""
	m.otps[o.ID] = cp
	return nil
}

func (m *MemoryStore) LatestUnusedOTP(ctx context.Context, email string, purpose domain.OtpPurpose) (*domain.OtpVerification, error) {
	defer m.rlock(ctx)()
	var latest *domain.OtpVerification
	for _, o := range m.otps {
		if o.Email != email || o.Purpose != purpose || o.Used {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			cp := o
			latest = &cp
		}
	}
	if latest == nil {
		return nil, domain.ErrRecordNotFound
	}
	return latest, nil
}

func (m *MemoryStore) UsedOTPs(ctx context.Context, email string, purpose domain.OtpPurpose, now time.Time) ([]domain.OtpVerification, error) {
	defer m.rlock(ctx)()
	out := make([]domain.OtpVerification, 0)
	for _, o := range m.otps {
		if o.Email == email && o.Purpose == purpose && o.Used && !o.Expired(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateOTP(ctx context.Context, o *domain.OtpVerification) error {
	defer m.wlock(ctx)()
	cur, ok := m.otps[o.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	cur.Attempts = o.Attempts
	cur.Used = o.Used
	m.otps[o.ID] = cur
	return nil
}

func (m *MemoryStore) PurgeOTPs(ctx context.Context, now time.Time) (int, error) {
	defer m.wlock(ctx)()
	n := 0
	for id, o := range m.otps {
		if o.Used || o.Expired(now) {
			delete(m.otps, id)
			n++
		}
	}
	return n, nil
}

// users

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	defer m.rlock(ctx)()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	defer m.rlock(ctx)()
	for _, u := range m.users {
		if u.Email == email {
			cp := u
			return &cp, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (m *MemoryStore) InsertUser(ctx context.Context, u *domain.User) error {
	defer m.wlock(ctx)()
	for _, existing := range m.users {
		if existing.ID == u.ID || existing.Email == u.Email {
			return domain.ErrDuplicateKey
		}
	}
	m.users[u.ID] = *u
	return nil
}

// carts

func (m *MemoryStore) CartItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	defer m.rlock(ctx)()
	items := make([]domain.CartItem, 0, len(m.carts[userID]))
	for _, it := range m.carts[userID] {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	return items, nil
}

func (m *MemoryStore) PutCartItem(ctx context.Context, it *domain.CartItem) error {
	defer m.wlock(ctx)()
	cart, ok := m.carts[it.UserID]
	if !ok {
		cart = make(map[string]domain.CartItem)
		m.carts[it.UserID] = cart
	}
	cart[it.ProductID] = *it
	return nil
}

func (m *MemoryStore) RemoveCartItems(ctx context.Context, userID string, productIDs ...string) error {
	defer m.wlock(ctx)()
	cart := m.carts[userID]
	for _, id := range productIDs {
		delete(cart, id)
	}
	return nil
}

// categories

func (m *MemoryStore) InsertCategory(ctx context.Context, c *domain.Category) error {
	defer m.wlock(ctx)()
	for _, existing := range m.categories {
		if existing.ID == c.ID || existing.Slug == c.Slug {
			return domain.ErrDuplicateKey
		}
	}
	m.categories[c.ID] = *c
	return nil
}
