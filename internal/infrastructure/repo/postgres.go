package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"storefront-backend/internal/domain"
)

// PostgresStore implements every usecase store over one *sql.DB. Calls made
// with a ctx returned by WithinTx run on that transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pooled connection, pings it and runs Migrate.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	logger.Info("Database connection established")
	return s, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		availability INT NOT NULL DEFAULT 0 CHECK (availability >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		code TEXT NOT NULL,
		subtotal NUMERIC(12,2) NOT NULL,
		delivery_fee NUMERIC(12,2) NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		delivery_option TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT NOT NULL DEFAULT '',
		request_hash TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_code_key ON orders (code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_user_idempotency_key ON orders (user_id, idempotency_key) WHERE idempotency_key <> ''`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS otp_verifications (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		purpose TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS otp_lookup_idx ON otp_verifications (email, purpose, used, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		user_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		added_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		parent_id TEXT NOT NULL DEFAULT ''
	)`,
	// older revisions wrote contacted/completed
	`UPDATE orders SET status = 'processing' WHERE status = 'contacted'`,
	`UPDATE orders SET status = 'delivered' WHERE status = 'completed'`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTxKey struct{}

func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRecordNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.ErrDuplicateKey
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// products

const productCols = `id, name, price, availability, updated_at`

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Availability, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *PostgresStore) PutProduct(ctx context.Context, p *domain.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.conn(ctx).ExecContext(ctx, `INSERT INTO products (`+productCols+`)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET name=$2, price=$3, availability=$4, updated_at=$5`,
		p.ID, p.Name, p.Price, p.Availability, p.UpdatedAt)
	return mapErr(err)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (s *PostgresStore) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (s *PostgresStore) AdjustAvailability(ctx context.Context, id string, delta int) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE products SET availability = availability + $1, updated_at = NOW()
		WHERE id = $2 AND availability + $1 >= 0`, delta, id)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if !exists {
		return domain.ErrRecordNotFound
	}
	return domain.ErrInsufficientAvailability
}

// orders

const orderCols = `id, user_id, code, subtotal, delivery_fee, total, delivery_option, payment_method,
	source, status, idempotency_key, request_hash, cancel_reason, cancelled_by, cancelled_at,
	created_at, updated_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o           domain.Order
		status      string
		cancelledAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Code, &o.Subtotal, &o.DeliveryFee, &o.Total,
		(*string)(&o.DeliveryOption), (*string)(&o.PaymentMethod), (*string)(&o.Source), &status,
		&o.IdempotencyKey, &o.RequestHash, &o.CancelReason, &o.CancelledBy, &cancelledAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if st, ok := domain.ParseOrderStatus(status); ok {
		o.Status = st
	} else {
		o.Status = domain.OrderStatus(status)
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		o.CancelledAt = &t
	}
	return &o, nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *domain.Order) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		_, err := q.ExecContext(ctx, `INSERT INTO orders (`+orderCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			o.ID, o.UserID, o.Code, o.Subtotal, o.DeliveryFee, o.Total,
			string(o.DeliveryOption), string(o.PaymentMethod), string(o.Source), string(o.Status),
			o.IdempotencyKey, o.RequestHash, o.CancelReason, o.CancelledBy, o.CancelledAt,
			o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
		for _, it := range o.Items {
			if _, err := q.ExecContext(ctx, `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
				VALUES ($1,$2,$3,$4,$5)`, it.ID, o.ID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Items = make([]domain.OrderLineItem, 0)
	for rows.Next() {
		var it domain.OrderLineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *PostgresStore) getOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	o, err := scanOrder(s.conn(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (s *PostgresStore) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresStore) FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, int, error) {
	limit, offset = max(limit, 0), max(offset, 0)
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(1) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	out := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, *o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := s.loadItems(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, o *domain.Order) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE orders
		SET status = $2, cancel_reason = $3, cancelled_by = $4, cancelled_at = $5, updated_at = $6
		WHERE id = $1`, o.ID, string(o.Status), o.CancelReason, o.CancelledBy, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// otps

const otpCols = `id, email, purpose, code_hash, expires_at, used, attempts, created_at`

// LockOTPs takes a transaction-scoped advisory lock on (email, purpose) so
// concurrent issuers cannot both leave an unused code behind.
func (s *PostgresStore) LockOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, email, string(purpose))
	return mapErr(err)
}

func (s *PostgresStore) InvalidateActiveOTPs(ctx context.Context, email string, purpose domain.OtpPurpose) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE otp_verifications SET used = TRUE WHERE email = $1 AND purpose = $2 AND used = FALSE`,
		email, string(purpose))
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) InsertOTP(ctx context.Context, o *domain.OtpVerification) error {
	_, err := s.conn(ctx).ExecContext(ctx, `INSERT INTO otp_verifications (`+otpCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Email, string(o.Purpose), o.CodeHash, o.ExpiresAt, o.Used, o.Attempts, o.CreatedAt)
	return mapErr(err)
}

func (s *PostgresStore) LatestUnusedOTP(ctx context.Context, email string, purpose domain.OtpPurpose) (*domain.OtpVerification, error) {
	var o domain.OtpVerification
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT `+otpCols+` FROM otp_verifications
		WHERE email = $1 AND purpose = $2 AND used = FALSE
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, email, string(purpose)).
		Scan(&o.ID, &o.Email, (*string)(&o.Purpose), &o.CodeHash, &o.ExpiresAt, &o.Used, &o.Attempts, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (s *PostgresStore) UsedOTPs(ctx context.Context, email string, purpose domain.OtpPurpose, now time.Time) ([]domain.OtpVerification, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+otpCols+` FROM otp_verifications
		WHERE email = $1 AND purpose = $2 AND used = TRUE AND expires_at >= $3
		ORDER BY created_at DESC`, email, string(purpose), now)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]domain.OtpVerification, 0)
	for rows.Next() {
		var o domain.OtpVerification
		if err := rows.Scan(&o.ID, &o.Email, (*string)(&o.Purpose), &o.CodeHash, &o.ExpiresAt, &o.Used, &o.Attempts, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateOTP(ctx context.Context, o *domain.OtpVerification) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE otp_verifications SET attempts = $2, used = $3 WHERE id = $1`, o.ID, o.Attempts, o.Used)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeOTPs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM otp_verifications WHERE used = TRUE OR expires_at < $1`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// users

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, email, created_at, updated_at FROM users WHERE `+where+` = $1`, arg).
		Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *PostgresStore) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO users (id, email, created_at, updated_at) VALUES ($1,$2,$3,$4)`,
		u.ID, u.Email, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

// carts

func (s *PostgresStore) CartItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT user_id, product_id, quantity, added_at
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, product_id`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]domain.CartItem, 0)
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.UserID, &it.ProductID, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutCartItem(ctx context.Context, it *domain.CartItem) error {
	_, err := s.conn(ctx).ExecContext(ctx, `INSERT INTO cart_items (user_id, product_id, quantity, added_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = $3`,
		it.UserID, it.ProductID, it.Quantity, it.AddedAt)
	return mapErr(err)
}

func (s *PostgresStore) RemoveCartItems(ctx context.Context, userID string, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`, userID, pq.Array(productIDs))
	return mapErr(err)
}

// categories

func (s *PostgresStore) InsertCategory(ctx context.Context, c *domain.Category) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO categories (id, name, slug, parent_id) VALUES ($1,$2,$3,$4)`,
		c.ID, c.Name, c.Slug, c.ParentID)
	return mapErr(err)
}
