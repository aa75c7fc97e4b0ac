package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// ErrUnavailable indicates the store dependency is not configured.
var ErrUnavailable = errors.New("store: unavailable")

// Session is a checkout session row.
type Session struct {
	ID            uuid.UUID
	CustomerID    *uuid.UUID
	PaymentMethod string
	ShippingTotal money.Money
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     *time.Time
}

// SessionItem is a cart line row.
type SessionItem struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	ProductID uuid.UUID
	Title     string
	Qty       int32
	UnitPrice money.Money
	Subtotal  money.Money
}

// Customer is a customer row with the lifetime spend figure fee rules read.
type Customer struct {
	ID            uuid.UUID
	Email         string
	LifetimeSpend money.Money
}

// Store provides pgx-backed persistence for sessions, cart lines, customers,
// fee states, domain events and the audit log.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by a pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const sessionColumns = `id, customer_id, payment_method, shipping_total, status, created_at, updated_at, expires_at`

func scanSession(row pgx.Row) (Session, error) {
	var (
		s          Session
		customerID uuid.NullUUID
		expiresAt  *time.Time
	)
	if err := row.Scan(&s.ID, &customerID, &s.PaymentMethod, &s.ShippingTotal, &s.Status, &s.CreatedAt, &s.UpdatedAt, &expiresAt); err != nil {
		return Session{}, err
	}
	if customerID.Valid {
		id := customerID.UUID
		s.CustomerID = &id
	}
	s.ExpiresAt = expiresAt
	return s, nil
}

// CreateSession inserts a new active session. A zero ttl leaves the session
// without an expiry.
func (s *Store) CreateSession(ctx context.Context, customerID *uuid.UUID, paymentMethod string, ttl time.Duration) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrUnavailable
	}
	var expires any
	if ttl > 0 {
		expires = time.Now().UTC().Add(ttl)
	}
	var cid uuid.NullUUID
	if customerID != nil {
		cid = uuid.NullUUID{UUID: *customerID, Valid: true}
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sessions (customer_id, payment_method, expires_at)
VALUES ($1, $2, $3) RETURNING `+sessionColumns, cid, paymentMethod, expires)
	return scanSession(row)
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// UpdateSessionPaymentMethod switches the payment method and bumps updated_at.
func (s *Store) UpdateSessionPaymentMethod(ctx context.Context, id uuid.UUID, method string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sessions SET payment_method = $2, updated_at = now()
WHERE id = $1 RETURNING `+sessionColumns, id, method)
	return scanSession(row)
}

// UpdateSessionShipping sets the shipping total and bumps updated_at.
func (s *Store) UpdateSessionShipping(ctx context.Context, id uuid.UUID, amount money.Money) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sessions SET shipping_total = $2, updated_at = now()
WHERE id = $1 RETURNING `+sessionColumns, id, amount)
	return scanSession(row)
}

// DeleteSession removes the session; items and fee state cascade.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActiveSessionIDs pages through sessions still marked active, oldest
// first, for bulk recalculation.
func (s *Store) ListActiveSessionIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions WHERE status = 'active'
ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const itemColumns = `id, session_id, product_id, title, qty, unit_price, subtotal`

func scanItem(row pgx.Row) (SessionItem, error) {
	var it SessionItem
	if err := row.Scan(&it.ID, &it.SessionID, &it.ProductID, &it.Title, &it.Qty, &it.UnitPrice, &it.Subtotal); err != nil {
		return SessionItem{}, err
	}
	return it, nil
}

// AddItem inserts a cart line. Adding a product already in the cart merges
// quantities; the line subtotal is maintained by the store so fee rules never
// recompute it.
func (s *Store) AddItem(ctx context.Context, sessionID, productID uuid.UUID, title string, qty int32, unitPrice money.Money) (SessionItem, error) {
	if s == nil || s.pool == nil {
		return SessionItem{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO session_items (session_id, product_id, title, qty, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5, $4 * $5)
ON CONFLICT (session_id, product_id) DO UPDATE
SET qty = session_items.qty + EXCLUDED.qty,
    unit_price = EXCLUDED.unit_price,
    subtotal = (session_items.qty + EXCLUDED.qty) * EXCLUDED.unit_price
RETURNING `+itemColumns, sessionID, productID, title, qty, unitPrice)
	return scanItem(row)
}

// UpdateItemQty sets a line quantity and recomputes the line subtotal.
func (s *Store) UpdateItemQty(ctx context.Context, sessionID, itemID uuid.UUID, qty int32) (SessionItem, error) {
	if s == nil || s.pool == nil {
		return SessionItem{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE session_items
SET qty = $3, subtotal = $3 * unit_price
WHERE id = $2 AND session_id = $1
RETURNING `+itemColumns, sessionID, itemID, qty)
	return scanItem(row)
}

// RemoveItem deletes a cart line.
func (s *Store) RemoveItem(ctx context.Context, sessionID, itemID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM session_items WHERE id = $2 AND session_id = $1`, sessionID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListItems returns the session's cart lines in insertion order.
func (s *Store) ListItems(ctx context.Context, sessionID uuid.UUID) ([]SessionItem, error) {
	if s == nil || s.pool == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM session_items
WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SessionItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetCustomer fetches a customer by id.
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	if s == nil || s.pool == nil {
		return Customer{}, ErrUnavailable
	}
	var c Customer
	err := s.pool.QueryRow(ctx, `SELECT id, email, lifetime_spend FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Email, &c.LifetimeSpend)
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}
