package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kasira-dev/fees-engine/internal/cache"
	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/lock"
	"github.com/kasira-dev/fees-engine/internal/money"
	"github.com/kasira-dev/fees-engine/internal/store"
)

var (
	// ErrNotFound is returned when a session or line item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for client mistakes the store cannot catch.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence surface the checkout service depends on.
// *store.Store satisfies it.
type Store interface {
	CreateSession(ctx context.Context, customerID *uuid.UUID, paymentMethod string, ttl time.Duration) (store.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (store.Session, error)
	UpdateSessionPaymentMethod(ctx context.Context, id uuid.UUID, method string) (store.Session, error)
	UpdateSessionShipping(ctx context.Context, id uuid.UUID, amount money.Money) (store.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	ListActiveSessionIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
	AddItem(ctx context.Context, sessionID, productID uuid.UUID, title string, qty int32, unitPrice money.Money) (store.SessionItem, error)
	UpdateItemQty(ctx context.Context, sessionID, itemID uuid.UUID, qty int32) (store.SessionItem, error)
	RemoveItem(ctx context.Context, sessionID, itemID uuid.UUID) error
	ListItems(ctx context.Context, sessionID uuid.UUID) ([]store.SessionItem, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (store.Customer, error)
	GetFeeState(ctx context.Context, sessionID uuid.UUID) (fees.State, error)
	SaveFeeState(ctx context.Context, sessionID uuid.UUID, st fees.State) error
	SetForceRecalc(ctx context.Context, sessionID uuid.UUID, force bool) error
}

// Service owns checkout sessions and orchestrates fee recalculation around
// every cart mutation. Locker and Cache are optional; without a Locker
// commits are serialized in-process only.
type Service struct {
	Store    Store
	Pipeline *fees.Pipeline
	Locker   *lock.Locker
	Cache    *cache.Cache
	Bus      *events.Bus
	Log      zerolog.Logger

	// LockTTL bounds how long a recalculation pass may hold the session lock.
	LockTTL time.Duration
	// SessionTTL sets the expiry stamped on new sessions.
	SessionTTL time.Duration

	// Now is overridable in tests.
	Now func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*sync.Mutex
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) sessionTTL() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return 72 * time.Hour
}

// sessionMu hands out the in-process mutex serializing recalculation for one
// session. Entries are never evicted; the map is bounded by the number of
// sessions this instance has touched.
func (s *Service) sessionMu(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[uuid.UUID]*sync.Mutex)
	}
	m, ok := s.sessions[id]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[id] = m
	}
	return m
}

func (s *Service) configured() error {
	if s == nil || s.Store == nil || s.Pipeline == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

// CreateSession opens a new checkout session. The fee state starts empty;
// the first cart mutation triggers the first pass.
func (s *Service) CreateSession(ctx context.Context, customerID *uuid.UUID, paymentMethod string) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	paymentMethod = strings.TrimSpace(paymentMethod)
	if paymentMethod == "" {
		return SessionView{}, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}
	sess, err := s.Store.CreateSession(ctx, customerID, paymentMethod, s.sessionTTL())
	if err != nil {
		return SessionView{}, fmt.Errorf("create session: %w", err)
	}
	return s.assembleView(ctx, sess)
}

// GetSession returns the full session view with items, totals and ledger.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, s.mapStoreErr(err, "session")
	}
	return s.assembleView(ctx, sess)
}

// GetFees returns the ledger view for display pulls, served from cache when
// fresh. The embedded version lets consumers detect staleness against the
// signal from the latest recalculated event.
func (s *Service) GetFees(ctx context.Context, id uuid.UUID) (LedgerView, error) {
	if err := s.configured(); err != nil {
		return LedgerView{}, err
	}
	key := cache.KeyLedgerView(id)
	if s.Cache != nil {
		var cached LedgerView
		if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}
	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return LedgerView{}, s.mapStoreErr(err, "session")
	}
	items, err := s.Store.ListItems(ctx, id)
	if err != nil {
		return LedgerView{}, fmt.Errorf("list items: %w", err)
	}
	st, err := s.Store.GetFeeState(ctx, id)
	if err != nil {
		return LedgerView{}, fmt.Errorf("load fee state: %w", err)
	}
	view := buildLedgerView(sess, items, st)
	if s.Cache != nil {
		if err := s.Cache.SetJSON(ctx, key, view); err != nil {
			s.Log.Warn().Err(err).Str("session_id", id.String()).Msg("cache ledger view")
		}
	}
	return view, nil
}

// AddItem adds or merges a cart line and triggers recalculation.
func (s *Service) AddItem(ctx context.Context, sessionID, productID uuid.UUID, title string, qty int32, unitPrice money.Money) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return SessionView{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if qty <= 0 {
		return SessionView{}, fmt.Errorf("%w: qty must be positive", ErrInvalidInput)
	}
	if unitPrice < 0 {
		return SessionView{}, fmt.Errorf("%w: unit price cannot be negative", ErrInvalidInput)
	}
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return SessionView{}, s.mapStoreErr(err, "session")
	}
	if _, err := s.Store.AddItem(ctx, sessionID, productID, title, qty, unitPrice); err != nil {
		return SessionView{}, fmt.Errorf("add item: %w", err)
	}
	return s.afterTrigger(ctx, sessionID)
}

// UpdateItemQty changes a line quantity and triggers recalculation.
func (s *Service) UpdateItemQty(ctx context.Context, sessionID, itemID uuid.UUID, qty int32) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	if qty <= 0 {
		return SessionView{}, fmt.Errorf("%w: qty must be positive", ErrInvalidInput)
	}
	if _, err := s.Store.UpdateItemQty(ctx, sessionID, itemID, qty); err != nil {
		return SessionView{}, s.mapStoreErr(err, "item")
	}
	return s.afterTrigger(ctx, sessionID)
}

// RemoveItem deletes a line and triggers recalculation. Removing the last
// line clears the fee state on the following pass.
func (s *Service) RemoveItem(ctx context.Context, sessionID, itemID uuid.UUID) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	if err := s.Store.RemoveItem(ctx, sessionID, itemID); err != nil {
		return SessionView{}, s.mapStoreErr(err, "item")
	}
	return s.afterTrigger(ctx, sessionID)
}

// SetPaymentMethod switches the session payment method and triggers
// recalculation, which adds or removes the conditional surcharge.
func (s *Service) SetPaymentMethod(ctx context.Context, sessionID uuid.UUID, method string) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return SessionView{}, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}
	if _, err := s.Store.UpdateSessionPaymentMethod(ctx, sessionID, method); err != nil {
		return SessionView{}, s.mapStoreErr(err, "session")
	}
	return s.afterTrigger(ctx, sessionID)
}

// SetShipping sets the shipping total and triggers recalculation.
func (s *Service) SetShipping(ctx context.Context, sessionID uuid.UUID, amount money.Money) (SessionView, error) {
	if err := s.configured(); err != nil {
		return SessionView{}, err
	}
	if amount < 0 {
		return SessionView{}, fmt.Errorf("%w: shipping cannot be negative", ErrInvalidInput)
	}
	if _, err := s.Store.UpdateSessionShipping(ctx, sessionID, amount); err != nil {
		return SessionView{}, s.mapStoreErr(err, "session")
	}
	return s.afterTrigger(ctx, sessionID)
}

// DeleteSession ends the session and discards its fee state.
func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := s.configured(); err != nil {
		return err
	}
	if err := s.Store.DeleteSession(ctx, id); err != nil {
		return s.mapStoreErr(err, "session")
	}
	if s.Cache != nil {
		if err := s.Cache.Delete(ctx, cache.KeyLedgerView(id)); err != nil {
			s.Log.Warn().Err(err).Str("session_id", id.String()).Msg("drop cached ledger view")
		}
	}
	if s.Bus != nil {
		if _, err := s.Bus.Emit(ctx, events.TopicSessionDeleted, id, map[string]any{
			"sessionId": id.String(),
		}); err != nil {
			s.Log.Warn().Err(err).Str("session_id", id.String()).Msg("emit session deleted")
		}
	}
	return nil
}

// afterTrigger runs the recalculation pass a cart mutation warrants. A rule
// failure keeps the previous fee state current and is reported to the caller
// through logs and events, not as a request error.
func (s *Service) afterTrigger(ctx context.Context, sessionID uuid.UUID) (SessionView, error) {
	if _, err := s.Recalculate(ctx, sessionID, false); err != nil {
		s.Log.Error().Err(err).Str("session_id", sessionID.String()).Msg("recalculation after trigger")
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionView{}, s.mapStoreErr(err, "session")
	}
	return s.assembleView(ctx, sess)
}

func (s *Service) mapStoreErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// buildSnapshot assembles the immutable pass input. A failed customer lookup
// degrades to an unknown lifetime spend instead of failing the pass.
func (s *Service) buildSnapshot(ctx context.Context, sess store.Session) (fees.Snapshot, []store.SessionItem, error) {
	items, err := s.Store.ListItems(ctx, sess.ID)
	if err != nil {
		return fees.Snapshot{}, nil, fmt.Errorf("list items: %w", err)
	}
	snap := fees.Snapshot{
		SessionID:     sess.ID,
		ShippingTotal: sess.ShippingTotal,
		PaymentMethod: sess.PaymentMethod,
	}
	snap.Items = make([]fees.Item, 0, len(items))
	for _, it := range items {
		snap.Subtotal += it.Subtotal
		snap.Items = append(snap.Items, fees.Item{
			ProductID: it.ProductID,
			Qty:       int(it.Qty),
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	if sess.CustomerID != nil {
		snap.CustomerID = *sess.CustomerID
		cust, err := s.Store.GetCustomer(ctx, *sess.CustomerID)
		switch {
		case err == nil:
			snap.LifetimeSpend = cust.LifetimeSpend
			snap.LifetimeSpendKnown = true
		case errors.Is(err, pgx.ErrNoRows):
			s.Log.Warn().Str("session_id", sess.ID.String()).Str("customer_id", sess.CustomerID.String()).Msg("customer missing, lifetime spend unknown")
		default:
			s.Log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("customer lookup failed, lifetime spend unknown")
		}
	}
	return snap, items, nil
}
