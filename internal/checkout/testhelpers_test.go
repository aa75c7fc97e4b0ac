package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/money"
	"github.com/kasira-dev/fees-engine/internal/store"
)

// memStore mirrors the semantics of the Postgres store closely enough for
// service tests: quantity merge on duplicate products, pgx.ErrNoRows on
// missing rows, zero fee state before the first pass.
type memStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]store.Session
	order     []uuid.UUID
	items     map[uuid.UUID][]store.SessionItem
	customers map[uuid.UUID]store.Customer
	states    map[uuid.UUID]fees.State
	saves     int
	failSaves int
	clock     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[uuid.UUID]store.Session),
		items:     make(map[uuid.UUID][]store.SessionItem),
		customers: make(map[uuid.UUID]store.Customer),
		states:    make(map[uuid.UUID]fees.State),
		clock:     time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func (m *memStore) CreateSession(ctx context.Context, customerID *uuid.UUID, paymentMethod string, ttl time.Duration) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.clock.Add(ttl)
	sess := store.Session{
		ID:            uuid.New(),
		CustomerID:    customerID,
		PaymentMethod: paymentMethod,
		Status:        "active",
		CreatedAt:     m.clock,
		UpdatedAt:     m.clock,
		ExpiresAt:     &exp,
	}
	m.sessions[sess.ID] = sess
	m.order = append(m.order, sess.ID)
	return sess, nil
}

func (m *memStore) GetSession(ctx context.Context, id uuid.UUID) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return store.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (m *memStore) UpdateSessionPaymentMethod(ctx context.Context, id uuid.UUID, method string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return store.Session{}, pgx.ErrNoRows
	}
	sess.PaymentMethod = method
	sess.UpdatedAt = m.clock
	m.sessions[id] = sess
	return sess, nil
}

func (m *memStore) UpdateSessionShipping(ctx context.Context, id uuid.UUID, amount money.Money) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return store.Session{}, pgx.ErrNoRows
	}
	sess.ShippingTotal = amount
	sess.UpdatedAt = m.clock
	m.sessions[id] = sess
	return sess, nil
}

func (m *memStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.sessions, id)
	delete(m.items, id)
	delete(m.states, id)
	return nil
}

func (m *memStore) ListActiveSessionIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make([]uuid.UUID, 0, len(m.order))
	for _, id := range m.order {
		if sess, ok := m.sessions[id]; ok && sess.Status == "active" {
			active = append(active, id)
		}
	}
	if offset >= len(active) {
		return nil, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	return active[offset:end], nil
}

func (m *memStore) AddItem(ctx context.Context, sessionID, productID uuid.UUID, title string, qty int32, unitPrice money.Money) (store.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.items[sessionID]
	for i, it := range lines {
		if it.ProductID == productID {
			it.Qty += qty
			it.UnitPrice = unitPrice
			it.Subtotal = money.Money(it.Qty) * unitPrice
			lines[i] = it
			return it, nil
		}
	}
	it := store.SessionItem{
		ID:        uuid.New(),
		SessionID: sessionID,
		ProductID: productID,
		Title:     title,
		Qty:       qty,
		UnitPrice: unitPrice,
		Subtotal:  money.Money(qty) * unitPrice,
	}
	m.items[sessionID] = append(lines, it)
	return it, nil
}

func (m *memStore) UpdateItemQty(ctx context.Context, sessionID, itemID uuid.UUID, qty int32) (store.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.items[sessionID]
	for i, it := range lines {
		if it.ID == itemID {
			it.Qty = qty
			it.Subtotal = money.Money(qty) * it.UnitPrice
			lines[i] = it
			return it, nil
		}
	}
	return store.SessionItem{}, pgx.ErrNoRows
}

func (m *memStore) RemoveItem(ctx context.Context, sessionID, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.items[sessionID]
	for i, it := range lines {
		if it.ID == itemID {
			m.items[sessionID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *memStore) ListItems(ctx context.Context, sessionID uuid.UUID) ([]store.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.items[sessionID]
	out := make([]store.SessionItem, len(lines))
	copy(out, lines)
	return out, nil
}

func (m *memStore) GetCustomer(ctx context.Context, id uuid.UUID) (store.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cust, ok := m.customers[id]
	if !ok {
		return store.Customer{}, pgx.ErrNoRows
	}
	return cust, nil
}

func (m *memStore) GetFeeState(ctx context.Context, sessionID uuid.UUID) (fees.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[sessionID], nil
}

func (m *memStore) SaveFeeState(ctx context.Context, sessionID uuid.UUID, st fees.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("save failed")
	}
	m.states[sessionID] = st
	m.saves++
	return nil
}

func (m *memStore) SetForceRecalc(ctx context.Context, sessionID uuid.UUID, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[sessionID]
	st.Baseline.Force = force
	m.states[sessionID] = st
	return nil
}

func (m *memStore) addCustomer(email string, lifetimeSpend money.Money) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	cust := store.Customer{ID: uuid.New(), Email: email, LifetimeSpend: lifetimeSpend}
	m.customers[cust.ID] = cust
	return cust.ID
}

func (m *memStore) feeState(id uuid.UUID) fees.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) failNextSave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves++
}

// memEventStore records emitted topics so tests can observe the bus.
type memEventStore struct {
	mu     sync.Mutex
	topics []string
}

func (m *memEventStore) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return uuid.New(), nil
}

func (m *memEventStore) emitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.topics))
	copy(out, m.topics)
	return out
}

func scenarioRules() fees.RuleSet {
	return fees.RuleSet{
		Discounts: []fees.DiscountRule{
			fees.PerItemDiscount{EntryName: "per_item_discount", PerUnit: 1000, MinQty: 5},
		},
		Surcharges: []fees.SurchargeRule{
			fees.MethodSurcharge{EntryName: "cod_fee", Method: "cod", RateBps: 300, Taxable: true},
		},
	}
}

func newTestService(t *testing.T, rules fees.RuleSet) (*Service, *memStore, *memEventStore) {
	t.Helper()
	p, err := fees.NewPipeline(rules)
	require.NoError(t, err)
	ms := newMemStore()
	es := &memEventStore{}
	return &Service{
		Store:    ms,
		Pipeline: p,
		Bus:      &events.Bus{Store: es},
		Log:      zerolog.Nop(),
	}, ms, es
}

func findEntry(view LedgerView, name string) (EntryView, bool) {
	for _, e := range view.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryView{}, false
}

func countEntries(view LedgerView, name string) int {
	n := 0
	for _, e := range view.Entries {
		if e.Name == name {
			n++
		}
	}
	return n
}
