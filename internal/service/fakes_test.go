package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ---- in-memory store ----

type memStore struct {
	mu sync.Mutex

	cart      map[int64][]models.CartLine
	addresses map[int64]*models.Address
	settings  map[int64]*models.VendorSettings
	partners  map[int64]*models.DeliveryPartner
	stock     map[int64]int

	sessions map[string]*models.CheckoutSession
	orders   map[int64]*models.VendorOrder
	items    map[int64][]models.OrderItem
	history  map[int64][]models.StatusHistory
	txs      map[int64]*models.PaymentTransaction
	points   []models.TrackingPoint

	createOrderErr map[int64]error
	nextID         int64
}

func newMemStore() *memStore {
	return &memStore{
		cart:           map[int64][]models.CartLine{},
		addresses:      map[int64]*models.Address{},
		settings:       map[int64]*models.VendorSettings{},
		partners:       map[int64]*models.DeliveryPartner{},
		stock:          map[int64]int{},
		sessions:       map[string]*models.CheckoutSession{},
		orders:         map[int64]*models.VendorOrder{},
		items:          map[int64][]models.OrderItem{},
		history:        map[int64][]models.StatusHistory{},
		txs:            map[int64]*models.PaymentTransaction{},
		createOrderErr: map[int64]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func cloneSession(s *models.CheckoutSession) *models.CheckoutSession {
	c := *s
	c.Outcomes = append(models.VendorOutcomes(nil), s.Outcomes...)
	return &c
}

func (m *memStore) GetCartLines(_ context.Context, customerID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartLine(nil), m.cart[customerID]...), nil
}

func (m *memStore) ClearCartForVendors(_ context.Context, customerID int64, vendorIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := map[int64]bool{}
	for _, id := range vendorIDs {
		drop[id] = true
	}
	var kept []models.CartLine
	for _, line := range m.cart[customerID] {
		if !drop[line.VendorID] {
			kept = append(kept, line)
		}
	}
	m.cart[customerID] = kept
	return nil
}

func (m *memStore) GetAddress(_ context.Context, id int64) (*models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *memStore) GetVendorSettings(_ context.Context, vendorID int64) (*models.VendorSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[vendorID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memStore) CreateCheckoutSession(_ context.Context, session *models.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.IdempotencyKey == session.IdempotencyKey {
			return store.ErrConflict
		}
	}
	session.CreatedAt = time.Now()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *memStore) GetCheckoutSession(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memStore) GetCheckoutSessionByKey(_ context.Context, key string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.IdempotencyKey == key {
			return cloneSession(s), nil
		}
	}
	return nil, nil
}

func (m *memStore) SaveCheckoutSession(_ context.Context, session *models.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return store.ErrNotFound
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *memStore) CreateVendorOrder(_ context.Context, order *models.VendorOrder, items []models.OrderItem, paymentTxID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createOrderErr[order.VendorID]; err != nil {
		return err
	}
	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber ||
			(o.CheckoutSessionID == order.CheckoutSessionID && o.VendorID == order.VendorID) {
			return store.ErrConflict
		}
	}

	order.ID = m.id()
	order.CreatedAt = time.Now()
	stored := *order
	m.orders[order.ID] = &stored

	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = order.ID
	}
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	m.history[order.ID] = append(m.history[order.ID], models.StatusHistory{
		OrderID: order.ID, FromStatus: order.Status, ToStatus: order.Status,
		ActorType: models.ActorSystem, Note: "order placed",
	})
	if paymentTxID != nil {
		id := order.ID
		m.txs[*paymentTxID].VendorOrderID = &id
	}
	return nil
}

func (m *memStore) GetOrderBySessionAndVendor(_ context.Context, sessionID string, vendorID int64) (*models.VendorOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.CheckoutSessionID == sessionID && o.VendorID == vendorID {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreatePaymentTransaction(_ context.Context, tx *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.Gateway == tx.Gateway && t.ExternalTxID == tx.ExternalTxID {
			return store.ErrConflict
		}
	}
	tx.ID = m.id()
	c := *tx
	m.txs[tx.ID] = &c
	return nil
}

func (m *memStore) GetPaymentTransaction(_ context.Context, gateway, externalTxID string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.Gateway == gateway && t.ExternalTxID == externalTxID {
			c := *t
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdatePaymentTransaction(_ context.Context, tx *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txs[tx.ID]
	if !ok || stored.Status != models.TxStatusInitiated {
		return store.ErrStaleState
	}
	stored.Status = tx.Status
	stored.Verified = tx.Verified
	stored.GatewayPaymentID = tx.GatewayPaymentID
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.VendorOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *memStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) GetStatusHistory(_ context.Context, orderID int64) ([]models.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StatusHistory(nil), m.history[orderID]...), nil
}

func (m *memStore) GetDeliveryPartner(_ context.Context, id int64) (*models.DeliveryPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) ApplyTransition(_ context.Context, t store.Transition) (*store.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != t.From {
		return nil, store.ErrStaleState
	}
	now := time.Now()
	o.Status = t.To
	if t.CourierName != nil {
		o.CourierName = t.CourierName
	}
	if t.TrackingNumber != nil {
		o.TrackingNumber = t.TrackingNumber
	}
	if t.To == models.OrderStatusShipped && o.ShippedAt == nil {
		o.ShippedAt = &now
	}
	result := &store.TransitionResult{}
	if t.To == models.OrderStatusDelivered {
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
		if !o.StockApplied {
			o.StockApplied = true
			result.StockApplied = true
			for _, item := range m.items[o.ID] {
				left := m.stock[item.ProductID] - item.Quantity
				if left < 0 {
					left = 0
				}
				m.stock[item.ProductID] = left
			}
		}
	}
	m.history[o.ID] = append(m.history[o.ID], models.StatusHistory{
		OrderID: o.ID, FromStatus: t.From, ToStatus: t.To, ActorType: t.ActorType, ActorID: t.ActorID, Note: t.Note,
	})
	c := *o
	result.Order = &c
	return result, nil
}

func (m *memStore) AssignPartner(_ context.Context, orderID, partnerID int64, actor models.ActorType, actorID *int64) (*models.VendorOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status.Terminal() {
		return nil, store.ErrStaleState
	}
	o.DeliveryPartnerID = &partnerID
	m.history[o.ID] = append(m.history[o.ID], models.StatusHistory{
		OrderID: o.ID, FromStatus: o.Status, ToStatus: o.Status, ActorType: actor, ActorID: actorID,
		Note: fmt.Sprintf("delivery partner %d assigned", partnerID),
	})
	c := *o
	return &c, nil
}

func (m *memStore) RecordCODCollection(_ context.Context, orderID int64, amount decimal.Decimal, reference string, actor models.ActorType, actorID *int64) (*models.VendorOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.PaymentMethod != models.PaymentMethodCOD || o.PaymentStatus == models.PaymentStatusPaid || o.Status == models.OrderStatusCancelled {
		return nil, store.ErrStaleState
	}
	o.PaymentStatus = models.PaymentStatusPaid
	o.PaymentReference = &reference
	o.CODAmountCollected = decimal.NewNullDecimal(amount)
	m.history[o.ID] = append(m.history[o.ID], models.StatusHistory{
		OrderID: o.ID, FromStatus: o.Status, ToStatus: o.Status, ActorType: actor, ActorID: actorID,
		Note: fmt.Sprintf("COD collected: %s (ref %s)", amount.StringFixed(2), reference),
	})
	c := *o
	return &c, nil
}

func (m *memStore) InsertTrackingPoint(_ context.Context, p *models.TrackingPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[p.OrderID]
	if !ok || o.Status != models.OrderStatusOutForDelivery || o.DeliveryPartnerID == nil || *o.DeliveryPartnerID != p.PartnerID {
		return store.ErrStaleState
	}
	p.ID = m.id()
	m.points = append(m.points, *p)
	return nil
}

func (m *memStore) ListTrackingPoints(_ context.Context, orderID int64) ([]models.TrackingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrackingPoint
	for _, p := range m.points {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (m *memStore) ordersFor(sessionID string) []*models.VendorOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VendorOrder
	for _, o := range m.orders {
		if o.CheckoutSessionID == sessionID {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) addOrder(o models.VendorOrder, items ...models.OrderItem) *models.VendorOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.id()
	m.orders[o.ID] = &o
	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = o.ID
	}
	m.items[o.ID] = items
	c := o
	return &c
}

// ---- recording publisher ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	return p.record(e.EventType)
}
func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}
func (p *recordingPublisher) PublishPartnerAssigned(_ context.Context, e *models.PartnerAssignedEvent) error {
	return p.record(e.EventType)
}
func (p *recordingPublisher) PublishPayment(_ context.Context, e *models.PaymentEvent) error {
	return p.record(e.EventType)
}
func (p *recordingPublisher) PublishCODCollected(_ context.Context, e *models.CODCollectedEvent) error {
	return p.record(e.EventType)
}
func (p *recordingPublisher) PublishCheckoutCompleted(_ context.Context, e *models.CheckoutCompletedEvent) error {
	return p.record(e.EventType)
}

// ---- gateways ----

type fakeModal struct {
	createErr error
	verifyErr error
	created   int
}

func (g *fakeModal) Name() string { return models.PaymentMethodRazorpay }

func (g *fakeModal) CreateOrder(_ context.Context, req payment.OrderRequest) (*payment.GatewayOrder, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	return &payment.GatewayOrder{
		ID:          fmt.Sprintf("order_%d", g.created),
		AmountMinor: payment.ToMinorUnits(req.Amount),
		Currency:    "INR",
		KeyID:       "rzp_test",
	}, nil
}

func (g *fakeModal) Verify(_ context.Context, _ payment.Verification) error {
	return g.verifyErr
}

type fakeRedirect struct {
	initiateErr error
	checksumErr error
	status      *payment.StatusResult
	statusErr   error
}

func (g *fakeRedirect) Name() string { return models.PaymentMethodPhonePe }

func (g *fakeRedirect) Initiate(_ context.Context, req payment.RedirectRequest) (*payment.Redirect, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &payment.Redirect{URL: "https://pay.example/" + req.MerchantTxID, MerchantTxID: req.MerchantTxID}, nil
}

func (g *fakeRedirect) Status(_ context.Context, merchantTxID string) (*payment.StatusResult, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	s := *g.status
	s.MerchantTxID = merchantTxID
	return &s, nil
}

func (g *fakeRedirect) VerifyCallback(_, _ string) error {
	return g.checksumErr
}

func callbackFor(t *testing.T, merchantTxID string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"success": true,
		"code":    "PAYMENT_SUCCESS",
		"data":    map[string]any{"merchantTransactionId": merchantTxID},
	})
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// ---- redis ----

func setupRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.NewClientWithRedis(rdb), mr
}
