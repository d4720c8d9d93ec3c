package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/goroutine"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
	"github.com/mahdimonir/professionals-bd-sub001/internal/slots"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memBookings хранит брони в памяти. Блокировка специалиста моделирует advisory-lock.
type memBookings struct {
	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	bookings map[uuid.UUID]models.Booking
}

func newMemBookings() *memBookings {
	return &memBookings{
		locks:    make(map[uuid.UUID]*sync.Mutex),
		bookings: make(map[uuid.UUID]models.Booking),
	}
}

func (m *memBookings) put(b models.Booking) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.bookings[b.ID] = b
	return b
}

func (m *memBookings) get(id uuid.UUID) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

func (m *memBookings) all() []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return &b, nil
}

func (m *memBookings) ListByParticipant(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range m.all() {
		if b.IsParticipant(userID) {
			out = append(out, b)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memBookings) ListForProfessionalBetween(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error) {
	return m.overlapping(professionalID, from, to, nil), nil
}

func (m *memBookings) WithProfessionalLock(_ context.Context, professionalID uuid.UUID, fn func(tx repository.BookingTx) error) error {
	m.mu.Lock()
	lock, ok := m.locks[professionalID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[professionalID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(&memBookingTx{m: m})
}

func (m *memBookings) overlapping(professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) []models.Booking {
	var out []models.Booking
	for _, b := range m.all() {
		if b.ProfessionalID != professionalID || b.Status == models.BookingStatusCancelled {
			continue
		}
		if exclude != nil && b.ID == *exclude {
			continue
		}
		if b.Overlaps(start, end) {
			out = append(out, b)
		}
	}
	return out
}

func (m *memBookings) update(id uuid.UUID, fn func(b *models.Booking)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	fn(&b)
	m.bookings[id] = b
	return nil
}

type memBookingTx struct {
	m *memBookings
}

func (t *memBookingTx) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return t.m.GetByID(ctx, id)
}

func (t *memBookingTx) FindOverlapping(_ context.Context, professionalID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]models.Booking, error) {
	return t.m.overlapping(professionalID, start, end, exclude), nil
}

func (t *memBookingTx) Insert(_ context.Context, b *models.Booking) error {
	b.ID = uuid.New()
	b.UpdatedAt = b.CreatedAt
	t.m.put(*b)
	return nil
}

func (t *memBookingTx) UpdateTimes(_ context.Context, id uuid.UUID, start, end time.Time) error {
	return t.m.update(id, func(b *models.Booking) { b.StartTime, b.EndTime = start, end })
}

func (t *memBookingTx) UpdateStatus(_ context.Context, id uuid.UUID, status models.BookingStatus) error {
	return t.m.update(id, func(b *models.Booking) { b.Status = status })
}

func (t *memBookingTx) Cancel(_ context.Context, id, cancelledBy uuid.UUID, reason string) error {
	return t.m.update(id, func(b *models.Booking) {
		b.Status = models.BookingStatusCancelled
		b.CancelledBy = &cancelledBy
		b.CancellationReason = &reason
	})
}

func (t *memBookingTx) RefreshHold(_ context.Context, id uuid.UUID, at time.Time) error {
	return t.m.update(id, func(b *models.Booking) {
		b.CreatedAt = at
		b.HoldRefreshes++
	})
}

type memDirectory struct {
	professionals map[uuid.UUID]*models.Professional
}

func (d *memDirectory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id, Role: models.RoleClient}, nil
}

func (d *memDirectory) GetProfessional(_ context.Context, id uuid.UUID) (*models.Professional, error) {
	p, ok := d.professionals[id]
	if !ok {
		return nil, repository.ErrProfessionalNotFound
	}
	return p, nil
}

type memPayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]models.Payment
	logs     []models.PaymentLog
}

func newMemPayments() *memPayments {
	return &memPayments{
		payments: make(map[uuid.UUID]models.Payment),
	}
}

func (m *memPayments) Create(_ context.Context, p *models.Payment, log *models.PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	m.payments[p.ID] = *p
	log.PaymentID = &p.ID
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memPayments) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memPayments) GetByTransactionID(_ context.Context, method models.PaymentMethod, trxID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Method == method && p.TransactionID == trxID {
			return &p, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (m *memPayments) GetLatestByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Payment
	for _, p := range m.payments {
		if p.BookingID != bookingID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, repository.ErrPaymentNotFound
	}
	return latest, nil
}

func (m *memPayments) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPayments) TransitionStatus(_ context.Context, id uuid.UUID, to models.PaymentStatus, from ...models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			m.payments[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (m *memPayments) MarkRefunded(_ context.Context, id uuid.UUID, amount float64, refundTrxID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPaid {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	p.RefundAmount = &amount
	p.RefundTrxID = &refundTrxID
	m.payments[id] = p
	return true, nil
}

func (m *memPayments) SetInvoiceURL(_ context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payments[id]
	p.InvoiceURL = &url
	m.payments[id] = p
	return nil
}

func (m *memPayments) AppendLog(_ context.Context, log *models.PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memPayments) logsFor(action models.PaymentLogAction) []models.PaymentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentLog
	for _, l := range m.logs {
		if l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

type memDisputes struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]models.Dispute
}

func newMemDisputes() *memDisputes {
	return &memDisputes{disputes: make(map[uuid.UUID]models.Dispute)}
}

func (m *memDisputes) Create(_ context.Context, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.disputes {
		if existing.BookingID == d.BookingID && existing.Type == d.Type && existing.Status == models.DisputeStatusOpen {
			return repository.ErrDisputeAlreadyOpen
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.disputes[d.ID] = *d
	return nil
}

func (m *memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, repository.ErrDisputeNotFound
	}
	return &d, nil
}

func (m *memDisputes) Resolve(_ context.Context, id uuid.UUID, status models.DisputeStatus, resolvedBy uuid.UUID, note *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok || d.Status != models.DisputeStatusOpen {
		return false, nil
	}
	d.Status = status
	d.ResolvedBy = &resolvedBy
	d.ResolutionNote = note
	d.ResolvedAt = &at
	m.disputes[id] = d
	return true, nil
}

func (m *memDisputes) Reopen(_ context.Context, id uuid.UUID, from models.DisputeStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = models.DisputeStatusOpen
	d.ResolvedBy = nil
	d.ResolutionNote = nil
	d.ResolvedAt = nil
	m.disputes[id] = d
	return true, nil
}

func (m *memDisputes) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Dispute
	for _, d := range m.disputes {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDisputes) ListByStatus(_ context.Context, status models.DisputeStatus, _, _ int) ([]models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Dispute
	for _, d := range m.disputes {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) Append(_ context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []events.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg events.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) kinds() []events.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Kind, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Kind)
	}
	return out
}

func (n *recordingNotifier) to(userID uuid.UUID) []events.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.Message
	for _, m := range n.messages {
		if m.Audience == events.AudienceUser && m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

type mockAdapter struct {
	mock.Mock
	method models.PaymentMethod
}

func (m *mockAdapter) Method() models.PaymentMethod { return m.method }

func (m *mockAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Session), args.Error(1)
}

func (m *mockAdapter) Reconcile(ctx context.Context, payload gateway.Payload) (*gateway.Callback, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Callback), args.Error(1)
}

func (m *mockAdapter) BookingRef(trxID string) (uuid.UUID, bool) {
	args := m.Called(trxID)
	return args.Get(0).(uuid.UUID), args.Bool(1)
}

type countingInvoices struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvoices) Generate(_ context.Context, p *models.Payment, _ *models.Booking) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "http://localhost/api/payments/" + p.ID.String() + "/invoice", nil
}

func (c *countingInvoices) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// engine собирает сервисы поверх хранилищ в памяти.
type engine struct {
	clock        *testClock
	bookings     *memBookings
	payments     *memPayments
	disputes     *memDisputes
	audit        *memAudit
	notifier     *recordingNotifier
	invoices     *countingInvoices
	adapter      *mockAdapter
	directory    *memDirectory
	bookingSvc   *BookingService
	paymentSvc   *PaymentService
	disputeSvc   *DisputeService
	professional *models.Professional
	client       uuid.UUID
}

// Понедельник 3 июня 2024, 10:00 UTC.
var testNow = time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)

func newEngine() *engine {
	e := &engine{
		clock:    &testClock{now: testNow},
		bookings: newMemBookings(),
		payments: newMemPayments(),
		disputes: newMemDisputes(),
		audit:    &memAudit{},
		notifier: &recordingNotifier{},
		invoices: &countingInvoices{},
		adapter:  &mockAdapter{method: models.PaymentMethodSSLCommerz},
		client:   uuid.New(),
	}
	e.professional = &models.Professional{
		UserID:       uuid.New(),
		SessionPrice: 450,
		Timezone:     "UTC",
	}
	e.directory = &memDirectory{professionals: map[uuid.UUID]*models.Professional{e.professional.UserID: e.professional}}

	conflicts := NewConflictResolver(e.bookings, DefaultHoldWindow).WithClock(e.clock.Now)
	generator := slots.NewGenerator(conflicts, slots.DefaultDuration).WithClock(e.clock.Now)
	e.bookingSvc = NewBookingService(e.bookings, e.directory, conflicts, generator, e.notifier, BookingOptions{MaxHoldRefreshes: 2})
	runner := goroutine.NewInlineRunner(goroutine.DefaultRecoveryHandler)
	e.paymentSvc = NewPaymentService(e.payments, e.bookingSvc, gateway.NewRegistry(e.adapter), e.invoices, e.notifier, runner, "BDT")
	e.disputeSvc = NewDisputeService(e.disputes, e.payments, e.bookingSvc, e.audit, e.notifier)
	e.disputeSvc.now = e.clock.Now
	return e
}

// seed кладёт бронь специалиста с заданным статусом на интервал от testNow+offset.
func (e *engine) seed(status models.BookingStatus, offset, length time.Duration) models.Booking {
	return e.bookings.put(models.Booking{
		UserID:         e.client,
		ProfessionalID: e.professional.UserID,
		StartTime:      testNow.Add(offset),
		EndTime:        testNow.Add(offset + length),
		Price:          e.professional.SessionPrice,
		Status:         status,
		CreatedAt:      e.clock.Now(),
	})
}
