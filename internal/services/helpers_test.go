package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"campus-ticket/internal/ledger/ledgertest"
	"campus-ticket/internal/services/bank"
	"campus-ticket/internal/status"
	"campus-ticket/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetProvider() bank.Provider {
	return bank.ProviderToyyibPaySandbox
}

func (m *mockGateway) Ready() error {
	return m.Called().Error(0)
}

func (m *mockGateway) CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error) {
	args := m.Called(ctx, f)
	if b := args.Get(0); b != nil {
		return b.(*status.Bill), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) GetBillStatus(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error) {
	args := m.Called(ctx, billCode, externalRef)
	if txs := args.Get(0); txs != nil {
		return txs.([]status.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeLocker is an in-process Locker.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, status.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	payments []string
}

func (n *recordingNotifier) PaymentCompleted(_ context.Context, p *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, p.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payments)
}

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *ledgertest.Store
	gateway  *mockGateway
	locker   *fakeLocker
	notifier *recordingNotifier
	payments *PaymentService
	recon    *ReconciliationService
	tickets  *TicketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		store:    ledgertest.New(),
		gateway:  new(mockGateway),
		locker:   newFakeLocker(),
		notifier: &recordingNotifier{},
	}

	reservations := NewReservationService(f.store, logger)
	reservations.now = func() time.Time { return testNow }

	f.payments = NewPaymentService(f.store, f.gateway, reservations, PaymentConfig{
		FeeRate:       decimal.RequireFromString("0.05"),
		HoldTTL:       30 * time.Minute,
		ManualHoldTTL: 48 * time.Hour,
		AppBaseURL:    "https://tickets.example.edu/",
	}, logger)
	f.payments.now = func() time.Time { return testNow }
	ids := 0
	f.payments.newID = func() string {
		ids++
		return fmt.Sprintf("pay-%d", ids)
	}

	f.recon = NewReconciliationService(f.store, f.gateway, f.locker, f.notifier, ReconcileConfig{
		LockTTL: 30 * time.Second,
	}, logger)
	f.recon.now = func() time.Time { return testNow }

	f.tickets = NewTicketService(f.store, logger)
	f.tickets.now = func() time.Time { return testNow }

	return f
}

const (
	organizerID = "org-1"
	studentID   = "stu-1"
)

var student = models.Principal{UserID: studentID, Role: models.RoleStudent}

func (f *fixture) seedEvent(id string, price string, capacity int) {
	f.store.PutEvent(&models.Event{
		ID:          id,
		OrganizerID: organizerID,
		Title:       "Spring Gala",
		Status:      models.EventPublished,
		Price:       decimal.RequireFromString(price),
		Capacity:    capacity,
		Revenue:     decimal.Zero,
	})
}

func (f *fixture) seedGatewayOrganizer() {
	f.store.PutProfile(&models.Profile{
		UserID:         organizerID,
		Role:           models.RoleOrganizer,
		CategoryCode:   "cat123",
		PaymentEnabled: true,
	})
}

func (f *fixture) seedManualOrganizer() {
	f.store.PutProfile(&models.Profile{
		UserID:          organizerID,
		Role:            models.RoleOrganizer,
		ManualQREnabled: true,
		ManualQRURL:     "https://cdn.example.edu/qr.png",
	})
}

func (f *fixture) seedStudent() {
	f.store.PutProfile(&models.Profile{
		UserID: studentID,
		Name:   "Aina",
		Email:  "aina@example.edu",
		Phone:  "0123456789",
		Role:   models.RoleStudent,
	})
}

func (f *fixture) event(t *testing.T, id string) *models.Event {
	t.Helper()
	e, err := f.store.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("get event %s: %v", id, err)
	}
	return e
}

func (f *fixture) payment(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := f.store.GetPayment(context.Background(), id)
	if err != nil {
		t.Fatalf("get payment %s: %v", id, err)
	}
	return p
}

func (f *fixture) ticketStatuses(t *testing.T, ids []string) []models.TicketStatus {
	t.Helper()
	out := make([]models.TicketStatus, 0, len(ids))
	for _, id := range ids {
		tk, err := f.store.GetTicket(context.Background(), id)
		if err != nil {
			t.Fatalf("get ticket %s: %v", id, err)
		}
		out = append(out, tk.Status)
	}
	return out
}

// checkout runs a paid purchase of qty tickets through a mocked bill.
func (f *fixture) checkout(t *testing.T, eventID string, qty int, billCode string) *Checkout {
	t.Helper()
	f.gateway.On("Ready").Return(nil).Maybe()
	f.gateway.On("CreateBill", mock.Anything, mock.Anything).
		Return(&status.Bill{BillCode: billCode, BillURL: "https://dev.toyyibpay.com/" + billCode}, nil).Once()

	c, err := f.payments.InitiatePayment(context.Background(), student, PurchaseRequest{EventID: eventID, Quantity: qty})
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	return c
}

func successTx(refno, amountRM string) []status.Transaction {
	return []status.Transaction{{Fields: map[string]any{
		"billpaymentStatus":    "1",
		"billpaymentInvoiceNo": refno,
		"billpaymentAmount":    amountRM,
	}}}
}
