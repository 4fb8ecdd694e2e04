package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus-ticket/internal/ledger"
	"campus-ticket/internal/services/bank"
	"campus-ticket/internal/status"
	"campus-ticket/models"
	"campus-ticket/monitoring"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	callbackPath = "/api/v1/payments/toyyibpay/callback"
	returnPath   = "/api/v1/payments/toyyibpay/return"

	credentialsHint = "the payment gateway secret key is missing or rejected; ask an administrator to set TOYYIBPAY_SECRET_KEY"
)

type PaymentConfig struct {
	// FeeRate is the platform's share of every paid checkout, e.g. 0.05.
	FeeRate decimal.Decimal
	// HoldTTL is how long a bill stays payable and its capacity held.
	HoldTTL time.Duration
	// ManualHoldTTL is the hold of a manual QR checkout awaiting the organizer.
	ManualHoldTTL time.Duration
	// AppBaseURL is the public origin the gateway calls back to.
	AppBaseURL string
}

type PurchaseRequest struct {
	EventID         string         `json:"-" validate:"required"`
	Quantity        int            `json:"quantity" validate:"required,min=1,max=10"`
	CustomResponses map[string]any `json:"custom_responses"`
}

// Checkout is what the purchaser gets back from a purchase or a retry.
type Checkout struct {
	PaymentID   string               `json:"payment_id,omitempty"`
	Free        bool                 `json:"free,omitempty"`
	TicketIDs   []string             `json:"ticket_ids,omitempty"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	Split       *models.Split        `json:"split,omitempty"`
	Method      models.PaymentMethod `json:"method,omitempty"`
	BillCode    string               `json:"bill_code,omitempty"`
	PaymentURL  string               `json:"payment_url,omitempty"`
	ManualQRURL string               `json:"manual_qr_url,omitempty"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
}

type PaymentService struct {
	store        ledger.Store
	gateway      bank.Gateway
	reservations *ReservationService
	validate     *validator.Validate
	cfg          PaymentConfig
	logger       *zap.Logger

	newID func() string
	now   func() time.Time
}

func NewPaymentService(store ledger.Store, gateway bank.Gateway, reservations *ReservationService, cfg PaymentConfig, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:        store,
		gateway:      gateway,
		reservations: reservations,
		validate:     validator.New(),
		cfg:          cfg,
		logger:       logger.Named("payment"),
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// InitiatePayment reserves tickets and opens a gateway bill for them. A failed
// initiation leaves no tickets, payment or capacity hold behind.
func (s *PaymentService) InitiatePayment(ctx context.Context, principal models.Principal, req PurchaseRequest) (*Checkout, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &status.PurchaseError{Kind: status.KindInvalidRequest, Reason: validationReason(err), Err: err}
	}

	event, err := s.store.GetEvent(ctx, req.EventID)
	if errors.Is(err, ledger.ErrNotFound) {
		monitoring.TrackPurchase(string(status.KindEventNotFound))
		return nil, status.NewPurchaseError(status.KindEventNotFound, "event not found")
	}
	if err != nil {
		return nil, fmt.Errorf("initiatePayment: get event: %w", err)
	}

	// Reserve checks both again under the event write.
	if event.Status != models.EventPublished {
		monitoring.TrackPurchase(string(status.KindInvalidState))
		return nil, status.NewPurchaseError(status.KindInvalidState, fmt.Sprintf("event is %s", event.Status))
	}
	if event.Available() < req.Quantity {
		monitoring.TrackPurchase(string(status.KindInsufficientInventory))
		return nil, insufficient(event)
	}

	if event.IsFree() {
		return s.reserveFree(ctx, principal, req)
	}

	method, organizer, err := s.paymentMethod(ctx, event)
	if err != nil {
		monitoring.TrackPurchase(kindLabel(err))
		return nil, err
	}

	paymentID := s.newID()
	sg := newSaga("initiate_payment", s.logger)

	res, err := s.reservations.Reserve(ctx, ReserveRequest{
		EventID:         req.EventID,
		UserID:          principal.UserID,
		Quantity:        req.Quantity,
		CustomResponses: req.CustomResponses,
		HoldKey:         paymentID,
	})
	if err != nil {
		monitoring.TrackPurchase(kindLabel(err))
		return nil, err
	}
	sg.push("reserve tickets", func(ctx context.Context) error {
		return s.reservations.Release(ctx, res)
	})

	split := models.NewSplit(res.Amount, s.cfg.FeeRate)
	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.HoldTTL)
	if method == models.MethodManualQR {
		expiresAt = now.Add(s.cfg.ManualHoldTTL)
	}
	payment := &models.Payment{
		ID:              paymentID,
		UserID:          principal.UserID,
		EventID:         event.ID,
		OrganizerID:     event.OrganizerID,
		TicketIDs:       res.TicketIDs(),
		Quantity:        req.Quantity,
		Amount:          res.Amount,
		PlatformFee:     split.PlatformFee,
		OrganizerAmount: split.OrganizerAmount,
		Status:          models.PaymentPending,
		Method:          method,
		Attempts:        1,
		HoldExpiresAt:   expiresAt,
		CreatedAt:       now,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		s.rollback(ctx, sg, paymentID)
		return nil, fmt.Errorf("initiatePayment: create payment: %w", err)
	}
	sg.push("create payment", func(ctx context.Context) error {
		return s.store.DeletePayment(ctx, paymentID)
	})

	checkout := &Checkout{
		PaymentID:   paymentID,
		TicketIDs:   payment.TicketIDs,
		TotalAmount: payment.Amount,
		Split:       &split,
		Method:      method,
	}

	if method == models.MethodManualQR {
		checkout.ManualQRURL = organizer.ManualQRURL
		monitoring.TrackPurchase("manual_qr")
		s.logger.Info("manual payment opened",
			zap.String("payment_id", paymentID),
			zap.String("event_id", event.ID),
		)
		return checkout, nil
	}

	bill, err := s.gateway.CreateBill(ctx, s.billForm(event, organizer, res.Purchaser, payment, expiresAt))
	if err == nil && (bill == nil || strings.TrimSpace(bill.BillCode) == "") {
		err = &status.GatewayError{Op: "createBill", Err: status.ErrMissingBillCode}
	}
	if err != nil {
		s.rollback(ctx, sg, paymentID)
		pe := gatewayPurchaseError(err)
		monitoring.TrackPurchase(string(pe.Kind))
		s.logger.Warn("bill creation failed",
			zap.String("payment_id", paymentID),
			zap.String("raw_response", status.RawResponse(err)),
			zap.Error(err),
		)
		return nil, pe
	}

	_, err = s.store.UpdatePayment(ctx, paymentID, func(p *models.Payment) error {
		p.BillCode = bill.BillCode
		p.BillURL = bill.BillURL
		return nil
	})
	if err != nil {
		s.rollback(ctx, sg, paymentID)
		return nil, fmt.Errorf("initiatePayment: save bill: %w", err)
	}

	checkout.BillCode = bill.BillCode
	checkout.PaymentURL = bill.BillURL
	checkout.ExpiresAt = &expiresAt

	monitoring.TrackPurchase("initiated")
	s.logger.Info("payment initiated",
		zap.String("payment_id", paymentID),
		zap.String("event_id", event.ID),
		zap.String("bill_code", bill.BillCode),
		zap.String("amount", payment.Amount.StringFixed(2)),
	)

	return checkout, nil
}

// RetryPayment opens a fresh bill for a failed payment whose tickets are still
// waiting for payment. A pending payment returns its current bill.
func (s *PaymentService) RetryPayment(ctx context.Context, principal models.Principal, paymentID string) (*Checkout, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, status.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retryPayment: get payment: %w", err)
	}
	if payment.UserID != principal.UserID && !principal.IsAdmin() {
		return nil, status.ErrForbidden
	}

	switch payment.Status {
	case models.PaymentCompleted:
		return nil, status.ErrAlreadyFinalized
	case models.PaymentExpired:
		return nil, status.ErrPaymentExpired
	case models.PaymentPending:
		if payment.BillURL == "" {
			return nil, status.ErrNotRetryable
		}
		return checkoutOf(payment), nil
	}
	if payment.Method != models.MethodToyyibPay {
		return nil, status.ErrNotRetryable
	}

	for _, id := range payment.TicketIDs {
		t, err := s.store.GetTicket(ctx, id)
		if err != nil || t.Status != models.TicketPendingPayment {
			return nil, status.ErrNotRetryable
		}
	}

	event, err := s.store.GetEvent(ctx, payment.EventID)
	if err != nil {
		return nil, fmt.Errorf("retryPayment: get event: %w", err)
	}
	method, organizer, err := s.paymentMethod(ctx, event)
	if err != nil {
		return nil, err
	}
	if method != models.MethodToyyibPay {
		return nil, status.NewPurchaseError(status.KindOrganizerNotConfigured, "organizer no longer accepts online payment")
	}
	purchaser, err := s.store.GetProfile(ctx, payment.UserID)
	if err != nil || !purchaser.HasContact() {
		return nil, status.NewPurchaseError(status.KindIncompleteProfile, "phone number and email are required for paid events")
	}

	// The hold normally survives a failed attempt; re-admit if it was dropped.
	_, err = s.store.UpdateEvent(ctx, event.ID, func(e *models.Event) error {
		if _, held := e.Holds[payment.ID]; held {
			return ledger.ErrSkip
		}
		return e.Admit(payment.ID, payment.Quantity)
	})
	if errors.Is(err, models.ErrCapacityExceeded) {
		return nil, insufficient(event)
	}
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		return nil, fmt.Errorf("retryPayment: hold capacity: %w", err)
	}

	expiresAt := s.now().UTC().Add(s.cfg.HoldTTL)
	bill, err := s.gateway.CreateBill(ctx, s.billForm(event, organizer, purchaser, payment, expiresAt))
	if err == nil && (bill == nil || strings.TrimSpace(bill.BillCode) == "") {
		err = &status.GatewayError{Op: "createBill", Err: status.ErrMissingBillCode}
	}
	if err != nil {
		s.logger.Warn("retry bill creation failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return nil, gatewayPurchaseError(err)
	}

	updated, err := s.store.UpdatePayment(ctx, payment.ID, func(p *models.Payment) error {
		if p.Status != models.PaymentFailed {
			return status.ErrNotRetryable
		}
		p.Status = models.PaymentPending
		p.BillCode = bill.BillCode
		p.BillURL = bill.BillURL
		p.FailureReason = ""
		p.ProcessedAt = nil
		p.HoldExpiresAt = expiresAt
		p.Attempts++
		return nil
	})
	if err != nil {
		if errors.Is(err, status.ErrNotRetryable) {
			return nil, err
		}
		return nil, fmt.Errorf("retryPayment: update payment: %w", err)
	}

	s.logger.Info("payment retried",
		zap.String("payment_id", updated.ID),
		zap.Int("attempt", updated.Attempts),
		zap.String("bill_code", updated.BillCode),
	)

	checkout := checkoutOf(updated)
	checkout.ExpiresAt = &expiresAt
	return checkout, nil
}

func (s *PaymentService) reserveFree(ctx context.Context, principal models.Principal, req PurchaseRequest) (*Checkout, error) {
	res, err := s.reservations.Reserve(ctx, ReserveRequest{
		EventID:         req.EventID,
		UserID:          principal.UserID,
		Quantity:        req.Quantity,
		CustomResponses: req.CustomResponses,
	})
	if err != nil {
		monitoring.TrackPurchase(kindLabel(err))
		return nil, err
	}

	monitoring.TrackPurchase("free")
	return &Checkout{
		Free:        true,
		TicketIDs:   res.TicketIDs(),
		TotalAmount: decimal.Zero,
	}, nil
}

// paymentMethod decides how the organizer collects money, before any write.
func (s *PaymentService) paymentMethod(ctx context.Context, event *models.Event) (models.PaymentMethod, *models.Profile, error) {
	organizer, err := s.store.GetProfile(ctx, event.OrganizerID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return "", nil, fmt.Errorf("get organizer profile: %w", err)
	}

	switch {
	case organizer != nil && organizer.GatewayReady():
		if err := s.gateway.Ready(); err != nil {
			return "", nil, &status.PurchaseError{
				Kind:   status.KindGatewayMisconfigured,
				Reason: "online payment is not available right now",
				Hint:   credentialsHint,
				Err:    err,
			}
		}
		return models.MethodToyyibPay, organizer, nil

	case organizer != nil && organizer.ManualQRReady():
		return models.MethodManualQR, organizer, nil

	default:
		pe := status.NewPurchaseError(status.KindOrganizerNotConfigured, "the organizer has not set up payments for this event")
		pe.Hint = "contact the event organizer"
		return "", nil, pe
	}
}

func (s *PaymentService) billForm(event *models.Event, organizer, purchaser *models.Profile, p *models.Payment, expiresAt time.Time) *status.FormBill {
	base := strings.TrimRight(s.cfg.AppBaseURL, "/")
	return &status.FormBill{
		CategoryCode: organizer.CategoryCode,
		Title:        event.Title,
		Description:  fmt.Sprintf("%d ticket(s) for %s", p.Quantity, event.Title),
		Amount:       p.Amount,
		ReturnURL:    base + returnPath,
		CallbackURL:  base + callbackPath,
		ExternalRef:  p.ID,
		PayerName:    purchaser.Name,
		PayerEmail:   purchaser.Email,
		PayerPhone:   purchaser.Phone,
		ExpiresAt:    expiresAt,
	}
}

func (s *PaymentService) rollback(ctx context.Context, sg *saga, paymentID string) {
	if err := sg.unwind(ctx); err != nil {
		s.logger.Error("purchase rollback incomplete", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func checkoutOf(p *models.Payment) *Checkout {
	return &Checkout{
		PaymentID:   p.ID,
		TicketIDs:   p.TicketIDs,
		TotalAmount: p.Amount,
		Split:       &models.Split{PlatformFee: p.PlatformFee, OrganizerAmount: p.OrganizerAmount},
		Method:      p.Method,
		BillCode:    p.BillCode,
		PaymentURL:  p.BillURL,
	}
}

// gatewayPurchaseError tells configuration failures apart from transient ones.
func gatewayPurchaseError(err error) *status.PurchaseError {
	if errors.Is(err, status.ErrGatewayCredentials) {
		return &status.PurchaseError{
			Kind:   status.KindGatewayMisconfigured,
			Reason: "the payment gateway rejected our credentials",
			Hint:   credentialsHint,
			Err:    err,
		}
	}
	return &status.PurchaseError{
		Kind:   status.KindGatewayUnavailable,
		Reason: "could not create a payment bill, please try again",
		Err:    err,
	}
}

func kindLabel(err error) string {
	if kind, ok := status.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "min", "max":
		return fmt.Sprintf("%s must be between 1 and 10", strings.ToLower(fe.Field()))
	}
	return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
}
