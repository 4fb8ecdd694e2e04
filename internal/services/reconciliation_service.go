package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-ticket/internal/ledger"
	"campus-ticket/internal/services/bank"
	"campus-ticket/internal/status"
	"campus-ticket/models"
	"campus-ticket/monitoring"

	"go.uber.org/zap"
)

var (
	errAlreadyCompleted = errors.New("payment already completed")
	errStaleState       = errors.New("payment changed state")
)

type ReconcileConfig struct {
	LockTTL time.Duration
	// VerifyCallbacks confirms success callbacks against the gateway's
	// transaction list before finalizing.
	VerifyCallbacks bool
	SweepBatch      int
	// SweepRecheck pushes back the hold of a payment the bank is still
	// processing, so the next sweeps move past it.
	SweepRecheck time.Duration
}

// Callback is the gateway's payment notification, as posted. The gateway's
// transaction_time is not kept; completion is stamped with our own clock.
type Callback struct {
	OrderID  string
	RefNo    string
	BillCode string
	Status   string
	Reason   string
	Amount   string // minor units
}

func (c Callback) determination() status.Determination {
	fields := make(map[string]any)
	for k, v := range map[string]string{
		"status": c.Status,
		"refno":  c.RefNo,
		"amount": c.Amount,
		"reason": c.Reason,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return status.Determine([]status.Transaction{{Fields: fields}})
}

// Result is the payment state reported back to whoever triggered reconciliation.
type Result struct {
	PaymentID     string               `json:"payment_id"`
	Status        models.PaymentStatus `json:"status"`
	TicketIDs     []string             `json:"ticket_ids,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Repaired      int                  `json:"repaired,omitempty"`
}

func resultOf(p *models.Payment, repaired int) *Result {
	return &Result{
		PaymentID:     p.ID,
		Status:        p.Status,
		TicketIDs:     p.TicketIDs,
		FailureReason: p.FailureReason,
		Repaired:      repaired,
	}
}

type SweepReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
	Skipped   int `json:"skipped"`
}

type ReconciliationService struct {
	store    ledger.Store
	gateway  bank.Gateway
	locker   Locker
	notifier Notifier
	cfg      ReconcileConfig
	logger   *zap.Logger

	now func() time.Time
}

func NewReconciliationService(store ledger.Store, gateway bank.Gateway, locker Locker, notifier Notifier, cfg ReconcileConfig, logger *zap.Logger) *ReconciliationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.SweepRecheck <= 0 {
		cfg.SweepRecheck = 5 * time.Minute
	}
	return &ReconciliationService{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("reconcile"),
		now:      time.Now,
	}
}

// HandleCallback applies a gateway notification. An unknown payment is
// reported as status.ErrPaymentNotFound and nothing is written.
func (s *ReconciliationService) HandleCallback(ctx context.Context, cb Callback) (*Result, error) {
	p, err := s.lookup(ctx, cb.OrderID, cb.BillCode)
	if err != nil {
		if errors.Is(err, status.ErrPaymentNotFound) {
			monitoring.TrackReconciliation("webhook", "not_found")
			s.logger.Warn("callback for unknown payment",
				zap.String("order_id", cb.OrderID),
				zap.String("bill_code", cb.BillCode),
			)
		}
		return nil, err
	}

	d := cb.determination()
	s.logger.Info("payment callback received",
		zap.String("payment_id", p.ID),
		zap.String("status", cb.Status),
		zap.String("refno", cb.RefNo),
		zap.Stringer("outcome", d.Outcome),
	)

	if d.Outcome == status.OutcomeSuccess && s.cfg.VerifyCallbacks &&
		p.Method == models.MethodToyyibPay && p.Status != models.PaymentCompleted {
		verified, err := s.queryGateway(ctx, p)
		if err != nil {
			// Leave it pending; the poll or the sweep will settle it.
			monitoring.TrackReconciliation("webhook", "unverified")
			s.logger.Warn("could not verify callback", zap.String("payment_id", p.ID), zap.Error(err))
			return resultOf(p, 0), nil
		}
		if verified.Outcome != status.OutcomeSuccess {
			s.logger.Warn("callback success not confirmed by gateway",
				zap.String("payment_id", p.ID),
				zap.Stringer("gateway_outcome", verified.Outcome),
			)
		}
		if verified.Reference == "" {
			verified.Reference = d.Reference
		}
		d = verified
	}

	return s.apply(ctx, p, d, "webhook")
}

// PollStatus reports a payment's status to its purchaser. A pending gateway
// payment is checked against the gateway first; a completed one gets the
// sync pass.
func (s *ReconciliationService) PollStatus(ctx context.Context, principal models.Principal, paymentID string) (*Result, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, status.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pollStatus: get payment: %w", err)
	}
	if p.UserID != principal.UserID && !principal.IsAdmin() {
		return nil, status.ErrForbidden
	}

	return s.refresh(ctx, p, "poll")
}

// HandleReturn treats the purchaser's browser coming back from the gateway as
// a poll. The query string is never trusted for the outcome.
func (s *ReconciliationService) HandleReturn(ctx context.Context, orderID, billCode string) (*Result, error) {
	p, err := s.lookup(ctx, orderID, billCode)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, p, "return")
}

// ConfirmManualPayment lets the organizer (or an admin) settle a manual QR
// payment after checking the transfer.
func (s *ReconciliationService) ConfirmManualPayment(ctx context.Context, principal models.Principal, paymentID string, approve bool, reason string) (*Result, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, status.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("confirmManualPayment: get payment: %w", err)
	}

	event, err := s.store.GetEvent(ctx, p.EventID)
	if err != nil {
		return nil, fmt.Errorf("confirmManualPayment: get event: %w", err)
	}
	if !principal.IsAdmin() && event.OrganizerID != principal.UserID {
		return nil, status.ErrForbidden
	}
	if p.Method != models.MethodManualQR {
		return nil, status.ErrNotManualPayment
	}
	if p.Status == models.PaymentExpired {
		return nil, status.ErrPaymentExpired
	}

	d := status.Determination{
		Outcome:   status.OutcomeSuccess,
		Reference: "manual:" + principal.UserID,
		Amount:    p.Amount,
	}
	if !approve {
		if reason == "" {
			reason = "rejected by organizer"
		}
		d = status.Determination{Outcome: status.OutcomeFailed, Reason: reason}
	}

	s.logger.Info("manual payment reviewed",
		zap.String("payment_id", p.ID),
		zap.String("reviewer", principal.UserID),
		zap.Bool("approved", approve),
	)

	return s.apply(ctx, p, d, "manual")
}

// SweepStale settles payments whose hold lapsed, oldest expiry first: it
// completes those the gateway reports paid and expires the rest, releasing
// their capacity.
func (s *ReconciliationService) SweepStale(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	payments, err := s.store.FindPayments(ctx, ledger.PaymentFilter{
		Statuses:          []models.PaymentStatus{models.PaymentPending, models.PaymentFailed},
		HoldExpiresBefore: now,
		Limit:             s.cfg.SweepBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("sweepStale: find payments: %w", err)
	}

	report := &SweepReport{Scanned: len(payments)}
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch outcome := s.sweepOne(ctx, p); outcome {
		case models.PaymentCompleted:
			report.Completed++
		case models.PaymentExpired:
			report.Expired++
		default:
			report.Skipped++
		}
	}

	if report.Scanned > 0 {
		s.logger.Info("stale payment sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("completed", report.Completed),
			zap.Int("expired", report.Expired),
			zap.Int("skipped", report.Skipped),
		)
	}
	return report, nil
}

// RunSweeper calls SweepStale every interval until ctx is cancelled.
func (s *ReconciliationService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := s.SweepStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("stale payment sweep failed", zap.Error(err))
			}
		}
	}
}

// sweepOne returns the status the payment ended in, or "" when it was left alone.
func (s *ReconciliationService) sweepOne(ctx context.Context, p *models.Payment) models.PaymentStatus {
	release, err := s.locker.Acquire(ctx, p.ID, s.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, status.ErrLockHeld) {
			s.logger.Warn("sweep could not lock payment", zap.String("payment_id", p.ID), zap.Error(err))
		}
		return ""
	}
	defer release()

	if p.Method == models.MethodToyyibPay && p.BillCode != "" {
		txs, err := s.gateway.GetBillStatus(ctx, p.BillCode, p.ID)
		if err != nil {
			s.logger.Warn("sweep could not query gateway", zap.String("payment_id", p.ID), zap.Error(err))
			return ""
		}

		d := status.Determine(txs)
		switch {
		case d.Outcome == status.OutcomeSuccess:
			res, err := s.apply(ctx, p, d, "sweep")
			if err != nil {
				s.logger.Error("sweep could not complete payment", zap.String("payment_id", p.ID), zap.Error(err))
				return ""
			}
			return res.Status

		case d.Outcome == status.OutcomePending && len(txs) > 0:
			// A transaction is still in flight at the bank.
			s.recheckLater(ctx, p)
			return ""
		}
	}

	if err := s.expire(ctx, p); err != nil {
		if !errors.Is(err, errStaleState) {
			s.logger.Error("sweep could not expire payment", zap.String("payment_id", p.ID), zap.Error(err))
		}
		return ""
	}
	return models.PaymentExpired
}

func (s *ReconciliationService) recheckLater(ctx context.Context, p *models.Payment) {
	next := s.now().UTC().Add(s.cfg.SweepRecheck)
	_, err := s.store.UpdatePayment(ctx, p.ID, func(cur *models.Payment) error {
		if cur.IsTerminal() || cur.HoldExpiresAt.After(next) {
			return ledger.ErrSkip
		}
		cur.HoldExpiresAt = next
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		s.logger.Warn("failed to defer in-flight payment", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func (s *ReconciliationService) expire(ctx context.Context, p *models.Payment) error {
	now := s.now().UTC()
	_, err := s.store.UpdatePayment(ctx, p.ID, func(cur *models.Payment) error {
		if cur.Status != models.PaymentPending && cur.Status != models.PaymentFailed {
			return errStaleState
		}
		cur.Status = models.PaymentExpired
		if cur.FailureReason == "" {
			cur.FailureReason = "bill expired without payment"
		}
		cur.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.store.UpdateEvent(ctx, p.EventID, func(e *models.Event) error {
		if !e.ReleaseHold(p.ID) {
			return ledger.ErrSkip
		}
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		s.logger.Error("failed to release hold of expired payment", zap.String("payment_id", p.ID), zap.Error(err))
	}

	for _, id := range p.TicketIDs {
		t, err := s.store.GetTicket(ctx, id)
		if err != nil || t.Status != models.TicketPendingPayment {
			continue
		}
		if err := s.store.DeleteTicket(ctx, id); err != nil {
			s.logger.Warn("failed to delete ticket of expired payment", zap.String("ticket_id", id), zap.Error(err))
		}
	}

	monitoring.TrackReconciliation("sweep", "expired")
	s.logger.Info("payment expired", zap.String("payment_id", p.ID))
	return nil
}

func (s *ReconciliationService) refresh(ctx context.Context, p *models.Payment, source string) (*Result, error) {
	switch p.Status {
	case models.PaymentCompleted:
		return s.apply(ctx, p, status.Determination{}, source)

	case models.PaymentPending:
		if p.Method != models.MethodToyyibPay || p.BillCode == "" {
			return resultOf(p, 0), nil
		}

		release, err := s.locker.Acquire(ctx, p.ID, s.cfg.LockTTL)
		switch {
		case errors.Is(err, status.ErrLockHeld):
			monitoring.TrackReconciliation(source, "locked")
			return resultOf(p, 0), nil
		case err != nil:
			// The completion guard still holds without the lock.
			s.logger.Warn("reconcile lock unavailable", zap.String("payment_id", p.ID), zap.Error(err))
		default:
			defer release()
		}

		d, err := s.queryGateway(ctx, p)
		if err != nil {
			monitoring.TrackReconciliation(source, "gateway_error")
			s.logger.Warn("gateway status query failed", zap.String("payment_id", p.ID), zap.Error(err))
			return resultOf(p, 0), nil
		}
		return s.apply(ctx, p, d, source)
	}

	return resultOf(p, 0), nil
}

func (s *ReconciliationService) lookup(ctx context.Context, orderID, billCode string) (*models.Payment, error) {
	if orderID != "" {
		p, err := s.store.GetPayment(ctx, orderID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("lookup payment %s: %w", orderID, err)
		}
	}
	if billCode != "" {
		p, err := s.store.FindPaymentByBillCode(ctx, billCode)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("lookup bill %s: %w", billCode, err)
		}
	}
	return nil, status.ErrPaymentNotFound
}

func (s *ReconciliationService) queryGateway(ctx context.Context, p *models.Payment) (status.Determination, error) {
	txs, err := s.gateway.GetBillStatus(ctx, p.BillCode, p.ID)
	if err != nil {
		return status.Determination{}, err
	}
	return status.Determine(txs), nil
}

// apply executes the reconciliation plan for p.
func (s *ReconciliationService) apply(ctx context.Context, p *models.Payment, d status.Determination, source string) (*Result, error) {
	plan := Reconcile(p, d)

	switch plan.Action {
	case ActionComplete:
		return s.complete(ctx, p, plan, source)
	case ActionFail:
		return s.fail(ctx, p, plan, source)
	case ActionSync:
		return s.sync(ctx, p, plan, source), nil
	}

	if p.Status == models.PaymentExpired && d.Outcome == status.OutcomeSuccess {
		monitoring.TrackReconciliation(source, "late_success")
		s.logger.Error("payment received after expiry",
			zap.String("payment_id", p.ID),
			zap.String("gateway_ref", d.Reference),
		)
	}
	return resultOf(p, 0), nil
}

func (s *ReconciliationService) complete(ctx context.Context, p *models.Payment, plan Plan, source string) (*Result, error) {
	now := s.now().UTC()
	updated, err := s.store.UpdatePayment(ctx, p.ID, func(cur *models.Payment) error {
		switch cur.Status {
		case models.PaymentCompleted:
			return errAlreadyCompleted
		case models.PaymentPending, models.PaymentFailed:
		default:
			return errStaleState
		}
		cur.Status = models.PaymentCompleted
		if plan.Payment.GatewayRef != "" {
			cur.GatewayRef = plan.Payment.GatewayRef
		}
		cur.ReceivedAmount = plan.Payment.ReceivedAmount
		cur.FailureReason = ""
		cur.ProcessedAt = &now
		cur.CompletedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyCompleted):
		// Another trigger won the transition; converge through the sync pass.
		monitoring.TrackReconciliation(source, "duplicate")
		latest, err := s.store.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("complete: reload payment: %w", err)
		}
		return s.sync(ctx, latest, Reconcile(latest, status.Determination{}), source), nil

	case errors.Is(err, errStaleState):
		latest, err := s.store.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("complete: reload payment: %w", err)
		}
		return resultOf(latest, 0), nil

	case err != nil:
		return nil, fmt.Errorf("complete: update payment: %w", err)
	}

	if !updated.ReceivedAmount.Equal(updated.Amount) {
		s.logger.Warn("received amount differs from bill amount",
			zap.String("payment_id", updated.ID),
			zap.String("amount", updated.Amount.StringFixed(2)),
			zap.String("received", updated.ReceivedAmount.StringFixed(2)),
		)
	}

	if _, err := s.markTicketsPaid(ctx, updated, now); err != nil {
		s.logger.Error("tickets not marked paid; sync pass will retry", zap.String("payment_id", updated.ID), zap.Error(err))
	}
	if err := s.applyEventDelta(ctx, updated, plan.Event); err != nil {
		s.logger.Error("event counters not applied; sync pass will retry", zap.String("payment_id", updated.ID), zap.Error(err))
	}

	monitoring.TrackReconciliation(source, "completed")
	s.logger.Info("payment completed",
		zap.String("payment_id", updated.ID),
		zap.String("source", source),
		zap.String("gateway_ref", updated.GatewayRef),
	)

	if err := s.notifier.PaymentCompleted(ctx, updated); err != nil {
		s.logger.Warn("purchaser notification failed", zap.String("payment_id", updated.ID), zap.Error(err))
	}

	return resultOf(updated, 0), nil
}

func (s *ReconciliationService) fail(ctx context.Context, p *models.Payment, plan Plan, source string) (*Result, error) {
	now := s.now().UTC()
	updated, err := s.store.UpdatePayment(ctx, p.ID, func(cur *models.Payment) error {
		if cur.Status != models.PaymentPending {
			return errStaleState
		}
		cur.Status = models.PaymentFailed
		cur.FailureReason = plan.Payment.FailureReason
		if plan.Payment.GatewayRef != "" {
			cur.GatewayRef = plan.Payment.GatewayRef
		}
		cur.ProcessedAt = &now
		return nil
	})
	if errors.Is(err, errStaleState) {
		latest, err := s.store.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("fail: reload payment: %w", err)
		}
		return resultOf(latest, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail: update payment: %w", err)
	}

	monitoring.TrackReconciliation(source, "failed")
	s.logger.Info("payment failed",
		zap.String("payment_id", updated.ID),
		zap.String("source", source),
		zap.String("reason", updated.FailureReason),
	)

	return resultOf(updated, 0), nil
}

// sync repairs a completed payment whose follow-up writes did not all land.
func (s *ReconciliationService) sync(ctx context.Context, p *models.Payment, plan Plan, source string) *Result {
	paidAt := s.now().UTC()
	if p.CompletedAt != nil {
		paidAt = *p.CompletedAt
	}

	repaired, err := s.markTicketsPaid(ctx, p, paidAt)
	if err != nil {
		s.logger.Warn("sync pass could not repair tickets", zap.String("payment_id", p.ID), zap.Error(err))
	}
	if repaired > 0 {
		monitoring.TrackTicketRepairs(repaired)
		s.logger.Info("sync pass repaired tickets",
			zap.String("payment_id", p.ID),
			zap.String("source", source),
			zap.Int("tickets", repaired),
		)
	}

	if plan.Event != nil {
		if err := s.applyEventDelta(ctx, p, plan.Event); err != nil {
			s.logger.Warn("sync pass could not apply event counters", zap.String("payment_id", p.ID), zap.Error(err))
		}
	}

	return resultOf(p, repaired)
}

// markTicketsPaid moves the payment's pending tickets to paid in one batch.
// It falls back to one write per ticket when some ticket no longer exists.
func (s *ReconciliationService) markTicketsPaid(ctx context.Context, p *models.Payment, at time.Time) (int, error) {
	moved := 0
	mark := func(t *models.Ticket) error {
		if t.Status != models.TicketPendingPayment {
			return ledger.ErrSkip
		}
		t.Status = models.TicketPaid
		t.PaymentID = p.ID
		t.PaidAt = &at
		moved++
		return nil
	}

	err := s.store.UpdateTickets(ctx, p.TicketIDs, mark)
	if err == nil {
		return moved, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return 0, err
	}

	moved = 0
	var errs []error
	for _, id := range p.TicketIDs {
		_, err := s.store.UpdateTicket(ctx, id, mark)
		if err != nil && !errors.Is(err, ledger.ErrSkip) && !errors.Is(err, ledger.ErrNotFound) {
			errs = append(errs, fmt.Errorf("ticket %s: %w", id, err))
		}
	}
	return moved, errors.Join(errs...)
}

// applyEventDelta counts the payment into the event once, then records that
// on the payment.
func (s *ReconciliationService) applyEventDelta(ctx context.Context, p *models.Payment, delta *EventDelta) error {
	if delta == nil {
		return nil
	}

	_, err := s.store.UpdateEvent(ctx, p.EventID, func(e *models.Event) error {
		if !e.ApplyCompletion(delta.PaymentID, delta.Tickets, delta.Revenue) {
			return ledger.ErrSkip
		}
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		return fmt.Errorf("apply event delta: %w", err)
	}

	_, err = s.store.UpdatePayment(ctx, p.ID, func(cur *models.Payment) error {
		if cur.CountersApplied {
			return ledger.ErrSkip
		}
		cur.CountersApplied = true
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		return fmt.Errorf("mark counters applied: %w", err)
	}

	p.CountersApplied = true
	return nil
}
