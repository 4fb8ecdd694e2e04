package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-ticket/internal/ledger"
	"campus-ticket/internal/status"
	"campus-ticket/models"
	"campus-ticket/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReserveRequest struct {
	EventID         string
	UserID          string
	Quantity        int
	CustomResponses map[string]any

	// HoldKey names the capacity hold of a paid checkout; the payment id.
	HoldKey string
}

type Reservation struct {
	Event     *models.Event
	Purchaser *models.Profile
	Tickets   []*models.Ticket
	HoldKey   string
	Quantity  int
	Amount    decimal.Decimal
	Free      bool
}

func (r *Reservation) TicketIDs() []string {
	ids := make([]string, len(r.Tickets))
	for i, t := range r.Tickets {
		ids[i] = t.ID
	}
	return ids
}

type ReservationService struct {
	store  ledger.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewReservationService(store ledger.Store, logger *zap.Logger) *ReservationService {
	return &ReservationService{
		store:  store,
		logger: logger.Named("reservation"),
		now:    time.Now,
	}
}

// Reserve admits req.Quantity tickets against the event's capacity and writes
// them. All checks run before the first write; a failed write is undone.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.Quantity < 1 {
		return nil, status.NewPurchaseError(status.KindInvalidRequest, "quantity must be at least 1")
	}

	event, err := s.store.GetEvent(ctx, req.EventID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, status.NewPurchaseError(status.KindEventNotFound, "event not found")
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: get event: %w", err)
	}
	if event.Status != models.EventPublished {
		return nil, status.NewPurchaseError(status.KindInvalidState, fmt.Sprintf("event is %s", event.Status))
	}

	if event.Available() < req.Quantity {
		return nil, insufficient(event)
	}

	confirmed, err := s.store.FindTickets(ctx, ledger.TicketFilter{
		EventID:  event.ID,
		UserID:   req.UserID,
		Statuses: models.ConfirmedStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("reserve: find tickets: %w", err)
	}
	if len(confirmed) > 0 {
		return nil, status.NewPurchaseError(status.KindDuplicatePurchase, "you already hold a ticket for this event")
	}

	free := event.IsFree()
	var purchaser *models.Profile
	if !free {
		purchaser, err = s.store.GetProfile(ctx, req.UserID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("reserve: get profile: %w", err)
		}
		if purchaser == nil || !purchaser.HasContact() {
			pe := status.NewPurchaseError(status.KindIncompleteProfile, "phone number and email are required for paid events")
			pe.Hint = "update your profile and try again"
			return nil, pe
		}
		if req.HoldKey == "" {
			return nil, errors.New("reserve: paid checkout without hold key")
		}
	}

	event, err = s.store.UpdateEvent(ctx, event.ID, func(e *models.Event) error {
		if e.Status != models.EventPublished {
			return status.NewPurchaseError(status.KindInvalidState, fmt.Sprintf("event is %s", e.Status))
		}
		if free {
			return e.AdmitSold(req.Quantity)
		}
		return e.Admit(req.HoldKey, req.Quantity)
	})
	if errors.Is(err, models.ErrCapacityExceeded) {
		latest, _ := s.store.GetEvent(ctx, req.EventID)
		return nil, insufficient(latest)
	}
	if err != nil {
		if _, ok := status.KindOf(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("reserve: admit: %w", err)
	}

	res := &Reservation{
		Event:     event,
		Purchaser: purchaser,
		HoldKey:   req.HoldKey,
		Quantity:  req.Quantity,
		Amount:    event.Price.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2),
		Free:      free,
	}

	ticketStatus := models.TicketPendingPayment
	if free {
		ticketStatus = models.TicketConfirmed
	}

	now := s.now().UTC()
	for i := 0; i < req.Quantity; i++ {
		code, err := utils.GenerateTicketCode(8)
		if err != nil {
			s.undo(ctx, res)
			return nil, fmt.Errorf("reserve: ticket code: %w", err)
		}

		ticket := &models.Ticket{
			EventID:         event.ID,
			UserID:          req.UserID,
			Status:          ticketStatus,
			UnitPrice:       event.Price,
			PurchaseAmount:  res.Amount,
			Code:            code,
			CustomResponses: req.CustomResponses,
			CreatedAt:       now,
		}
		if err := s.store.CreateTicket(ctx, ticket); err != nil {
			s.undo(ctx, res)
			return nil, fmt.Errorf("reserve: create ticket %d of %d: %w", i+1, req.Quantity, err)
		}
		res.Tickets = append(res.Tickets, ticket)
	}

	s.logger.Info("tickets reserved",
		zap.String("event_id", event.ID),
		zap.String("user_id", req.UserID),
		zap.Int("quantity", req.Quantity),
		zap.Bool("free", free),
	)

	return res, nil
}

// Release deletes the reservation's tickets and gives its capacity back.
func (s *ReservationService) Release(ctx context.Context, res *Reservation) error {
	var errs []error
	for _, t := range res.Tickets {
		if err := s.store.DeleteTicket(ctx, t.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete ticket %s: %w", t.ID, err))
		}
	}

	_, err := s.store.UpdateEvent(ctx, res.Event.ID, func(e *models.Event) error {
		if res.Free {
			e.RevertSold(res.Quantity)
			return nil
		}
		if !e.ReleaseHold(res.HoldKey) {
			return ledger.ErrSkip
		}
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrSkip) {
		errs = append(errs, fmt.Errorf("release capacity: %w", err))
	}

	return errors.Join(errs...)
}

// undo rolls back a reservation whose ticket writes failed part way.
func (s *ReservationService) undo(ctx context.Context, res *Reservation) {
	if err := s.Release(context.WithoutCancel(ctx), res); err != nil {
		s.logger.Error("reservation rollback incomplete",
			zap.String("event_id", res.Event.ID),
			zap.Error(err),
		)
	}
}

func insufficient(event *models.Event) *status.PurchaseError {
	reason := "not enough tickets left"
	if event != nil {
		reason = fmt.Sprintf("only %d tickets left", max(0, event.Available()))
	}
	return status.NewPurchaseError(status.KindInsufficientInventory, reason)
}
