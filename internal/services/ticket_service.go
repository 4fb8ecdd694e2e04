package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-ticket/internal/ledger"
	"campus-ticket/internal/status"
	"campus-ticket/models"

	"go.uber.org/zap"
)

type TicketService struct {
	store  ledger.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewTicketService(store ledger.Store, logger *zap.Logger) *TicketService {
	return &TicketService{
		store:  store,
		logger: logger.Named("ticket"),
		now:    time.Now,
	}
}

// ListTickets returns the caller's tickets, optionally for one event only.
func (s *TicketService) ListTickets(ctx context.Context, principal models.Principal, eventID string) ([]*models.Ticket, error) {
	tickets, err := s.store.FindTickets(ctx, ledger.TicketFilter{
		EventID: eventID,
		UserID:  principal.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("listTickets: %w", err)
	}
	return tickets, nil
}

// CheckIn marks a paid ticket as used at the door. Only the event's organizer
// or an admin may do it, and only once.
func (s *TicketService) CheckIn(ctx context.Context, principal models.Principal, ticketID string) (*models.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkIn: get ticket: %w", err)
	}

	event, err := s.store.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("checkIn: get event: %w", err)
	}
	if !principal.IsAdmin() && event.OrganizerID != principal.UserID {
		return nil, status.ErrForbidden
	}

	now := s.now().UTC()
	ticket, err = s.store.UpdateTicket(ctx, ticketID, func(t *models.Ticket) error {
		switch t.Status {
		case models.TicketUsed:
			return status.ErrAlreadyCheckedIn
		case models.TicketPaid, models.TicketConfirmed:
		default:
			return status.ErrTicketNotPaid
		}
		t.Status = models.TicketUsed
		t.CheckedIn = true
		t.CheckedInAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket checked in",
		zap.String("ticket_id", ticket.ID),
		zap.String("event_id", ticket.EventID),
		zap.String("by", principal.UserID),
	)
	return ticket, nil
}
