// Package ledger is the document store behind events, tickets and payments.
//
// Only single-document atomicity is assumed: every Update* call reads the
// latest version of one document, hands it to fn and persists the result in
// one transaction. There is no transaction spanning several documents.
package ledger

import (
	"context"
	"errors"
	"time"

	"campus-ticket/models"
)

var ErrNotFound = errors.New("ledger: document not found")

type TicketFilter struct {
	EventID   string
	UserID    string
	PaymentID string
	Statuses  []models.TicketStatus
}

type PaymentFilter struct {
	EventID  string
	UserID   string
	Statuses []models.PaymentStatus
	// HoldExpiresBefore keeps payments whose hold lapsed before it and orders
	// them by hold expiry, oldest first. Otherwise results are in creation order.
	HoldExpiresBefore time.Time
	Limit             int
}

type EventStore interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// UpdateEvent applies fn to the freshly read event and saves it atomically.
	// If fn returns an error nothing is written and the error is returned.
	UpdateEvent(ctx context.Context, id string, fn func(*models.Event) error) (*models.Event, error)
}

type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	FindTickets(ctx context.Context, f TicketFilter) ([]*models.Ticket, error)
	// CreateTicket stores t and assigns its ID.
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicket(ctx context.Context, id string, fn func(*models.Ticket) error) (*models.Ticket, error)
	// UpdateTickets applies fn to each ticket in one batched write. Tickets for
	// which fn returns ErrSkip are left untouched.
	UpdateTickets(ctx context.Context, ids []string, fn func(*models.Ticket) error) error
	DeleteTicket(ctx context.Context, id string) error
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	FindPaymentByBillCode(ctx context.Context, billCode string) (*models.Payment, error)
	FindPayments(ctx context.Context, f PaymentFilter) ([]*models.Payment, error)
	// CreatePayment stores p under p.ID, which the caller generates.
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, id string, fn func(*models.Payment) error) (*models.Payment, error)
	DeletePayment(ctx context.Context, id string) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type Store interface {
	EventStore
	TicketStore
	PaymentStore
	ProfileStore
}

// ErrSkip tells UpdateTickets to leave one ticket as it is.
var ErrSkip = errors.New("ledger: skip document")
