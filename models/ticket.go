package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketPendingPayment TicketStatus = "pending_payment"
	TicketPaid           TicketStatus = "paid"
	TicketConfirmed      TicketStatus = "confirmed"
	TicketUsed           TicketStatus = "used"
)

// ConfirmedStatuses are the statuses that count as a completed purchase.
var ConfirmedStatuses = []TicketStatus{TicketPaid, TicketConfirmed, TicketUsed}

func (s TicketStatus) IsConfirmed() bool {
	return s == TicketPaid || s == TicketConfirmed || s == TicketUsed
}

type Ticket struct {
	ID              string          `json:"id"`
	EventID         string          `json:"event_id"`
	UserID          string          `json:"user_id"`
	PaymentID       string          `json:"payment_id,omitempty"`
	Status          TicketStatus    `json:"status"` // pending_payment, paid, confirmed, used
	UnitPrice       decimal.Decimal `json:"unit_price"`
	PurchaseAmount  decimal.Decimal `json:"purchase_amount"`
	Code            string          `json:"code"`
	CustomResponses map[string]any  `json:"custom_responses,omitempty"`
	CheckedIn       bool            `json:"checked_in"`
	CheckedInAt     *time.Time      `json:"checked_in_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
