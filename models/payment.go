package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
)

type PaymentMethod string

const (
	MethodToyyibPay PaymentMethod = "toyyibpay"
	MethodManualQR  PaymentMethod = "manual_qr"
)

type Payment struct {
	ID              string          `json:"payment_id"`
	UserID          string          `json:"user_id"`
	EventID         string          `json:"event_id"`
	OrganizerID     string          `json:"organizer_id"`
	TicketIDs       []string        `json:"ticket_ids"`
	Quantity        int             `json:"quantity"`
	Amount          decimal.Decimal `json:"amount"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	OrganizerAmount decimal.Decimal `json:"organizer_amount"`
	Status          PaymentStatus   `json:"status"` // pending, completed, failed, expired
	Method          PaymentMethod   `json:"method"` // toyyibpay, manual_qr
	BillCode        string          `json:"bill_code,omitempty"`
	BillURL         string          `json:"bill_url,omitempty"`
	GatewayRef      string          `json:"gateway_ref,omitempty"`
	ReceivedAmount  decimal.Decimal `json:"received_amount"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CountersApplied bool            `json:"counters_applied"`
	Attempts        int             `json:"attempts"`
	// HoldExpiresAt is when the current attempt stops holding capacity. A
	// retry moves it forward.
	HoldExpiresAt   time.Time       `json:"hold_expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentExpired
}

// Split is the platform fee / organizer amount breakdown of a checkout total.
type Split struct {
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	OrganizerAmount decimal.Decimal `json:"organizer_amount"`
}

// NewSplit rounds the platform share to cents and leaves the rest to the organizer.
func NewSplit(amount, feeRate decimal.Decimal) Split {
	fee := amount.Mul(feeRate).Round(2)
	return Split{
		PlatformFee:     fee,
		OrganizerAmount: amount.Sub(fee),
	}
}
