package models

import (
	"errors"
	"slices"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventPublished EventStatus = "published"
	EventDraft     EventStatus = "draft"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
)

var ErrCapacityExceeded = errors.New("event: capacity exceeded")

type Event struct {
	ID          string          `json:"id"`
	OrganizerID string          `json:"organizer_id"`
	Title       string          `json:"title"`
	Status      EventStatus     `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Capacity    int             `json:"capacity"`
	TicketsSold int             `json:"tickets_sold"`
	Revenue     decimal.Decimal `json:"revenue"`

	// Holds maps a payment id to the quantity admitted for it while unpaid.
	Holds map[string]int `json:"holds"`

	// AppliedPayments lists payments whose completion is already counted.
	// Each entry owns at least one sold ticket, so the list never outgrows Capacity.
	AppliedPayments []string `json:"applied_payments"`
}

func (e *Event) IsFree() bool {
	return !e.Price.IsPositive()
}

func (e *Event) Held() int {
	held := 0
	for _, q := range e.Holds {
		held += q
	}
	return held
}

// Available returns the number of tickets that can still be admitted.
func (e *Event) Available() int {
	return e.Capacity - e.TicketsSold - e.Held()
}

// Admit places a hold of qty tickets under key.
func (e *Event) Admit(key string, qty int) error {
	if qty > e.Available() {
		return ErrCapacityExceeded
	}
	if e.Holds == nil {
		e.Holds = make(map[string]int)
	}
	e.Holds[key] += qty
	return nil
}

// AdmitSold counts qty tickets as sold straight away. Used for free events.
func (e *Event) AdmitSold(qty int) error {
	if qty > e.Available() {
		return ErrCapacityExceeded
	}
	e.TicketsSold += qty
	return nil
}

// RevertSold undoes AdmitSold for a free checkout whose tickets could not be written.
func (e *Event) RevertSold(qty int) {
	e.TicketsSold = max(0, e.TicketsSold-qty)
}

// ReleaseHold drops the hold under key. It reports whether a hold existed.
func (e *Event) ReleaseHold(key string) bool {
	if _, ok := e.Holds[key]; !ok {
		return false
	}
	delete(e.Holds, key)
	return true
}

// ApplyCompletion moves a paid checkout into the sold and revenue counters.
// Applying the same payment twice is a no-op and returns false.
func (e *Event) ApplyCompletion(paymentID string, qty int, amount decimal.Decimal) bool {
	if slices.Contains(e.AppliedPayments, paymentID) {
		return false
	}
	e.ReleaseHold(paymentID)
	e.TicketsSold += qty
	e.Revenue = e.Revenue.Add(amount).Round(2)
	e.AppliedPayments = append(e.AppliedPayments, paymentID)
	return true
}
