package services

import (
	"campus-ticket/internal/status"
	"campus-ticket/models"

	"github.com/shopspring/decimal"
)

// Action is what a reconciliation plan asks the caller to do.
type Action int

const (
	ActionNone Action = iota
	ActionComplete
	ActionFail
	ActionSync
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	case ActionSync:
		return "sync"
	default:
		return "none"
	}
}

type PaymentPatch struct {
	Status         models.PaymentStatus
	GatewayRef     string
	ReceivedAmount decimal.Decimal
	FailureReason  string
}

// EventDelta moves a paid checkout from the event's holds into its counters.
type EventDelta struct {
	PaymentID string
	Tickets   int
	Revenue   decimal.Decimal
}

type Plan struct {
	Action  Action
	Payment *PaymentPatch
	// Tickets lists the tickets to move to paid; already confirmed ones are
	// skipped when the plan is applied.
	Tickets []string
	Event   *EventDelta
}

// Reconcile decides how a payment converges on the gateway's verdict. Every
// trigger (callback, poll, return redirect, manual confirmation, sweep)
// applies the same plan.
func Reconcile(p *models.Payment, d status.Determination) Plan {
	switch p.Status {
	case models.PaymentCompleted:
		plan := Plan{Action: ActionSync, Tickets: p.TicketIDs}
		if !p.CountersApplied {
			plan.Event = deltaOf(p)
		}
		return plan

	case models.PaymentExpired:
		return Plan{Action: ActionNone}
	}

	switch d.Outcome {
	case status.OutcomeSuccess:
		received := d.Amount
		if !received.IsPositive() {
			received = p.Amount
		}
		return Plan{
			Action: ActionComplete,
			Payment: &PaymentPatch{
				Status:         models.PaymentCompleted,
				GatewayRef:     d.Reference,
				ReceivedAmount: received,
			},
			Tickets: p.TicketIDs,
			Event:   deltaOf(p),
		}

	case status.OutcomeFailed:
		if p.Status != models.PaymentPending {
			return Plan{Action: ActionNone}
		}
		reason := d.Reason
		if reason == "" {
			reason = "payment was not successful"
		}
		return Plan{
			Action: ActionFail,
			Payment: &PaymentPatch{
				Status:        models.PaymentFailed,
				GatewayRef:    d.Reference,
				FailureReason: reason,
			},
		}
	}

	return Plan{Action: ActionNone}
}

func deltaOf(p *models.Payment) *EventDelta {
	n := p.Quantity
	if n == 0 {
		n = len(p.TicketIDs)
	}
	return &EventDelta{
		PaymentID: p.ID,
		Tickets:   n,
		Revenue:   p.Amount,
	}
}
