package status

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound    = errors.New("payment: payment not found")
	ErrTicketNotFound     = errors.New("ticket: ticket not found")
	ErrAlreadyFinalized   = errors.New("payment: already finalized")
	ErrNotRetryable       = errors.New("payment: payment is not retryable")
	ErrPaymentExpired     = errors.New("payment: payment expired")
	ErrForbidden          = errors.New("access denied")
	ErrGatewayCredentials = errors.New("gateway: credentials missing or rejected")
	ErrMissingBillCode    = errors.New("gateway: response has no bill code")
	ErrLockHeld           = errors.New("reconcile: payment is locked by another worker")
	ErrNotManualPayment   = errors.New("payment: not a manual payment")
	ErrTicketNotPaid      = errors.New("ticket: ticket is not paid")
	ErrAlreadyCheckedIn   = errors.New("ticket: already checked in")
)

// Kind classifies why a purchase was refused.
type Kind string

const (
	KindInvalidRequest         Kind = "InvalidRequest"
	KindEventNotFound          Kind = "EventNotFound"
	KindInvalidState           Kind = "InvalidState"
	KindInsufficientInventory  Kind = "InsufficientInventory"
	KindDuplicatePurchase      Kind = "DuplicatePurchase"
	KindOrganizerNotConfigured Kind = "OrganizerNotConfigured"
	KindIncompleteProfile      Kind = "IncompleteProfile"
	KindGatewayUnavailable     Kind = "GatewayUnavailable"
	KindGatewayMisconfigured   Kind = "GatewayMisconfigured"
)

// Retryable reports whether the purchaser may simply try again.
func (k Kind) Retryable() bool {
	return k == KindGatewayUnavailable
}

type PurchaseError struct {
	Kind   Kind
	Reason string
	Hint   string
	Err    error
}

func (e *PurchaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purchase: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("purchase: %s: %s", e.Kind, e.Reason)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

func NewPurchaseError(kind Kind, reason string) *PurchaseError {
	return &PurchaseError{Kind: kind, Reason: reason}
}

// KindOf returns the purchase error kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
