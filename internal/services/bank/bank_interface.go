package bank

import (
	"context"

	"campus-ticket/internal/status"
)

// Provider identifies a payment gateway deployment.
type Provider string

const (
	ProviderToyyibPay        Provider = "toyyibpay"
	ProviderToyyibPaySandbox Provider = "toyyibpay_sandbox"
)

// Gateway is the bill-based payment gateway the purchase flow depends on.
type Gateway interface {
	// GetProvider returns the gateway provider type
	GetProvider() Provider

	// Ready reports configuration problems, such as a missing secret, before
	// any write happens.
	Ready() error

	// CreateBill registers a payable bill and returns its code and hosted URL.
	CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error)

	// GetBillStatus returns the bill's transaction records, optionally
	// narrowed to externalRef.
	GetBillStatus(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error)
}
