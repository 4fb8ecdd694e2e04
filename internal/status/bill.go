package status

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormBill is the provider-neutral bill creation request.
type FormBill struct {
	CategoryCode string
	Title        string
	Description  string
	Amount       decimal.Decimal
	ReturnURL    string
	CallbackURL  string
	ExternalRef  string
	PayerName    string
	PayerEmail   string
	PayerPhone   string
	ExpiresAt    time.Time
}

type Bill struct {
	BillCode string
	BillURL  string
}

// GatewayError carries the gateway's raw reply for diagnostics.
type GatewayError struct {
	Op         string
	StatusCode int
	Raw        string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if raw := strings.TrimSpace(e.Raw); raw != "" {
		if len(raw) > 300 {
			raw = raw[:300] + "..."
		}
		msg += ": " + raw
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// RawResponse returns the gateway reply attached to err, if any.
func RawResponse(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Raw
	}
	return ""
}
