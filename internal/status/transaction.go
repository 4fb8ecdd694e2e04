package status

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome is the gateway's verdict on a bill as far as we can tell.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Transaction is one gateway transaction record with its raw fields preserved.
type Transaction struct {
	Fields map[string]any
}

func (t Transaction) Field(keys ...string) string {
	for _, k := range keys {
		if v, ok := t.Fields[k]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// Reference returns the gateway's own transaction reference.
func (t Transaction) Reference() string {
	return t.Field("billpaymentInvoiceNo", "refno", "transactionRef", "invoiceNo")
}

func (t Transaction) ExternalRef() string {
	return t.Field("billExternalReferenceNo", "order_id", "orderId", "externalReference")
}

// Amount returns the paid amount in ringgit. Gateway transaction listings
// report ringgit; minor-unit fields are converted.
func (t Transaction) Amount() decimal.Decimal {
	if s := t.Field("billpaymentAmount", "amount_rm"); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return d.Round(2)
		}
	}
	if s := t.Field("amount", "billAmount"); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return FromMinorUnits(d)
		}
	}
	return decimal.Zero
}

// Determination is the combined verdict over a set of transactions.
type Determination struct {
	Outcome   Outcome
	Reference string
	Amount    decimal.Decimal
	Reason    string
}

// statusField is one candidate status field and its token table.
type statusField struct {
	field   string
	success []string
	pending []string
}

var (
	successTokens = []string{"1", "success", "successful", "paid"}
	// 2 is pending and 4 is the gateway's "pending, awaiting bank" code.
	pendingTokens = []string{"2", "4", "pending"}
)

// statusFields are evaluated in order; the gateway is inconsistent about
// which field carries the status, so any of them may be authoritative.
var statusFields = []statusField{
	{field: "billpaymentStatus", success: successTokens, pending: pendingTokens},
	{field: "status", success: successTokens, pending: pendingTokens},
	{field: "status_id", success: successTokens, pending: pendingTokens},
	{field: "paymentStatus", success: successTokens, pending: pendingTokens},
	{field: "payment_status", success: successTokens, pending: pendingTokens},
}

// Classify maps a raw status value onto an outcome. Numbers and strings are
// compared by their textual form, case-insensitively.
func Classify(v any) Outcome {
	return classifyWith(v, successTokens, pendingTokens)
}

func classifyWith(v any, success, pending []string) Outcome {
	token := normalizeToken(v)
	for _, s := range success {
		if token == s {
			return OutcomeSuccess
		}
	}
	for _, p := range pending {
		if token == p {
			return OutcomePending
		}
	}
	return OutcomeFailed
}

func normalizeToken(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	case float32:
		if n == float32(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

// Determine evaluates the status fields over every transaction. Any success
// wins; otherwise any pending keeps the bill pending; a recognised status
// field with neither verdict means failed. No status field at all, or no
// transactions, is treated as pending.
func Determine(txs []Transaction) Determination {
	var (
		sawFailed  bool
		sawPending bool
		failed     Transaction
	)
	for _, tx := range txs {
		for _, p := range statusFields {
			v, ok := tx.Fields[p.field]
			if !ok || v == nil || normalizeToken(v) == "" {
				continue
			}
			switch classifyWith(v, p.success, p.pending) {
			case OutcomeSuccess:
				return Determination{
					Outcome:   OutcomeSuccess,
					Reference: tx.Reference(),
					Amount:    tx.Amount(),
				}
			case OutcomePending:
				sawPending = true
			case OutcomeFailed:
				if !sawFailed {
					sawFailed, failed = true, tx
				}
			}
		}
	}
	if sawPending || !sawFailed {
		return Determination{Outcome: OutcomePending}
	}
	return Determination{
		Outcome:   OutcomeFailed,
		Reference: failed.Reference(),
		Reason:    failed.Field("billpaymentStatusReason", "reason", "msg"),
	}
}

// FromMinorUnits converts sen to ringgit.
func FromMinorUnits(d decimal.Decimal) decimal.Decimal {
	return d.Shift(-2).Round(2)
}

// ToMinorUnits converts ringgit to sen.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
