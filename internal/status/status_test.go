package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   any
		want Outcome
	}{
		{float64(1), OutcomeSuccess},
		{1, OutcomeSuccess},
		{"1", OutcomeSuccess},
		{"success", OutcomeSuccess},
		{"PAID", OutcomeSuccess},
		{" Successful ", OutcomeSuccess},
		{"2", OutcomePending},
		{2, OutcomePending},
		{float64(2), OutcomePending},
		{"pending", OutcomePending},
		{"4", OutcomePending},
		{"3", OutcomeFailed},
		{"failed", OutcomeFailed},
		{"whatever", OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestDetermine_SuccessFromAnyField(t *testing.T) {
	txs := []Transaction{
		{Fields: map[string]any{"billpaymentStatus": "3"}},
		{Fields: map[string]any{
			"paymentStatus":        "Paid",
			"billpaymentInvoiceNo": "TP123",
			"billpaymentAmount":    "10.00",
		}},
	}

	d := Determine(txs)

	assert.Equal(t, OutcomeSuccess, d.Outcome)
	assert.Equal(t, "TP123", d.Reference)
	assert.True(t, d.Amount.Equal(decimal.RequireFromString("10.00")))
}

func TestDetermine_PendingBeatsFailure(t *testing.T) {
	txs := []Transaction{
		{Fields: map[string]any{"billpaymentStatus": "3"}},
		{Fields: map[string]any{"billpaymentStatus": float64(2)}},
	}
	assert.Equal(t, OutcomePending, Determine(txs).Outcome)
}

func TestDetermine_Failure(t *testing.T) {
	txs := []Transaction{
		{Fields: map[string]any{"status": "3", "reason": "Insufficient funds", "refno": "R1"}},
	}

	d := Determine(txs)

	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.Equal(t, "Insufficient funds", d.Reason)
	assert.Equal(t, "R1", d.Reference)
}

func TestDetermine_AmbiguousIsPending(t *testing.T) {
	assert.Equal(t, OutcomePending, Determine(nil).Outcome)
	assert.Equal(t, OutcomePending, Determine([]Transaction{{Fields: map[string]any{"billName": "x"}}}).Outcome)
	assert.Equal(t, OutcomePending, Determine([]Transaction{{Fields: map[string]any{"status": ""}}}).Outcome)
}

func TestTransaction_Amount(t *testing.T) {
	rm := Transaction{Fields: map[string]any{"billpaymentAmount": "12.50"}}
	sen := Transaction{Fields: map[string]any{"amount": "1250"}}
	none := Transaction{Fields: map[string]any{}}

	assert.Equal(t, "12.50", rm.Amount().StringFixed(2))
	assert.Equal(t, "12.50", sen.Amount().StringFixed(2))
	assert.True(t, none.Amount().IsZero())
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("10")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, "10.00", FromMinorUnits(decimal.NewFromInt(1000)).StringFixed(2))
}

func TestPurchaseError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("initiate: %w", &PurchaseError{Kind: KindGatewayUnavailable, Reason: "bill failed", Err: cause})

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindGatewayUnavailable, kind)
	assert.True(t, kind.Retryable())
	assert.ErrorIs(t, err, cause)
	assert.False(t, KindDuplicatePurchase.Retryable())

	_, ok = KindOf(cause)
	assert.False(t, ok)
}
