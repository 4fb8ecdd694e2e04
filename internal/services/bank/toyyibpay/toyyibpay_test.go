package toyyibpay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus-ticket/internal/status"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) ToyyibPay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&Config{BaseURL: srv.URL + "/", SecretKey: "secret", Timeout: 2 * time.Second}, zap.NewNop())
}

func testBill() *status.FormBill {
	return &status.FormBill{
		CategoryCode: "cat123",
		Title:        "Tech Talk: Go & You!",
		Description:  "2 tickets for Tech Talk",
		Amount:       decimal.RequireFromString("20.50"),
		ReturnURL:    "https://app.example/api/v1/payments/toyyibpay/return",
		CallbackURL:  "https://app.example/api/v1/payments/toyyibpay/callback",
		ExternalRef:  "pay-1",
		PayerName:    "Aina",
		PayerEmail:   "aina@example.edu",
		PayerPhone:   "0123456789",
		ExpiresAt:    time.Date(2026, 3, 4, 15, 6, 7, 0, time.UTC),
	}
}

func TestCreateBill_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createBillPath, r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "secret", r.PostForm.Get("userSecretKey"))
		assert.Equal(t, "cat123", r.PostForm.Get("categoryCode"))
		assert.Equal(t, "Tech Talk Go You", r.PostForm.Get("billName"))
		assert.Equal(t, "2050", r.PostForm.Get("billAmount"))
		assert.Equal(t, "1", r.PostForm.Get("billPriceSetting"))
		assert.Equal(t, "pay-1", r.PostForm.Get("billExternalReferenceNo"))
		assert.Equal(t, "0123456789", r.PostForm.Get("billPhone"))
		assert.Equal(t, "04-03-2026 15:06:07", r.PostForm.Get("billExpiryDate"))

		w.Write([]byte(`[{"BillCode":"abc123"}]`))
	})

	bill, err := client.CreateBill(context.Background(), testBill())
	require.NoError(t, err)
	assert.Equal(t, "abc123", bill.BillCode)
	assert.Contains(t, bill.BillURL, "/abc123")
	assert.NotContains(t, bill.BillURL, "//abc123")
}

func TestCreateBill_MissingBillCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"BillCode":""}]`))
	})

	_, err := client.CreateBill(context.Background(), testBill())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrMissingBillCode))
	assert.Equal(t, `[{"BillCode":""}]`, status.RawResponse(err))
}

func TestCreateBill_CredentialFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[KEY-DID-NOT-EXIST-OR-USER-IS-NOT-ACTIVE]`))
	})

	_, err := client.CreateBill(context.Background(), testBill())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrGatewayCredentials))
}

func TestCreateBill_ErrorShapeReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"status":"error","msg":"Category code not found"}]`))
	})

	_, err := client.CreateBill(context.Background(), testBill())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Category code not found")

	var ge *status.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "createBill", ge.Op)
}

func TestCreateBill_HTTPFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := client.CreateBill(context.Background(), testBill())
	require.Error(t, err)

	var ge *status.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusBadGateway, ge.StatusCode)
	assert.Equal(t, "upstream down", ge.Raw)
}

func TestCreateBill_NoSecret(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := New(&Config{BaseURL: srv.URL}, zap.NewNop())
	assert.ErrorIs(t, client.Ready(), status.ErrGatewayCredentials)

	_, err := client.CreateBill(context.Background(), testBill())
	assert.ErrorIs(t, err, status.ErrGatewayCredentials)
	assert.False(t, called)
}

func TestGetBillTransactions_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  int
	}{
		{"array", `[{"billpaymentStatus":"1","billExternalReferenceNo":"pay-1"},{"billpaymentStatus":"3"}]`, 2},
		{"bare object", `{"billpaymentStatus":"1"}`, 1},
		{"wrapped", `{"transactions":[{"status":1}]}`, 1},
		{"empty array", `[]`, 0},
		{"no data text", `No data found!`, 0},
		{"other reference dropped", `[{"billpaymentStatus":"1","billExternalReferenceNo":"pay-2"}]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, billTransactionPath, r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "abc123", r.PostForm.Get("billCode"))
				w.Write([]byte(tt.reply))
			})

			txs, err := client.GetBillTransactions(context.Background(), "abc123", "pay-1")
			require.NoError(t, err)
			assert.Len(t, txs, tt.want)
		})
	}
}

func TestGetBillTransactions_DeterminesSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"billpaymentStatus":"1","billpaymentAmount":"10.00","billpaymentInvoiceNo":"TP123"}]`))
	})

	txs, err := client.GetBillTransactions(context.Background(), "abc123", "")
	require.NoError(t, err)

	d := status.Determine(txs)
	assert.Equal(t, status.OutcomeSuccess, d.Outcome)
	assert.Equal(t, "TP123", d.Reference)
	assert.True(t, decimal.NewFromInt(10).Equal(d.Amount))
}

func TestGetBillTransactions_Malformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.GetBillTransactions(context.Background(), "abc123", "")
	require.Error(t, err)
	assert.Equal(t, "<html>maintenance</html>", status.RawResponse(err))
}

func TestGetBillTransactions_MissingBillCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})

	_, err := client.GetBillTransactions(context.Background(), "", "pay-1")
	assert.ErrorIs(t, err, status.ErrMissingBillCode)
}

func TestSanitizeAndTruncate(t *testing.T) {
	assert.Equal(t, "Hello World 2026", sanitize("Hello, World! 2026"))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "ab", truncate("ab", 3))
}
