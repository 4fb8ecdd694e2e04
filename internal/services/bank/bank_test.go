package bank

import (
	"context"
	"errors"
	"testing"

	"campus-ticket/internal/status"
	"campus-ticket/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockToyyibPay struct {
	mock.Mock
}

func (m *mockToyyibPay) CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error) {
	args := m.Called(ctx, f)
	if b := args.Get(0); b != nil {
		return b.(*status.Bill), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockToyyibPay) GetBillTransactions(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error) {
	args := m.Called(ctx, billCode, externalRef)
	if txs := args.Get(0); txs != nil {
		return txs.([]status.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockToyyibPay) Ready() error {
	return m.Called().Error(0)
}

func TestNewGateway_Providers(t *testing.T) {
	gw, err := NewGateway(Config{Provider: ProviderToyyibPaySandbox, SecretKey: "s"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderToyyibPaySandbox, gw.GetProvider())
	assert.NoError(t, gw.Ready())

	gw, err = NewGateway(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderToyyibPay, gw.GetProvider())
	assert.ErrorIs(t, gw.Ready(), status.ErrGatewayCredentials)

	_, err = NewGateway(Config{Provider: "stripe"}, zap.NewNop())
	assert.Error(t, err)

	assert.Len(t, SupportedProviders(), 2)
}

func TestAdapter_CreateBillPassThrough(t *testing.T) {
	client := new(mockToyyibPay)
	form := &status.FormBill{ExternalRef: "pay-1"}
	client.On("CreateBill", mock.Anything, form).Return(&status.Bill{BillCode: "abc", BillURL: "https://x/abc"}, nil)

	a := NewToyyibPayAdapter(ProviderToyyibPay, client, 0, zap.NewNop())
	bill, err := a.CreateBill(context.Background(), form)

	require.NoError(t, err)
	assert.Equal(t, "abc", bill.BillCode)
	client.AssertExpectations(t)
}

func TestAdapter_GetBillStatusPassThrough(t *testing.T) {
	client := new(mockToyyibPay)
	txs := []status.Transaction{{Fields: map[string]any{"billpaymentStatus": "1"}}}
	client.On("GetBillTransactions", mock.Anything, "abc", "pay-1").Return(txs, nil)

	a := NewToyyibPayAdapter(ProviderToyyibPay, client, 5, zap.NewNop())
	got, err := a.GetBillStatus(context.Background(), "abc", "pay-1")

	require.NoError(t, err)
	assert.Equal(t, txs, got)
}

func TestAdapter_BreakerOpensOnTransientFailures(t *testing.T) {
	client := new(mockToyyibPay)
	boom := &status.GatewayError{Op: "getBillTransactions", StatusCode: 503}
	client.On("GetBillTransactions", mock.Anything, "abc", "").Return(nil, boom).Times(10)

	a := NewToyyibPayAdapter(ProviderToyyibPay, client, 0, zap.NewNop())
	for i := 0; i < 10; i++ {
		_, err := a.GetBillStatus(context.Background(), "abc", "")
		require.Error(t, err)
	}

	_, err := a.GetBillStatus(context.Background(), "abc", "")
	assert.ErrorIs(t, err, utils.ErrCircuitOpen)

	var ge *status.GatewayError
	assert.True(t, errors.As(err, &ge))
	client.AssertNumberOfCalls(t, "GetBillTransactions", 10)
}

func TestAdapter_CredentialErrorsDoNotOpenBreaker(t *testing.T) {
	client := new(mockToyyibPay)
	credErr := &status.GatewayError{Op: "createBill", Err: status.ErrGatewayCredentials}
	client.On("CreateBill", mock.Anything, mock.Anything).Return(nil, credErr)

	a := NewToyyibPayAdapter(ProviderToyyibPay, client, 0, zap.NewNop())
	for i := 0; i < 15; i++ {
		_, err := a.CreateBill(context.Background(), &status.FormBill{})
		require.ErrorIs(t, err, status.ErrGatewayCredentials)
	}

	client.AssertNumberOfCalls(t, "CreateBill", 15)
}

func TestAdapter_FailureLogNamesBreaker(t *testing.T) {
	client := new(mockToyyibPay)
	client.On("GetBillTransactions", mock.Anything, "abc", "").
		Return(nil, &status.GatewayError{Op: "getBillTransactions", StatusCode: 502})

	core, logs := observer.New(zapcore.WarnLevel)
	a := NewToyyibPayAdapter(ProviderToyyibPaySandbox, client, 0, zap.New(core))

	_, err := a.GetBillStatus(context.Background(), "abc", "")
	require.Error(t, err)

	entries := logs.FilterMessage("gateway call failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(ProviderToyyibPaySandbox), fields["breaker"])
	assert.Equal(t, "closed", fields["breaker_state"])
	assert.Equal(t, "getBillTransactions", fields["op"])
}
