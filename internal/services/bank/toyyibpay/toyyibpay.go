package toyyibpay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"campus-ticket/internal/status"

	"go.uber.org/zap"
)

const (
	ProductionURL = "https://toyyibpay.com"
	SandboxURL    = "https://dev.toyyibpay.com"
)

var _ ToyyibPay = (*toyyibpay)(nil)

type (
	Config struct {
		BaseURL   string        `json:"base_url" mapstructure:"base_url"`
		SecretKey string        `json:"secret_key" mapstructure:"secret_key"`
		Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	toyyibpay struct {
		baseURL string

		// secretKey is the merchant's userSecretKey.
		secretKey string

		hc     *http.Client
		logger *zap.Logger
	}
)

type ToyyibPay interface {
	CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error)
	GetBillTransactions(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error)

	// Ready reports whether the client holds usable credentials.
	Ready() error
}

// New creates a ToyyibPay client. A missing secret key is not an error here;
// calls fail with status.ErrGatewayCredentials instead so the service still boots.
func New(cfg *Config, logger *zap.Logger) ToyyibPay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ProductionURL
	}

	return &toyyibpay{
		baseURL:   baseURL,
		secretKey: strings.TrimSpace(cfg.SecretKey),
		hc:        &http.Client{Timeout: timeout},
		logger:    logger.Named("toyyibpay"),
	}
}

func (t *toyyibpay) Ready() error {
	if t.secretKey == "" {
		return status.ErrGatewayCredentials
	}
	return nil
}

func (t *toyyibpay) CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error) {
	if err := t.Ready(); err != nil {
		return nil, &status.GatewayError{Op: "createBill", Err: err}
	}

	code, err := t.createBill(ctx, f)
	if err != nil {
		return nil, err
	}

	return &status.Bill{
		BillCode: code,
		BillURL:  t.paymentURL(code),
	}, nil
}

func (t *toyyibpay) GetBillTransactions(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error) {
	if billCode == "" {
		return nil, status.ErrMissingBillCode
	}

	txs, err := t.getBillTransactions(ctx, billCode)
	if err != nil {
		return nil, err
	}

	return filterByExternalRef(txs, externalRef), nil
}

func (t *toyyibpay) paymentURL(billCode string) string {
	return t.baseURL + "/" + billCode
}
