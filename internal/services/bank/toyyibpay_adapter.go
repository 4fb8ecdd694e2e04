package bank

import (
	"context"
	"errors"
	"time"

	"campus-ticket/internal/services/bank/toyyibpay"
	"campus-ticket/internal/status"
	"campus-ticket/monitoring"
	"campus-ticket/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ToyyibPayAdapter wraps the ToyyibPay client with outbound rate limiting,
// a circuit breaker and call metrics.
type ToyyibPayAdapter struct {
	provider Provider
	client   toyyibpay.ToyyibPay
	limiter  *rate.Limiter
	breaker  *utils.CircuitBreaker
	logger   *zap.Logger
}

func newToyyibPayGateway(provider Provider, cfg Config, defaultURL string, logger *zap.Logger) *ToyyibPayAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}

	client := toyyibpay.New(&toyyibpay.Config{
		BaseURL:   baseURL,
		SecretKey: cfg.SecretKey,
		Timeout:   cfg.Timeout,
	}, logger)

	return NewToyyibPayAdapter(provider, client, cfg.RequestsPerSecond, logger)
}

// NewToyyibPayAdapter creates a new ToyyibPay adapter
func NewToyyibPayAdapter(provider Provider, client toyyibpay.ToyyibPay, rps float64, logger *zap.Logger) *ToyyibPayAdapter {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}

	a := &ToyyibPayAdapter{
		provider: provider,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With(zap.String("provider", string(provider))),
	}
	a.breaker = utils.NewCircuitBreakerWithSettings(string(provider), utils.BreakerSettings{
		// Rejections caused by our own configuration should not open the breaker.
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, status.ErrGatewayCredentials) &&
				!errors.Is(err, status.ErrMissingBillCode) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to utils.State) {
			a.logger.Warn("gateway circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return a
}

// GetProvider returns the gateway provider type
func (a *ToyyibPayAdapter) GetProvider() Provider {
	return a.provider
}

func (a *ToyyibPayAdapter) Ready() error {
	return a.client.Ready()
}

func (a *ToyyibPayAdapter) CreateBill(ctx context.Context, f *status.FormBill) (*status.Bill, error) {
	res, err := a.call(ctx, "createBill", func() (any, error) {
		return a.client.CreateBill(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return res.(*status.Bill), nil
}

func (a *ToyyibPayAdapter) GetBillStatus(ctx context.Context, billCode, externalRef string) ([]status.Transaction, error) {
	res, err := a.call(ctx, "getBillTransactions", func() (any, error) {
		return a.client.GetBillTransactions(ctx, billCode, externalRef)
	})
	if err != nil {
		return nil, err
	}
	return res.([]status.Transaction), nil
}

func (a *ToyyibPayAdapter) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &status.GatewayError{Op: op, Err: err}
	}

	start := time.Now()
	res, err := a.breaker.Execute(ctx, fn)
	monitoring.TrackGatewayCall(op, err, time.Since(start))

	if err != nil {
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			err = &status.GatewayError{Op: op, Err: err}
		}
		a.logger.Warn("gateway call failed",
			zap.String("op", op),
			zap.String("breaker", a.breaker.Name()),
			zap.String("breaker_state", a.breaker.State().String()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	return res, nil
}
