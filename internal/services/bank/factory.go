package bank

import (
	"fmt"
	"time"

	"campus-ticket/internal/services/bank/toyyibpay"

	"go.uber.org/zap"
)

// Config selects and configures a gateway.
type Config struct {
	Provider  Provider
	BaseURL   string
	SecretKey string
	Timeout   time.Duration

	// RequestsPerSecond bounds outbound calls; zero disables limiting.
	RequestsPerSecond float64
}

// NewGateway creates a gateway instance based on provider type and configuration.
func NewGateway(cfg Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.Provider {
	case ProviderToyyibPay, "":
		return newToyyibPayGateway(ProviderToyyibPay, cfg, toyyibpay.ProductionURL, logger), nil

	case ProviderToyyibPaySandbox:
		return newToyyibPayGateway(ProviderToyyibPaySandbox, cfg, toyyibpay.SandboxURL, logger), nil

	default:
		return nil, fmt.Errorf("unsupported payment provider %q, expected one of %v", cfg.Provider, SupportedProviders())
	}
}

// SupportedProviders returns list of supported gateway providers
func SupportedProviders() []Provider {
	return []Provider{
		ProviderToyyibPay,
		ProviderToyyibPaySandbox,
	}
}
