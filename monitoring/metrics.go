package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Reconciliation runs by trigger and result",
		},
		[]string{"source", "result"},
	)

	ticketRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_sync_repairs_total",
			Help: "Tickets moved to paid by the sync pass",
		},
	)

	rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_rollbacks_total",
			Help: "Compensating rollbacks by result",
		},
		[]string{"result"},
	)

	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment gateway calls",
		},
		[]string{"op", "status"},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"op"},
	)
)

func TrackPurchase(outcome string) {
	purchases.WithLabelValues(outcome).Inc()
}

func TrackReconciliation(source, result string) {
	reconciliations.WithLabelValues(source, result).Inc()
}

func TrackTicketRepairs(n int) {
	ticketRepairs.Add(float64(n))
}

func TrackRollback(result string) {
	rollbacks.WithLabelValues(result).Inc()
}

func TrackGatewayCall(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayRequests.WithLabelValues(op, status).Inc()
	gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
