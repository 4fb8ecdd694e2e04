package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"campus-ticket/internal/services"
	"campus-ticket/internal/status"
	"campus-ticket/models"
	"campus-ticket/security"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"go.uber.org/zap"
)

type Purchaser interface {
	InitiatePayment(ctx context.Context, principal models.Principal, req services.PurchaseRequest) (*services.Checkout, error)
	RetryPayment(ctx context.Context, principal models.Principal, paymentID string) (*services.Checkout, error)
}

type Reconciler interface {
	HandleCallback(ctx context.Context, cb services.Callback) (*services.Result, error)
	HandleReturn(ctx context.Context, orderID, billCode string) (*services.Result, error)
	PollStatus(ctx context.Context, principal models.Principal, paymentID string) (*services.Result, error)
	ConfirmManualPayment(ctx context.Context, principal models.Principal, paymentID string, approve bool, reason string) (*services.Result, error)
	SweepStale(ctx context.Context) (*services.SweepReport, error)
}

type TicketDesk interface {
	ListTickets(ctx context.Context, principal models.Principal, eventID string) ([]*models.Ticket, error)
	CheckIn(ctx context.Context, principal models.Principal, ticketID string) (*models.Ticket, error)
}

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// principalOf maps the authenticated record onto a caller identity.
func principalOf(e *core.RequestEvent) (models.Principal, bool) {
	if e.Auth == nil {
		return models.Principal{}, false
	}
	role := models.Role(e.Auth.GetString("role"))
	if e.Auth.IsSuperuser() {
		role = models.RoleAdmin
	}
	return models.Principal{UserID: e.Auth.Id, Role: role}, true
}

func purchaseStatus(kind status.Kind) int {
	switch kind {
	case status.KindInvalidRequest:
		return http.StatusBadRequest
	case status.KindEventNotFound:
		return http.StatusNotFound
	case status.KindInvalidState, status.KindInsufficientInventory, status.KindDuplicatePurchase:
		return http.StatusConflict
	case status.KindOrganizerNotConfigured, status.KindIncompleteProfile:
		return http.StatusUnprocessableEntity
	case status.KindGatewayUnavailable:
		return http.StatusBadGateway
	case status.KindGatewayMisconfigured:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the {error, reason, hint} body for err.
func respondError(e *core.RequestEvent, logger *zap.Logger, err error) error {
	var pe *status.PurchaseError
	if errors.As(err, &pe) {
		return e.JSON(purchaseStatus(pe.Kind), errorBody{
			Error:     string(pe.Kind),
			Reason:    pe.Reason,
			Hint:      pe.Hint,
			Retryable: pe.Kind.Retryable(),
		})
	}

	switch {
	case errors.Is(err, status.ErrPaymentNotFound), errors.Is(err, status.ErrTicketNotFound):
		return e.JSON(http.StatusNotFound, errorBody{Error: "NotFound", Reason: err.Error()})

	case errors.Is(err, status.ErrForbidden):
		return e.JSON(http.StatusForbidden, errorBody{Error: "Forbidden", Reason: err.Error()})

	case errors.Is(err, status.ErrAlreadyFinalized),
		errors.Is(err, status.ErrNotRetryable),
		errors.Is(err, status.ErrPaymentExpired),
		errors.Is(err, status.ErrNotManualPayment),
		errors.Is(err, status.ErrTicketNotPaid),
		errors.Is(err, status.ErrAlreadyCheckedIn):
		return e.JSON(http.StatusConflict, errorBody{Error: "InvalidState", Reason: err.Error()})
	}

	logger.Error("request failed",
		zap.String("method", e.Request.Method),
		zap.String("path", e.Request.URL.Path),
		zap.Error(err),
	)
	return e.JSON(http.StatusInternalServerError, errorBody{Error: "InternalError", Reason: "something went wrong, please try again"})
}

// RequestLogger emits one structured line per request, levelled by status.
func RequestLogger(logger *zap.Logger) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		start := time.Now()

		err := e.Next()

		code := e.Status()
		if err != nil {
			code = router.ToApiError(err).Status
		}

		fields := []zap.Field{
			zap.String("method", e.Request.Method),
			zap.String("path", e.Request.URL.Path),
			zap.String("query", e.Request.URL.RawQuery),
			zap.Int("status", code),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", security.ClientIP(e)),
			zap.String("user_agent", e.Request.UserAgent()),
		}
		if e.Auth != nil {
			fields = append(fields, zap.String("user_id", e.Auth.Id))
		}

		switch {
		case code >= 500:
			logger.Error("http_request", fields...)
		case code >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
		return err
	}
}
