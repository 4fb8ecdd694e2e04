package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"campus-ticket/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	purchases   Purchaser
	recon       Reconciler
	validate    *validator.Validate
	frontendURL string
	logger      *zap.Logger
}

func NewPaymentHandler(purchases Purchaser, recon Reconciler, frontendURL string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		purchases:   purchases,
		recon:       recon,
		validate:    validator.New(),
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger.Named("http"),
	}
}

// Purchase - POST /api/v1/events/{eventId}/purchase
func (h *PaymentHandler) Purchase(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.PurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	req.EventID = e.Request.PathValue("eventId")

	checkout, err := h.purchases.InitiatePayment(e.Request.Context(), principal, req)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusCreated, checkout)
}

// PaymentStatus - GET /api/v1/payments/{paymentId}/status
func (h *PaymentHandler) PaymentStatus(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	res, err := h.recon.PollStatus(e.Request.Context(), principal, e.Request.PathValue("paymentId"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, res)
}

// Retry - POST /api/v1/payments/{paymentId}/retry
func (h *PaymentHandler) Retry(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	checkout, err := h.purchases.RetryPayment(e.Request.Context(), principal, e.Request.PathValue("paymentId"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, checkout)
}

type manualConfirmRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Reason  string `json:"reason" validate:"max=200"`
}

// ManualConfirm - POST /api/v1/payments/{paymentId}/manual-confirm
func (h *PaymentHandler) ManualConfirm(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req manualConfirmRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return e.JSON(http.StatusBadRequest, errorBody{Error: "InvalidRequest", Reason: "approve is required and reason is at most 200 characters"})
	}

	res, err := h.recon.ConfirmManualPayment(e.Request.Context(), principal, e.Request.PathValue("paymentId"), *req.Approve, req.Reason)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, res)
}

// Callback - POST /api/v1/payments/toyyibpay/callback
//
// The gateway posts form fields; the outcome is re-derived from them and the
// stored payment, never trusted beyond that.
func (h *PaymentHandler) Callback(e *core.RequestEvent) error {
	if err := e.Request.ParseForm(); err != nil {
		return apis.NewBadRequestError("Invalid form", err)
	}
	form := e.Request.Form

	cb := services.Callback{
		OrderID:  firstOf(form, "order_id", "orderId"),
		RefNo:    form.Get("refno"),
		BillCode: form.Get("billcode"),
		Status:   firstOf(form, "status", "status_id"),
		Reason:   form.Get("reason"),
		Amount:   form.Get("amount"),
	}
	if cb.OrderID == "" && cb.BillCode == "" {
		return apis.NewBadRequestError("order_id or billcode required", nil)
	}

	res, err := h.recon.HandleCallback(e.Request.Context(), cb)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"payment_id": res.PaymentID,
		"status":     res.Status,
	})
}

// Return - GET /api/v1/payments/toyyibpay/return
//
// The purchaser's browser lands here after paying. The query is only used to
// find the payment; the status shown comes from reconciliation.
func (h *PaymentHandler) Return(e *core.RequestEvent) error {
	q := e.Request.URL.Query()

	res, err := h.recon.HandleReturn(e.Request.Context(), firstOf(q, "order_id", "orderId"), q.Get("billcode"))
	if err != nil {
		h.logger.Warn("return redirect without a known payment",
			zap.String("billcode", q.Get("billcode")),
			zap.Error(err),
		)
		return e.Redirect(http.StatusSeeOther, h.frontendURL+"/payments?status=unknown")
	}

	target := h.frontendURL + "/payments/" + url.PathEscape(res.PaymentID) +
		"?" + url.Values{"status": {string(res.Status)}}.Encode()
	return e.Redirect(http.StatusSeeOther, target)
}

func firstOf(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}
