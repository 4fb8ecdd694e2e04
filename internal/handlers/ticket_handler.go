package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"
)

type TicketHandler struct {
	desk   TicketDesk
	logger *zap.Logger
}

func NewTicketHandler(desk TicketDesk, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{desk: desk, logger: logger.Named("http")}
}

// ListTickets - GET /api/v1/tickets?event_id=
func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	tickets, err := h.desk.ListTickets(e.Request.Context(), principal, e.Request.URL.Query().Get("event_id"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets})
}

// CheckIn - POST /api/v1/tickets/{ticketId}/check-in
func (h *TicketHandler) CheckIn(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticket, err := h.desk.CheckIn(e.Request.Context(), principal, e.Request.PathValue("ticketId"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, ticket)
}
