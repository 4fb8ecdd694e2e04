package handlers

import (
	"net/http"

	"campus-ticket/models"
	"campus-ticket/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// readiness reports whether the payment gateway is usable.
type readiness interface {
	Ready() error
}

type AdminHandler struct {
	recon   Reconciler
	redis   redis.Cmdable
	gateway readiness
	logger  *zap.Logger
}

func NewAdminHandler(recon Reconciler, redis redis.Cmdable, gateway readiness, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		recon:   recon,
		redis:   redis,
		gateway: gateway,
		logger:  logger.Named("admin"),
	}
}

// Health - GET /health
func (h *AdminHandler) Health(e *core.RequestEvent) error {
	body := map[string]string{"status": "healthy", "redis": "ok", "gateway": "ok"}

	if err := h.gateway.Ready(); err != nil {
		body["gateway"] = "misconfigured"
	}

	if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
		body["status"] = "unhealthy"
		body["redis"] = err.Error()
		return e.JSON(http.StatusServiceUnavailable, body)
	}
	return e.JSON(http.StatusOK, body)
}

// Sweep - POST /api/v1/admin/reconcile
func (h *AdminHandler) Sweep(e *core.RequestEvent) error {
	principal, ok := principalOf(e)
	if !ok || principal.Role != models.RoleAdmin {
		return apis.NewForbiddenError("Admin access required", nil)
	}

	report, err := h.recon.SweepStale(e.Request.Context())
	if err != nil {
		return respondError(e, h.logger, err)
	}

	h.logger.Info("manual sweep triggered", zap.String("by", principal.UserID))
	return e.JSON(http.StatusOK, report)
}
