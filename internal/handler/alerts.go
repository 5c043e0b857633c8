package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/middleware"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/service"
)

// AlertHandler lists and resolves alerts.
type AlertHandler struct {
	Alerts *service.AlertManager
	Logger *zap.Logger
}

// NewAlertHandler constructs an AlertHandler and panics if the manager is nil.
func NewAlertHandler(alerts *service.AlertManager, logger *zap.Logger) *AlertHandler {
	if alerts == nil {
		panic("nil alert manager passed to NewAlertHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertHandler{Alerts: alerts, Logger: logger}
}

// List handles GET /v1/alerts?unresolved=true&limit=N.
func (h *AlertHandler) List(c echo.Context) error {
	unresolved, _ := strconv.ParseBool(c.QueryParam("unresolved"))
	alerts, err := h.Alerts.List(c.Request().Context(), unresolved, queryLimit(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"alerts": toAlerts(alerts)})
}

type createAlertRequest struct {
	RoomID   uint64 `json:"room_id"`
	Type     string `json:"alert_type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Create handles POST /v1/alerts: staff file an alert by hand.
func (h *AlertHandler) Create(c echo.Context) error {
	var body createAlertRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	a, err := h.Alerts.Create(c.Request().Context(), middleware.Actor(c), service.AlertInput{
		RoomID:   body.RoomID,
		Type:     model.AlertType(body.Type),
		Severity: body.Severity,
		Message:  body.Message,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, toAlert(a))
}

// Resolve handles PATCH /v1/alerts/:id/resolve.  It fails with the
// still-missing SKUs while the room's condition persists.
func (h *AlertHandler) Resolve(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeInvalidInput, "invalid alert id")
	}
	a, err := h.Alerts.Resolve(c.Request().Context(), middleware.Actor(c), id)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toAlert(a))
}
