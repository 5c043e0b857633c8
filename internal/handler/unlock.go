package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/middleware"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/service"
)

// UnlockHandler drives the manager approval workflow for locked rooms.
type UnlockHandler struct {
	Unlocks *service.UnlockService
	Logger  *zap.Logger
}

// NewUnlockHandler constructs an UnlockHandler and panics if the service is nil.
func NewUnlockHandler(unlocks *service.UnlockService, logger *zap.Logger) *UnlockHandler {
	if unlocks == nil {
		panic("nil unlock service passed to NewUnlockHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnlockHandler{Unlocks: unlocks, Logger: logger}
}

type unlockRequestBody struct {
	RoomID uint64 `json:"room_id"`
	Reason string `json:"reason"`
}

// Create handles POST /v1/unlock-requests.
func (h *UnlockHandler) Create(c echo.Context) error {
	var body unlockRequestBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	req, err := h.Unlocks.Create(c.Request().Context(), middleware.Actor(c), body.RoomID, body.Reason)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, toUnlock(req))
}

// List handles GET /v1/unlock-requests?status=pending&limit=N.
func (h *UnlockHandler) List(c echo.Context) error {
	reqs, err := h.Unlocks.List(c.Request().Context(), model.UnlockStatus(c.QueryParam("status")), queryLimit(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unlock_requests": toUnlocks(reqs)})
}

// Approve handles PATCH /v1/unlock-requests/:id/approve.
func (h *UnlockHandler) Approve(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeInvalidInput, "invalid request id")
	}
	req, err := h.Unlocks.Approve(c.Request().Context(), middleware.Actor(c), id)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toUnlock(req))
}

// Reject handles PATCH /v1/unlock-requests/:id/reject.
func (h *UnlockHandler) Reject(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeInvalidInput, "invalid request id")
	}
	req, err := h.Unlocks.Reject(c.Request().Context(), middleware.Actor(c), id)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toUnlock(req))
}

// DirectUnlock handles POST /v1/unlock-requests/direct.
func (h *UnlockHandler) DirectUnlock(c echo.Context) error {
	var body unlockRequestBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	res, err := h.Unlocks.DirectUnlock(c.Request().Context(), middleware.Actor(c), body.RoomID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"room":              toRoom(res.Room),
		"rejected_requests": toUnlocks(res.Rejected),
	})
}
