package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/service"
)

type errorResponse struct {
	Error        string                `json:"error"`
	Message      string                `json:"message"`
	Status       string                `json:"status,omitempty"`
	MissingItems []pendingItemResponse `json:"missing_items,omitempty"`
	Room         *roomResponse         `json:"room,omitempty"`
}

func statusForKind(k service.Kind) int {
	switch k {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders a domain failure with its reason code.  Anything that
// is not a domain error is logged and reported as a generic 500.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	e, ok := service.AsError(err)
	if !ok {
		logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
	body := errorResponse{
		Error:   e.Code,
		Message: e.Message,
		Status:  string(e.Status),
	}
	if len(e.MissingItems) > 0 {
		body.MissingItems = toPending(e.MissingItems)
	}
	if e.Room != nil {
		r := toRoom(*e.Room)
		body.Room = &r
	}
	return c.JSON(statusForKind(e.Kind), body)
}

func badRequest(c echo.Context, code, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: code, Message: msg})
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil {
		return 0
	}
	return n
}
