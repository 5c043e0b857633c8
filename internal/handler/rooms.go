package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/service"
)

// RoomHandler exposes the room state machine: assignment, scanning and
// status changes.
type RoomHandler struct {
	Rooms  *service.RoomService
	Logger *zap.Logger
}

// NewRoomHandler constructs a RoomHandler and panics if the service is nil.
func NewRoomHandler(rooms *service.RoomService, logger *zap.Logger) *RoomHandler {
	if rooms == nil {
		panic("nil room service passed to NewRoomHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomHandler{Rooms: rooms, Logger: logger}
}

type assignRequest struct {
	CustomerCard string   `json:"customer_card"`
	Items        []string `json:"items"`
	RoomNumber   *int     `json:"room_number"`
}

type scanRequest struct {
	SKU          string `json:"sku"`
	CustomerCard string `json:"customer_card"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type scanResponse struct {
	Room           roomResponse `json:"room"`
	Item           itemResponse `json:"item"`
	ItemsRemaining int          `json:"items_remaining"`
	CanExit        bool         `json:"can_exit"`
	SessionClosing bool         `json:"session_closing"`
	Message        string       `json:"message,omitempty"`
}

// Assign handles POST /v1/rooms/assign.
func (h *RoomHandler) Assign(c echo.Context) error {
	var body assignRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	res, err := h.Rooms.AssignRoom(c.Request().Context(), service.AssignInput{
		CustomerCard: body.CustomerCard,
		SKUs:         body.Items,
		RoomNumber:   body.RoomNumber,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"room":    toRoom(res.Room),
		"session": toSession(res.Session),
		"items":   toItems(res.Items),
	})
}

// Get handles GET /v1/rooms/:id.  Dashboards poll it after an exit to see
// whether the background close released or locked the room.
func (h *RoomHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeRoomRequired, "invalid room id")
	}
	d, err := h.Rooms.GetRoom(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	resp := echo.Map{
		"room":          toRoom(d.Room),
		"items":         toItems(d.Items),
		"pending_items": toPending(d.Pending),
		"can_exit":      d.CanExit,
		"session":       nil,
	}
	if d.Session != nil {
		resp["session"] = toSession(*d.Session)
	}
	return c.JSON(http.StatusOK, resp)
}

type roomPendingResponse struct {
	Room  roomResponse   `json:"room"`
	Items []itemResponse `json:"items"`
}

// PendingScanOut handles GET /v1/rooms/pending-scan-out?customer_card=X or
// ?room_id=N.  The exit desk uses it to find what a customer still holds.
func (h *RoomHandler) PendingScanOut(c echo.Context) error {
	var roomID uint64
	if raw := c.QueryParam("room_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return badRequest(c, service.CodeRoomRequired, "invalid room id")
		}
		roomID = id
	}
	rooms, err := h.Rooms.PendingScanOut(c.Request().Context(), c.QueryParam("customer_card"), roomID)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	out := make([]roomPendingResponse, 0, len(rooms))
	total := 0
	for _, rp := range rooms {
		out = append(out, roomPendingResponse{Room: toRoom(rp.Room), Items: toItems(rp.Items)})
		total += len(rp.Items)
	}
	return c.JSON(http.StatusOK, echo.Map{"rooms": out, "total_items": total})
}

// ScanIn handles POST /v1/rooms/:id/scan-in.
func (h *RoomHandler) ScanIn(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeRoomRequired, "invalid room id")
	}
	var body scanRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	res, err := h.Rooms.ScanIn(c.Request().Context(), id, body.SKU)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toScanResponse(res))
}

// ScanOut handles POST /v1/rooms/:id/scan-out.
func (h *RoomHandler) ScanOut(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeRoomRequired, "invalid room id")
	}
	var body scanRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	res, err := h.Rooms.ScanOut(c.Request().Context(), id, body.SKU, body.CustomerCard)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toScanResponse(res))
}

// SetStatus handles PATCH /v1/rooms/:id/status.
func (h *RoomHandler) SetStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, service.CodeRoomRequired, "invalid room id")
	}
	var body statusRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, service.CodeInvalidInput, "invalid request body")
	}
	res, err := h.Rooms.SetStatus(c.Request().Context(), id, model.RoomStatus(body.Status))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	resp := echo.Map{
		"room":            toRoom(res.Room),
		"session_closing": res.SessionClosing,
	}
	if res.SessionClosing {
		resp["message"] = "room will be available shortly"
	}
	return c.JSON(http.StatusOK, resp)
}

func toScanResponse(res service.ScanResult) scanResponse {
	out := scanResponse{
		Room:           toRoom(res.Room),
		Item:           toItem(res.Record),
		ItemsRemaining: res.ItemsRemaining,
		CanExit:        res.CanExit,
		SessionClosing: res.SessionClosing,
	}
	if res.SessionClosing {
		out.Message = "all items returned, room will be available shortly"
	}
	return out
}
