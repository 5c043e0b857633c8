package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/fitting-room-service/internal/handler"
	"github.com/iliyamo/fitting-room-service/internal/middleware"
	"github.com/iliyamo/fitting-room-service/internal/service"
)

// RegisterRoutes registers routes that do not require authentication:
// liveness, readiness and prometheus metrics.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Handlers bundles the authenticated API handlers.
type Handlers struct {
	Rooms   *handler.RoomHandler
	Alerts  *handler.AlertHandler
	Unlocks *handler.UnlockHandler
}

// RegisterAPI mounts the /v1 API.  Every route requires a valid access
// token from staff or a manager; unlock resolution additionally requires a
// manager.  Scan routes sit behind the rate limiter.
func RegisterAPI(e *echo.Echo, h Handlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	v1.Use(middleware.RequireRole(service.RoleStaff, service.RoleManager))

	rooms := v1.Group("/rooms")
	rooms.POST("/assign", h.Rooms.Assign)
	rooms.GET("/pending-scan-out", h.Rooms.PendingScanOut)
	rooms.GET("/:id", h.Rooms.Get)
	rooms.POST("/:id/scan-in", h.Rooms.ScanIn, limiter)
	rooms.POST("/:id/scan-out", h.Rooms.ScanOut, limiter)
	rooms.PATCH("/:id/status", h.Rooms.SetStatus)

	v1.GET("/alerts", h.Alerts.List)
	v1.POST("/alerts", h.Alerts.Create)
	v1.PATCH("/alerts/:id/resolve", h.Alerts.Resolve)

	unlocks := v1.Group("/unlock-requests")
	unlocks.POST("", h.Unlocks.Create)
	unlocks.GET("", h.Unlocks.List)

	manager := middleware.RequireRole(service.RoleManager)
	unlocks.PATCH("/:id/approve", h.Unlocks.Approve, manager)
	unlocks.PATCH("/:id/reject", h.Unlocks.Reject, manager)
	unlocks.POST("/direct", h.Unlocks.DirectUnlock, manager)

	e.RouteNotFound("/v1/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "route not found"})
	})
}
