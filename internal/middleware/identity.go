package middleware

// identity.go turns the claims stored by JWTAuth into the service layer's
// Actor.  Unauthenticated requests produce the zero Actor, which holds no
// capability.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fitting-room-service/internal/service"
)

// Actor returns the authenticated caller.
func Actor(c echo.Context) service.Actor {
	id, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	return service.Actor{ID: id, Role: role}
}

// userID extracts the caller id for rate limiting and request logs.  It
// returns "anon" when no user is authenticated.
func userID(c echo.Context) string {
	if id, ok := c.Get(ctxUserID).(string); ok && id != "" {
		return id
	}
	return "anon"
}
