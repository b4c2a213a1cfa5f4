package router

import (
	"github.com/labstack/echo/v4"

	"github.com/redsquare/screen-booking/internal/handler"
	"github.com/redsquare/screen-booking/internal/middleware"
)

// RegisterAvailability registers the public slot endpoints. cache and limit
// wrap only these routes; the booking writes below invalidate the cache.
func RegisterAvailability(e *echo.Echo, a *handler.AvailabilityHandler, cache, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/screens/:id/availability", limit)
	g.GET("", a.GetAvailability, cache)
	g.POST("/check", a.Check)
}

// RegisterBooking registers booking writes. Advertisers create bookings;
// advertisers and screen owners confirm or cancel them.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.POST("/screens/:id/bookings", b.Create, middleware.RequireRole(handler.RoleAdvertiser))
	g.POST("/bookings/:id/confirm", b.Confirm, middleware.RequireRole(handler.RoleAdvertiser, handler.RoleOwner))
	g.POST("/bookings/:id/cancel", b.Cancel, middleware.RequireRole(handler.RoleAdvertiser, handler.RoleOwner))
}
