package router

import (
	"github.com/labstack/echo/v4"

	"github.com/redsquare/screen-booking/internal/handler"
	"github.com/redsquare/screen-booking/internal/middleware"
	"github.com/redsquare/screen-booking/internal/utils"
)

// ScreenHandlers groups the handlers serving players and screen owners.
type ScreenHandlers struct {
	Content *handler.ContentHandler
	Storage *handler.StorageHandler
	Device  *handler.DeviceHandler
	Push    *handler.PushHandler
}

// RegisterScreen registers content sync, schedule writes, signed storage,
// pairing, heartbeat and the push channel.
func RegisterScreen(e *echo.Echo, h ScreenHandlers, jwtSecret string, limit echo.MiddlewareFunc) {
	// pairing and object downloads authenticate with the code or the signed URL
	e.POST("/v1/devices/pair", h.Device.Pair, limit)
	e.GET("/v1/objects/:bucket/*", h.Storage.Serve)

	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.POST("/content-sync", h.Content.Sync, limit, middleware.RequireRole(utils.RoleScreen, handler.RoleOwner))
	g.POST("/screens/:id/schedule", h.Content.AddItem, middleware.RequireRole(handler.RoleOwner, handler.RoleAdvertiser))
	g.POST("/storage/sign", h.Storage.Sign, middleware.RequireRole(utils.RoleScreen, handler.RoleOwner, handler.RoleAdvertiser))
	g.POST("/screens/:id/pairings", h.Device.CreatePairing, middleware.RequireRole(handler.RoleOwner))
	g.POST("/devices/heartbeat", h.Device.Heartbeat, middleware.RequireRole(utils.RoleScreen))
	g.GET("/screens/:id/ws", h.Push.Connect, middleware.RequireRole(utils.RoleScreen))
}
