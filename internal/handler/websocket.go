package handler

import (
	"errors"
	"net/http"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/websocket"
)

var upgrader = gws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// players are not browsers; the device token is the credential
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PushHandler upgrades player connections onto the screen hub.
type PushHandler struct {
	Hub     *websocket.Hub
	Devices *repository.DeviceRepo
	Logger  *zap.Logger
}

func NewPushHandler(hub *websocket.Hub, devices *repository.DeviceRepo, logger *zap.Logger) *PushHandler {
	if hub == nil || devices == nil {
		panic("nil dependency passed to NewPushHandler")
	}
	return &PushHandler{Hub: hub, Devices: devices, Logger: logger}
}

// Connect handles GET /v1/screens/:id/ws for the device paired with that
// screen. Device tokens outlive re-pairing, so the device row must still
// point at the screen. It blocks until the connection closes.
func (h *PushHandler) Connect(c echo.Context) error {
	screenID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screen id"})
	}
	sid, deviceID, ok := deviceScreen(c)
	if !ok || sid != screenID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "device is not paired with this screen"})
	}
	dev, err := h.Devices.Get(c.Request().Context(), deviceID)
	switch {
	case errors.Is(err, repository.ErrDeviceNotFound):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "device is not paired with this screen"})
	case err != nil:
		h.Logger.Error("load device", zap.String("device_id", deviceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	case dev.ScreenID != screenID:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "device was paired with another screen"})
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", zap.Uint64("screen_id", screenID), zap.Error(err))
		return nil
	}
	h.Hub.Serve(conn, screenID, deviceID)
	return nil
}
