package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/redsquare/screen-booking/internal/middleware"
)

// Roles carried by user tokens.
const (
	RoleOwner      = "OWNER"
	RoleAdvertiser = "ADVERTISER"
)

// getUserID extracts the user id stored by JWTAuth. Identity service tokens
// carry it as a number or a numeric string.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.CtxUserID).(type) {
	case uint64:
		return t, nil
	case float64:
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

func getRole(c echo.Context) string {
	r, _ := c.Get(middleware.CtxRole).(string)
	return r
}

// deviceScreen returns the screen a device token is bound to.
func deviceScreen(c echo.Context) (screenID uint64, deviceID string, ok bool) {
	screenID, ok = c.Get(middleware.CtxScreenID).(uint64)
	deviceID, _ = c.Get(middleware.CtxDeviceID).(string)
	return screenID, deviceID, ok && deviceID != ""
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
