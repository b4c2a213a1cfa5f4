// Package middleware contains the echo middleware shared by the API routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/redsquare/screen-booking/internal/utils"
)

// Context keys set by JWTAuth.
const (
	CtxUserID   = "user_id"
	CtxRole     = "role"
	CtxScreenID = "screen_id"
	CtxDeviceID = "device_id"
)

// JWTAuth validates a Bearer token signed with secret and stores its claims
// in the context. User tokens come from the identity service and carry sub
// and role. Device tokens (role SCREEN) additionally carry screen_id, and
// their subject is the device id.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			role, _ := claims["role"].(string)
			c.Set(CtxRole, role)
			if role == utils.RoleScreen {
				sid, ok := claims["screen_id"].(float64)
				dev, _ := claims["sub"].(string)
				if !ok || sid <= 0 || dev == "" {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid device token"})
				}
				c.Set(CtxScreenID, uint64(sid))
				c.Set(CtxDeviceID, dev)
				return next(c)
			}
			c.Set(CtxUserID, claims["sub"])
			return next(c)
		}
	}
}
