// Package utils provides helpers for issuing and reading JWTs and for
// pairing codes.
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleScreen is the role carried by device tokens.
const RoleScreen = "SCREEN"

var ErrInvalidToken = errors.New("invalid token")

// DeviceToken is a signed JWT identifying a paired player and its expiry.
type DeviceToken struct {
	Token string
	Exp   time.Time
}

// DeviceClaims are the claims of a device token. The subject is the device
// id.
type DeviceClaims struct {
	Role     string `json:"role"`
	ScreenID uint64 `json:"screen_id"`
	jwt.RegisteredClaims
}

// NewDeviceToken signs an HS256 token for deviceID bound to screenID.
func NewDeviceToken(secret, deviceID string, screenID uint64, ttl time.Duration) (DeviceToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := DeviceClaims{
		Role:     RoleScreen,
		ScreenID: screenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return DeviceToken{}, fmt.Errorf("sign device token: %w", err)
	}
	return DeviceToken{Token: signed, Exp: exp}, nil
}

// ParseToken verifies an HS256 token signed with secret and returns its
// claims.
func ParseToken(secret, raw string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
