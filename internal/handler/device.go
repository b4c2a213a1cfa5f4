package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/utils"
)

// DeviceHandler pairs players with screens and records their heartbeats.
type DeviceHandler struct {
	Screens *repository.ScreenRepo
	// Devices stores pairing codes, paired devices and their last heartbeat.
	Devices *repository.DeviceRepo
	// Secret signs the device tokens. It is the same key JWTAuth verifies.
	Secret string
	// TokenTTL is the lifetime of a device token issued at pairing.
	TokenTTL time.Duration
	// CodeTTL is how long a pairing code can be redeemed.
	CodeTTL time.Duration
	// BcryptCost is the work factor for hashing pairing codes.
	BcryptCost int
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewDeviceHandler(screens *repository.ScreenRepo, devices *repository.DeviceRepo, secret string,
	tokenTTL, codeTTL time.Duration, bcryptCost int, logger *zap.Logger) *DeviceHandler {
	if screens == nil || devices == nil || secret == "" {
		panic("nil dependency passed to NewDeviceHandler")
	}
	return &DeviceHandler{
		Screens: screens, Devices: devices, Secret: secret,
		TokenTTL: tokenTTL, CodeTTL: codeTTL, BcryptCost: bcryptCost,
		Logger: logger, Now: time.Now,
	}
}

// CreatePairing handles POST /v1/screens/:id/pairings. It returns a fresh
// six digit code the owner types into the player. Only its hash is kept.
func (h *DeviceHandler) CreatePairing(c echo.Context) error {
	screenID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screen id"})
	}
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	owns, err := h.Screens.OwnedBy(ctx, screenID, userID)
	if errors.Is(err, repository.ErrScreenNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !owns {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	// The plain code is only ever in this response.
	code, err := utils.NewPairingCode()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not generate code"})
	}
	hash, err := utils.HashCode(code, h.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not generate code"})
	}
	exp := h.Now().UTC().Add(h.CodeTTL)
	if _, err := h.Devices.CreatePairing(ctx, screenID, hash, exp); err != nil {
		h.Logger.Error("store pairing", zap.Uint64("screen_id", screenID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"screen_id": screenID, "code": code, "expires_at": exp})
}

type pairRequest struct {
	ScreenID   uint64 `json:"screen_id"`
	Code       string `json:"code"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
}

// Pair handles POST /v1/devices/pair. A matching unexpired code is consumed,
// the device row is created or moved to this screen, and a device token is
// returned. Re-pairing an existing device id keeps the id.
func (h *DeviceHandler) Pair(c echo.Context) error {
	var body pairRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Code = strings.TrimSpace(body.Code)
	if body.ScreenID == 0 || len(body.Code) != utils.PairingCodeDigits {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "screen_id and a six digit code are required"})
	}
	if body.DeviceID == "" {
		body.DeviceID = uuid.NewString()
	} else if _, err := uuid.Parse(body.DeviceID); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "device_id must be a uuid"})
	}

	ctx := c.Request().Context()
	now := h.Now().UTC()
	tx, err := h.Devices.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	defer func() { _ = tx.Rollback() }()

	// Codes are stored as bcrypt hashes, so each unexpired code of the
	// screen is tried in turn. The rows stay locked until commit so one
	// code cannot pair two devices.
	pairings, err := h.Devices.ActivePairingsTx(ctx, tx, body.ScreenID, now)
	if err != nil {
		h.Logger.Error("load pairings", zap.Uint64("screen_id", body.ScreenID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	var match *model.Pairing
	for i := range pairings {
		if utils.VerifyCode(pairings[i].CodeHash, body.Code) {
			match = &pairings[i]
			break
		}
	}
	if match == nil {
		h.Logger.Info("pairing rejected", zap.Uint64("screen_id", body.ScreenID))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired pairing code"})
	}
	if err := h.Devices.MarkPairingUsedTx(ctx, tx, match.ID, now); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	// An existing device id moves to this screen. Heartbeats sent with its
	// old token carry the old screen_id and are refused.
	dev := &model.Device{
		DeviceID:   body.DeviceID,
		ScreenID:   body.ScreenID,
		Status:     "paired",
		AppVersion: body.AppVersion,
		PairedAt:   now,
		LastSeenAt: now,
	}
	if err := h.Devices.UpsertDeviceTx(ctx, tx, dev); err != nil {
		h.Logger.Error("upsert device", zap.String("device_id", dev.DeviceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	tok, err := utils.NewDeviceToken(h.Secret, dev.DeviceID, dev.ScreenID, h.TokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not issue token"})
	}
	h.Logger.Info("device paired", zap.String("device_id", dev.DeviceID), zap.Uint64("screen_id", dev.ScreenID))
	return c.JSON(http.StatusOK, echo.Map{
		"device_id":  dev.DeviceID,
		"screen_id":  dev.ScreenID,
		"token":      tok.Token,
		"expires_at": tok.Exp,
	})
}

// Heartbeat handles POST /v1/devices/heartbeat {status, app_version} for a
// paired player.
func (h *DeviceHandler) Heartbeat(c echo.Context) error {
	screenID, deviceID, ok := deviceScreen(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "device token required"})
	}
	var body struct {
		Status     string `json:"status"`
		AppVersion string `json:"app_version"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Status == "" {
		body.Status = "online"
	}
	// Touch matches on both ids, so a token for a screen the device has
	// since left is refused.
	err := h.Devices.Touch(c.Request().Context(), deviceID, screenID, body.Status, body.AppVersion, h.Now())
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "device not paired"})
	}
	if err != nil {
		h.Logger.Error("record heartbeat", zap.String("device_id", deviceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.NoContent(http.StatusNoContent)
}
