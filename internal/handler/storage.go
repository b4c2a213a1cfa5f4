package handler

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/storage"
	"github.com/redsquare/screen-booking/internal/utils"
)

// StorageHandler issues signed object URLs and serves the objects.
type StorageHandler struct {
	// Signer mints and checks the per-object tokens.
	Signer *storage.Signer
	// Store maps bucket/object pairs onto files below the media root.
	Store *storage.Store
	// Contents limits what a player may sign to its own schedule.
	Contents *repository.ContentRepo
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewStorageHandler(signer *storage.Signer, store *storage.Store, contents *repository.ContentRepo, logger *zap.Logger) *StorageHandler {
	if signer == nil || store == nil || contents == nil {
		panic("nil dependency passed to NewStorageHandler")
	}
	return &StorageHandler{Signer: signer, Store: store, Contents: contents, Logger: logger, Now: time.Now}
}

// Sign handles POST /v1/storage/sign {bucket, path, expires_in}. expires_in
// is in seconds; zero means the one hour default.
//
// Owners and advertisers may sign any object, since they upload the media
// they later schedule. A player may only sign objects referenced by the
// schedule of the screen it is paired with.
func (h *StorageHandler) Sign(c echo.Context) error {
	var body struct {
		Bucket    string `json:"bucket"`
		Path      string `json:"path"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ExpiresIn < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "expires_in must not be negative"})
	}
	if getRole(c) == utils.RoleScreen {
		screenID, _, ok := deviceScreen(c)
		if !ok {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "device is not paired with a screen"})
		}
		scheduled, err := h.scheduled(c, screenID, body.Bucket, strings.TrimPrefix(body.Path, "/"))
		if err != nil {
			h.Logger.Error("list schedule for signing", zap.Uint64("screen_id", screenID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		if !scheduled {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "object is not on this screen's schedule"})
		}
	}

	u, exp, err := h.Signer.SignedURL(body.Bucket, body.Path, time.Duration(body.ExpiresIn)*time.Second)
	if errors.Is(err, storage.ErrInvalidObject) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid bucket or path"})
	}
	if err != nil {
		h.Logger.Error("sign object url", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not sign url"})
	}
	return c.JSON(http.StatusOK, echo.Map{"signed_url": u, "expires_at": exp})
}

// scheduled reports whether bucket/object is the target of an item in the
// schedule window content-sync would return for screenID.
func (h *StorageHandler) scheduled(c echo.Context, screenID uint64, bucket, object string) (bool, error) {
	items, err := h.Contents.ListForScreen(c.Request().Context(), screenID, h.Now().UTC().Add(-scheduleLookback))
	if err != nil {
		return false, err
	}
	for _, it := range items {
		b, o, err := storage.ParseObjectRef(it.URL)
		if err == nil && b == bucket && o == object {
			return true, nil
		}
	}
	return false, nil
}

// Serve handles GET /v1/objects/:bucket/*?token=.
//
// The token alone authorizes the read, so players can hand the URL straight
// to a media element. Missing tokens are 401, tokens for another object or
// past their expiry are 403.
func (h *StorageHandler) Serve(c echo.Context) error {
	bucket := c.Param("bucket")
	object := strings.TrimPrefix(c.Param("*"), "/")
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
	}
	if err := h.Signer.Verify(token, bucket, object); err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid or expired token"})
	}
	fi, err := h.Store.Stat(bucket, object)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidObject) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "object not found"})
		}
		h.Logger.Error("stat object", zap.String("bucket", bucket), zap.String("object", object), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage error"})
	}
	p, _ := h.Store.Path(bucket, object)
	f, err := os.Open(p)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "object not found"})
	}
	defer f.Close()
	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(c.Response(), c.Request(), fi.Name(), fi.ModTime(), f)
	return nil
}
