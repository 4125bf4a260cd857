package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/common"
	"github.com/parlorhq/parlor/internal/logger"
)

const imageContentType = "image/jpeg"

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, http.StatusOK, gin.H{"message": "pong"})
}

// GetImage serves a stored image asset by id, going through the redis
// byte cache when one is configured.
func (h *Handler) GetImage(c *gin.Context) {
	id := c.Param("id")

	if h.Redis != nil {
		data, err := h.Redis.CachedImage(c.Request.Context(), id)
		if err != nil {
			logger.L.Warn("image cache read", "asset_id", id, "error", err)
		}
		if len(data) > 0 {
			c.Data(http.StatusOK, imageContentType, data)
			return
		}
	}

	asset, err := h.Store.GetImageAsset(c.Request.Context(), id)
	switch err {
	case nil:
	case chat.ErrNotFound:
		common.Fail(c, http.StatusNotFound, 40401, "image not found")
		return
	default:
		logger.L.Error("load image asset", "asset_id", id, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "storage failure")
		return
	}

	if h.Redis != nil {
		if err := h.Redis.CacheImage(c.Request.Context(), id, asset.Bytes); err != nil {
			logger.L.Warn("image cache write", "asset_id", id, "error", err)
		}
	}

	c.Data(http.StatusOK, imageContentType, asset.Bytes)
}
