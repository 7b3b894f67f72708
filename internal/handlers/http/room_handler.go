package http

import (
	"errors"
	"net/http"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	apperrors "meshpad/pkg/errors"
	"meshpad/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the admin view over live rooms. All routes are
// expected to sit behind the auth and role middlewares.
type RoomHandler struct {
	rooms ports.RoomService
}

var _ ports.HTTPHandler = (*RoomHandler)(nil)

func NewRoomHandler(rooms ports.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list rooms"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), domain.SessionID(id))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.Error(apperrors.NewNotFoundError("room"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to load room"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), domain.SessionID(id)); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.Error(apperrors.NewNotFoundError("room"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to delete room"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "deleted",
	})
}
