package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type roomHandlers struct {
	deps Deps
}

// createRoomRequest is the body accepted by POST /rooms.
type createRoomRequest struct {
	Name            string `json:"name"`
	Visibility      string `json:"visibility"`
	Password        string `json:"password,omitempty"`
	Capacity        int    `json:"capacity,omitempty"`
	DefaultLanguage string `json:"defaultLanguage,omitempty"`
}

// createRoomResponse is the body returned by POST /rooms.
type createRoomResponse struct {
	RoomKey    string `json:"roomKey"`
	JoinCode   string `json:"joinCode"`
	Capacity   int    `json:"capacity"`
	Visibility string `json:"visibility"`
	OwnerRef   string `json:"ownerRef"`
}

func newRoomKey() string { return strings.ReplaceAll(uuid.New().String(), "-", "")[:8] }

// createRoom provisions a new Room row. Any caller may create a room,
// authenticated or guest; ownerRef records whichever principal did, and
// creating a room requires no prior membership.
func (h *roomHandlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	principal, err := h.deps.Admission.Resolve(c.Request.Context(), admission.Credentials{
		Token: bearerToken(c),
	})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	visibility := docstore.VisibilityPublic
	if req.Visibility == string(docstore.VisibilityPrivate) {
		visibility = docstore.VisibilityPrivate
	}

	capacity := req.Capacity
	if capacity < 1 || capacity > 50 {
		capacity = h.deps.CapacityDefault
	}

	language := req.DefaultLanguage
	if language == "" {
		language = "plaintext"
	}

	var passwordHash string
	if visibility == docstore.VisibilityPrivate && req.Password != "" {
		passwordHash, err = admission.HashPassword(req.Password)
		if err != nil {
			logging.Error(c.Request.Context(), "hash room password failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	room := &docstore.Room{
		RoomKey:         newRoomKey(),
		JoinCode:        uuid.New().String(),
		Name:            req.Name,
		OwnerRef:        principal.ID,
		Visibility:      visibility,
		PasswordHash:    passwordHash,
		Capacity:        capacity,
		DefaultLanguage: language,
		FallbackText:    "",
	}
	if err := h.deps.Store.CreateRoom(room); err != nil {
		logging.Error(c.Request.Context(), "create room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := h.deps.Store.UpsertMember(room.RoomKey, principal.ID, docstore.RoleOwner, time.Now()); err != nil {
		logging.Error(c.Request.Context(), "upsert owner member failed", zap.Error(err))
	}

	c.JSON(http.StatusCreated, createRoomResponse{
		RoomKey:    room.RoomKey,
		JoinCode:   room.JoinCode,
		Capacity:   room.Capacity,
		Visibility: string(room.Visibility),
		OwnerRef:   room.OwnerRef,
	})
}

// deleteRoom purges a room's persisted state and terminates any live
// RoomActor for it. Owner-only.
func (h *roomHandlers) deleteRoom(c *gin.Context) {
	roomKey := c.Param("roomKey")
	ctx := c.Request.Context()

	principal, err := h.deps.Admission.Resolve(ctx, admission.Credentials{Token: bearerToken(c)})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	allowed, err := h.deps.Admission.AuthorizeAction(ctx, roomKey, principal, admission.ActionDeleteRoom)
	if err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		logging.Error(ctx, "authorize delete room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.deps.Store.PurgeRoom(roomKey); err != nil {
		logging.Error(ctx, "purge room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.deps.Registry.Evict(roomKey)

	c.Status(http.StatusNoContent)
}

// rotateJoinCode assigns a fresh capability token to a room, owner-only.
// The old join code stops resolving as soon as the rotation commits.
func (h *roomHandlers) rotateJoinCode(c *gin.Context) {
	roomKey := c.Param("roomKey")
	ctx := c.Request.Context()

	principal, err := h.deps.Admission.Resolve(ctx, admission.Credentials{Token: bearerToken(c)})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	newCode, err := h.deps.Admission.RotateJoinCode(ctx, roomKey, principal)
	if err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"joinCode": newCode})
}

// banMemberRequest is the body accepted by POST /rooms/:roomKey/members/:principalId/ban.
type banMemberRequest struct {
	Banned *bool `json:"banned"`
}

// banMember flips a member's banned flag, owner-only. A banned principal's
// next join attempt resolves to the Banned outcome regardless of password
// or capacity.
func (h *roomHandlers) banMember(c *gin.Context) {
	roomKey := c.Param("roomKey")
	target := c.Param("principalId")
	ctx := c.Request.Context()

	var req banMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Banned == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	principal, err := h.deps.Admission.Resolve(ctx, admission.Credentials{Token: bearerToken(c)})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	if err := h.deps.Admission.BanMember(ctx, roomKey, principal, target, *req.Banned); err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	}

	c.Status(http.StatusNoContent)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
