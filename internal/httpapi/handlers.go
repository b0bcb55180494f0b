package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamspace/huddle/internal/authority"
	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/room"
)

type roomHandlers struct {
	rooms *room.Store
}

func currentUser(c *gin.Context) *domain.User {
	v, _ := c.Get("user")
	return v.(*domain.User)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMeetingEnded), errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type createRoomRequest struct {
	ProjectID      string     `json:"projectId" binding:"required"`
	Title          string     `json:"title" binding:"required,max=120"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
}

// createRoom schedules or immediately starts a meeting. Project membership
// is the REST layer's concern upstream; here the token role gates hosting.
func (h *roomHandlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := currentUser(c)

	r, err := h.rooms.CreateRoom(domain.ProjectID(req.ProjectID), user, req.Title, req.ScheduledStart)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *roomHandlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.List()})
}

// getRoom is the snapshot re-fetch path for joining and reconnecting
// clients; missed broadcasts are recovered here, never replayed.
func (h *roomHandlers) getRoom(c *gin.Context) {
	r, err := h.rooms.Snapshot(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// whiteboardAccess answers the single question the whiteboard sync
// protocol asks this core: may this user edit right now.
func (h *roomHandlers) whiteboardAccess(c *gin.Context) {
	user := currentUser(c)
	r, err := h.rooms.Snapshot(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	canEdit := authority.CanPerform(user, authority.ActionEditWhiteboard, user.ID, r) == nil
	c.JSON(http.StatusOK, gin.H{"roomId": r.ID, "canEdit": canEdit})
}
