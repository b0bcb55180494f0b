package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/authority"
	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/presence"
	"github.com/teamspace/huddle/internal/room"
)

func (ctl *Controller) handleJoin(sid presence.SessionID, c *wsConn, roomID domain.RoomID) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	if sess.RoomID != "" && sess.RoomID != roomID {
		// One meeting per socket; leave the old one first.
		ctl.handleLeave(sid, c)
	}

	snap, err := ctl.Rooms.AddParticipant(roomID, sess.User)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).
			Str("room", string(roomID)).Msg("join rejected")
		ctl.sendError(c, errCode(err), err.Error(), TypeJoinMeeting)
		return
	}
	ctl.Registry.SetRoom(sid, roomID)

	ctl.sendJSON(c, roomStateEvent{Type: TypeRoomState, Room: snap})
	ctl.broadcastExcept(roomID, sess.User.ID, participantJoinedEvent{
		Type:        TypeParticipantJoined,
		RoomID:      roomID,
		Participant: snap.Participant(sess.User.ID),
	})
}

func (ctl *Controller) handleLeave(sid presence.SessionID, c *wsConn) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok || sess.RoomID == "" {
		return
	}
	roomID := sess.RoomID
	ctl.Registry.SetRoom(sid, "")

	if _, err := ctl.Rooms.RemoveParticipant(roomID, sess.User.ID, room.ReasonLeft); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("leave")
		return
	}
	ctl.broadcastRoom(roomID, participantLeftEvent{
		Type:          TypeParticipantLeft,
		RoomID:        roomID,
		ParticipantID: sess.User.ID,
	})
}

func (ctl *Controller) handleKick(sid presence.SessionID, c *wsConn, data []byte) {
	var req kickRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(c, "bad_payload", "malformed kick request", TypeKick)
		return
	}
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}

	snap, err := ctl.Rooms.Snapshot(req.RoomID)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeKick)
		return
	}
	if err := authority.CanPerform(sess.User, authority.ActionKick, req.ParticipantID, snap); err != nil {
		// Rejections go to the actor only; the target never learns.
		ctl.sendError(c, errCode(err), err.Error(), TypeKick)
		return
	}

	if _, err := ctl.Rooms.RemoveParticipant(req.RoomID, req.ParticipantID, room.ReasonKicked); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeKick)
		return
	}

	// The kicked participant gets its own event; everyone else sees a
	// roster update flagged as a kick.
	if target, ok := ctl.Registry.ByUser(req.RoomID, req.ParticipantID); ok {
		ctl.sendJSON(target.Conn, participantKickedEvent{
			Type:   TypeParticipantKicked,
			RoomID: req.RoomID,
			By:     sess.User.ID,
		})
		ctl.Registry.SetRoom(target.SID, "")
	}
	ctl.broadcastRoom(req.RoomID, participantLeftEvent{
		Type:          TypeParticipantLeft,
		RoomID:        req.RoomID,
		ParticipantID: req.ParticipantID,
		WasKicked:     true,
	})
}

func (ctl *Controller) handleEnd(sid presence.SessionID, c *wsConn, roomID domain.RoomID) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	snap, err := ctl.Rooms.Snapshot(roomID)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeEndMeeting)
		return
	}
	if err := authority.CanPerform(sess.User, authority.ActionEnd, "", snap); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeEndMeeting)
		return
	}

	if _, err := ctl.Rooms.EndRoom(roomID, sess.User.ID); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeEndMeeting)
		return
	}
	ctl.NotifyRoomEnded(roomID, sess.User.ID)
}

// NotifyRoomEnded broadcasts meetingEnded and unsubscribes every member.
// Also used as the store's EndNotifier for janitor-driven ends.
func (ctl *Controller) NotifyRoomEnded(roomID domain.RoomID, endedBy domain.UserID) {
	ctl.broadcastRoom(roomID, meetingEndedEvent{
		Type:    TypeMeetingEnded,
		RoomID:  roomID,
		EndedBy: endedBy,
	})
	for _, sess := range ctl.Registry.MembersOf(roomID) {
		ctl.Registry.SetRoom(sess.SID, "")
	}
}

// OnRoomEnded adapts NotifyRoomEnded to the store's EndNotifier signature.
func (ctl *Controller) OnRoomEnded(r *domain.Room, endedBy domain.UserID) {
	ctl.NotifyRoomEnded(r.ID, endedBy)
}
