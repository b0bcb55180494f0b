package signal

import (
	"encoding/json"

	"github.com/teamspace/huddle/internal/authority"
	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/presence"
)

func (ctl *Controller) handleSetMute(sid presence.SessionID, c *wsConn, data []byte) {
	var req setMuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(c, "bad_payload", "malformed mute request", TypeSetMute)
		return
	}
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}

	snap, err := ctl.Rooms.Snapshot(req.RoomID)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeSetMute)
		return
	}
	target := snap.Participant(req.ParticipantID)
	if target == nil {
		ctl.sendError(c, errCode(domain.ErrParticipantNotFound), "no such participant", TypeSetMute)
		return
	}

	action := authority.ActionMuteOther
	if req.ParticipantID == sess.User.ID {
		action = authority.ActionMuteSelf
	}
	if err := authority.CanPerform(sess.User, action, req.ParticipantID, snap); err != nil {
		// The actor gets the rejection; everyone else stays silent. An
		// optimistic client rolls its local toggle back on this.
		ctl.sendError(c, errCode(err), err.Error(), TypeSetMute)
		return
	}

	// A self-toggle never changes the participant's own unmute grant;
	// only a host/admin supplies canUnmute explicitly.
	canUnmute := target.CanUnmute
	if action == authority.ActionMuteOther && req.CanUnmute != nil {
		canUnmute = *req.CanUnmute
	}

	if _, err := ctl.Rooms.SetParticipantMute(req.RoomID, req.ParticipantID, req.Muted, canUnmute, sess.User.ID); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeSetMute)
		return
	}
	ctl.broadcastRoom(req.RoomID, participantMutedEvent{
		Type:          TypeParticipantMuted,
		RoomID:        req.RoomID,
		ParticipantID: req.ParticipantID,
		Muted:         req.Muted,
		CanUnmute:     canUnmute,
		MutedBy:       sess.User.ID,
	})
}

func (ctl *Controller) handleMuteSweep(sid presence.SessionID, c *wsConn, roomID domain.RoomID, mute bool) {
	// Rejections carry the requested sweep direction so optimistic clients
	// roll back the right intent.
	eventType := TypeMuteAll
	if !mute {
		eventType = TypeUnmuteAll
	}

	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	snap, err := ctl.Rooms.Snapshot(roomID)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), eventType)
		return
	}
	if err := authority.CanPerform(sess.User, authority.ActionMuteAll, "", snap); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), eventType)
		return
	}

	var updated *domain.Room
	if mute {
		updated, err = ctl.Rooms.SweepMuteAll(roomID, sess.User.ID)
	} else {
		updated, err = ctl.Rooms.SweepUnmuteAll(roomID, sess.User.ID)
	}
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), eventType)
		return
	}

	// One room-wide event carrying the swept roster, not N per-participant
	// ones, so observers see the sweep atomically.
	ctl.broadcastRoom(roomID, muteSweepEvent{
		Type:   eventType,
		RoomID: roomID,
		By:     sess.User.ID,
		Room:   updated,
	})
}

func (ctl *Controller) handleUpdateSettings(sid presence.SessionID, c *wsConn, data []byte) {
	var req updateSettingsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(c, "bad_payload", "malformed settings request", TypeUpdateSettings)
		return
	}
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	snap, err := ctl.Rooms.Snapshot(req.RoomID)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeUpdateSettings)
		return
	}
	if err := authority.CanPerform(sess.User, authority.ActionSettings, "", snap); err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeUpdateSettings)
		return
	}

	updated, err := ctl.Rooms.UpdateSettings(req.RoomID, req.Settings)
	if err != nil {
		ctl.sendError(c, errCode(err), err.Error(), TypeUpdateSettings)
		return
	}
	ctl.broadcastRoom(req.RoomID, settingsUpdatedEvent{
		Type:      TypeSettingsUpdated,
		RoomID:    req.RoomID,
		Settings:  updated.Settings,
		UpdatedBy: sess.User.ID,
	})
}
