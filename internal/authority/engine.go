// Package authority answers "may actor X perform action Y on target Z in
// room R". It is stateless and side-effect free: decisions must be
// re-evaluated on every call because a single settings flip can change the
// answer for many participants at once.
package authority

import (
	"fmt"

	"github.com/teamspace/huddle/internal/domain"
)

type Action string

const (
	// ActionMuteSelf is a self-targeted mute toggle.
	ActionMuteSelf Action = "mute-self"
	// ActionMuteOther mutes or unmutes another participant without consent.
	ActionMuteOther Action = "mute-other"
	ActionKick      Action = "kick"
	ActionMuteAll   Action = "mute-all"
	ActionSettings  Action = "update-settings"
	ActionEnd       Action = "end-meeting"
	// ActionEditWhiteboard asks whether actor may draw on the shared board.
	ActionEditWhiteboard Action = "edit-whiteboard"
)

func denied(action Action, reason string) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrNotAllowed, action, reason)
}

// CanPerform returns nil when actor may perform action on target in room,
// or an error wrapping domain.ErrNotAllowed. Target is ignored for
// room-wide actions. Rules, in priority order: platform admin, room host,
// the self-unmute gate, host-only coercion, whiteboard access mode.
func CanPerform(actor *domain.User, action Action, targetID domain.UserID, room *domain.Room) error {
	if actor.IsAdmin() {
		return nil
	}

	isHost := room.HostID == actor.ID

	// The host may do anything except remove themselves through the kick
	// path; only an admin may kick a host.
	if isHost {
		if action == ActionKick && targetID == room.HostID {
			return denied(action, "host cannot be kicked")
		}
		return nil
	}

	switch action {
	case ActionMuteSelf:
		if targetID != actor.ID {
			return denied(action, "target is not self")
		}
		p := room.Participant(actor.ID)
		if p == nil {
			return denied(action, "not a participant")
		}
		// Muting yourself is always allowed; lifting your own mute needs
		// both your individual grant and the room-wide policy.
		if !p.IsMuted {
			return nil
		}
		if !p.CanUnmute {
			return denied(action, "unmute not permitted for this participant")
		}
		if !room.Settings.AllowAllToSpeak {
			return denied(action, "room does not allow members to speak")
		}
		return nil

	case ActionKick:
		return denied(action, "only the host may remove participants")

	case ActionMuteOther, ActionMuteAll, ActionSettings, ActionEnd:
		return denied(action, "host authority required")

	case ActionEditWhiteboard:
		return canEditWhiteboard(actor, false, room)

	default:
		return denied(action, "unknown action")
	}
}

func canEditWhiteboard(actor *domain.User, isHost bool, room *domain.Room) error {
	switch room.Settings.WhiteboardAccess {
	case domain.WhiteboardAll:
		return nil
	case domain.WhiteboardHostOnly:
		if isHost {
			return nil
		}
		return denied(ActionEditWhiteboard, "whiteboard is host-only")
	case domain.WhiteboardSpecific:
		if isHost || room.Settings.WhiteboardAllows(actor.ID) {
			return nil
		}
		return denied(ActionEditWhiteboard, "not on the whiteboard allow list")
	case domain.WhiteboardDisabled:
		return denied(ActionEditWhiteboard, "whiteboard is disabled")
	default:
		return denied(ActionEditWhiteboard, "unknown whiteboard access mode")
	}
}
