package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/presence"
)

// sendJSON marshals and enqueues; a full send buffer drops the frame for
// that socket only. Delivery is at-most-once per connected socket, no
// queuing or replay — reconnecting clients re-fetch the room snapshot.
func (ctl *Controller) sendJSON(c presence.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}

// broadcastRoom fans v out to every socket subscribed to roomID.
func (ctl *Controller) broadcastRoom(roomID domain.RoomID, v any) {
	for _, sess := range ctl.Registry.MembersOf(roomID) {
		ctl.sendJSON(sess.Conn, v)
	}
}

// broadcastExcept fans v out to the room, skipping one user (typically the
// originator or a kicked participant who receives a distinct event).
func (ctl *Controller) broadcastExcept(roomID domain.RoomID, skip domain.UserID, v any) {
	for _, sess := range ctl.Registry.MembersOf(roomID) {
		if sess.User.ID == skip {
			continue
		}
		ctl.sendJSON(sess.Conn, v)
	}
}
