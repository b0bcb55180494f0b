package signal

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/presence"
)

// handleRelay forwards an offer/answer/ice-candidate envelope verbatim to
// exactly one named participant. A missing or disconnected target means
// the message was racing a disconnect: log and swallow, never crash the
// room — the offering peer's link simply times out.
//
// Ordering: each client's messages are read by one goroutine and each
// destination has one ordered send queue, so candidates within a
// (from, to) pair are delivered in emission order without extra queues.
func (ctl *Controller) handleRelay(sid presence.SessionID, data []byte) {
	var msg RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad relay payload")
		return
	}

	sess, ok := ctl.Registry.Get(sid)
	if !ok || sess.RoomID != msg.RoomID {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).
			Str("room", string(msg.RoomID)).Msg("relay from outside the room")
		return
	}

	target, err := ctl.relayTarget(msg.RoomID, msg.To)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(msg.RoomID)).
			Str("type", msg.Type).Msg("relay dropped")
		return
	}

	msg.From = sess.User.ID
	ctl.sendJSON(target.Conn, msg)
}

func (ctl *Controller) relayTarget(roomID domain.RoomID, to domain.UserID) (presence.Session, error) {
	target, ok := ctl.Registry.ByUser(roomID, to)
	if !ok {
		return presence.Session{}, fmt.Errorf("%w: %s", domain.ErrTargetNotConnected, to)
	}
	return target, nil
}
