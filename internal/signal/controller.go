// Package signal is the websocket adapter: it upgrades connections, binds
// them to the presence registry, dispatches the meeting control protocol,
// relays WebRTC envelopes and fans room events out to subscribers.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/presence"
	"github.com/teamspace/huddle/internal/room"
)

const writeWait = 5 * time.Second

type Controller struct {
	Registry *presence.Registry
	Rooms    *room.Store

	sendBuffer int
	readLimit  int64
}

func NewController(reg *presence.Registry, rooms *room.Store, sendBuffer int, readLimit int64) *Controller {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Controller{Registry: reg, Rooms: rooms, sendBuffer: sendBuffer, readLimit: readLimit}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the session pumps. Identity comes
// from the auth middleware; the core trusts it for the connection lifetime.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	v, ok := c.Get("user")
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	user := v.(*domain.User)
	sid := presence.SessionID(uuid.NewString())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := newWSConn(ws, ctl.sendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, user, conn, cancel)
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("user", string(user.ID)).Msg("new signaling connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid presence.SessionID, c *wsConn) {
	defer func() {
		ctl.onDisconnect(sid)
		c.Close()
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

// dispatch runs on the session's single reader goroutine, so messages from
// one client are handled strictly in arrival order.
func (ctl *Controller) dispatch(sid presence.SessionID, c *wsConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
		ctl.sendError(c, "bad_payload", "malformed message", "")
		return
	}

	switch env.Type {
	case TypeJoinMeeting:
		ctl.handleJoin(sid, c, env.RoomID)
	case TypeLeaveMeeting:
		ctl.handleLeave(sid, c)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		ctl.handleRelay(sid, data)
	case TypeSetMute:
		ctl.handleSetMute(sid, c, data)
	case TypeMuteAll:
		ctl.handleMuteSweep(sid, c, env.RoomID, true)
	case TypeUnmuteAll:
		ctl.handleMuteSweep(sid, c, env.RoomID, false)
	case TypeUpdateSettings:
		ctl.handleUpdateSettings(sid, c, data)
	case TypeKick:
		ctl.handleKick(sid, c, data)
	case TypeEndMeeting:
		ctl.handleEnd(sid, c, env.RoomID)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message type")
	}
}

// onDisconnect handles a socket drop: the participant record is kept for
// the reconnect grace window, but the roster change is announced so peers
// tear down their media link.
func (ctl *Controller) onDisconnect(sid presence.SessionID) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		return
	}
	if sess.RoomID != "" {
		if _, err := ctl.Rooms.RemoveParticipant(sess.RoomID, sess.User.ID, room.ReasonDisconnected); err == nil {
			ctl.broadcastRoom(sess.RoomID, participantLeftEvent{
				Type:          TypeParticipantLeft,
				RoomID:        sess.RoomID,
				ParticipantID: sess.User.ID,
			})
		}
	}
	ctl.Registry.Unbind(sid)
}

func (ctl *Controller) sendError(c presence.Conn, code, msg, action string) {
	ctl.sendJSON(c, errorEvent{Type: TypeError, Code: code, Message: msg, Action: action})
}

// errCode maps the domain taxonomy onto wire error codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotAllowed):
		return "authorization"
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrTargetNotConnected):
		return "not_found"
	case errors.Is(err, domain.ErrMeetingEnded), errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrRoomFull):
		return "invalid_state"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
