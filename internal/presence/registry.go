// Package presence binds connection identities to users and tracks which
// room each live socket is subscribed to, independent of room state.
package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
)

// SessionID identifies one socket connection.
type SessionID string

// Conn is the transport endpoint for one session. Owned by the signal
// adapter; the adapter must Close() it.
type Conn interface {
	TrySend([]byte) error
	Close()
}

type sessionEntry struct {
	user   *domain.User
	roomID domain.RoomID
	conn   Conn
	cancel context.CancelFunc
}

// Session is a read-only snapshot of one bound connection.
type Session struct {
	SID    SessionID
	User   *domain.User
	RoomID domain.RoomID
	Conn   Conn
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*sessionEntry)}
}

// Bind registers a fresh connection with its asserted identity.
func (r *Registry) Bind(sid SessionID, user *domain.User, conn Conn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{user: user, conn: conn, cancel: cancel}
	log.Info().Str("module", "presence").Str("sid", string(sid)).
		Str("user", string(user.ID)).Msg("session bound")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "presence").Str("sid", string(sid)).Msg("session unbound")
}

func (r *Registry) Get(sid SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return Session{SID: sid, User: e.user, RoomID: e.roomID, Conn: e.conn}, true
}

// SetRoom records which room the session is subscribed to; an empty id
// clears the subscription.
func (r *Registry) SetRoom(sid SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.roomID = roomID
	return true
}

// MembersOf returns every session currently subscribed to roomID.
func (r *Registry) MembersOf(roomID domain.RoomID) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.roomID == roomID {
			out = append(out, Session{SID: sid, User: e.user, RoomID: e.roomID, Conn: e.conn})
		}
	}
	return out
}

// ByUser finds the live connection of one user inside a room; this is the
// relay's target lookup.
func (r *Registry) ByUser(roomID domain.RoomID, uid domain.UserID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, e := range r.sessions {
		if e.roomID == roomID && e.user.ID == uid {
			return Session{SID: sid, User: e.user, RoomID: e.roomID, Conn: e.conn}, true
		}
	}
	return Session{}, false
}

// Cancel fires the session's cancel func, tearing down its pumps.
func (r *Registry) Cancel(sid SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "presence").Str("sid", string(sid)).Msg("session canceled")
	return true
}
