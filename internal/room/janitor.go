package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
)

// RunJanitor drives the store's time-based transitions until ctx is done:
// scheduled rooms activate at their start time, disconnected participants
// are pruned past the reconnect grace, empty active rooms end past the
// empty grace, and ended rooms are dropped from the table once drained.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepExpired()
		}
	}
}

// SweepExpired runs one janitor pass. Split out so tests can drive the
// clock without a ticker.
func (s *Store) SweepExpired() {
	now := s.opts.Now()

	s.mu.RLock()
	entries := make(map[domain.RoomID]*entry, len(s.rooms))
	for id, e := range s.rooms {
		entries[id] = e
	}
	s.mu.RUnlock()

	var (
		ended   []*domain.Room
		deleted []domain.RoomID
	)

	for id, e := range entries {
		e.mu.Lock()
		r := e.room

		if r.Status == domain.StatusScheduled && r.ScheduledStart != nil && !now.Before(*r.ScheduledStart) {
			s.activateLocked(e)
		}

		if r.Status == domain.StatusActive {
			var stale []*domain.Participant
			for _, p := range r.Participants {
				if !p.IsConnected && now.Sub(p.DisconnectedAt) > s.opts.ReconnectGrace {
					cp := *p
					stale = append(stale, &cp)
				}
			}
			for _, p := range stale {
				r.Participants = deleteParticipant(r.Participants, p.UserID)
				e.departed = append(e.departed, p)
				log.Info().Str("module", "room").Str("room", string(id)).
					Str("user", string(p.UserID)).Msg("stale participant pruned")
			}
			if len(stale) > 0 && r.Participant(r.HostID) == nil {
				s.transferHostLocked(r, r.HostID)
			}
			if r.ConnectedCount() == 0 && !e.emptySince.IsZero() && now.Sub(e.emptySince) > s.opts.EmptyGrace {
				ended = append(ended, s.endLocked(e, ""))
			}
		}

		if r.Status == domain.StatusEnded && now.Sub(r.EndedAt) > s.opts.EmptyGrace {
			deleted = append(deleted, id)
		}
		e.mu.Unlock()
	}

	if len(deleted) > 0 {
		s.mu.Lock()
		for _, id := range deleted {
			delete(s.rooms, id)
		}
		s.mu.Unlock()
		log.Info().Str("module", "room").Int("count", len(deleted)).Msg("drained rooms removed")
	}

	if s.opts.OnEnded != nil {
		for _, r := range ended {
			s.opts.OnEnded(r, "")
		}
	}
}
