// Package history persists finalized meeting summaries. Writes are
// fire-and-forget from the signaling core: a failed insert is logged and
// never rolls back the in-memory end of a meeting.
package history

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teamspace/huddle/internal/domain"
)

type MeetingSummary struct {
	RoomID          string    `gorm:"primaryKey" json:"roomId"`
	ProjectID       string    `gorm:"index" json:"projectId"`
	Title           string    `json:"title"`
	HostID          string    `json:"hostId"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int64     `json:"durationSeconds"`
	EndedBy         string    `json:"endedBy"`

	Participants []ParticipantRecord `gorm:"foreignKey:RoomID;references:RoomID" json:"participants"`
}

func (MeetingSummary) TableName() string { return "meeting_summaries" }

type ParticipantRecord struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID   string    `gorm:"index" json:"roomId"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	WasHost  bool      `json:"wasHost"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (ParticipantRecord) TableName() string { return "meeting_participants" }

type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&MeetingSummary{}, &ParticipantRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveSummary writes the finalized record for an ended room. Implements
// the room store's SummarySink.
func (s *Store) SaveSummary(r *domain.Room) error {
	summary := MeetingSummary{
		RoomID:          string(r.ID),
		ProjectID:       string(r.ProjectID),
		Title:           r.Title,
		HostID:          string(r.HostID),
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		DurationSeconds: int64(r.EndedAt.Sub(r.StartedAt).Seconds()),
		EndedBy:         string(r.EndedBy),
	}
	for _, p := range r.Participants {
		summary.Participants = append(summary.Participants, ParticipantRecord{
			RoomID:   string(r.ID),
			UserID:   string(p.UserID),
			Name:     p.Name,
			WasHost:  p.IsHost,
			JoinedAt: p.JoinedAt,
		})
	}
	if err := s.db.Create(&summary).Error; err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	log.Info().Str("module", "history").Str("room", string(r.ID)).
		Int("participants", len(summary.Participants)).Msg("summary saved")
	return nil
}
