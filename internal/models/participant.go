package models

import "time"

// Participant is a registered watch-party member. UserID is the external
// identity the client authenticates with; DisplayName is what other
// participants see in the roster.
type Participant struct {
	BaseModel
	UserID      string `gorm:"uniqueIndex;not null" json:"user_id"`
	DisplayName string `gorm:"not null" json:"display_name"`
}

// ResumePoint remembers where a participant stopped watching a given media
// file, so a later session can offer to pick up there.
type ResumePoint struct {
	BaseModel
	UserID    string    `gorm:"uniqueIndex:idx_resume_user_media;not null" json:"user_id"`
	MediaPath string    `gorm:"uniqueIndex:idx_resume_user_media;not null" json:"media_path"`
	Position  float64   `gorm:"not null" json:"position"`
	WatchedAt time.Time `json:"watched_at"`
}

// AllModels lists every model for auto-migration.
func AllModels() []any {
	return []any{
		&Participant{},
		&ResumePoint{},
	}
}
