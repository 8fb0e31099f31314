package models

import "time"

// PlayRecord logs one successful hand-off of a prepared track to the voice
// transport. Used for the web status surface and `.status` history, never
// for restoring playback.
type PlayRecord struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	ChatID   string `gorm:"size:64;index;not null"`
	Source   string `gorm:"type:text;not null"`
	Kind     string `gorm:"size:16;not null"` // "url" or "attachment"
	PlayedAt time.Time
}
