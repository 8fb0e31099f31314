// Package models defines the GORM models persisted by Calliope.
package models

import "time"

// Setting stores one persistent key/value pair: bot token, web auth
// secret, recognizer credentials, and other operator-tunable values that
// survive restarts. Playback state deliberately does not.
type Setting struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Key       string `gorm:"size:64;uniqueIndex;not null"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}
