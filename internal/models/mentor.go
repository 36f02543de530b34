package models

import "time"

// Mentor availability values.
const (
	AvailabilityAvailable = "available"
	AvailabilityBusy      = "busy"
	AvailabilityOffline   = "offline"
)

// Mentor is a registered volunteer who can claim questions.
type Mentor struct {
	UserID       string `gorm:"primaryKey;size:64"`
	DisplayName  string `gorm:"size:128;not null"`
	Bio          string `gorm:"type:text"`
	Availability string `gorm:"size:16;default:available;index"`
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// ValidAvailability reports whether s is a known availability value.
func ValidAvailability(s string) bool {
	switch s {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityOffline:
		return true
	}
	return false
}
