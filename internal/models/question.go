package models

import "time"

// Question status values.
const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
)

// ValidStatus reports whether s is a known question status.
func ValidStatus(s string) bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Consultation modes.
const (
	ModeImmediate   = "immediate"
	ModeReservation = "reservation"
)

// Question is a help request submitted by an asker.
type Question struct {
	ID               string `gorm:"primaryKey;size:32"`
	AskerID          string `gorm:"size:64;not null;index"`
	TeamName         string `gorm:"size:128"`
	Content          string `gorm:"type:text;not null"`
	Category         string `gorm:"size:64;index"`
	Urgency          string `gorm:"size:64"`
	ConsultationType string `gorm:"size:32"`
	ConsultationMode string `gorm:"size:16;default:immediate"`
	Situation        string `gorm:"type:text"`
	Links            string `gorm:"type:text"`
	ErrorText        string `gorm:"type:text"`
	Status           string `gorm:"size:16;default:waiting;index"`

	// SourceChannelRef is where the asker opened the form. ChannelRef is the
	// channel the question was actually posted to after any fallback.
	SourceChannelRef string `gorm:"size:64"`
	ChannelRef       string `gorm:"size:64"`
	ThreadRef        string `gorm:"size:64"`
	MessageRef       string `gorm:"size:64"`

	ReservationTime  string `gorm:"size:32"`
	AutoResolveCheck bool   `gorm:"default:false"`
	DispatchedAt     *time.Time

	ResolvedBy     string `gorm:"size:64"`
	ResolvedVia    string `gorm:"size:16"`
	ResolvedByUser bool   `gorm:"default:false"`
	ResolvedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Mentors []QuestionMentor `gorm:"foreignKey:QuestionID"`
	History []StatusEntry    `gorm:"foreignKey:QuestionID"`
}

// QuestionMentor is one member of a question's assignment set. The composite
// primary key makes insertion of an existing member a conflict, not a duplicate.
type QuestionMentor struct {
	QuestionID string `gorm:"primaryKey;size:32"`
	MentorID   string `gorm:"primaryKey;size:64"`
	AddedAt    time.Time
}

// StatusEntry is an append-only status history record.
type StatusEntry struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	QuestionID string `gorm:"size:32;not null;index"`
	Status     string `gorm:"size:16;not null"`
	ActorID    string `gorm:"size:64"`
	CreatedAt  time.Time
}

// MentorIDs returns the ids of the currently assigned mentors.
func (q *Question) MentorIDs() []string {
	ids := make([]string, 0, len(q.Mentors))
	for _, m := range q.Mentors {
		ids = append(ids, m.MentorID)
	}
	return ids
}

// HasMentor reports whether userID is in the assignment set.
func (q *Question) HasMentor(userID string) bool {
	for _, m := range q.Mentors {
		if m.MentorID == userID {
			return true
		}
	}
	return false
}

// IsReservation reports whether the question was submitted for later dispatch.
func (q *Question) IsReservation() bool {
	return q.ConsultationMode == ModeReservation
}

// TableName keeps the history table name stable.
func (StatusEntry) TableName() string { return "question_status_history" }
