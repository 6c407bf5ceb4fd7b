package domain

import (
	"time"

	"github.com/google/uuid"
)

// QualificationType classifies call outcomes.
type QualificationType string

const (
	QualificationPositive QualificationType = "positive"
	QualificationNegative QualificationType = "negative"
	QualificationNeutral  QualificationType = "neutral"
)

// Qualification is a selectable call outcome. A nil GroupID means the
// qualification is standard and applies to every campaign; otherwise it is
// scoped to campaigns sharing the same qualification group.
type Qualification struct {
	ID               uuid.UUID
	Label            string
	Type             QualificationType
	GroupID          *uuid.UUID
	ScheduleCallback bool
}

// PersonalCallback schedules a contact to be called back by a specific agent.
type PersonalCallback struct {
	ID          uuid.UUID
	ContactID   uuid.UUID
	AgentID     uuid.UUID
	ScheduledAt time.Time
	Note        string
}
