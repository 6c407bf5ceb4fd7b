package queue

import (
	"time"

	"github.com/google/uuid"
)

// DialMessage instructs the dial worker to ring an agent's line and dial the
// claimed contact (progressive/predictive campaigns only).
type DialMessage struct {
	AgentID          uuid.UUID `json:"agent_id"`
	ContactID        uuid.UUID `json:"contact_id"`
	CampaignID       uuid.UUID `json:"campaign_id"`
	Destination      string    `json:"destination"`
	ConcurrencyLimit int       `json:"concurrency_limit"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// Logical event types broadcast to interested observers. Delivery is
// best-effort.
const (
	EventCampaignUpdated = "campaignUpdated"
	EventPlanningUpdated = "planningUpdated"
	EventContactClaimed  = "contactClaimed"
)

// Event is a logical notification for supervisors and dashboards.
type Event struct {
	Type       string     `json:"type"`
	CampaignID uuid.UUID  `json:"campaign_id"`
	AgentID    *uuid.UUID `json:"agent_id,omitempty"`
	ContactID  *uuid.UUID `json:"contact_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
