package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus enumerates the agent call-state machine states.
type AgentStatus string

const (
	AgentDisconnected AgentStatus = "disconnected"
	AgentAvailable    AgentStatus = "available"
	AgentRinging      AgentStatus = "ringing"
	AgentOnCall       AgentStatus = "on_call"
	AgentPostCall     AgentStatus = "post_call"
	AgentPaused       AgentStatus = "paused"
	AgentTraining     AgentStatus = "training"
)

// AgentCallState is the per-agent record tracked by the state machine. It is
// mutated exclusively through guarded transitions and read by the
// distribution engine as a precondition gate.
type AgentCallState struct {
	AgentID                 uuid.UUID
	Status                  AgentStatus
	CurrentContactID        *uuid.UUID
	CurrentCampaignID       *uuid.UUID
	ActiveDialingCampaignID *uuid.UUID
	WrapUpDeadline          *time.Time
	UpdatedAt               time.Time
}

// HoldsContact reports whether the engine currently holds a claimed contact
// for this agent. Force transitions must never bypass this.
func (s *AgentCallState) HoldsContact() bool {
	return s.CurrentContactID != nil
}

// Breakable reports whether pause/training transitions are permitted from
// this status, i.e. the agent is not mid-call or wrapping up.
func (s AgentStatus) Breakable() bool {
	return s != AgentOnCall && s != AgentPostCall && s != AgentRinging
}
