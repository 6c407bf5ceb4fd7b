// Package agentstate implements the agent call-state machine. All agent
// status mutations funnel through the guarded transitions here; nothing else
// writes agent state, which is what keeps the guards enforceable.
package agentstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

const (
	defaultKeyPrefix = "dialer:agent"
	casAttempts      = 5
)

// casScript swaps the stored state only when the caller saw the latest
// version, so two concurrent transitions cannot both win.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if (v == false and ARGV[1] == '0') or v == ARGV[1] then
  redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[3])
  return 1
end
return 0
`)

// Machine is the keyed agent state store (agentId -> AgentCallState).
type Machine struct {
	client *redis.Client
	prefix string
}

// NewMachine constructs the state machine over a Redis client.
func NewMachine(client *redis.Client, keyPrefix string) *Machine {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Machine{client: client, prefix: keyPrefix}
}

type stateRecord struct {
	Status           domain.AgentStatus `json:"status"`
	ContactID        *uuid.UUID         `json:"contact_id,omitempty"`
	CampaignID       *uuid.UUID         `json:"campaign_id,omitempty"`
	ActiveCampaignID *uuid.UUID         `json:"active_campaign_id,omitempty"`
	WrapUpDeadline   *time.Time         `json:"wrap_up_deadline,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (m *Machine) key(agentID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", m.prefix, agentID.String())
}

func (m *Machine) postCallKey() string {
	return m.prefix + ":postcall"
}

// Get returns the agent's current state. Unknown agents are Disconnected.
func (m *Machine) Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error) {
	rec, _, err := m.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return toDomain(agentID, rec), nil
}

func (m *Machine) load(ctx context.Context, agentID uuid.UUID) (*stateRecord, int64, error) {
	vals, err := m.client.HMGet(ctx, m.key(agentID), "data", "version").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("agent state: load: %w", err)
	}

	rec := &stateRecord{Status: domain.AgentDisconnected}
	var version int64
	if data, ok := vals[0].(string); ok && data != "" {
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return nil, 0, fmt.Errorf("agent state: decode: %w", err)
		}
	}
	if v, ok := vals[1].(string); ok && v != "" {
		if _, err := fmt.Sscanf(v, "%d", &version); err != nil {
			return nil, 0, fmt.Errorf("agent state: parse version: %w", err)
		}
	}
	return rec, version, nil
}

// transition applies fn to the freshest state under compare-and-set. fn may
// reject the transition by returning an error; transient CAS losses are
// retried a few times before surfacing a conflict.
func (m *Machine) transition(ctx context.Context, agentID uuid.UUID, fn func(*stateRecord) error) (*domain.AgentCallState, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, version, err := m.load(ctx, agentID)
		if err != nil {
			return nil, err
		}

		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("agent state: encode: %w", err)
		}

		ok, err := casScript.Run(ctx, m.client, []string{m.key(agentID)},
			fmt.Sprintf("%d", version), string(data), fmt.Sprintf("%d", version+1)).Int()
		if err != nil {
			return nil, fmt.Errorf("agent state: cas: %w", err)
		}
		if ok == 1 {
			m.indexPostCall(ctx, agentID, rec)
			return toDomain(agentID, rec), nil
		}
	}
	return nil, fmt.Errorf("agent state: %w: concurrent transitions for agent %s", apperrors.ErrConflict, agentID)
}

// indexPostCall keeps the wrap-up sweep index in step with the state. The
// index is advisory: the sweeper re-validates through a guarded transition,
// so a stale entry is harmless.
func (m *Machine) indexPostCall(ctx context.Context, agentID uuid.UUID, rec *stateRecord) {
	if rec.Status == domain.AgentPostCall && rec.WrapUpDeadline != nil {
		m.client.ZAdd(ctx, m.postCallKey(), redis.Z{
			Score:  float64(rec.WrapUpDeadline.Unix()),
			Member: agentID.String(),
		})
		return
	}
	m.client.ZRem(ctx, m.postCallKey(), agentID.String())
}

// SetStatus performs an agent-initiated transition between the idle states
// (Available, Paused, Training, Disconnected). Call states are only reachable
// through BeginCall/CompleteCall.
func (m *Machine) SetStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus) (*domain.AgentCallState, error) {
	return m.setStatus(ctx, agentID, status, false)
}

// ForceStatus performs a supervisor-initiated transition. It bypasses the
// agent-side guards but never the held-contact constraint: a claimed contact
// must be dispositioned or released first.
func (m *Machine) ForceStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus) (*domain.AgentCallState, error) {
	return m.setStatus(ctx, agentID, status, true)
}

func (m *Machine) setStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus, forced bool) (*domain.AgentCallState, error) {
	switch status {
	case domain.AgentAvailable, domain.AgentPaused, domain.AgentTraining, domain.AgentDisconnected:
	default:
		return nil, fmt.Errorf("%w: status %s is not directly settable", apperrors.ErrInvalidTransition, status)
	}

	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.Status == status {
			return nil
		}
		if rec.ContactID != nil {
			return fmt.Errorf("%w: agent %s", apperrors.ErrContactHeld, agentID)
		}

		if !forced {
			switch status {
			case domain.AgentPaused, domain.AgentTraining:
				if !rec.Status.Breakable() {
					return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, rec.Status, status)
				}
			case domain.AgentAvailable:
				switch rec.Status {
				case domain.AgentDisconnected, domain.AgentPaused, domain.AgentTraining, domain.AgentPostCall:
				default:
					return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, rec.Status, status)
				}
			}
		}

		rec.Status = status
		rec.WrapUpDeadline = nil
		if status == domain.AgentDisconnected {
			rec.ActiveCampaignID = nil
		}
		return nil
	})
}

// SelectDialingCampaign records the one assigned campaign the agent opted
// into for auto-pull. A nil id opts out.
func (m *Machine) SelectDialingCampaign(ctx context.Context, agentID uuid.UUID, campaignID *uuid.UUID) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.Status == domain.AgentDisconnected {
			return fmt.Errorf("%w: disconnected agents cannot select a campaign", apperrors.ErrInvalidTransition)
		}
		rec.ActiveCampaignID = campaignID
		return nil
	})
}

// BeginCall attaches a freshly claimed contact to an Available agent. Manual
// campaigns keep the agent Available until they click to dial; auto-dialing
// campaigns move straight to Ringing.
func (m *Machine) BeginCall(ctx context.Context, agentID, contactID, campaignID uuid.UUID, mode domain.DialingMode) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.Status != domain.AgentAvailable {
			return fmt.Errorf("%w: begin call from %s", apperrors.ErrInvalidTransition, rec.Status)
		}
		if rec.ContactID != nil {
			return fmt.Errorf("%w: agent %s", apperrors.ErrContactHeld, agentID)
		}

		rec.ContactID = &contactID
		rec.CampaignID = &campaignID
		if mode != domain.DialingModeManual {
			rec.Status = domain.AgentRinging
		}
		return nil
	})
}

// MarkOnCall records that the agent's line is connected (manual click-to-dial
// or telephony pickup).
func (m *Machine) MarkOnCall(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.ContactID == nil {
			return fmt.Errorf("%w: no contact held", apperrors.ErrInvalidTransition)
		}
		switch rec.Status {
		case domain.AgentAvailable, domain.AgentRinging:
			rec.Status = domain.AgentOnCall
			return nil
		case domain.AgentOnCall:
			return nil
		default:
			return fmt.Errorf("%w: on-call from %s", apperrors.ErrInvalidTransition, rec.Status)
		}
	})
}

// CompleteCall detaches the contact after disposition. The agent enters
// PostCall for wrapUp duration, or goes straight back to Available when the
// campaign has no wrap-up.
func (m *Machine) CompleteCall(ctx context.Context, agentID uuid.UUID, wrapUp time.Duration) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.ContactID == nil {
			return fmt.Errorf("%w: no contact held", apperrors.ErrInvalidTransition)
		}

		rec.ContactID = nil
		rec.CampaignID = nil
		if wrapUp > 0 {
			deadline := time.Now().UTC().Add(wrapUp)
			rec.Status = domain.AgentPostCall
			rec.WrapUpDeadline = &deadline
		} else {
			rec.Status = domain.AgentAvailable
			rec.WrapUpDeadline = nil
		}
		return nil
	})
}

// ReleaseContact drops a held contact without an outcome (force-logout
// requeue path). The contact itself is requeued by the caller.
func (m *Machine) ReleaseContact(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		rec.ContactID = nil
		rec.CampaignID = nil
		rec.WrapUpDeadline = nil
		if rec.Status == domain.AgentRinging || rec.Status == domain.AgentOnCall || rec.Status == domain.AgentPostCall {
			rec.Status = domain.AgentAvailable
		}
		return nil
	})
}

// FinishWrapUp ends the post-call phase, explicitly or on deadline expiry.
func (m *Machine) FinishWrapUp(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error) {
	return m.transition(ctx, agentID, func(rec *stateRecord) error {
		if rec.Status != domain.AgentPostCall {
			return fmt.Errorf("%w: finish wrap-up from %s", apperrors.ErrInvalidTransition, rec.Status)
		}
		rec.Status = domain.AgentAvailable
		rec.WrapUpDeadline = nil
		return nil
	})
}

// ExpireWrapUps releases every agent whose wrap-up deadline has passed.
// Returns the number of agents released.
func (m *Machine) ExpireWrapUps(ctx context.Context, now time.Time) (int, error) {
	members, err := m.client.ZRangeByScore(ctx, m.postCallKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("agent state: expire scan: %w", err)
	}

	released := 0
	for _, member := range members {
		agentID, err := uuid.Parse(member)
		if err != nil {
			m.client.ZRem(ctx, m.postCallKey(), member)
			continue
		}
		if _, err := m.FinishWrapUp(ctx, agentID); err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidTransition) {
				// Stale index entry; the transition path already moved on.
				m.client.ZRem(ctx, m.postCallKey(), member)
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func toDomain(agentID uuid.UUID, rec *stateRecord) *domain.AgentCallState {
	return &domain.AgentCallState{
		AgentID:                 agentID,
		Status:                  rec.Status,
		CurrentContactID:        rec.ContactID,
		CurrentCampaignID:       rec.CampaignID,
		ActiveDialingCampaignID: rec.ActiveCampaignID,
		WrapUpDeadline:          rec.WrapUpDeadline,
		UpdatedAt:               rec.UpdatedAt,
	}
}
