// Package disposition handles call outcomes: qualifying claimed contacts,
// scheduling personal callbacks, recycling outcomes back into the pool, and
// requeueing contacts held by force-logged-out agents.
package disposition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// AgentStates is the slice of the state machine this service needs.
type AgentStates interface {
	Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error)
	CompleteCall(ctx context.Context, agentID uuid.UUID, wrapUp time.Duration) (*domain.AgentCallState, error)
	ReleaseContact(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error)
	ForceStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus) (*domain.AgentCallState, error)
}

// EventPublisher emits best-effort logical events.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.Event) error
}

// CallbackRequest is the agent-scheduled follow-up attached to a
// callback-type qualification.
type CallbackRequest struct {
	ScheduledAt time.Time
	Note        string
}

// Service applies call outcomes.
type Service struct {
	contacts       repository.ContactRepository
	campaigns      repository.CampaignRepository
	qualifications repository.QualificationRepository
	history        repository.HistoryStore
	states         AgentStates
	events         EventPublisher
	log            *logger.Logger
}

// NewService wires the disposition service.
func NewService(
	contacts repository.ContactRepository,
	campaigns repository.CampaignRepository,
	qualifications repository.QualificationRepository,
	history repository.HistoryStore,
	states AgentStates,
	events EventPublisher,
	log *logger.Logger,
) *Service {
	return &Service{
		contacts:       contacts,
		campaigns:      campaigns,
		qualifications: qualifications,
		history:        history,
		states:         states,
		events:         events,
		log:            log,
	}
}

// Qualify records the outcome for the contact the agent holds, then moves the
// agent through wrap-up. A callback-type qualification requires a callback
// request; the callback and the disposition commit in one transaction.
func (s *Service) Qualify(ctx context.Context, agentID, contactID, qualificationID uuid.UUID, callback *CallbackRequest) (*domain.AgentCallState, error) {
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if state.CurrentContactID == nil || *state.CurrentContactID != contactID {
		return nil, fmt.Errorf("%w: agent %s does not hold contact %s", apperrors.ErrValidation, agentID, contactID)
	}

	qualification, err := s.qualifications.Get(ctx, qualificationID)
	if err != nil {
		return nil, fmt.Errorf("disposition: load qualification: %w", err)
	}

	var applied bool
	if qualification.ScheduleCallback {
		if callback == nil || callback.ScheduledAt.IsZero() {
			return nil, fmt.Errorf("%w: qualification %q requires a callback time", apperrors.ErrValidation, qualification.Label)
		}
		applied, err = s.contacts.QualifyWithCallback(ctx, contactID, agentID, qualificationID, domain.PersonalCallback{
			ID:          uuid.New(),
			ContactID:   contactID,
			AgentID:     agentID,
			ScheduledAt: callback.ScheduledAt.UTC(),
			Note:        callback.Note,
		})
	} else {
		if callback != nil {
			return nil, fmt.Errorf("%w: qualification %q does not accept a callback", apperrors.ErrValidation, qualification.Label)
		}
		applied, err = s.contacts.Qualify(ctx, contactID, agentID, qualificationID)
	}
	if err != nil {
		return nil, fmt.Errorf("disposition: qualify contact %s: %w", contactID, err)
	}
	if !applied {
		s.log.Warn("qualify was a no-op, contact not in called status",
			zap.String("contact_id", contactID.String()))
	}

	wrapUp := s.wrapUpFor(ctx, state.CurrentCampaignID)
	newState, err := s.states.CompleteCall(ctx, agentID, wrapUp)
	if err != nil {
		return nil, err
	}

	if applied && state.CurrentCampaignID != nil {
		s.appendHistory(ctx, *state.CurrentCampaignID, contactID, agentID, qualificationID)
	}
	return newState, nil
}

// Recycle returns to the pending pool every campaign contact whose latest
// outcome used the given qualification, and announces the pool change.
func (s *Service) Recycle(ctx context.Context, campaignID, qualificationID uuid.UUID) (int64, error) {
	if _, err := s.qualifications.Get(ctx, qualificationID); err != nil {
		return 0, fmt.Errorf("disposition: load qualification: %w", err)
	}

	count, err := s.contacts.Recycle(ctx, campaignID, qualificationID)
	if err != nil {
		return 0, fmt.Errorf("disposition: recycle campaign %s: %w", campaignID, err)
	}

	if count > 0 {
		if err := s.events.Publish(ctx, queue.Event{
			Type:       queue.EventPlanningUpdated,
			CampaignID: campaignID,
		}); err != nil {
			s.log.Warn("planningUpdated publish failed",
				zap.String("campaign_id", campaignID.String()), zap.Error(err))
		}
	}
	return count, nil
}

// ForceLogout disconnects an agent on a supervisor's order. A held contact is
// requeued first so it can be served to another agent.
func (s *Service) ForceLogout(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error) {
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if state.CurrentContactID != nil {
		if err := s.contacts.Release(ctx, *state.CurrentContactID); err != nil {
			return nil, fmt.Errorf("disposition: requeue contact %s: %w", *state.CurrentContactID, err)
		}
		if _, err := s.states.ReleaseContact(ctx, agentID); err != nil {
			return nil, err
		}
	}

	return s.states.ForceStatus(ctx, agentID, domain.AgentDisconnected)
}

func (s *Service) wrapUpFor(ctx context.Context, campaignID *uuid.UUID) time.Duration {
	if campaignID == nil {
		return 0
	}
	campaign, err := s.campaigns.Get(ctx, *campaignID)
	if err != nil {
		s.log.Warn("wrap-up lookup failed, skipping post-call",
			zap.String("campaign_id", campaignID.String()), zap.Error(err))
		return 0
	}
	return campaign.WrapUpTime
}

func (s *Service) appendHistory(ctx context.Context, campaignID, contactID, agentID, qualificationID uuid.UUID) {
	if err := s.history.Append(ctx, repository.HistoryRecord{
		CampaignID:      campaignID,
		ContactID:       contactID,
		AgentID:         agentID,
		Event:           "qualified",
		QualificationID: &qualificationID,
		OccurredAt:      time.Now().UTC(),
	}); err != nil {
		s.log.Warn("history append failed",
			zap.String("contact_id", contactID.String()), zap.Error(err))
	}
}
