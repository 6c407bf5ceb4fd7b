// Package distribution implements the engine that hands the next dialable
// contact to an agent asking for work.
package distribution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/rules"
	"github.com/acme/campaign-dialer/pkg/logger"
)

var tracer = otel.Tracer("campaign-dialer/distribution")

// AgentStates is the slice of the state machine the engine needs.
type AgentStates interface {
	Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error)
	BeginCall(ctx context.Context, agentID, contactID, campaignID uuid.UUID, mode domain.DialingMode) (*domain.AgentCallState, error)
}

// DialDispatcher enqueues auto-dial instructions.
type DialDispatcher interface {
	Dispatch(ctx context.Context, msg queue.DialMessage) error
}

// EventPublisher emits best-effort logical events.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.Event) error
}

// Assignment is the result of a successful claim.
type Assignment struct {
	Contact  *domain.Contact
	Campaign *domain.Campaign
	State    *domain.AgentCallState
}

// Service is the distribution engine.
type Service struct {
	campaigns    repository.CampaignRepository
	contacts     repository.ContactRepository
	dispositions repository.DispositionRepository
	history      repository.HistoryStore
	states       AgentStates
	dispatcher   DialDispatcher
	events       EventPublisher
	log          *logger.Logger
}

// NewService wires the distribution engine.
func NewService(
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	dispositions repository.DispositionRepository,
	history repository.HistoryStore,
	states AgentStates,
	dispatcher DialDispatcher,
	events EventPublisher,
	log *logger.Logger,
) *Service {
	return &Service{
		campaigns:    campaigns,
		contacts:     contacts,
		dispositions: dispositions,
		history:      history,
		states:       states,
		dispatcher:   dispatcher,
		events:       events,
		log:          log,
	}
}

// RequestNextContact claims the next dialable contact for the agent, walking
// the agent's campaigns in priority order. Returns (nil, nil) when no
// campaign can yield a contact or when the agent is not in a position to
// receive one; neither is an error.
func (s *Service) RequestNextContact(ctx context.Context, agentID uuid.UUID) (*Assignment, error) {
	ctx, span := tracer.Start(ctx, "distribution.RequestNextContact")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID.String()))

	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	// The agent must be available, empty-handed and opted into dialing.
	// Anything else is a caller asking at the wrong moment, not a failure.
	if state.Status != domain.AgentAvailable || state.HoldsContact() || state.ActiveDialingCampaignID == nil {
		s.log.Debug("next-contact request refused by agent state",
			zap.String("agent_id", agentID.String()),
			zap.String("status", string(state.Status)))
		return nil, nil
	}

	campaigns, err := s.campaigns.ListAssignedActive(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("distribution: list campaigns: %w", err)
	}
	sortCampaigns(campaigns)

	for _, campaign := range campaigns {
		contact, err := s.claimFrom(ctx, campaign)
		if err != nil {
			return nil, err
		}
		if contact == nil {
			continue
		}

		newState, err := s.states.BeginCall(ctx, agentID, contact.ID, campaign.ID, campaign.DialingMode)
		if err != nil {
			// The agent changed state under us; put the contact back.
			if relErr := s.contacts.Release(ctx, contact.ID); relErr != nil {
				s.log.Error("release after failed begin-call",
					zap.String("contact_id", contact.ID.String()), zap.Error(relErr))
			}
			return nil, err
		}

		s.afterClaim(ctx, agentID, campaign, contact)
		return &Assignment{Contact: contact, Campaign: campaign, State: newState}, nil
	}

	return nil, nil
}

// claimFrom computes the campaign's quota counts once, then asks the contact
// store for the first admissible pending contact.
func (s *Service) claimFrom(ctx context.Context, campaign *domain.Campaign) (*domain.Contact, error) {
	ctx, span := tracer.Start(ctx, "distribution.claim")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.id", campaign.ID.String()))

	var counts map[string]int
	if len(campaign.QuotaRules) > 0 {
		var err error
		counts, err = s.dispositions.PositiveSegmentCounts(ctx, campaign)
		if err != nil {
			return nil, fmt.Errorf("distribution: quota counts for campaign %s: %w", campaign.ID, err)
		}
	}

	predicate := func(contact *domain.Contact) bool {
		if !rules.IsAdmitted(contact, campaign.FilterRules) {
			return false
		}
		return !rules.AnyQuotaReached(contact, campaign.QuotaRules, counts)
	}

	contact, err := s.contacts.ClaimNext(ctx, campaign.ID, predicate)
	if err != nil {
		return nil, fmt.Errorf("distribution: claim from campaign %s: %w", campaign.ID, err)
	}
	return contact, nil
}

// afterClaim runs the best-effort side effects of a successful claim: the
// audit record, the contactClaimed event, and the auto-dial dispatch.
func (s *Service) afterClaim(ctx context.Context, agentID uuid.UUID, campaign *domain.Campaign, contact *domain.Contact) {
	if err := s.history.Append(ctx, repository.HistoryRecord{
		CampaignID: campaign.ID,
		ContactID:  contact.ID,
		AgentID:    agentID,
		Event:      "claimed",
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.log.Warn("history append failed",
			zap.String("contact_id", contact.ID.String()), zap.Error(err))
	}

	if err := s.events.Publish(ctx, queue.Event{
		Type:       queue.EventContactClaimed,
		CampaignID: campaign.ID,
		AgentID:    &agentID,
		ContactID:  &contact.ID,
	}); err != nil {
		s.log.Warn("contactClaimed publish failed",
			zap.String("contact_id", contact.ID.String()), zap.Error(err))
	}

	if campaign.DialingMode == domain.DialingModeManual {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, queue.DialMessage{
		AgentID:          agentID,
		ContactID:        contact.ID,
		CampaignID:       campaign.ID,
		Destination:      contact.PhoneNumber,
		ConcurrencyLimit: campaign.MaxConcurrentDials,
		EnqueuedAt:       time.Now().UTC(),
	}); err != nil {
		s.log.Error("dial dispatch failed",
			zap.String("contact_id", contact.ID.String()),
			zap.String("agent_id", agentID.String()),
			zap.Error(err))
	}
}

// sortCampaigns orders campaigns deterministically: highest priority first,
// ties broken by name.
func sortCampaigns(campaigns []*domain.Campaign) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		if campaigns[i].Priority != campaigns[j].Priority {
			return campaigns[i].Priority > campaigns[j].Priority
		}
		return campaigns[i].Name < campaigns[j].Name
	})
}
