// Package campaign manages campaign definitions: rules, agent assignments,
// dialing mode and activation.
package campaign

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

// EventPublisher emits best-effort logical events.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.Event) error
}

// Service is the campaign administration service.
type Service struct {
	campaigns repository.CampaignRepository
	events    EventPublisher
	log       *logger.Logger
}

// NewService wires the campaign service.
func NewService(campaigns repository.CampaignRepository, events EventPublisher, log *logger.Logger) *Service {
	return &Service{campaigns: campaigns, events: events, log: log}
}

// Create validates and stores a new campaign. New campaigns start inactive.
func (s *Service) Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	if err := validate(campaign); err != nil {
		return nil, err
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	campaign.IsActive = false
	campaign.CreatedAt = time.Now().UTC()
	campaign.UpdatedAt = campaign.CreatedAt

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign: create: %w", err)
	}
	s.announce(ctx, campaign.ID)
	return campaign, nil
}

// Update replaces the campaign definition, its rules and its assignments.
func (s *Service) Update(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	if err := validate(campaign); err != nil {
		return nil, err
	}
	current, err := s.campaigns.Get(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("campaign: load %s: %w", campaign.ID, err)
	}
	campaign.IsActive = current.IsActive
	campaign.CreatedAt = current.CreatedAt
	campaign.UpdatedAt = time.Now().UTC()

	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign: update %s: %w", campaign.ID, err)
	}
	if err := s.campaigns.ReplaceRules(ctx, campaign.ID, campaign.FilterRules, campaign.QuotaRules); err != nil {
		return nil, fmt.Errorf("campaign: replace rules %s: %w", campaign.ID, err)
	}
	s.announce(ctx, campaign.ID)
	return campaign, nil
}

// SetActive toggles whether the distribution engine may serve the campaign.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.campaigns.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("campaign: set active %s: %w", id, err)
	}
	s.announce(ctx, id)
	return nil
}

// Get loads one campaign with rules and assignments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign: load %s: %w", id, err)
	}
	return campaign, nil
}

// List pages through all campaigns in id order.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	campaigns, err := s.campaigns.List(ctx, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign: list: %w", err)
	}
	return campaigns, nil
}

// AssignAgents replaces the campaign's agent roster.
func (s *Service) AssignAgents(ctx context.Context, campaignID uuid.UUID, agentIDs []uuid.UUID) error {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return fmt.Errorf("campaign: load %s: %w", campaignID, err)
	}
	if err := s.campaigns.AssignAgents(ctx, campaignID, agentIDs); err != nil {
		return fmt.Errorf("campaign: assign agents %s: %w", campaignID, err)
	}
	s.announce(ctx, campaignID)
	return nil
}

func (s *Service) announce(ctx context.Context, campaignID uuid.UUID) {
	if err := s.events.Publish(ctx, queue.Event{
		Type:       queue.EventCampaignUpdated,
		CampaignID: campaignID,
	}); err != nil {
		s.log.Warn("campaignUpdated publish failed",
			zap.String("campaign_id", campaignID.String()), zap.Error(err))
	}
}

func validate(campaign *domain.Campaign) error {
	if campaign.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	switch campaign.DialingMode {
	case domain.DialingModeManual, domain.DialingModeProgressive, domain.DialingModePredictive:
	default:
		return fmt.Errorf("%w: unknown dialing mode %q", apperrors.ErrValidation, campaign.DialingMode)
	}
	if campaign.WrapUpTime < 0 {
		return fmt.Errorf("%w: wrap-up time cannot be negative", apperrors.ErrValidation)
	}
	if campaign.MaxConcurrentDials < 0 {
		return fmt.Errorf("%w: max concurrent dials cannot be negative", apperrors.ErrValidation)
	}
	for _, rule := range campaign.FilterRules {
		if err := validateOperator(rule.Operator); err != nil {
			return err
		}
		if rule.RuleType != domain.FilterRuleInclude && rule.RuleType != domain.FilterRuleExclude {
			return fmt.Errorf("%w: unknown filter rule type %q", apperrors.ErrValidation, rule.RuleType)
		}
		if rule.ContactField == "" {
			return fmt.Errorf("%w: filter rule needs a contact field", apperrors.ErrValidation)
		}
	}
	for _, rule := range campaign.QuotaRules {
		// Quota segments are counted in SQL, so only the two operators with a
		// cheap aggregate form are allowed here.
		if rule.Operator != domain.OperatorEquals && rule.Operator != domain.OperatorStartsWith {
			return fmt.Errorf("%w: quota rules support equals and starts_with, not %q", apperrors.ErrValidation, rule.Operator)
		}
		if rule.ContactField == "" {
			return fmt.Errorf("%w: quota rule needs a contact field", apperrors.ErrValidation)
		}
		if rule.Limit < 0 {
			return fmt.Errorf("%w: quota limit cannot be negative", apperrors.ErrValidation)
		}
	}
	return nil
}

func validateOperator(op domain.RuleOperator) error {
	switch op {
	case domain.OperatorEquals, domain.OperatorStartsWith, domain.OperatorContains, domain.OperatorIsNotEmpty:
		return nil
	default:
		return fmt.Errorf("%w: unknown rule operator %q", apperrors.ErrValidation, op)
	}
}
