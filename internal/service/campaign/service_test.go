package campaign

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

type fakeCampaignRepo struct {
	byID     map[uuid.UUID]*domain.Campaign
	assigned map[uuid.UUID][]uuid.UUID
}

func newFakeRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		byID:     map[uuid.UUID]*domain.Campaign{},
		assigned: map[uuid.UUID][]uuid.UUID{},
	}
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	f.byID[c.ID] = c
	return nil
}
func (f *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}
func (f *fakeCampaignRepo) Update(_ context.Context, c *domain.Campaign) error {
	if _, ok := f.byID[c.ID]; !ok {
		return repository.ErrNotFound
	}
	f.byID[c.ID] = c
	return nil
}
func (f *fakeCampaignRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	c, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = active
	return nil
}
func (f *fakeCampaignRepo) List(context.Context, *uuid.UUID, int) ([]*domain.Campaign, error) {
	out := make([]*domain.Campaign, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeCampaignRepo) ListAssignedActive(context.Context, uuid.UUID) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaignRepo) ReplaceRules(context.Context, uuid.UUID, []domain.FilterRule, []domain.QuotaRule) error {
	return nil
}
func (f *fakeCampaignRepo) AssignAgents(_ context.Context, campaignID uuid.UUID, agentIDs []uuid.UUID) error {
	f.assigned[campaignID] = agentIDs
	return nil
}

type fakeEvents struct {
	events []queue.Event
}

func (f *fakeEvents) Publish(_ context.Context, e queue.Event) error {
	f.events = append(f.events, e)
	return nil
}

func newService() (*Service, *fakeCampaignRepo, *fakeEvents) {
	repo := newFakeRepo()
	events := &fakeEvents{}
	return NewService(repo, events, &logger.Logger{Logger: zap.NewNop()}), repo, events
}

func validCampaign() *domain.Campaign {
	return &domain.Campaign{
		Name:        "spring push",
		Priority:    3,
		DialingMode: domain.DialingModeProgressive,
	}
}

func TestCreateStartsInactiveAndAnnounces(t *testing.T) {
	svc, repo, events := newService()

	created, err := svc.Create(context.Background(), validCampaign())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatalf("expected an assigned id")
	}
	if created.IsActive {
		t.Fatalf("new campaigns must start inactive")
	}
	if _, ok := repo.byID[created.ID]; !ok {
		t.Fatalf("campaign not stored")
	}
	if len(events.events) != 1 || events.events[0].Type != queue.EventCampaignUpdated {
		t.Fatalf("expected campaignUpdated, got %+v", events.events)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService()

	cases := []struct {
		name   string
		mutate func(*domain.Campaign)
	}{
		{"missing name", func(c *domain.Campaign) { c.Name = "" }},
		{"bad dialing mode", func(c *domain.Campaign) { c.DialingMode = "turbo" }},
		{"negative wrap-up", func(c *domain.Campaign) { c.WrapUpTime = -1 }},
		{"bad filter operator", func(c *domain.Campaign) {
			c.FilterRules = []domain.FilterRule{{
				RuleType: domain.FilterRuleInclude, ContactField: domain.FieldPostalCode, Operator: "regex",
			}}
		}},
		{"bad filter type", func(c *domain.Campaign) {
			c.FilterRules = []domain.FilterRule{{
				RuleType: "maybe", ContactField: domain.FieldPostalCode, Operator: domain.OperatorEquals,
			}}
		}},
		{"quota with contains operator", func(c *domain.Campaign) {
			c.QuotaRules = []domain.QuotaRule{{
				ContactField: domain.FieldPostalCode, Operator: domain.OperatorContains, Limit: 1,
			}}
		}},
		{"quota without field", func(c *domain.Campaign) {
			c.QuotaRules = []domain.QuotaRule{{Operator: domain.OperatorEquals, Limit: 1}}
		}},
		{"negative quota limit", func(c *domain.Campaign) {
			c.QuotaRules = []domain.QuotaRule{{
				ContactField: domain.FieldPostalCode, Operator: domain.OperatorEquals, Limit: -1,
			}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			campaign := validCampaign()
			tc.mutate(campaign)
			if _, err := svc.Create(context.Background(), campaign); !apperrors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdatePreservesActivationAndCreation(t *testing.T) {
	svc, _, events := newService()

	created, err := svc.Create(context.Background(), validCampaign())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.SetActive(context.Background(), created.ID, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	updated := validCampaign()
	updated.ID = created.ID
	updated.Name = "spring push v2"
	updated.IsActive = false // must be ignored

	result, err := svc.Update(context.Background(), updated)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !result.IsActive {
		t.Fatalf("update must not change activation")
	}
	if !result.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update must keep the creation time")
	}
	if len(events.events) != 3 {
		t.Fatalf("expected three campaignUpdated events, got %d", len(events.events))
	}
}

func TestUpdateUnknownCampaign(t *testing.T) {
	svc, _, _ := newService()
	campaign := validCampaign()
	campaign.ID = uuid.New()

	if _, err := svc.Update(context.Background(), campaign); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestAssignAgents(t *testing.T) {
	svc, repo, _ := newService()

	created, err := svc.Create(context.Background(), validCampaign())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	agents := []uuid.UUID{uuid.New(), uuid.New()}
	if err := svc.AssignAgents(context.Background(), created.ID, agents); err != nil {
		t.Fatalf("AssignAgents: %v", err)
	}
	if got := repo.assigned[created.ID]; len(got) != 2 {
		t.Fatalf("expected 2 assigned agents, got %v", got)
	}

	if err := svc.AssignAgents(context.Background(), uuid.New(), agents); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not-found for unknown campaign, got %v", err)
	}
}
