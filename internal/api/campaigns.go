package api

import (
	"encoding/base64"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/disposition"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// CampaignsHandler exposes campaign administration, recycling and history.
type CampaignsHandler struct {
	campaigns   *campaign.Service
	disposition *disposition.Service
	history     repository.HistoryStore
}

// NewCampaignsHandler wires the campaign routes.
func NewCampaignsHandler(campaigns *campaign.Service, disp *disposition.Service, history repository.HistoryStore) *CampaignsHandler {
	return &CampaignsHandler{campaigns: campaigns, disposition: disp, history: history}
}

// Register mounts the campaign routes.
func (h *CampaignsHandler) Register(app *fiber.App) {
	group := app.Group("/api/v1/campaigns")
	group.Post("/", h.create)
	group.Get("/", h.list)
	group.Get("/:campaignID", h.get)
	group.Put("/:campaignID", h.update)
	group.Put("/:campaignID/active", h.setActive)
	group.Put("/:campaignID/agents", h.assignAgents)
	group.Post("/:campaignID/recycle", h.recycle)
	group.Get("/:campaignID/history", h.listHistory)
}

type ruleRequest struct {
	RuleType     string `json:"ruleType,omitempty"`
	ContactField string `json:"contactField"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
	Limit        int    `json:"limit,omitempty"`
}

type campaignRequest struct {
	Name                 string        `json:"name"`
	Priority             int           `json:"priority"`
	DialingMode          string        `json:"dialingMode"`
	QualificationGroupID *uuid.UUID    `json:"qualificationGroupId"`
	WrapUpSeconds        int           `json:"wrapUpSeconds"`
	MaxConcurrentDials   int           `json:"maxConcurrentDials"`
	FilterRules          []ruleRequest `json:"filterRules"`
	QuotaRules           []ruleRequest `json:"quotaRules"`
}

func (r campaignRequest) toDomain(id uuid.UUID) *domain.Campaign {
	c := &domain.Campaign{
		ID:                   id,
		Name:                 r.Name,
		Priority:             r.Priority,
		DialingMode:          domain.DialingMode(r.DialingMode),
		QualificationGroupID: r.QualificationGroupID,
		WrapUpTime:           time.Duration(r.WrapUpSeconds) * time.Second,
		MaxConcurrentDials:   r.MaxConcurrentDials,
	}
	for _, rule := range r.FilterRules {
		c.FilterRules = append(c.FilterRules, domain.FilterRule{
			ID:           uuid.New(),
			RuleType:     domain.FilterRuleType(rule.RuleType),
			ContactField: rule.ContactField,
			Operator:     domain.RuleOperator(rule.Operator),
			Value:        rule.Value,
		})
	}
	for _, rule := range r.QuotaRules {
		c.QuotaRules = append(c.QuotaRules, domain.QuotaRule{
			ID:           uuid.New(),
			ContactField: rule.ContactField,
			Operator:     domain.RuleOperator(rule.Operator),
			Value:        rule.Value,
			Limit:        rule.Limit,
		})
	}
	return c
}

type campaignResponse struct {
	ID                   uuid.UUID     `json:"id"`
	Name                 string        `json:"name"`
	Priority             int           `json:"priority"`
	IsActive             bool          `json:"isActive"`
	DialingMode          string        `json:"dialingMode"`
	QualificationGroupID *uuid.UUID    `json:"qualificationGroupId,omitempty"`
	WrapUpSeconds        int           `json:"wrapUpSeconds"`
	MaxConcurrentDials   int           `json:"maxConcurrentDials"`
	FilterRules          []ruleRequest `json:"filterRules"`
	QuotaRules           []ruleRequest `json:"quotaRules"`
	AssignedAgentIDs     []uuid.UUID   `json:"assignedAgentIds"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:                   c.ID,
		Name:                 c.Name,
		Priority:             c.Priority,
		IsActive:             c.IsActive,
		DialingMode:          string(c.DialingMode),
		QualificationGroupID: c.QualificationGroupID,
		WrapUpSeconds:        int(c.WrapUpTime / time.Second),
		MaxConcurrentDials:   c.MaxConcurrentDials,
		FilterRules:          []ruleRequest{},
		QuotaRules:           []ruleRequest{},
		AssignedAgentIDs:     c.AssignedAgentIDs,
	}
	for _, rule := range c.FilterRules {
		resp.FilterRules = append(resp.FilterRules, ruleRequest{
			RuleType:     string(rule.RuleType),
			ContactField: rule.ContactField,
			Operator:     string(rule.Operator),
			Value:        rule.Value,
		})
	}
	for _, rule := range c.QuotaRules {
		resp.QuotaRules = append(resp.QuotaRules, ruleRequest{
			ContactField: rule.ContactField,
			Operator:     string(rule.Operator),
			Value:        rule.Value,
			Limit:        rule.Limit,
		})
	}
	resp.CreatedAt = c.CreatedAt
	resp.UpdatedAt = c.UpdatedAt
	return resp
}

func (h *CampaignsHandler) create(c *fiber.Ctx) error {
	var body campaignRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}
	created, err := h.campaigns.Create(c.UserContext(), body.toDomain(uuid.Nil))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignsHandler) get(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	found, err := h.campaigns.Get(c.UserContext(), campaignID)
	if err != nil {
		return err
	}
	return c.JSON(toCampaignResponse(found))
}

func (h *CampaignsHandler) update(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	var body campaignRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}
	updated, err := h.campaigns.Update(c.UserContext(), body.toDomain(campaignID))
	if err != nil {
		return err
	}
	return c.JSON(toCampaignResponse(updated))
}

func (h *CampaignsHandler) setActive(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}
	if err := h.campaigns.SetActive(c.UserContext(), campaignID, body.Active); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignsHandler) list(c *fiber.Ctx) error {
	var afterID *uuid.UUID
	if after := c.Query("after"); after != "" {
		id, err := uuid.Parse(after)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "invalid after cursor")
		}
		afterID = &id
	}
	campaigns, err := h.campaigns.List(c.UserContext(), afterID, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	out := make([]campaignResponse, 0, len(campaigns))
	for _, item := range campaigns {
		out = append(out, toCampaignResponse(item))
	}
	return c.JSON(fiber.Map{"campaigns": out})
}

func (h *CampaignsHandler) assignAgents(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	var body struct {
		AgentIDs []uuid.UUID `json:"agentIds"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}
	if err := h.campaigns.AssignAgents(c.UserContext(), campaignID, body.AgentIDs); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignsHandler) recycle(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	var body struct {
		QualificationID uuid.UUID `json:"qualificationId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}
	count, err := h.disposition.Recycle(c.UserContext(), campaignID, body.QualificationID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"recycled": count})
}

func (h *CampaignsHandler) listHistory(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}

	var pagingState []byte
	if cursor := c.Query("cursor"); cursor != "" {
		pagingState, err = base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "invalid cursor")
		}
	}

	records, nextState, err := h.history.ListByCampaign(c.UserContext(), campaignID, c.QueryInt("limit", 100), pagingState)
	if err != nil {
		return err
	}

	out := make([]fiber.Map, 0, len(records))
	for _, record := range records {
		entry := fiber.Map{
			"contactId":  record.ContactID,
			"agentId":    record.AgentID,
			"event":      record.Event,
			"occurredAt": record.OccurredAt,
		}
		if record.QualificationID != nil {
			entry["qualificationId"] = *record.QualificationID
		}
		out = append(out, entry)
	}

	resp := fiber.Map{"records": out}
	if len(nextState) > 0 {
		resp["cursor"] = base64.StdEncoding.EncodeToString(nextState)
	}
	return c.JSON(resp)
}
