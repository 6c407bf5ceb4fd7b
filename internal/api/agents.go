package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/agentstate"
	"github.com/acme/campaign-dialer/internal/service/disposition"
	"github.com/acme/campaign-dialer/internal/service/distribution"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// AgentsHandler exposes agent-facing operations: presence, campaign opt-in,
// pulling work and qualifying it.
type AgentsHandler struct {
	distribution *distribution.Service
	disposition  *disposition.Service
	states       *agentstate.Machine
}

// NewAgentsHandler wires the agent routes.
func NewAgentsHandler(dist *distribution.Service, disp *disposition.Service, states *agentstate.Machine) *AgentsHandler {
	return &AgentsHandler{distribution: dist, disposition: disp, states: states}
}

// Register mounts the agent routes.
func (h *AgentsHandler) Register(app *fiber.App) {
	group := app.Group("/api/v1/agents/:agentID")
	group.Get("/state", h.getState)
	group.Put("/status", h.setStatus)
	group.Put("/dialing-campaign", h.selectDialingCampaign)
	group.Post("/next-contact", h.nextContact)
	group.Post("/on-call", h.markOnCall)
	group.Post("/wrap-up/finish", h.finishWrapUp)
	group.Post("/qualify", h.qualify)
	group.Post("/force-logout", h.forceLogout)
}

type agentStateResponse struct {
	AgentID                 uuid.UUID  `json:"agentId"`
	Status                  string     `json:"status"`
	CurrentContactID        *uuid.UUID `json:"currentContactId,omitempty"`
	CurrentCampaignID       *uuid.UUID `json:"currentCampaignId,omitempty"`
	ActiveDialingCampaignID *uuid.UUID `json:"activeDialingCampaignId,omitempty"`
	WrapUpDeadline          *time.Time `json:"wrapUpDeadline,omitempty"`
}

func toAgentStateResponse(state *domain.AgentCallState) agentStateResponse {
	return agentStateResponse{
		AgentID:                 state.AgentID,
		Status:                  string(state.Status),
		CurrentContactID:        state.CurrentContactID,
		CurrentCampaignID:       state.CurrentCampaignID,
		ActiveDialingCampaignID: state.ActiveDialingCampaignID,
		WrapUpDeadline:          state.WrapUpDeadline,
	}
}

func (h *AgentsHandler) getState(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	state, err := h.states.Get(c.UserContext(), agentID)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) setStatus(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
		Force  bool   `json:"force"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}

	var state *domain.AgentCallState
	if body.Force {
		state, err = h.states.ForceStatus(c.UserContext(), agentID, domain.AgentStatus(body.Status))
	} else {
		state, err = h.states.SetStatus(c.UserContext(), agentID, domain.AgentStatus(body.Status))
	}
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) selectDialingCampaign(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	var body struct {
		CampaignID *uuid.UUID `json:"campaignId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}

	state, err := h.states.SelectDialingCampaign(c.UserContext(), agentID, body.CampaignID)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) nextContact(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	assignment, err := h.distribution.RequestNextContact(c.UserContext(), agentID)
	if err != nil {
		return err
	}
	if assignment == nil {
		// Nothing to serve: empty pools, or an agent not ready to receive.
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(fiber.Map{
		"contact":  toContactResponse(assignment.Contact),
		"campaign": toCampaignResponse(assignment.Campaign),
		"state":    toAgentStateResponse(assignment.State),
	})
}

func (h *AgentsHandler) markOnCall(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	state, err := h.states.MarkOnCall(c.UserContext(), agentID)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) finishWrapUp(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	state, err := h.states.FinishWrapUp(c.UserContext(), agentID)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) qualify(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	var body struct {
		ContactID       uuid.UUID `json:"contactId"`
		QualificationID uuid.UUID `json:"qualificationId"`
		Callback        *struct {
			ScheduledAt time.Time `json:"scheduledAt"`
			Note        string    `json:"note"`
		} `json:"callback"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}

	var callback *disposition.CallbackRequest
	if body.Callback != nil {
		callback = &disposition.CallbackRequest{
			ScheduledAt: body.Callback.ScheduledAt,
			Note:        body.Callback.Note,
		}
	}

	state, err := h.disposition.Qualify(c.UserContext(), agentID, body.ContactID, body.QualificationID, callback)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}

func (h *AgentsHandler) forceLogout(c *fiber.Ctx) error {
	agentID, err := parseID(c, "agentID")
	if err != nil {
		return err
	}
	state, err := h.disposition.ForceLogout(c.UserContext(), agentID)
	if err != nil {
		return err
	}
	return c.JSON(toAgentStateResponse(state))
}
