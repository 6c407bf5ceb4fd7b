package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/importer"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// ContactsHandler exposes contact import and lookup.
type ContactsHandler struct {
	importer *importer.Service
	contacts repository.ContactRepository
}

// NewContactsHandler wires the contact routes.
func NewContactsHandler(imp *importer.Service, contacts repository.ContactRepository) *ContactsHandler {
	return &ContactsHandler{importer: imp, contacts: contacts}
}

// Register mounts the contact routes.
func (h *ContactsHandler) Register(app *fiber.App) {
	app.Post("/api/v1/campaigns/:campaignID/contacts/import", h.importBatch)
	app.Get("/api/v1/contacts/:contactID", h.get)
}

type importRecordRequest struct {
	PhoneNumber  string            `json:"phoneNumber"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	PostalCode   string            `json:"postalCode"`
	CustomFields map[string]string `json:"customFields"`
}

func (h *ContactsHandler) importBatch(c *fiber.Ctx) error {
	campaignID, err := parseID(c, "campaignID")
	if err != nil {
		return err
	}
	var body struct {
		Records     []importRecordRequest `json:"records"`
		DedupFields []string              `json:"dedupFields"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid request body")
	}

	records := make([]importer.Record, 0, len(body.Records))
	for _, r := range body.Records {
		records = append(records, importer.Record{
			PhoneNumber:  r.PhoneNumber,
			FirstName:    r.FirstName,
			LastName:     r.LastName,
			PostalCode:   r.PostalCode,
			CustomFields: r.CustomFields,
		})
	}

	result, err := h.importer.Import(c.UserContext(), campaignID, records, body.DedupFields)
	if err != nil {
		return err
	}

	rejected := make([]fiber.Map, 0, len(result.Rejected))
	for _, r := range result.Rejected {
		rejected = append(rejected, fiber.Map{"row": r.Row, "reason": r.Reason})
	}
	return c.JSON(fiber.Map{
		"accepted": result.Accepted,
		"rejected": rejected,
	})
}

type contactResponse struct {
	ID           uuid.UUID         `json:"id"`
	CampaignID   uuid.UUID         `json:"campaignId"`
	PhoneNumber  string            `json:"phoneNumber"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	PostalCode   string            `json:"postalCode,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
}

func toContactResponse(contact *domain.Contact) contactResponse {
	return contactResponse{
		ID:           contact.ID,
		CampaignID:   contact.CampaignID,
		PhoneNumber:  contact.PhoneNumber,
		FirstName:    contact.FirstName,
		LastName:     contact.LastName,
		PostalCode:   contact.PostalCode,
		CustomFields: contact.CustomFields,
		Status:       string(contact.Status),
		CreatedAt:    contact.CreatedAt,
	}
}

func (h *ContactsHandler) get(c *fiber.Ctx) error {
	contactID, err := parseID(c, "contactID")
	if err != nil {
		return err
	}
	contact, err := h.contacts.Get(c.UserContext(), contactID)
	if err != nil {
		return err
	}
	return c.JSON(toContactResponse(contact))
}
