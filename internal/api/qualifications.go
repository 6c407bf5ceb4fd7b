package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// QualificationsHandler exposes the qualification catalogue.
type QualificationsHandler struct {
	qualifications repository.QualificationRepository
}

// NewQualificationsHandler wires the qualification routes.
func NewQualificationsHandler(qualifications repository.QualificationRepository) *QualificationsHandler {
	return &QualificationsHandler{qualifications: qualifications}
}

// Register mounts the qualification routes.
func (h *QualificationsHandler) Register(app *fiber.App) {
	app.Get("/api/v1/qualifications", h.list)
}

// list returns the standard qualifications plus, when groupId is given, the
// ones scoped to that group.
func (h *QualificationsHandler) list(c *fiber.Ctx) error {
	var groupID *uuid.UUID
	if raw := c.Query("groupId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "invalid groupId")
		}
		groupID = &id
	}

	qualifications, err := h.qualifications.List(c.UserContext(), groupID)
	if err != nil {
		return err
	}

	out := make([]fiber.Map, 0, len(qualifications))
	for _, q := range qualifications {
		entry := fiber.Map{
			"id":               q.ID,
			"label":            q.Label,
			"type":             string(q.Type),
			"scheduleCallback": q.ScheduleCallback,
		}
		if q.GroupID != nil {
			entry["groupId"] = *q.GroupID
		}
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"qualifications": out})
}
