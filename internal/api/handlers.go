package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// Pinger is anything with a liveness probe.
type Pinger func(ctx context.Context) error

// HealthHandler reports dependency health.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler wires the health endpoint with named dependency probes.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Register mounts the health route.
func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
}

func (h *HealthHandler) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := fiber.Map{}
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return c.Status(status).JSON(results)
}

// parseID reads a UUID path parameter, mapping parse failures to a
// validation error.
func parseID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrValidation, "invalid "+name)
	}
	return id, nil
}
