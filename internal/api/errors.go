package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// newErrorHandler translates application errors into HTTP responses in one
// place; handlers just return errors.
func newErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, message := translateError(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
			message = "internal server error"
		}
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
}

func translateError(err error) (int, string) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiberErr.Message
	}

	switch {
	case apperrors.Is(err, apperrors.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case apperrors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound, err.Error()
	case apperrors.Is(err, apperrors.ErrConflict),
		apperrors.Is(err, apperrors.ErrInvalidTransition),
		apperrors.Is(err, apperrors.ErrContactHeld):
		return fiber.StatusConflict, err.Error()
	case apperrors.Is(err, apperrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable, err.Error()
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}
