package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error to an HTTP status through the domain error kinds.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, shared.ErrUnknownXPAction):
		return fiber.StatusBadRequest
	case shared.IsValidation(err):
		return fiber.StatusBadRequest
	case shared.IsUnauthorized(err):
		return fiber.StatusUnauthorized
	case shared.IsNotFound(err):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler is the fiber.Config ErrorHandler. Internal errors are logged
// and replaced with a generic message.
func ErrorHandler(base *slog.Logger) fiber.ErrorHandler {
	if base == nil {
		base = slog.Default()
	}

	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		requestID, _ := c.Locals("requestid").(string)

		msg := err.Error()
		if status >= fiber.StatusInternalServerError {
			base.Error("request failed",
				"request_id", requestID,
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
			msg = "internal server error"
		}

		return c.Status(status).JSON(ErrorResponse{Error: msg, RequestID: requestID})
	}
}
