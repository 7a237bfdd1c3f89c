package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkquest/inkquest/internal/domain/shared"
	"github.com/inkquest/inkquest/pkg/logger"
)

// AdminKeyHeader carries the plaintext admin key.
const AdminKeyHeader = "X-Admin-Key"

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN KEY MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// AdminKey admits requests whose X-Admin-Key matches the bcrypt hash. With an
// empty hash every request is rejected.
func AdminKey(hash string, log *slog.Logger) fiber.Handler {
	if log == nil {
		log = slog.Default()
	}
	hashed := []byte(hash)

	return func(c *fiber.Ctx) error {
		if len(hashed) == 0 {
			return shared.ErrAdminKeyNotConfigured
		}

		key := c.Get(AdminKeyHeader)
		if key == "" {
			return shared.ErrAdminKeyRejected
		}

		if err := bcrypt.CompareHashAndPassword(hashed, []byte(key)); err != nil {
			log.Warn("admin key rejected", "path", c.Path(), "ip", c.IP())
			return shared.ErrAdminKeyRejected
		}

		return c.Next()
	}
}

// HashAdminKey returns the bcrypt hash to put into ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// RequestLogger attaches a request-scoped logger to the user context and logs
// every request after it completes. It expects the requestid middleware to
// run first.
func RequestLogger(base *slog.Logger) fiber.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals("requestid").(string)

		ctx := logger.WithLogger(c.UserContext(), base.With("request_id", requestID))
		c.SetUserContext(ctx)

		err := c.Next()

		// The error handler has not run yet; report the status it will set.
		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFor(err)
		}

		base.Info("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
			"request_id", requestID,
		)
		return err
	}
}
