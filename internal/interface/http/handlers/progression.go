package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/application/command"
	"github.com/inkquest/inkquest/internal/application/query"
	"github.com/inkquest/inkquest/internal/application/saga"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION API
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator runs evaluation passes, synchronously or in the background.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string) (*saga.EvaluationResult, error)
	Trigger(userID string)
}

// ProgressionAPI serves the /api/v1/users endpoints.
type ProgressionAPI struct {
	GetLevel         *query.GetLevelHandler
	ListAchievements *query.ListAchievementsHandler
	AwardXP          *command.AwardXPHandler
	ResetStats       *command.ResetStatsHandler
	Evaluator        Evaluator
}

// AwardRequest is the body of POST /users/:userID/xp. Either Action or
// Category with Amount must be set.
type AwardRequest struct {
	Action   string                 `json:"action"`
	Category progression.XPCategory `json:"category"`
	Amount   int64                  `json:"amount"`
	Reason   string                 `json:"reason"`
}

// AwardResponse is the level view after an award.
type AwardResponse struct {
	*query.LevelDTO
	Awarded   int64 `json:"awarded"`
	LeveledUp bool  `json:"leveled_up"`
}

// Register mounts the routes on r.
func (api *ProgressionAPI) Register(r fiber.Router, admin fiber.Handler) {
	users := r.Group("/users/:userID")
	users.Get("/level", api.getLevel)
	users.Get("/achievements", api.listAchievements)
	users.Post("/xp", api.awardXP)
	users.Post("/evaluate", api.evaluate)

	r.Post("/admin/users/:userID/reset", admin, api.resetStats)
}

func (api *ProgressionAPI) getLevel(c *fiber.Ctx) error {
	dto, err := api.GetLevel.Handle(c.UserContext(), query.GetLevelQuery{
		UserID:    c.Params("userID"),
		SkipCache: c.Query("fresh") == "true",
	})
	if err != nil {
		return err
	}
	return c.JSON(dto)
}

func (api *ProgressionAPI) listAchievements(c *fiber.Ctx) error {
	list, err := api.ListAchievements.Handle(c.UserContext(), query.ListAchievementsQuery{
		UserID:        c.Params("userID"),
		OnlyCompleted: c.Query("completed") == "true",
	})
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (api *ProgressionAPI) awardXP(c *fiber.Ctx) error {
	var req AwardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	userID := c.Params("userID")
	requestID, _ := c.Locals("requestid").(string)

	result, err := api.AwardXP.Handle(c.UserContext(), command.AwardXPCommand{
		UserID:        userID,
		Action:        req.Action,
		Category:      req.Category,
		Amount:        req.Amount,
		Reason:        req.Reason,
		CorrelationID: requestID,
	})
	if err != nil {
		return err
	}

	level, err := api.GetLevel.Handle(c.UserContext(), query.GetLevelQuery{UserID: userID, SkipCache: true})
	if err != nil {
		return err
	}

	return c.JSON(AwardResponse{
		LevelDTO:  level,
		Awarded:   result.Awarded,
		LeveledUp: result.LeveledUp,
	})
}

func (api *ProgressionAPI) evaluate(c *fiber.Ctx) error {
	userID := c.Params("userID")

	if c.Query("wait") == "true" {
		result, err := api.Evaluator.Evaluate(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(result)
	}

	if _, err := uuid.Parse(userID); err != nil {
		return shared.ErrInvalidUserID
	}
	api.Evaluator.Trigger(userID)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "scheduled",
		"user_id": userID,
	})
}

func (api *ProgressionAPI) resetStats(c *fiber.Ctx) error {
	requestedBy := c.Get("X-Admin-User")
	if requestedBy == "" {
		requestedBy = c.IP()
	}

	result, err := api.ResetStats.Handle(c.UserContext(), command.ResetStatsCommand{
		UserID:      c.Params("userID"),
		RequestedBy: requestedBy,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}
