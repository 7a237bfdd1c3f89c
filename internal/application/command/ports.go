// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

// LevelCacheInvalidator drops cached level views after a write.
type LevelCacheInvalidator interface {
	InvalidateLevel(ctx context.Context, userID string) error
}

// EvaluationTrigger schedules a fire-and-forget achievement evaluation.
type EvaluationTrigger interface {
	Trigger(userID string)
}

// validateUserID checks that the id is a UUID, which is what the blog's
// auth backend issues.
func validateUserID(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return shared.ErrInvalidUserID
	}
	return nil
}
