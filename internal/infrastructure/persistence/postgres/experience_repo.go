package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inkquest/inkquest/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIENCE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ExperienceRepository implements progression.ExperienceRepository for PostgreSQL.
type ExperienceRepository struct {
	conn *Connection
}

// NewExperienceRepository creates a new ExperienceRepository.
func NewExperienceRepository(conn *Connection) *ExperienceRepository {
	return &ExperienceRepository{conn: conn}
}

var _ progression.ExperienceRepository = (*ExperienceRepository)(nil)

const experienceColumns = `
	user_id::text, total_xp, current_level, xp_to_next_level,
	writing_xp, engagement_xp, consistency_xp, learning_xp,
	created_at, updated_at
`

// GetExperience returns the record, or (nil, nil) for a user without one.
func (r *ExperienceRepository) GetExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error) {
	query := `SELECT ` + experienceColumns + ` FROM user_experience WHERE user_id = $1`

	rec, err := scanExperience(r.conn.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get experience: %w", err)
	}
	return rec, nil
}

// UpsertExperience writes the whole record.
func (r *ExperienceRepository) UpsertExperience(ctx context.Context, rec *progression.ExperienceRecord) error {
	return upsertExperience(ctx, r.conn, rec)
}

// ApplyExperience locks the user's row (creating it if needed), applies fn
// and writes the result in one transaction. Concurrent awards for the same
// user serialize on the row lock.
func (r *ExperienceRepository) ApplyExperience(
	ctx context.Context,
	userID string,
	now time.Time,
	fn func(*progression.ExperienceRecord) error,
) (*progression.ExperienceRecord, error) {
	var result *progression.ExperienceRecord

	err := r.conn.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_experience (user_id, created_at, updated_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, now)
		if err != nil {
			return fmt.Errorf("failed to ensure experience row: %w", err)
		}

		rec, err := scanExperience(tx.QueryRow(ctx,
			`SELECT `+experienceColumns+` FROM user_experience WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return fmt.Errorf("failed to lock experience row: %w", err)
		}

		if err := fn(rec); err != nil {
			return err
		}

		if err := upsertExperience(ctx, tx, rec); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AppendXPEvent inserts an audit row.
func (r *ExperienceRepository) AppendXPEvent(ctx context.Context, ev progression.XPEvent) error {
	query := `
		INSERT INTO xp_events (id, user_id, category, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.conn.Exec(ctx, query, ev.ID, ev.UserID, string(ev.Category), ev.Amount, ev.Reason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append xp event: %w", err)
	}
	return nil
}

// ResetUser zeroes the experience row and deletes all progress rows.
func (r *ExperienceRepository) ResetUser(ctx context.Context, userID string, now time.Time) error {
	return r.conn.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE user_experience SET
				total_xp = 0,
				current_level = 1,
				xp_to_next_level = $2,
				writing_xp = 0,
				engagement_xp = 0,
				consistency_xp = 0,
				learning_xp = 0,
				updated_at = $3
			WHERE user_id = $1
		`, userID, progression.XPToNextLevel(0), now)
		if err != nil {
			return fmt.Errorf("failed to reset experience: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM user_achievements WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete achievement progress: %w", err)
		}
		return nil
	})
}

// staleExperienceQuery mirrors ExperienceRecord.Stale: either cached field
// may disagree with total_xp. numeric sqrt keeps the level boundary exact for
// large totals.
const staleExperienceQuery = `
	SELECT ` + experienceColumns + `
	FROM user_experience,
		LATERAL (SELECT floor(sqrt((total_xp / 100)::numeric))::bigint + 1 AS lvl) formula
	WHERE current_level <> formula.lvl
		OR xp_to_next_level <> formula.lvl * formula.lvl * 100 - total_xp
	ORDER BY updated_at
	LIMIT $1
`

// ListStaleExperience returns records whose cached level fields disagree
// with total_xp.
func (r *ExperienceRepository) ListStaleExperience(ctx context.Context, limit int) ([]*progression.ExperienceRecord, error) {
	rows, err := r.conn.Query(ctx, staleExperienceQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale experience: %w", err)
	}
	defer rows.Close()

	var out []*progression.ExperienceRecord
	for rows.Next() {
		rec, err := scanExperience(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experience: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func upsertExperience(ctx context.Context, q dbtx, rec *progression.ExperienceRecord) error {
	query := `
		INSERT INTO user_experience (
			user_id, total_xp, current_level, xp_to_next_level,
			writing_xp, engagement_xp, consistency_xp, learning_xp,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			current_level = EXCLUDED.current_level,
			xp_to_next_level = EXCLUDED.xp_to_next_level,
			writing_xp = EXCLUDED.writing_xp,
			engagement_xp = EXCLUDED.engagement_xp,
			consistency_xp = EXCLUDED.consistency_xp,
			learning_xp = EXCLUDED.learning_xp,
			updated_at = EXCLUDED.updated_at
	`

	_, err := q.Exec(ctx, query,
		rec.UserID,
		rec.TotalXP,
		rec.CurrentLevel,
		rec.XPToNextLevel,
		rec.WritingXP,
		rec.EngagementXP,
		rec.ConsistencyXP,
		rec.LearningXP,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert experience: %w", err)
	}
	return nil
}

func scanExperience(row pgx.Row) (*progression.ExperienceRecord, error) {
	var rec progression.ExperienceRecord
	err := row.Scan(
		&rec.UserID,
		&rec.TotalXP,
		&rec.CurrentLevel,
		&rec.XPToNextLevel,
		&rec.WritingXP,
		&rec.EngagementXP,
		&rec.ConsistencyXP,
		&rec.LearningXP,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
