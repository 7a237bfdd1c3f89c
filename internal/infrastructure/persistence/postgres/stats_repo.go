package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPOSITORY
// Implements achievement.StatsProvider, achievement.CatalogRepository and
// achievement.ActivityFeed. Reads are retried on transient errors; retries
// share the caller's context, so they never outlive an evaluation timeout.
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository reads posts, catalog and progress and writes progress rows.
type StatsRepository struct {
	conn       *Connection
	experience *ExperienceRepository
	policy     retry.Policy
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection, experience *ExperienceRepository) *StatsRepository {
	return &StatsRepository{
		conn:       conn,
		experience: experience,
		policy:     retry.Database(IsTransient),
	}
}

var (
	_ achievement.StatsProvider     = (*StatsRepository)(nil)
	_ achievement.CatalogRepository = (*StatsRepository)(nil)
	_ achievement.ActivityFeed      = (*StatsRepository)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// FetchPosts returns every post of the user, drafts included.
func (r *StatsRepository) FetchPosts(ctx context.Context, userID string) ([]achievement.Post, error) {
	query := `
		SELECT id::text, author_id::text, status, likes, views, category, updated_at
		FROM posts
		WHERE author_id = $1
		ORDER BY created_at
	`

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]achievement.Post, error) {
		rows, err := r.conn.Query(ctx, query, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query posts: %w", err)
		}
		defer rows.Close()

		var posts []achievement.Post
		for rows.Next() {
			var p achievement.Post
			var status string
			if err := rows.Scan(&p.ID, &p.AuthorID, &status, &p.Likes, &p.Views, &p.Category, &p.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan post: %w", err)
			}
			p.Status = achievement.PostStatus(status)
			posts = append(posts, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate posts: %w", err)
		}
		return posts, nil
	})
}

// FetchExperience returns the experience record or (nil, nil).
func (r *StatsRepository) FetchExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error) {
	return retry.Value(ctx, r.policy, func(ctx context.Context) (*progression.ExperienceRecord, error) {
		return r.experience.GetExperience(ctx, userID)
	})
}

// FetchCatalog returns the whole catalog ordered by id.
func (r *StatsRepository) FetchCatalog(ctx context.Context) ([]achievement.Definition, error) {
	query := `
		SELECT id, name, description, icon, category, condition_type, condition_value,
			   reward_type, reward_data, rarity
		FROM achievements
		ORDER BY id
	`

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]achievement.Definition, error) {
		rows, err := r.conn.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog: %w", err)
		}
		defer rows.Close()

		var defs []achievement.Definition
		for rows.Next() {
			var d achievement.Definition
			var category, rarity string
			var rewardData []byte
			if err := rows.Scan(
				&d.ID, &d.Name, &d.Description, &d.Icon, &category,
				&d.ConditionType, &d.ConditionValue, &d.RewardType, &rewardData, &rarity,
			); err != nil {
				return nil, fmt.Errorf("failed to scan achievement: %w", err)
			}
			d.Category = achievement.Category(category)
			d.Rarity = achievement.Rarity(rarity)
			if len(rewardData) > 0 {
				d.RewardData = rewardData
			}
			defs = append(defs, d)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate catalog: %w", err)
		}
		return defs, nil
	})
}

// FetchUserProgress returns every progress row of the user.
func (r *StatsRepository) FetchUserProgress(ctx context.Context, userID string) ([]achievement.UserAchievementProgress, error) {
	query := `
		SELECT user_id::text, achievement_id, progress, completed, completed_at, updated_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY achievement_id
	`

	return retry.Value(ctx, r.policy, func(ctx context.Context) ([]achievement.UserAchievementProgress, error) {
		rows, err := r.conn.Query(ctx, query, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to query user progress: %w", err)
		}
		defer rows.Close()

		var out []achievement.UserAchievementProgress
		for rows.Next() {
			var p achievement.UserAchievementProgress
			if err := rows.Scan(&p.UserID, &p.AchievementID, &p.Progress, &p.Completed, &p.CompletedAt, &p.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan user progress: %w", err)
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate user progress: %w", err)
		}
		return out, nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// UpsertProgress writes a progress row keyed by (user_id, achievement_id).
// The conflict clause leaves completed rows untouched, so a racing pass can
// never move completed_at or progress of a frozen row. written is false when
// the row was already completed.
func (r *StatsRepository) UpsertProgress(ctx context.Context, row achievement.UserAchievementProgress) (bool, error) {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, progress, completed, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			progress = EXCLUDED.progress,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		WHERE user_achievements.completed = false
	`

	tag, err := r.conn.Exec(ctx, query,
		row.UserID,
		row.AchievementID,
		row.Progress,
		row.Completed,
		row.CompletedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert progress %s/%s: %w", row.UserID, row.AchievementID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertDefinitions writes catalog entries by id in one transaction.
func (r *StatsRepository) UpsertDefinitions(ctx context.Context, defs []achievement.Definition) (int, error) {
	if len(defs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO achievements (
			id, name, description, icon, category, condition_type, condition_value,
			reward_type, reward_data, rarity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			category = EXCLUDED.category,
			condition_type = EXCLUDED.condition_type,
			condition_value = EXCLUDED.condition_value,
			reward_type = EXCLUDED.reward_type,
			reward_data = EXCLUDED.reward_data,
			rarity = EXCLUDED.rarity
	`

	err := r.conn.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range defs {
			batch.Queue(query,
				d.ID, d.Name, d.Description, d.Icon, string(d.Category),
				d.ConditionType, d.ConditionValue, d.RewardType, nullableJSON(d.RewardData), string(d.Rarity),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert catalog: %w", err)
	}
	return len(defs), nil
}

// ListActiveAuthors returns authors whose posts changed since the given time,
// most recently active first.
func (r *StatsRepository) ListActiveAuthors(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := `
		SELECT author_id::text
		FROM posts
		WHERE updated_at >= $1
		GROUP BY author_id
		ORDER BY MAX(updated_at) DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active authors: %w", err)
	}
	defer rows.Close()

	var authors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, id)
	}
	return authors, rows.Err()
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
