// Package memory provides an in-process implementation of the progression
// stores. It backs STORE_DRIVER=memory for local runs and is the fake used by
// application and transport tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
)

// Operation names accepted by FailOn.
const (
	OpFetchPosts        = "fetch_posts"
	OpFetchExperience   = "fetch_experience"
	OpFetchCatalog      = "fetch_catalog"
	OpFetchUserProgress = "fetch_user_progress"
	OpUpsertProgress    = "upsert_progress"
	OpUpsertExperience  = "upsert_experience"
	OpResetUser         = "reset_user"
)

type progressKey struct {
	userID        string
	achievementID string
}

// Store keeps posts, experience, catalog and progress in maps guarded by one
// RWMutex. Every read returns copies.
type Store struct {
	mu sync.RWMutex

	posts      map[string][]achievement.Post
	experience map[string]*progression.ExperienceRecord
	catalog    map[string]achievement.Definition
	progress   map[progressKey]achievement.UserAchievementProgress
	xpEvents   []progression.XPEvent

	failures        map[string]error
	failAchievement map[string]error
	progressWrites  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		posts:           make(map[string][]achievement.Post),
		experience:      make(map[string]*progression.ExperienceRecord),
		catalog:         make(map[string]achievement.Definition),
		progress:        make(map[progressKey]achievement.UserAchievementProgress),
		failures:        make(map[string]error),
		failAchievement: make(map[string]error),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Fault injection
// ─────────────────────────────────────────────────────────────────────────────

// FailOn makes every call of op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// FailUpsertFor makes UpsertProgress fail for one achievement id.
func (s *Store) FailUpsertFor(achievementID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failAchievement, achievementID)
		return
	}
	s.failAchievement[achievementID] = err
}

// ProgressWrites returns how many progress upserts were applied.
func (s *Store) ProgressWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progressWrites
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

// ─────────────────────────────────────────────────────────────────────────────
// Posts (seeded by the blog application or tests)
// ─────────────────────────────────────────────────────────────────────────────

// PutPost inserts or replaces a post by ID.
func (s *Store) PutPost(p achievement.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	posts := s.posts[p.AuthorID]
	for i := range posts {
		if posts[i].ID == p.ID {
			posts[i] = p
			return
		}
	}
	s.posts[p.AuthorID] = append(posts, p)
}

// DeletePost removes a post.
func (s *Store) DeletePost(authorID, postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := s.posts[authorID]
	for i := range posts {
		if posts[i].ID == postID {
			s.posts[authorID] = append(posts[:i], posts[i+1:]...)
			return
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// achievement.StatsProvider
// ─────────────────────────────────────────────────────────────────────────────

// FetchPosts implements achievement.StatsProvider.
func (s *Store) FetchPosts(ctx context.Context, userID string) ([]achievement.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OpFetchPosts); err != nil {
		return nil, err
	}
	return append([]achievement.Post(nil), s.posts[userID]...), nil
}

// FetchExperience implements achievement.StatsProvider.
func (s *Store) FetchExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error) {
	return s.GetExperience(ctx, userID)
}

// FetchCatalog implements achievement.StatsProvider.
func (s *Store) FetchCatalog(ctx context.Context) ([]achievement.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OpFetchCatalog); err != nil {
		return nil, err
	}

	defs := make([]achievement.Definition, 0, len(s.catalog))
	for _, d := range s.catalog {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// FetchUserProgress implements achievement.StatsProvider.
func (s *Store) FetchUserProgress(ctx context.Context, userID string) ([]achievement.UserAchievementProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OpFetchUserProgress); err != nil {
		return nil, err
	}

	var rows []achievement.UserAchievementProgress
	for k, row := range s.progress {
		if k.userID == userID {
			rows = append(rows, copyProgress(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AchievementID < rows[j].AchievementID })
	return rows, nil
}

// UpsertProgress implements achievement.StatsProvider. A completed row is
// never overwritten, matching the Postgres conflict clause; such a call
// reports written = false.
func (s *Store) UpsertProgress(ctx context.Context, row achievement.UserAchievementProgress) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpsertProgress); err != nil {
		return false, err
	}
	if err := s.failAchievement[row.AchievementID]; err != nil {
		return false, err
	}

	key := progressKey{userID: row.UserID, achievementID: row.AchievementID}
	if existing, ok := s.progress[key]; ok && existing.Completed {
		return false, nil
	}
	s.progress[key] = copyProgress(row)
	s.progressWrites++
	return true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// progression.ExperienceRepository
// ─────────────────────────────────────────────────────────────────────────────

// GetExperience implements progression.ExperienceRepository.
func (s *Store) GetExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OpFetchExperience); err != nil {
		return nil, err
	}
	return s.experience[userID].Clone(), nil
}

// UpsertExperience implements progression.ExperienceRepository.
func (s *Store) UpsertExperience(ctx context.Context, record *progression.ExperienceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpsertExperience); err != nil {
		return err
	}
	s.experience[record.UserID] = record.Clone()
	return nil
}

// ApplyExperience implements progression.ExperienceRepository.
func (s *Store) ApplyExperience(
	ctx context.Context,
	userID string,
	now time.Time,
	fn func(*progression.ExperienceRecord) error,
) (*progression.ExperienceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpsertExperience); err != nil {
		return nil, err
	}

	rec := s.experience[userID].Clone()
	if rec == nil {
		rec = progression.NewExperienceRecord(userID, now)
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	s.experience[userID] = rec.Clone()
	return rec, nil
}

// AppendXPEvent implements progression.ExperienceRepository.
func (s *Store) AppendXPEvent(ctx context.Context, event progression.XPEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xpEvents = append(s.xpEvents, event)
	return nil
}

// XPEvents returns the audit rows for a user in insertion order.
func (s *Store) XPEvents(userID string) []progression.XPEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progression.XPEvent
	for _, e := range s.xpEvents {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ResetUser implements progression.ExperienceRepository.
func (s *Store) ResetUser(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpResetUser); err != nil {
		return err
	}

	if rec, ok := s.experience[userID]; ok {
		rec.Reset(now)
	}
	for k := range s.progress {
		if k.userID == userID {
			delete(s.progress, k)
		}
	}
	return nil
}

// ListStaleExperience implements progression.ExperienceRepository.
func (s *Store) ListStaleExperience(ctx context.Context, limit int) ([]*progression.ExperienceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*progression.ExperienceRecord
	for _, rec := range s.experience {
		if rec.Stale() {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// achievement.CatalogRepository / achievement.ActivityFeed
// ─────────────────────────────────────────────────────────────────────────────

// UpsertDefinitions implements achievement.CatalogRepository.
func (s *Store) UpsertDefinitions(ctx context.Context, defs []achievement.Definition) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range defs {
		s.catalog[d.ID] = d
	}
	return len(defs), nil
}

// ListActiveAuthors implements achievement.ActivityFeed.
func (s *Store) ListActiveAuthors(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var authors []string
	for author, posts := range s.posts {
		for _, p := range posts {
			if !p.UpdatedAt.Before(since) {
				authors = append(authors, author)
				break
			}
		}
	}
	sort.Strings(authors)
	if limit > 0 && len(authors) > limit {
		authors = authors[:limit]
	}
	return authors, nil
}

// Ping always succeeds; it lets the store stand in for a database health check.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyProgress(row achievement.UserAchievementProgress) achievement.UserAchievementProgress {
	if row.CompletedAt != nil {
		t := *row.CompletedAt
		row.CompletedAt = &t
	}
	return row
}
