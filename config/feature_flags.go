package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Feature names.
const (
	// Publish domain events to Redis channels inkquest:events:<type>
	FeatureEventsRedisFanout = "events.redis_fanout"
	// Read-through Redis cache for level views
	FeatureCacheLevel = "cache.level"
	// Scheduled jobs
	FeatureJobsEvaluationSweep = "jobs.evaluation_sweep"
	FeatureJobsLevelRepair     = "jobs.level_repair"
	// Schedule an evaluation after every XP award
	FeatureEvaluationAutoTrigger = "evaluation.auto_trigger"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle. RolloutPercent 0 is off, 100 is on for everyone.
type Feature struct {
	Name           string
	Description    string
	RolloutPercent int
}

// Enabled reports whether any user can see the feature.
func (f Feature) Enabled() bool { return f.RolloutPercent > 0 }

var knownFeatures = []Feature{
	{FeatureCacheLevel, "Cache level views in Redis", 100},
	{FeatureEvaluationAutoTrigger, "Evaluate achievements after each XP award", 100},
	{FeatureEventsRedisFanout, "Fan domain events out to Redis pub/sub", 100},
	{FeatureJobsEvaluationSweep, "Periodically re-evaluate recently active authors", 100},
	{FeatureJobsLevelRepair, "Periodically rewrite stale cached level fields", 100},
}

// FeatureFlags holds rollout percentages and per-user overrides. A user's
// bucket is a hash of feature name and user id, so the answer stays stable
// while the percentage is unchanged.
type FeatureFlags struct {
	mu        sync.RWMutex
	rollout   map[string]int
	overrides map[string]bool // "<feature>\x00<user>"
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		rollout:   make(map[string]int, len(knownFeatures)),
		overrides: make(map[string]bool),
	}
	for _, f := range knownFeatures {
		ff.rollout[f.Name] = f.RolloutPercent
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME>=true|false|<percent> on top of the
// defaults, e.g. FEATURE_CACHE_LEVEL=false or FEATURE_EVALUATION_AUTO_TRIGGER=25.
// Unparseable values are ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name := range ff.rollout {
		raw := os.Getenv(envKey(name))
		if raw == "" {
			continue
		}
		if p, err := parseRollout(raw); err == nil {
			ff.rollout[name] = p
		}
	}
	return ff
}

func parseRollout(raw string) (int, error) {
	if b, err := strconv.ParseBool(raw); err == nil {
		if b {
			return 100, nil
		}
		return 0, nil
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < 0 || p > 100 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRolloutPercent, raw)
	}
	return p, nil
}

// envKey maps "cache.level" to "FEATURE_CACHE_LEVEL".
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled asks about the feature as a whole; a partial rollout counts as on.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.rollout[name] > 0
}

// EnabledFor asks about one user: an override wins, then the rollout bucket.
func (ff *FeatureFlags) EnabledFor(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[overrideKey(name, userID)]; ok {
		return on
	}
	p, ok := ff.rollout[name]
	switch {
	case !ok || p <= 0:
		return false
	case p >= 100:
		return true
	}
	return bucket(name, userID) < p
}

func bucket(name, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

func overrideKey(name, userID string) string { return name + "\x00" + userID }

// SetUserOverride pins the feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.overrides[overrideKey(name, userID)] = enabled
}

// SetRolloutPercent changes the share of users that see the feature.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.rollout[name]; !ok {
		return ErrFeatureNotFound
	}
	ff.rollout[name] = percent
	return nil
}

func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }
func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }

// Snapshot returns every feature with its current rollout, sorted by name.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := slices.Clone(knownFeatures)
	for i := range out {
		out[i].RolloutPercent = ff.rollout[out[i].Name]
	}
	slices.SortFunc(out, func(a, b Feature) int { return strings.Compare(a.Name, b.Name) })
	return out
}
