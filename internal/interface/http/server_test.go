package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkquest/inkquest/internal/application/command"
	"github.com/inkquest/inkquest/internal/application/query"
	"github.com/inkquest/inkquest/internal/application/saga"
	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/memory"
	"github.com/inkquest/inkquest/internal/interface/http/handlers"
)

const (
	userID   = "6a1d3b52-8f0e-4c7a-9d21-3e5f7b9c1a20"
	adminKey = "correct horse battery staple"
)

type testEnv struct {
	server *Server
	store  *memory.Store
	flow   *saga.AchievementFlowSaga
	health *handlers.CompositeHealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()

	rules, err := progression.NewRuleBook(progression.DefaultXPRules())
	require.NoError(t, err)

	flow := saga.NewAchievementFlowSaga(store, nil, log, saga.DefaultAchievementFlowConfig())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = flow.Close(ctx)
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	awardConfig := command.DefaultAwardXPConfig()
	awardConfig.AutoEvaluate = false

	health := handlers.NewCompositeHealthChecker("test")
	server := NewServer(DefaultConfig(), Dependencies{
		API: handlers.ProgressionAPI{
			GetLevel:         query.NewGetLevelHandler(store, nil, log),
			ListAchievements: query.NewListAchievementsHandler(store),
			AwardXP:          command.NewAwardXPHandler(store, rules, nil, nil, flow, log, awardConfig),
			ResetStats:       command.NewResetStatsHandler(store, nil, nil, log),
			Evaluator:        flow,
		},
		AdminKeyHash:  string(hash),
		HealthChecker: health,
		Logger:        log,
	})

	return &testEnv{server: server, store: store, flow: flow, health: health}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*nethttp.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.server.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (e *testEnv) seedCatalog(t *testing.T) {
	t.Helper()
	_, err := e.store.UpsertDefinitions(context.Background(), []achievement.Definition{
		{ID: "first-post", Name: "First Post", Category: achievement.CategoryWriting,
			ConditionType: "posts_count", ConditionValue: 1, Rarity: achievement.RarityCommon},
		{ID: "storyteller", Name: "Storyteller", Category: achievement.CategoryWriting,
			ConditionType: "posts_count", ConditionValue: 5, Rarity: achievement.RarityRare},
	})
	require.NoError(t, err)
	e.store.PutPost(achievement.Post{ID: "p1", AuthorID: userID, Status: achievement.PostStatusPublished})
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["healthy"])

	env.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })

	resp, body = env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy: postgres", body["message"])

	resp, body = env.do(t, "GET", "/ready", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", body["status"])
}

func TestGetLevelForNewUser(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/api/v1/users/"+userID+"/level", "", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["level"])
	assert.EqualValues(t, 0, body["total_xp"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAwardXPAcrossLevelBoundary(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/users/" + userID + "/xp"

	resp, body := env.do(t, "POST", path, `{"category":"writing","amount":90,"reason":"draft"}`, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["level"])
	assert.Equal(t, false, body["leveled_up"])

	resp, body = env.do(t, "POST", path, `{"category":"learning","amount":10}`, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["level"])
	assert.EqualValues(t, 100, body["total_xp"])
	assert.Equal(t, true, body["leveled_up"])
}

func TestAwardXPByAction(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/api/v1/users/"+userID+"/xp", `{"action":"post_published"}`, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 50, body["awarded"])
	assert.EqualValues(t, 50, body["total_xp"])
}

func TestAwardXPErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"invalid user id", "not-a-uuid", `{"category":"writing","amount":5}`, nethttp.StatusBadRequest},
		{"unknown category", userID, `{"category":"gardening","amount":5}`, nethttp.StatusBadRequest},
		{"zero amount", userID, `{"category":"writing","amount":0}`, nethttp.StatusBadRequest},
		{"over the cap", userID, `{"category":"writing","amount":10001}`, nethttp.StatusBadRequest},
		{"unknown action", userID, `{"action":"post_deleted"}`, nethttp.StatusBadRequest},
		{"malformed body", userID, `{"amount":`, nethttp.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, "POST", "/api/v1/users/"+tt.user+"/xp", tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStoreFailureIsInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn(memory.OpFetchExperience, errors.New("pool exhausted"))

	resp, body := env.do(t, "GET", "/api/v1/users/"+userID+"/level", "", nil)
	assert.Equal(t, nethttp.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", body["error"])
}

func TestEvaluateAndListAchievements(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalog(t)

	resp, body := env.do(t, "POST", "/api/v1/users/"+userID+"/evaluate?wait=true", "", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"first-post"}, body["completed"])
	assert.Equal(t, []any{"storyteller"}, body["progressed"])

	req := httptest.NewRequest("GET", "/api/v1/users/"+userID+"/achievements", nil)
	raw, err := env.server.App().Test(req, 5000)
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, nethttp.StatusOK, raw.StatusCode)

	var list []query.AchievementDTO
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&list))
	require.Len(t, list, 2)
	byID := map[string]query.AchievementDTO{}
	for _, a := range list {
		byID[a.ID] = a
	}
	assert.True(t, byID["first-post"].Completed)
	assert.Equal(t, int64(1), byID["storyteller"].Progress)
	assert.False(t, byID["storyteller"].Completed)
}

func TestEvaluateFireAndForget(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalog(t)

	resp, body := env.do(t, "POST", "/api/v1/users/"+userID+"/evaluate", "", nil)
	require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "scheduled", body["status"])

	assert.Eventually(t, func() bool {
		progress, err := env.store.FetchUserProgress(context.Background(), userID)
		return err == nil && len(progress) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = env.do(t, "POST", "/api/v1/users/nope/evaluate", "", nil)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestEvaluateAbortedReadsIsInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.store.FailOn(memory.OpFetchCatalog, errors.New("catalog table locked"))

	resp, _ := env.do(t, "POST", "/api/v1/users/"+userID+"/evaluate?wait=true", "", nil)
	assert.Equal(t, nethttp.StatusInternalServerError, resp.StatusCode)
	assert.Zero(t, env.store.ProgressWrites())
}

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/admin/users/" + userID + "/reset"

	_, _ = env.do(t, "POST", "/api/v1/users/"+userID+"/xp", `{"category":"writing","amount":400}`, nil)

	resp, body := env.do(t, "POST", path, "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, _ = env.do(t, "POST", path, "", map[string]string{handlers.AdminKeyHeader: "guess"})
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	resp, body = env.do(t, "POST", path, "", map[string]string{handlers.AdminKeyHeader: adminKey})
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 400, body["previous_xp"])
	assert.EqualValues(t, 3, body["previous_level"])

	_, body = env.do(t, "GET", "/api/v1/users/"+userID+"/level", "", nil)
	assert.EqualValues(t, 0, body["total_xp"])
}

func TestAdminResetWithoutConfiguredHash(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	server := NewServer(DefaultConfig(), Dependencies{
		API: handlers.ProgressionAPI{
			ResetStats: command.NewResetStatsHandler(store, nil, nil, log),
		},
		Logger: log,
	})

	req := httptest.NewRequest("POST", "/api/v1/admin/users/"+userID+"/reset", nil)
	req.Header.Set(handlers.AdminKeyHeader, adminKey)
	resp, err := server.App().Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, nethttp.StatusOK, handlers.StatusFor(nil))
	assert.Equal(t, nethttp.StatusInternalServerError, handlers.StatusFor(errors.New("boom")))
}
