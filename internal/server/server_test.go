package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphctl/ralph/internal/agent"
	"github.com/ralphctl/ralph/internal/analyzer"
	"github.com/ralphctl/ralph/internal/checkpoint"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/loop"
	"github.com/ralphctl/ralph/internal/memory"
	"github.com/ralphctl/ralph/internal/models"
	"github.com/ralphctl/ralph/internal/state"
	"github.com/ralphctl/ralph/internal/testutil"
)

// okExecutor completes every attempt immediately.
type okExecutor struct{}

func (okExecutor) Execute(ctx context.Context, req agent.Request) agent.Result {
	return agent.Result{Success: true, Outcome: "done"}
}

// parkedExecutor holds every attempt until the test server shuts down,
// keeping loops in running status.
type parkedExecutor struct{}

func (parkedExecutor) Execute(ctx context.Context, req agent.Request) agent.Result {
	<-ctx.Done()
	return agent.Result{Success: false, Outcome: "attempt cancelled", Err: ctx.Err()}
}

// noopCommitter satisfies the checkpoint interface for API tests.
type noopCommitter struct{}

func (noopCommitter) Commit(ctx context.Context, workDir, branch, message string) (*checkpoint.Result, error) {
	return &checkpoint.Result{Committed: false, Message: message}, nil
}

type testAPI struct {
	srv *httptest.Server
	env *testutil.TestDBEnv
	reg *loop.Registry
}

func newTestAPI(t *testing.T, exec agent.Executor) *testAPI {
	t.Helper()

	env := testutil.NewTestDBEnv(t)
	t.Cleanup(env.Close)

	builder := learn.NewBuilder(env.MistakeRepo, memory.NewLoader(t.TempDir()))
	reg := loop.NewRegistry(loop.Options{
		Loops:        env.LoopRepo,
		Mistakes:     env.MistakeRepo,
		Guard:        state.NewGuard(env.LoopRepo),
		Analyzer:     analyzer.NewHeuristic(),
		Builder:      builder,
		Executor:     exec,
		Committer:    noopCommitter{},
		ProjectRoot:  t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(reg.Shutdown)

	handler, err := New(Config{
		Registry:   reg,
		Mistakes:   env.MistakeRepo,
		Dismissals: env.DismissalRepo,
		Builder:    builder,
		Store:      env.DB,
		BasePath:   "/v0",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, env: env, reg: reg}
}

func (a *testAPI) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

// errorCode digs the code out of the error envelope.
func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope), "body: %s", body)
	return envelope.Error.Code
}

func (a *testAPI) waitForStatus(t *testing.T, loopID string, want models.LoopStatus) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := a.env.LoopRepo.Get(context.Background(), loopID)
		require.NoError(t, err)
		if got.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("loop %s never reached %s", loopID, want)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	resp, body := api.request(t, http.MethodGet, "/v0/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
}

func TestStartLoop(t *testing.T) {
	api := newTestAPI(t, parkedExecutor{})

	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops",
		map[string]string{"prompt": "Add user authentication with JWT tokens"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	var created models.Loop
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "proj-1", created.ProjectID)
	assert.Equal(t, models.LoopStatusRunning, created.Status)
	require.NotNil(t, created.QualityScore)
	assert.Equal(t, 72, *created.QualityScore)

	// A second loop on the same project conflicts.
	resp, body = api.request(t, http.MethodPost, "/v0/projects/proj-1/loops",
		map[string]string{"prompt": "Another task"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "project_busy", errorCode(t, body))
}

func TestStartLoopEmptyPrompt(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops",
		map[string]string{"prompt": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, body))

	// No loop row was created.
	loops, err := api.env.LoopRepo.ListByProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Empty(t, loops)
}

func TestStartPRDLoop(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	plan := models.PlanDocument{
		Name: "rollout",
		Stories: []models.Story{
			{ID: "s1", Title: "First"},
			{ID: "s2", Title: "Second"},
		},
	}
	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops/prd", plan)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	var created models.Loop
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, models.LoopModePRD, created.Mode)
	assert.Equal(t, 2, created.TotalStories)

	api.waitForStatus(t, created.ID, models.LoopStatusCompleted)
}

func TestStartPRDLoopInvalidPlan(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	tests := []struct {
		name string
		plan models.PlanDocument
	}{
		{"unnamed", models.PlanDocument{Stories: []models.Story{{ID: "s1", Title: "A"}}}},
		{"no stories", models.PlanDocument{Name: "empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops/prd", tt.plan)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid_plan", errorCode(t, body))
		})
	}

	loops, err := api.env.LoopRepo.ListByProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Empty(t, loops)
}

func TestControlRoutes(t *testing.T) {
	api := newTestAPI(t, parkedExecutor{})

	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops",
		map[string]string{"prompt": "long running work"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Loop
	require.NoError(t, json.Unmarshal(body, &created))

	// Pause, then resume.
	resp, body = api.request(t, http.MethodPost, "/v0/loops/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var status struct {
		ID     string            `json:"id"`
		Status models.LoopStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.LoopStatusPaused, status.Status)

	// Pausing again is an invalid transition.
	resp, body = api.request(t, http.MethodPost, "/v0/loops/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", errorCode(t, body))

	resp, body = api.request(t, http.MethodPost, "/v0/loops/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.LoopStatusRunning, status.Status)

	// Kill, then kill again.
	resp, body = api.request(t, http.MethodPost, "/v0/loops/"+created.ID+"/kill", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.LoopStatusFailed, status.Status)

	resp, body = api.request(t, http.MethodPost, "/v0/loops/"+created.ID+"/kill", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_killable", errorCode(t, body))
}

func TestControlRoutesUnknownLoop(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	for _, action := range []string{"pause", "resume", "kill"} {
		resp, body := api.request(t, http.MethodPost, "/v0/loops/no-such-loop/"+action, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, "action %s", action)
		assert.Equal(t, "not_found", errorCode(t, body))
	}
}

func TestListLoops(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/loops",
		map[string]string{"prompt": "first task"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Loop
	require.NoError(t, json.Unmarshal(body, &created))
	api.waitForStatus(t, created.ID, models.LoopStatusCompleted)

	resp, body = api.request(t, http.MethodGet, "/v0/projects/proj-1/loops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loops []models.Loop
	require.NoError(t, json.Unmarshal(body, &loops))
	require.Len(t, loops, 1)
	assert.Equal(t, created.ID, loops[0].ID)
}

func TestMistakesAndContext(t *testing.T) {
	api := newTestAPI(t, okExecutor{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, api.env.MistakeRepo.Create(ctx, &models.Mistake{
			ProjectID:   "proj-1",
			Type:        models.MistakeTypeImplementation,
			Description: fmt.Sprintf("mistake %d", i),
		}))
	}

	resp, body := api.request(t, http.MethodGet, "/v0/projects/proj-1/mistakes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mistakes []models.Mistake
	require.NoError(t, json.Unmarshal(body, &mistakes))
	require.Len(t, mistakes, 5)
	assert.Equal(t, "mistake 5", mistakes[0].Description)

	resp, body = api.request(t, http.MethodGet, "/v0/projects/proj-1/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loopCtx models.LoopContext
	require.NoError(t, json.Unmarshal(body, &loopCtx))
	assert.Len(t, loopCtx.RecentMistakes, 3)
	assert.Equal(t, 2, loopCtx.OverflowCount)
}

func TestDismissals(t *testing.T) {
	api := newTestAPI(t, okExecutor{})

	resp, body := api.request(t, http.MethodPost, "/v0/projects/proj-1/recommendations/dismissals",
		map[string]any{"recommendation_id": "rec-1", "permanent": false})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	resp, body = api.request(t, http.MethodGet, "/v0/projects/proj-1/recommendations/dismissals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active []models.Dismissal
	require.NoError(t, json.Unmarshal(body, &active))
	require.Len(t, active, 1)
	assert.Equal(t, "rec-1", active[0].RecommendationID)

	// Clearing it removes it from the active list.
	resp, _ = api.request(t, http.MethodDelete, "/v0/projects/proj-1/recommendations/dismissals/rec-1", nil)
	require.Less(t, resp.StatusCode, 300)

	resp, body = api.request(t, http.MethodGet, "/v0/projects/proj-1/recommendations/dismissals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active = nil
	require.NoError(t, json.Unmarshal(body, &active))
	assert.Empty(t, active)

	// Clearing an unknown dismissal is a 404.
	resp, body = api.request(t, http.MethodDelete, "/v0/projects/proj-1/recommendations/dismissals/rec-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestDismissalExpiryAndSweep(t *testing.T) {
	api := newTestAPI(t, okExecutor{})
	ctx := context.Background()

	require.NoError(t, api.env.DismissalRepo.Upsert(ctx, &models.Dismissal{
		ProjectID:        "proj-1",
		RecommendationID: "rec-old",
	}))
	require.NoError(t, api.env.DismissalRepo.Upsert(ctx, &models.Dismissal{
		ProjectID:        "proj-1",
		RecommendationID: "rec-perm",
		Permanent:        true,
	}))

	// Age the non-permanent dismissal past its TTL.
	aged := time.Now().Add(-25 * time.Hour).UTC().Format(time.RFC3339)
	_, err := api.env.DB.ExecContext(ctx,
		`UPDATE dismissals SET dismissed_at = ? WHERE recommendation_id = ?`, aged, "rec-old")
	require.NoError(t, err)

	// Expired rows are filtered on read.
	resp, body := api.request(t, http.MethodGet, "/v0/projects/proj-1/recommendations/dismissals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active []models.Dismissal
	require.NoError(t, json.Unmarshal(body, &active))
	require.Len(t, active, 1)
	assert.Equal(t, "rec-perm", active[0].RecommendationID)

	// The sweeper deletes them for good; permanent rows survive.
	sweeper := NewSweeper(api.env.DismissalRepo, time.Hour)
	require.NoError(t, sweeper.RunSweep(ctx))

	_, err = api.env.DismissalRepo.Get(ctx, "proj-1", "rec-old")
	assert.Error(t, err)
	_, err = api.env.DismissalRepo.Get(ctx, "proj-1", "rec-perm")
	assert.NoError(t, err)
}
