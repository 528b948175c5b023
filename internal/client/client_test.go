package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphctl/ralph/internal/models"
)

func TestStartLoop(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Loop{
			ID:        "loop-1",
			ProjectID: "proj-1",
			Status:    models.LoopStatusRunning,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	created, err := c.StartLoop(context.Background(), "proj-1", "do the thing", "/src/app")
	require.NoError(t, err)

	assert.Equal(t, "/v0/projects/proj-1/loops", gotPath)
	assert.Equal(t, "do the thing", gotBody["prompt"])
	assert.Equal(t, "/src/app", gotBody["work_dir"])
	assert.Equal(t, "loop-1", created.ID)
	assert.Equal(t, models.LoopStatusRunning, created.Status)
}

func TestControlActions(t *testing.T) {
	var gotPaths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(ControlResult{ID: "loop-1", Status: models.LoopStatusPaused})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Pause(context.Background(), "loop-1")
	require.NoError(t, err)
	assert.Equal(t, models.LoopStatusPaused, result.Status)

	_, err = c.Resume(context.Background(), "loop-1")
	require.NoError(t, err)
	_, err = c.Kill(context.Background(), "loop-1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/v0/loops/loop-1/pause",
		"/v0/loops/loop-1/resume",
		"/v0/loops/loop-1/kill",
	}, gotPaths)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"project_busy","message":"project already has an active loop"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.StartLoop(context.Background(), "proj-1", "task", "")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "project_busy", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "project_busy")
}

func TestAPIErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Health(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestStartPlanQueryAndBody(t *testing.T) {
	var gotQuery string
	var gotPlan models.PlanDocument

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPlan))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Loop{ID: "loop-2", Mode: models.LoopModePRD})
	}))
	defer srv.Close()

	plan := &models.PlanDocument{
		Name:    "rollout",
		Stories: []models.Story{{ID: "s1", Title: "First"}},
	}
	c := New(srv.URL)
	created, err := c.StartPlan(context.Background(), "proj-1", plan, "/src/app")
	require.NoError(t, err)

	assert.Equal(t, "work_dir=%2Fsrc%2Fapp", gotQuery)
	assert.Equal(t, "rollout", gotPlan.Name)
	assert.Equal(t, models.LoopModePRD, created.Mode)
}

func TestClearDismissal(t *testing.T) {
	var gotMethod, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.ClearDismissal(context.Background(), "proj-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v0/projects/proj-1/recommendations/dismissals/rec-1", gotPath)
}
