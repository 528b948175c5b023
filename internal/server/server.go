// Package server exposes the orchestration daemon's HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/loop"
	"github.com/ralphctl/ralph/internal/models"
	"github.com/ralphctl/ralph/internal/state"
)

// Config for the HTTP API handler.
type Config struct {
	Registry   *loop.Registry
	Mistakes   *db.MistakeRepository
	Dismissals *db.DismissalRepository
	Builder    *learn.Builder
	Store      *db.DB
	BasePath   string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"project_busy"`
	Message string         `json:"message" example:"project already has an active loop"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ralph API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("ralph API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Store)
	registerLoops(group, cfg.Registry)
	registerMistakes(group, cfg.Mistakes)
	registerContext(group, cfg.Builder)
	registerDismissals(group, cfg.Dismissals)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors to the API envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrLoopNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, db.ErrDismissalNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, models.ErrProjectBusy) {
		return newAPIError(http.StatusConflict, "project_busy", err.Error(), nil)
	}
	if errors.Is(err, models.ErrLoopNotKillable) {
		return newAPIError(http.StatusConflict, "not_killable", err.Error(), nil)
	}
	var transitionErr *state.TransitionError
	if errors.As(err, &transitionErr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(transitionErr.FromStatus),
			"to":   string(transitionErr.ToStatus),
		})
	}
	var validation *models.ValidationErrors
	if errors.As(err, &validation) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), validationDetails(validation))
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func validationDetails(validation *models.ValidationErrors) map[string]any {
	fields := make(map[string]string, len(validation.Fields))
	for _, f := range validation.Fields {
		fields[f.Field] = f.Err.Error()
	}
	return map[string]any{"fields": fields}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, store *db.DB) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := store.HealthCheck(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerLoops(api huma.API, registry *loop.Registry) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-loop",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/loops",
		Summary:       "Start an iterative loop",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Prompt  string `json:"prompt"`
			WorkDir string `json:"work_dir,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body models.Loop `json:"body"`
	}, error) {
		created, err := registry.StartIterative(ctx, input.ProjectID, input.Body.WorkDir, input.Body.Prompt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body models.Loop `json:"body"`
		}{Body: *created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-prd-loop",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/loops/prd",
		Summary:       "Start a PRD-mode loop from a plan document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		WorkDir   string `query:"work_dir"`
		Body      models.PlanDocument
	}) (*struct {
		Body models.Loop `json:"body"`
	}, error) {
		plan := input.Body
		created, err := registry.StartPlan(ctx, input.ProjectID, input.WorkDir, &plan)
		if err != nil {
			var validation *models.ValidationErrors
			if errors.As(err, &validation) {
				return nil, newAPIError(http.StatusBadRequest, "invalid_plan", err.Error(), validationDetails(validation))
			}
			return nil, handleError(err)
		}
		return &struct {
			Body models.Loop `json:"body"`
		}{Body: *created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loops",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops",
		Summary:     "List a project's loops",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []*models.Loop `json:"body"`
	}, error) {
		loops, err := registry.List(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*models.Loop `json:"body"`
		}{Body: loops}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-loop",
		Method:      http.MethodGet,
		Path:        "/loops/{loop_id}",
		Summary:     "Get a loop",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct {
		Body models.Loop `json:"body"`
	}, error) {
		found, err := registry.Get(ctx, input.LoopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body models.Loop `json:"body"`
		}{Body: *found}, nil
	})

	registerControl(api, "pause-loop", "pause", "Pause a running loop", registry.Pause, registry)
	registerControl(api, "resume-loop", "resume", "Resume a paused loop", registry.Resume, registry)
	registerControl(api, "kill-loop", "kill", "Kill a loop", registry.Kill, registry)
}

// registerControl wires one of the pause/resume/kill operations; they
// share the same request/response shape.
func registerControl(api huma.API, opID, action, summary string, control func(context.Context, string) error, registry *loop.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/loops/{loop_id}/" + action,
		Summary:     summary,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct {
		Body struct {
			ID     string            `json:"id"`
			Status models.LoopStatus `json:"status"`
		} `json:"body"`
	}, error) {
		if err := control(ctx, input.LoopID); err != nil {
			return nil, handleError(err)
		}
		current, err := registry.Get(ctx, input.LoopID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID     string            `json:"id"`
				Status models.LoopStatus `json:"status"`
			} `json:"body"`
		}{}
		out.Body.ID = current.ID
		out.Body.Status = current.Status
		return out, nil
	})
}

func registerMistakes(api huma.API, mistakes *db.MistakeRepository) {
	huma.Register(api, huma.Operation{
		OperationID: "list-mistakes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/mistakes",
		Summary:     "List a project's mistakes, newest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []*models.Mistake `json:"body"`
	}, error) {
		items, err := mistakes.ListByProject(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*models.Mistake `json:"body"`
		}{Body: items}, nil
	})
}

func registerContext(api huma.API, builder *learn.Builder) {
	huma.Register(api, huma.Operation{
		OperationID: "get-context",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/context",
		Summary:     "Build the project's learned loop context",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body models.LoopContext `json:"body"`
	}, error) {
		built, err := builder.Build(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body models.LoopContext `json:"body"`
		}{Body: *built}, nil
	})
}

func registerDismissals(api huma.API, dismissals *db.DismissalRepository) {
	huma.Register(api, huma.Operation{
		OperationID: "list-dismissals",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/recommendations/dismissals",
		Summary:     "List active recommendation dismissals",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []*models.Dismissal `json:"body"`
	}, error) {
		items, err := dismissals.ListActiveByProject(ctx, input.ProjectID, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*models.Dismissal `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "dismiss-recommendation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/recommendations/dismissals",
		Summary:       "Dismiss a recommendation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			RecommendationID string `json:"recommendation_id"`
			Permanent        bool   `json:"permanent,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body models.Dismissal `json:"body"`
	}, error) {
		dismissal := &models.Dismissal{
			ProjectID:        input.ProjectID,
			RecommendationID: input.Body.RecommendationID,
			Permanent:        input.Body.Permanent,
		}
		if err := dismissals.Upsert(ctx, dismissal); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body models.Dismissal `json:"body"`
		}{Body: *dismissal}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-dismissal",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/recommendations/dismissals/{recommendation_id}",
		Summary:     "Clear a dismissal ahead of its expiry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID        string `path:"project_id"`
		RecommendationID string `path:"recommendation_id"`
	}) (*struct{}, error) {
		if err := dismissals.Delete(ctx, input.ProjectID, input.RecommendationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
