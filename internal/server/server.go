// Package server exposes the stub engine over the orchestration backend's
// HTTP contract.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sheratan/internal/domain"
	"sheratan/internal/engine"
	"sheratan/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	// Port is reported by GET /system/health.
	Port   int
	Logger *slog.Logger
}

// detailError is the FastAPI style error body: {"detail": "..."}.
type detailError struct {
	status int
	Detail string `json:"detail"`
}

func (e *detailError) GetStatus() int { return e.status }
func (e *detailError) Error() string  { return e.Detail }

// New returns an HTTP handler serving the backend contract under BasePath.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newDetailError(status, msg, errs...)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newDetailError(status, msg, errs...)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	hcfg := huma.DefaultConfig("Sheratan stub API", "0.1.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	hcfg.SchemasPath = basePath + "/schemas"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerMissions(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerMesh(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerSystem(group, cfg.Engine, cfg.Port)
	return router, nil
}

// newDetailError folds validation details into the detail string.
func newDetailError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity && len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				parts = append(parts, err.Error())
			}
		}
		if len(parts) > 0 {
			msg = msg + ": " + strings.Join(parts, "; ")
		}
	}
	return &detailError{status: status, Detail: msg}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return &detailError{status: http.StatusNotFound, Detail: notFoundDetail(err)}
	case errors.As(err, &ve):
		return &detailError{status: http.StatusBadRequest, Detail: ve.Error()}
	default:
		return &detailError{status: http.StatusInternalServerError, Detail: "internal error: " + err.Error()}
	}
}

// notFoundDetail turns "mission x: not found" into "Mission x not found".
func notFoundDetail(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+repo.ErrNotFound.Error())
	if msg == "" || msg == repo.ErrNotFound.Error() {
		return "Not found"
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + " not found"
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &wrapped{msg: kind + " " + id, err: repo.ErrNotFound}
	}
	return err
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= 500 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start))
		})
	}
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Tags:        []string{"missions"},
	}, func(ctx context.Context, _ *struct{}) (*missionsOutput, error) {
		items, err := e.Repo.ListMissions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-mission",
		Method:      http.MethodPost,
		Path:        "/missions",
		Summary:     "Create mission",
		Tags:        []string{"missions"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest
	}) (*missionOutput, error) {
		m, err := e.CreateMission(ctx, engine.MissionCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Tags:        input.Body.Tags,
			Metadata:    input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "standard-code-analysis",
		Method:      http.MethodPost,
		Path:        "/missions/standard-code-analysis",
		Summary:     "Create the standard code analysis mission",
		Tags:        []string{"missions"},
	}, func(ctx context.Context, _ *struct{}) (*quickStartOutput, error) {
		res, err := e.QuickStart(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &quickStartOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission",
		Tags:        []string{"missions"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*missionOutput, error) {
		m, err := e.Repo.GetMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("mission", input.ID, err))
		}
		return &missionOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-mission",
		Method:      http.MethodDelete,
		Path:        "/missions/{id}",
		Summary:     "Delete mission with its tasks and jobs",
		Tags:        []string{"missions"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteMission(ctx, input.ID); err != nil {
			return nil, handleError(notFound("mission", input.ID, err))
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-mission-task",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/tasks",
		Summary:     "Create task under mission",
		Tags:        []string{"tasks"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateMissionTaskRequest
	}) (*taskOutput, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			MissionID:   input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Kind:        input.Body.Kind,
			Params:      input.Body.Params,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		MissionID string `query:"mission_id"`
	}) (*tasksOutput, error) {
		items, err := e.Repo.ListTasks(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &tasksOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create task",
		Tags:        []string{"tasks"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			MissionID:   input.Body.MissionID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Kind:        input.Body.Kind,
			Params:      input.Body.Params,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Tags:        []string{"tasks"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*taskOutput, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("task", input.ID, err))
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task-job",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/jobs",
		Summary:     "Create job under task",
		Description: `Accepts {"payload": {...}} or the payload fields at the top level.`,
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body map[string]any
	}) (*jobOutput, error) {
		j, err := e.CreateJob(ctx, input.ID, engine.TaskJobPayload(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOutput{Body: j}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Tags:        []string{"jobs"},
	}, func(ctx context.Context, _ *struct{}) (*jobsOutput, error) {
		items, err := e.Repo.ListJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-job",
		Method:      http.MethodPost,
		Path:        "/jobs",
		Summary:     "Create job",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest
	}) (*jobOutput, error) {
		j, err := e.CreateJob(ctx, input.Body.TaskID, input.Body.Payload)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*jobOutput, error) {
		j, err := e.Repo.GetJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("job", input.ID, err))
		}
		return &jobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Delete job",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteJob(ctx, input.ID); err != nil {
			return nil, handleError(notFound("job", input.ID, err))
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/dispatch",
		Summary:     "Dispatch job to the mesh",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*jobOutput, error) {
		j, err := e.DispatchJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("job", input.ID, err))
		}
		return &jobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/sync",
		Summary:     "Refresh job from its worker",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*jobOutput, error) {
		j, err := e.SyncJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("job", input.ID, err))
		}
		return &jobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-job-result",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/result",
		Summary:     "Report the outcome of a working job",
		Tags:        []string{"jobs"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body JobResultRequest
	}) (*jobOutput, error) {
		j, err := e.CompleteJob(ctx, input.ID, input.Body.Result, input.Body.Error)
		if err != nil {
			return nil, handleError(notFound("job", input.ID, err))
		}
		return &jobOutput{Body: j}, nil
	})
}

func registerMesh(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/mesh/workers",
		Summary:     "List mesh workers",
		Tags:        []string{"mesh"},
	}, func(ctx context.Context, _ *struct{}) (*workersOutput, error) {
		items, err := e.Repo.ListWorkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &workersOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ledger",
		Method:      http.MethodGet,
		Path:        "/mesh/ledger/{user_id}",
		Summary:     "Ledger balance of a mesh user",
		Tags:        []string{"mesh"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*ledgerOutput, error) {
		info, err := e.Repo.Ledger(ctx, input.UserID)
		if err != nil {
			return nil, handleError(notFound("user", input.UserID, err))
		}
		return &ledgerOutput{Body: info}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Tags:        []string{"projects"},
	}, func(ctx context.Context, _ *struct{}) (*projectsOutput, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-files",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/files",
		Summary:     "Project file tree",
		Tags:        []string{"projects"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *idPath) (*filesOutput, error) {
		tree, err := e.Repo.ProjectFiles(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound("project", input.ID, err))
		}
		return &filesOutput{Body: tree}, nil
	})
}

func registerSystem(api huma.API, e engine.Engine, port int) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Core status",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		st, err := e.Status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &statusOutput{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-metrics",
		Method:      http.MethodGet,
		Path:        "/system/metrics",
		Summary:     "Load figures",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*metricsOutput, error) {
		m, err := e.Metrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &metricsOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-health",
		Method:      http.MethodGet,
		Path:        "/system/health",
		Summary:     "Service health",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*servicesOutput, error) {
		return &servicesOutput{Body: e.Services(ctx, port)}, nil
	})
}
