package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freshcheck/internal/analysis"
	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
	"freshcheck/internal/engine/auth"
	"freshcheck/internal/export"
	"freshcheck/internal/repo"
)

// Version is reported in the OpenAPI document.
const Version = "0.3.0"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Auth     auth.Service
	BasePath string
	DevLogin bool
	Hub      *Hub
	Logger   *slog.Logger
	// Metrics is served on MetricsPath outside the base path when non-nil.
	Metrics     prometheus.Gatherer
	MetricsPath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"urls: at most 20 urls per run"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"urls\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the freshcheck API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are reported as 400.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, logger))
	if cfg.Metrics != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	hcfg := huma.DefaultConfig("Freshcheck API", Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDevAuth(group, cfg.Engine, cfg.Auth, cfg.DevLogin)
	registerMe(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerResearch(group, cfg.Engine)
	registerManualTasks(group, cfg.Engine)
	registerContexts(group, cfg.Engine)
	registerWriters(group, cfg.Engine)
	registerRunStream(router, basePath, cfg.Engine, hub)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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

// handleError maps engine errors onto the envelope by type, never by message.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		verr domain.ValidationError
		nf   domain.NotFoundError
		te   domain.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		var details map[string]any
		if verr.Field != "" {
			details = map[string]any{"field": verr.Field}
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	case errors.As(err, &te):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"from": te.From, "to": te.To})
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrRunTerminal):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthenticated):
		return newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
	case errors.Is(err, analysis.ErrNotConfigured):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Freshcheck API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, svc auth.Service, enabled bool) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an email, creating the user if needed",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !enabled {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		u, err := e.GetUser(ctx, input.Body.Email)
		var nf domain.NotFoundError
		if errors.As(err, &nf) {
			u, err = e.CreateUser(ctx, input.Body.Email, input.Body.Name)
		}
		if err != nil {
			return nil, handleError(err)
		}
		token, exp, err := svc.IssueToken(u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, UserID: u.ID, ExpiresAt: exp.UTC().Format(time.RFC3339)}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		u, err := e.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{UserID: u.ID, Email: u.Email, Name: u.Name, Source: p.Source}}, nil
	})
}

type runPath struct {
	RunID string `path:"id"`
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-analysis",
		Method:        http.MethodPost,
		Path:          "/analysis/start",
		Summary:       "Start a freshness analysis run",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body StartRunRequest `json:"body"`
	}) (*struct {
		Body engine.RunHandle `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.StartRun(ctx, userID, input.Body.URLs, input.Body.DomainContext.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RunHandle `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/analysis/runs",
		Summary:     "List runs, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		runs, err := e.ListRuns(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse `json:"body"`
		}{Body: RunListResponse{Runs: nonNil(runs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/analysis/runs/{id}",
		Summary:     "Get a run with its results",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body domain.AnalysisRun `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.GetRun(ctx, userID, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		run.Results = nonNil(run.Results)
		return &struct {
			Body domain.AnalysisRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-run",
		Method:      http.MethodDelete,
		Path:        "/analysis/runs/{id}",
		Summary:     "Delete a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRun(ctx, userID, input.RunID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{Deleted: true, ID: input.RunID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-run",
		Method:      http.MethodGet,
		Path:        "/analysis/runs/{id}/export",
		Summary:     "Download a run as CSV",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.GetRun(ctx, userID, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.WriteRunCSV(&buf, run); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, export.Filename(run.ID)),
			Body:               buf.Bytes(),
		}, nil
	})
}

type issuePath struct {
	RunID   string `path:"id"`
	IssueID string `path:"issueId"`
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/analysis/runs/{id}/issues/{issueId}",
		Summary:     "Update an issue's status, assignee or links",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID   string             `path:"id"`
		IssueID string             `path:"issueId"`
		URL     string             `query:"url" doc:"restrict the match to this page url"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UpdateIssue(ctx, userID, input.RunID, input.URL, input.IssueID, input.Body.patch())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/analysis/issues",
		Summary:     "List detected issues and manual tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,assigned,completed"`
	}) (*struct {
		Body IssueListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIssues(ctx, userID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueListResponse `json:"body"`
		}{Body: IssueListResponse{Issues: nonNil(items)}}, nil
	})
}

func registerResearch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "research-issue",
		Method:      http.MethodPost,
		Path:        "/analysis/runs/{id}/issues/{issueId}/research",
		Summary:     "Suggest replacement sources for an issue",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body SourcesResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sources, err := e.ResearchIssue(ctx, userID, input.RunID, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SourcesResponse `json:"body"`
		}{Body: SourcesResponse{Sources: nonNil(sources)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-sources",
		Method:      http.MethodPut,
		Path:        "/analysis/runs/{id}/issues/{issueId}/sources",
		Summary:     "Keep the accepted sources on an issue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID   string             `path:"id"`
		IssueID string             `path:"issueId"`
		Body    SaveSourcesRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.SaveSources(ctx, userID, input.RunID, input.IssueID, input.Body.Sources)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})
}

func registerManualTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-manual-task",
		Method:        http.MethodPost,
		Path:          "/analysis/manual-task",
		Summary:       "Assign a manual task to a writer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateManualTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateManualTask(ctx, userID, engine.ManualTaskInput{
			Title:        input.Body.Title,
			WriterID:     input.Body.WriterID,
			WriterName:   input.Body.WriterName,
			GoogleDocURL: input.Body.GoogleDocURL,
			DueDate:      input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-manual-task",
		Method:      http.MethodPatch,
		Path:        "/analysis/manual-tasks/{id}",
		Summary:     "Update a manual task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"id"`
		Body   UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UpdateManualTask(ctx, userID, input.TaskID, input.Body.patch())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})
}

func registerContexts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contexts",
		Method:      http.MethodGet,
		Path:        "/contexts",
		Summary:     "Recent domain contexts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ContextListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListContexts(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContextListResponse `json:"body"`
		}{Body: ContextListResponse{Contexts: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-context",
		Method:        http.MethodPost,
		Path:          "/contexts",
		Summary:       "Save a domain context",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DomainContextRequest `json:"body"`
	}) (*struct {
		Body domain.DomainContext `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dc, err := e.SaveContext(ctx, userID, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DomainContext `json:"body"`
		}{Body: dc}, nil
	})
}

func registerWriters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-writers",
		Method:      http.MethodGet,
		Path:        "/writers",
		Summary:     "List writers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WriterListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWriters(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WriterListResponse `json:"body"`
		}{Body: WriterListResponse{Writers: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-writer",
		Method:        http.MethodPost,
		Path:          "/writers",
		Summary:       "Add a writer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body WriterRequest `json:"body"`
	}) (*struct {
		Body domain.Writer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWriter(ctx, userID, engine.WriterInput{Name: input.Body.Name, Email: input.Body.Email})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Writer `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-writer",
		Method:      http.MethodPatch,
		Path:        "/writers/{id}",
		Summary:     "Rename or re-address a writer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WriterID string        `path:"id"`
		Body     WriterRequest `json:"body"`
	}) (*struct {
		Body domain.Writer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.UpdateWriter(ctx, userID, input.WriterID, engine.WriterInput{Name: input.Body.Name, Email: input.Body.Email})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Writer `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-writer",
		Method:      http.MethodDelete,
		Path:        "/writers/{id}",
		Summary:     "Remove a writer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WriterID string `path:"id"`
	}) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWriter(ctx, userID, input.WriterID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{Deleted: true, ID: input.WriterID}}, nil
	})
}
