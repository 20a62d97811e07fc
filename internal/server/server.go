package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/filter"
	"shopfloor/internal/lifecycle"
	"shopfloor/internal/metrics"
	"shopfloor/internal/repo"
	"shopfloor/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *logrus.Entry
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid action status transition done -> archived"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"edit_kpis\"}"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var (
	readErrors   = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError}
	entityErrors = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError}
	writeErrors  = []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}
)

// New returns an HTTP handler exposing the shopfloor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "server")
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation failures are client input errors.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(instrument(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Shopfloor API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	router.Handle(path.Join(basePath, "metrics"), promhttp.Handler())
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerKPIs(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerProblems(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	if cfg.Auth.AllowDevRoleHeader {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// instrument records request latency by route pattern and logs each request.
func instrument(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.RecordRequest(r.Method, route, status, elapsed)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"route":    route,
				"status":   status,
				"duration": elapsed.String(),
			}).Debug("request")
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"permission": fe.Permission,
			"role":       fe.Role,
		})
	}
	var te lifecycle.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"kind": te.Kind,
			"from": te.From,
			"to":   te.To,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"kind": ce.Kind,
			"id":   ce.ID,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	logrus.WithField("component", "server").WithError(err).Error("request failed")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
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
	case http.StatusForbidden:
		return "forbidden"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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
		for _, op := range operations(item) {
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
    <title>Shopfloor API Docs</title>
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

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current role and capabilities",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Identity `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body engine.Identity `json:"body"`
		}{Body: e.WhoAmI(role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "Effective permission matrix",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listResponse[engine.RoleInfo] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles, err := e.Roles(role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[engine.RoleInfo] `json:"body"`
		}{Body: items(roles)}, nil
	})
}

type idPath struct {
	ID string `path:"id"`
}

func registerKPIs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-kpis",
		Method:      http.MethodGet,
		Path:        "/kpis",
		Summary:     "List KPIs",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Category      string `query:"category"`
		Status        string `query:"status"`
		Search        string `query:"q"`
		WorkstationID string `query:"workstation_id"`
		History       bool   `query:"history"`
	}) (*struct {
		Body listResponse[domain.KPI] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.ListKPIs(ctx, engine.KPIListOptions{
			Criteria:      filter.Criteria{Category: input.Category, Status: input.Status, Search: input.Search},
			WorkstationID: input.WorkstationID,
			WithHistory:   input.History,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.KPI] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-kpi",
		Method:        http.MethodPost,
		Path:          "/kpis",
		Summary:       "Create KPI",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body KPICreateRequest `json:"body"`
	}) (*struct {
		Body domain.KPI `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		k, err := e.CreateKPI(ctx, engine.KPICreateOptions{
			ID:            b.ID,
			Name:          b.Name,
			Description:   b.Description,
			Category:      b.Category,
			CurrentValue:  b.CurrentValue,
			TargetValue:   b.TargetValue,
			Unit:          b.Unit,
			Direction:     b.Direction,
			Tolerance:     b.Tolerance,
			WarningBand:   b.WarningBand,
			Frequency:     b.Frequency,
			WorkstationID: b.WorkstationID,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KPI `json:"body"`
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-kpi",
		Method:      http.MethodGet,
		Path:        "/kpis/{id}",
		Summary:     "Get KPI with history and derived figures",
		Errors:      entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body engine.KPIReport `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.KPIReport(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.KPIReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-kpi",
		Method:      http.MethodPatch,
		Path:        "/kpis/{id}",
		Summary:     "Update KPI",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body KPIUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.KPI `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		k, err := e.UpdateKPI(ctx, engine.KPIUpdateOptions{
			ID:            input.ID,
			Name:          b.Name,
			Description:   b.Description,
			Category:      b.Category,
			TargetValue:   b.TargetValue,
			Unit:          b.Unit,
			Direction:     b.Direction,
			Tolerance:     b.Tolerance,
			WarningBand:   b.WarningBand,
			Frequency:     b.Frequency,
			WorkstationID: b.WorkstationID,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KPI `json:"body"`
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-kpi",
		Method:        http.MethodDelete,
		Path:          "/kpis/{id}",
		Summary:       "Delete KPI",
		DefaultStatus: http.StatusNoContent,
		Errors:        entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteKPI(ctx, input.ID, role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-kpi-value",
		Method:      http.MethodPost,
		Path:        "/kpis/{id}/values",
		Summary:     "Record a KPI value",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body KPIValueRequest `json:"body"`
	}) (*struct {
		Body domain.KPI `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.RecordKPIValue(ctx, input.ID, input.Body.Value, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KPI `json:"body"`
		}{Body: k}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List actions",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Category      string `query:"category"`
		Priority      string `query:"priority"`
		Status        string `query:"status"`
		Search        string `query:"q"`
		WorkstationID string `query:"workstation_id"`
		DueDate       string `query:"due_date"`
	}) (*struct {
		Body listResponse[domain.Action] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.ListActions(ctx, engine.ActionListOptions{
			Criteria:      filter.Criteria{Category: input.Category, Priority: input.Priority, Status: input.Status, Search: input.Search},
			WorkstationID: input.WorkstationID,
			DueDate:       input.DueDate,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Action] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "action-board",
		Method:      http.MethodGet,
		Path:        "/actions/board",
		Summary:     "Actions grouped by status",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body stats.ActionBoard `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := e.ActionBoard(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.ActionBoard `json:"body"`
		}{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Create action",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ActionCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := e.CreateAction(ctx, engine.ActionCreateOptions{
			ID:            b.ID,
			Title:         b.Title,
			Description:   b.Description,
			Priority:      b.Priority,
			Category:      b.Category,
			DueDate:       b.DueDate,
			Assignee:      b.Assignee,
			WorkstationID: b.WorkstationID,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{id}",
		Summary:     "Get action",
		Errors:      entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAction(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/actions/{id}",
		Summary:     "Update action",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ActionUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := e.UpdateAction(ctx, engine.ActionUpdateOptions{
			ID:            input.ID,
			Title:         b.Title,
			Description:   b.Description,
			Priority:      b.Priority,
			Category:      b.Category,
			DueDate:       b.DueDate,
			Assignee:      b.Assignee,
			WorkstationID: b.WorkstationID,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-action",
		Method:        http.MethodDelete,
		Path:          "/actions/{id}",
		Summary:       "Delete action",
		DefaultStatus: http.StatusNoContent,
		Errors:        entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAction(ctx, input.ID, role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/status",
		Summary:     "Move action to a status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.TransitionAction(ctx, input.ID, domain.ActionStatus(input.Body.Status), role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/toggle",
		Summary:     "Toggle action between done and todo",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ToggleAction(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})
}

func registerProblems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-problems",
		Method:      http.MethodGet,
		Path:        "/problems",
		Summary:     "List problems",
		Errors:      append([]int{http.StatusBadRequest}, readErrors...),
	}, func(ctx context.Context, input *struct {
		Category      string `query:"category"`
		Severity      string `query:"severity"`
		Status        string `query:"status"`
		Search        string `query:"q"`
		WorkstationID string `query:"workstation_id"`
		Escalated     string `query:"escalated" enum:"true,false"`
	}) (*struct {
		Body listResponse[domain.Problem] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var escalated *bool
		if input.Escalated != "" {
			v, err := strconv.ParseBool(input.Escalated)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid escalated filter", map[string]any{"escalated": input.Escalated})
			}
			escalated = &v
		}
		out, err := e.ListProblems(ctx, engine.ProblemListOptions{
			Criteria:      filter.Criteria{Category: input.Category, Priority: input.Severity, Status: input.Status, Search: input.Search},
			WorkstationID: input.WorkstationID,
			Escalated:     escalated,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Problem] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "problem-board",
		Method:      http.MethodGet,
		Path:        "/problems/board",
		Summary:     "Problem board counters and unresolved problems",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProblemBoardResponse `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, open, err := e.ProblemBoard(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		if open == nil {
			open = []domain.Problem{}
		}
		return &struct {
			Body ProblemBoardResponse `json:"body"`
		}{Body: ProblemBoardResponse{Counts: counts, Open: open}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-problem",
		Method:        http.MethodPost,
		Path:          "/problems",
		Summary:       "Report a problem",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ProblemCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Problem `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := e.CreateProblem(ctx, engine.ProblemCreateOptions{
			ID:            b.ID,
			Title:         b.Title,
			Description:   b.Description,
			Category:      b.Category,
			Severity:      b.Severity,
			WorkstationID: b.WorkstationID,
			Assignee:      b.Assignee,
			ReportedBy:    b.ReportedBy,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Problem `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-problem",
		Method:      http.MethodGet,
		Path:        "/problems/{id}",
		Summary:     "Get problem",
		Errors:      entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Problem `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProblem(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Problem `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-problem",
		Method:      http.MethodPatch,
		Path:        "/problems/{id}",
		Summary:     "Update problem",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ProblemUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Problem `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := e.UpdateProblem(ctx, engine.ProblemUpdateOptions{
			ID:            input.ID,
			Title:         b.Title,
			Description:   b.Description,
			Category:      b.Category,
			Severity:      b.Severity,
			WorkstationID: b.WorkstationID,
			Assignee:      b.Assignee,
			Role:          role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Problem `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-problem",
		Method:        http.MethodDelete,
		Path:          "/problems/{id}",
		Summary:       "Delete problem",
		DefaultStatus: http.StatusNoContent,
		Errors:        entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProblem(ctx, input.ID, role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-problem",
		Method:      http.MethodPost,
		Path:        "/problems/{id}/status",
		Summary:     "Move problem to a status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Problem `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.TransitionProblem(ctx, input.ID, domain.ProblemStatus(input.Body.Status), role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Problem `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-problem",
		Method:      http.MethodPost,
		Path:        "/problems/{id}/escalate",
		Summary:     "Escalate problem",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Problem `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.EscalateProblem(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Problem `json:"body"`
		}{Body: p}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "List categories in display order",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listResponse[domain.Category] `json:"body"`
	}, error) {
		if _, authErr := roleFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		out, err := e.ListCategories(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Category] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/categories",
		Summary:       "Create or refresh a category",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CategoryCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Category `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCategory(ctx, engine.CategoryCreateOptions{
			Code:         input.Body.Code,
			Name:         input.Body.Name,
			Color:        input.Body.Color,
			DisplayOrder: input.Body.DisplayOrder,
			Role:         role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Category `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workstations",
		Method:      http.MethodGet,
		Path:        "/workstations",
		Summary:     "List workstations",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"operational,maintenance,down"`
	}) (*struct {
		Body listResponse[domain.Workstation] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.ListWorkstations(ctx, input.Status, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Workstation] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-workstation",
		Method:        http.MethodPost,
		Path:          "/workstations",
		Summary:       "Register a machine or station",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body WorkstationCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Workstation `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		w, err := e.CreateWorkstation(ctx, engine.WorkstationCreateOptions{
			ID:          b.ID,
			Name:        b.Name,
			Kind:        b.Kind,
			Status:      b.Status,
			Location:    b.Location,
			Description: b.Description,
			Role:        role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workstation `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-workstation-status",
		Method:      http.MethodPost,
		Path:        "/workstations/{id}/status",
		Summary:     "Change workstation status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Workstation `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetWorkstationStatus(ctx, input.ID, domain.WorkstationStatus(input.Body.Status), role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workstation `json:"body"`
		}{Body: w}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Site overview",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Dashboard(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "today-priorities",
		Method:      http.MethodGet,
		Path:        "/dashboard/priorities",
		Summary:     "Urgent, due today and completed actions",
		Errors:      append([]int{http.StatusBadRequest}, readErrors...),
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar date (YYYY-MM-DD); defaults to today"`
	}) (*struct {
		Body stats.Priorities `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.TodayPriorities(ctx, input.Date, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.Priorities `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "category-breakdown",
		Method:      http.MethodGet,
		Path:        "/dashboard/categories",
		Summary:     "KPI status counts per category",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listResponse[stats.CategorySummary] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.CategoryBreakdown(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[stats.CategorySummary] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "category-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/category-stats",
		Summary:     "KPI status counts keyed by the category code each KPI carries",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]stats.StatusCounts `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.CategoryStats(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]stats.StatusCounts `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      append([]int{http.StatusBadRequest}, readErrors...),
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"kpi,action,problem,workstation,category,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		evts, err := e.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		}, role)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(evts) > limit {
			resp.NextCursor = strconv.FormatInt(evts[limit-1].ID, 10)
			evts = evts[:limit]
		}
		for _, evt := range evts {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body listResponse[APIKeyResponse] `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, input.Role, role)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k, ""))
		}
		return &struct {
			Body listResponse[APIKeyResponse] `json:"body"`
		}{Body: items(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Mint an API key bound to a role",
		Description:   "The plaintext key is only returned by this call.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body APIKeyCreateRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := e.CreateAPIKey(ctx, auth.Role(input.Body.Role), input.Body.Name, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key, plain)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        entityErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		role, authErr := roleFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, input.ID, role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		role := auth.Role(strings.TrimSpace(input.Body.Role))
		if len(e.Matrix.Permissions(role)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role", map[string]any{"role": role})
		}
		token, err := signDevToken(authCfg.JWTSecret, role, strings.TrimSpace(input.Body.Subject), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
