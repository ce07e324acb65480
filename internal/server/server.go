// Package server exposes the ticket desk over HTTP: the list and detail views,
// the banner state and the draft/send actions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"ticketdesk/internal/actions"
	"ticketdesk/internal/agents"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/gateway"
	"ticketdesk/internal/journal"
	"ticketdesk/internal/refresh"
	"ticketdesk/internal/store"
)

const RequestIDHeader = "X-Request-Id"

// Refresher is the part of the refresh orchestrator the API drives.
type Refresher interface {
	Refresh(ctx context.Context) error
	Status() refresh.Status
	DismissError()
}

type Actions interface {
	GenerateDraft(ctx context.Context, id int) (domain.Ticket, error)
	SendResponse(ctx context.Context, id int) (domain.Ticket, error)
}

type ActivityLog interface {
	Tail(ctx context.Context, n int) ([]journal.Entry, error)
}

// Config for the HTTP API handler.
type Config struct {
	Store    *store.Store
	Refresh  Refresher
	Actions  Actions
	Agents   *agents.Registry
	Activity ActivityLog
	BasePath string
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"ticket_closed"`
	Message string         `json:"message" example:"ticket is closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ticket desk API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil || cfg.Refresh == nil || cfg.Actions == nil || cfg.Agents == nil {
		return nil, errors.New("server: store, refresh, actions and agents are required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
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
	router.Use(requestLogger(logger))
	hcfg := huma.DefaultConfig("Ticket Desk API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(group)
	registerStatus(group, cfg.Refresh)
	registerTickets(group, cfg.Store)
	registerActions(group, cfg.Actions)
	registerAgents(group, cfg.Agents)
	registerActivity(group, cfg.Activity)
	registerOpenAPI(router, api)

	return router, nil
}

// requestLogger tags every request with an id, echoes it in the response and
// logs the outcome.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
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
	msg := err.Error()
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, actions.ErrClosed):
		return newAPIError(http.StatusConflict, "ticket_closed", msg, nil)
	case errors.Is(err, actions.ErrNoDraft), errors.Is(err, actions.ErrNotDrafted):
		return newAPIError(http.StatusConflict, "draft_required", msg, nil)
	case errors.Is(err, store.ErrHistoryRewrite), errors.Is(err, store.ErrImmutableField):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, actions.ErrSendNotAccepted):
		return newAPIError(http.StatusBadGateway, "send_not_accepted", msg, nil)
	case errors.Is(err, refresh.ErrBootstrapExhausted):
		return newAPIError(http.StatusServiceUnavailable, "bootstrap_exhausted", msg, nil)
	case errors.Is(err, refresh.ErrServiceUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "service_unavailable", msg, nil)
	case errors.As(err, &gwErr):
		details := map[string]any{"op": gwErr.Op}
		if gwErr.StatusCode != 0 {
			details["status"] = gwErr.StatusCode
		}
		return newAPIError(http.StatusBadGateway, "gateway_error", msg, details)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "timeout", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML("/openapi.json"))
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		body, err := json.Marshal(oas)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			if _, ok := op.Responses["default"]; ok {
				continue
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

func swaggerHTML(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Ticket Desk API Docs</title>
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
  </body>
</html>`, path.Clean(specURL))
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

type statusOutput struct {
	Body refresh.Status `json:"body"`
}

func registerStatus(api huma.API, r Refresher) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Banner and loading state",
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		return &statusOutput{Body: r.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-error",
		Method:      http.MethodDelete,
		Path:        "/status/error",
		Summary:     "Dismiss the banner error",
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		r.DismissError()
		return &statusOutput{Body: r.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/refresh",
		Summary:     "Reload tickets from the email backend",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		if err := r.Refresh(ctx); err != nil {
			return nil, handleError(err)
		}
		return &statusOutput{Body: r.Status()}, nil
	})
}

type ticketPath struct {
	ID int `path:"id" minimum:"0"`
}

type ticketOutput struct {
	Body TicketResponse `json:"body"`
}

func registerTickets(api huma.API, st *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets by status bucket and search text",
	}, func(ctx context.Context, input *struct {
		Filter string `query:"filter" doc:"all, needs-supervision, auto-answered or answered; unknown values select all"`
		Query  string `query:"q" doc:"case-insensitive match on title, description and sender"`
	}) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		filter := domain.ParseFilter(input.Filter)
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{
			Filter: filter,
			Query:  input.Query,
			Items:  st.List(filter, input.Query),
			Counts: st.Counts(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Ticket detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ticketPath) (*ticketOutput, error) {
		t, err := st.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: ticketResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ticket-counts",
		Method:      http.MethodGet,
		Path:        "/counts",
		Summary:     "Ticket counts per status bucket",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Counts `json:"body"`
	}, error) {
		return &struct {
			Body domain.Counts `json:"body"`
		}{Body: st.Counts()}, nil
	})
}

func registerActions(api huma.API, a Actions) {
	huma.Register(api, huma.Operation{
		OperationID: "draft-reply",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/draft",
		Summary:     "Generate a drafted reply",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *ticketPath) (*ticketOutput, error) {
		t, err := a.GenerateDraft(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: ticketResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-reply",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/send",
		Summary:     "Send the drafted reply and close the ticket",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *ticketPath) (*ticketOutput, error) {
		t, err := a.SendResponse(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: ticketResponse(t)}, nil
	})
}

func registerAgents(api huma.API, reg *agents.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "Responder profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentsResponse `json:"body"`
	}, error) {
		return &struct {
			Body AgentsResponse `json:"body"`
		}{Body: AgentsResponse{Default: reg.Default().Name, Profiles: reg.Profiles()}}, nil
	})
}

func registerActivity(api huma.API, log ActivityLog) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Recent operator activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []journal.Entry `json:"body"`
	}, error) {
		if log == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "activity journal is not enabled", nil)
		}
		entries, err := log.Tail(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		return &struct {
			Body []journal.Entry `json:"body"`
		}{Body: entries}, nil
	})
}
