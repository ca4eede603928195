// Package server exposes the pact engine over HTTP. Every write route
// derives the acting user from the authenticated principal; the body
// never names the actor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pactline/internal/catalog"
	"pactline/internal/domain"
	"pactline/internal/evaluate"
	"pactline/internal/lifecycle"
	"pactline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Lifecycle lifecycle.Manager
	Evaluator *evaluate.Engine
	Repo      repo.Repo
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_friends"`
	Message string         `json:"message" example:"partner is not a friend"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pactline API.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Pactline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg)
	registerPacts(group, cfg)
	registerProgress(group, cfg)
	registerSweep(group, cfg)
	registerEvents(group, cfg)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve catalog.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var upe lifecycle.UnknownPartnerError
	if errors.As(err, &upe) {
		return newAPIError(http.StatusNotFound, "unknown_partner", err.Error(), map[string]any{"user_id": upe.UserID})
	}
	var ce lifecycle.ConflictError
	if errors.As(err, &ce) {
		// Carry the authoritative pact so the caller can reconcile.
		return newAPIError(http.StatusConflict, ce.Code, err.Error(), map[string]any{"pact": toPactResponse(ce.Pact)})
	}
	if errors.Is(err, lifecycle.ErrSelfPact) || errors.Is(err, lifecycle.ErrNotFriends) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "only the"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
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

func registerUsers(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user profile",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user id required", nil)
		}
		if _, err := time.LoadLocation(input.Body.Timezone); input.Body.Timezone != "" && err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid timezone %q", input.Body.Timezone), nil)
		}
		u := domain.UserProfile{
			ID:          input.Body.ID,
			DisplayName: input.Body.DisplayName,
			Timezone:    input.Body.Timezone,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if err := cfg.Repo.UpsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: toUserResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-friend",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/friends",
		Summary:       "Add friendship",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		UserID string           `path:"user_id"`
		Body   AddFriendRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.FriendID == "" || input.Body.FriendID == input.UserID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "friend_id must name another user", nil)
		}
		for _, id := range []string{input.UserID, input.Body.FriendID} {
			if _, err := cfg.Repo.GetUser(ctx, id); err != nil {
				return nil, handleError(fmt.Errorf("user %s: %w", id, err))
			}
		}
		if err := cfg.Repo.AddFriendship(ctx, input.UserID, input.Body.FriendID, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-friends",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/friends",
		Summary:     "List friends",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		friends, err := cfg.Repo.ListFriends(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]UserResponse, 0, len(friends))
		for _, u := range friends {
			res = append(res, toUserResponse(u))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerPacts(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pact",
		Method:        http.MethodPost,
		Path:          "/pacts",
		Summary:       "Propose a pact",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreatePactRequest `json:"body"`
	}) (*struct {
		Body PactResponse `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Lifecycle.Create(ctx, lifecycle.CreateOptions{
			Initiator:         actor,
			Partner:           input.Body.Partner,
			CommitmentType:    input.Body.CommitmentType,
			TargetValue:       input.Body.TargetValue,
			CustomDescription: input.Body.CustomDescription,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PactResponse `json:"body"`
		}{Body: toPactResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-pact",
		Method:      http.MethodPost,
		Path:        "/pacts/{pact_id}/respond",
		Summary:     "Accept or decline an invitation",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PactID string             `path:"pact_id"`
		Body   RespondPactRequest `json:"body"`
	}) (*struct {
		Body PactResponse `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Lifecycle.Respond(ctx, input.PactID, actor, input.Body.Accept)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PactResponse `json:"body"`
		}{Body: toPactResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-pact",
		Method:      http.MethodPost,
		Path:        "/pacts/{pact_id}/cancel",
		Summary:     "Withdraw a pending invitation",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PactID string `path:"pact_id"`
	}) (*struct {
		Body PactResponse `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Lifecycle.Cancel(ctx, input.PactID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PactResponse `json:"body"`
		}{Body: toPactResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-pact",
		Method:      http.MethodPost,
		Path:        "/pacts/{pact_id}/end",
		Summary:     "End an active pact",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PactID string         `path:"pact_id"`
		Body   EndPactRequest `json:"body"`
	}) (*struct {
		Body PactResponse `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Lifecycle.End(ctx, input.PactID, actor, input.Body.Mutual)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PactResponse `json:"body"`
		}{Body: toPactResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pact",
		Method:      http.MethodGet,
		Path:        "/pacts/{pact_id}",
		Summary:     "Pact state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PactID string `path:"pact_id"`
	}) (*struct {
		Body PactResponse `json:"body"`
	}, error) {
		p, err := cfg.Lifecycle.CurrentState(ctx, input.PactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PactResponse `json:"body"`
		}{Body: toPactResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pacts",
		Method:      http.MethodGet,
		Path:        "/pacts",
		Summary:     "List pacts",
	}, func(ctx context.Context, input *struct {
		ParticipantID string `query:"participant_id"`
		Status        string `query:"status" enum:",pending_acceptance,active,declined,ended_by_mutual_agreement,ended_unilaterally"`
		Limit         int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		CursorCreated string `query:"cursor_created_at"`
		CursorID      string `query:"cursor_id"`
	}) (*struct {
		Body []PactResponse `json:"body"`
	}, error) {
		pacts, err := cfg.Repo.ListPacts(ctx, repo.PactFilters{
			ParticipantID: input.ParticipantID,
			Status:        input.Status,
			Limit:         input.Limit,
			CursorCreated: input.CursorCreated,
			CursorID:      input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]PactResponse, 0, len(pacts))
		for _, p := range pacts {
			res = append(res, toPactResponse(p))
		}
		return &struct {
			Body []PactResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pact-ledger",
		Method:      http.MethodGet,
		Path:        "/pacts/{pact_id}/ledger",
		Summary:     "Pact ledger history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PactID            string `path:"pact_id"`
		Limit             int    `query:"limit" default:"30" minimum:"1" maximum:"200"`
		CursorDate        string `query:"cursor_date"`
		CursorParticipant string `query:"cursor_participant"`
	}) (*struct {
		Body []LedgerEntryResponse `json:"body"`
	}, error) {
		entries, err := cfg.Lifecycle.LedgerHistory(ctx, input.PactID, input.Limit, input.CursorDate, input.CursorParticipant)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LedgerEntryResponse `json:"body"`
		}{Body: toLedgerResponse(entries)}, nil
	})
}

func registerProgress(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-progress",
		Method:        http.MethodPost,
		Path:          "/progress",
		Summary:       "Report daily progress",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ReportProgressRequest `json:"body"`
	}) (*struct {
		Body domain.ProgressReport `json:"body"`
	}, error) {
		actor, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := cfg.Evaluator.Report(ctx, actor, input.Body.CommitmentType, input.Body.Date, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressReport `json:"body"`
		}{Body: rep}, nil
	})
}

func registerSweep(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Run one evaluation sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := cfg.Evaluator.Sweep(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "user-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "Events concerning a user",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Cursor int64  `query:"cursor"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := cfg.Repo.UserEvents(ctx, input.UserID, input.Limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			res = append(res, toEventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func toEventResponse(evt domain.Event) EventResponse {
	var payload map[string]any
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:      evt.ID,
		TS:      evt.TS,
		Type:    evt.Type,
		PactID:  evt.PactID,
		ActorID: evt.ActorID,
		Payload: payload,
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Pactline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
