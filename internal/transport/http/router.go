// SPDX-License-Identifier: Apache-2.0

// Package httptransport exposes the admin and team-facing REST API. The
// streaming transport is mounted alongside it but lives in its own package.
package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saleskit/ltc-backend/internal/auth"
	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/metrics"
	"github.com/saleskit/ltc-backend/internal/transport/middleware"
)

const defaultUserRateLimit = 120

type stageTemplateRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Order           int      `json:"order"`
	DefaultSkillIDs []string `json:"default_skill_ids"`
}

type roleDefaultRequest struct {
	DefaultSkillIDs []string `json:"default_skill_ids"`
}

type stageRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

type settingRequest struct {
	Value string `json:"value"`
}

type issueTokenRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Admin  bool      `json:"admin"`
}

type createTeamRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type stageWithBindings struct {
	domain.TeamStage
	Bindings []domain.StageSkillBinding `json:"bindings"`
}

type Deps struct {
	System       SystemAdmin
	Pipeline     PipelineAccess
	Teams        TeamDirectory
	Interactions InteractionReader
	Documents    DocumentReader
	Skills       SkillLister
	Sync         SyncRunner
	Verifier     middleware.TokenVerifier
	Issuer       TokenIssuer
	Stream       http.Handler
	AdminToken   string
	UserRPM      int
	Logger       *slog.Logger
	Version      string
	Commit       string
	BuildDate    string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	userRPM := deps.UserRPM
	if userRPM <= 0 {
		userRPM = defaultUserRateLimit
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- OPEN ENDPOINTS ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// the streaming gateway authenticates its own handshake
	if deps.Stream != nil {
		r.Handle("/stream", deps.Stream)
	}

	// ---------------- SYSTEM CONFIG (ADMIN TOKEN) ----------------

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		admin.Get("/stage-templates", func(w http.ResponseWriter, r *http.Request) {
			templates, err := deps.System.ListStageTemplates(r.Context())
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
		})

		admin.Post("/stage-templates", func(w http.ResponseWriter, r *http.Request) {
			var req stageTemplateRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if strings.TrimSpace(req.Name) == "" {
				http.Error(w, "name is required", http.StatusBadRequest)
				return
			}

			id, err := deps.System.CreateStageTemplate(r.Context(), domain.CreateStageTemplateParams{
				Name:            strings.TrimSpace(req.Name),
				Description:     req.Description,
				Order:           req.Order,
				DefaultSkillIDs: req.DefaultSkillIDs,
			})
			if err != nil {
				writeError(w, logger, err)
				return
			}

			logger.Info("stage template created via API", "template_id", id)
			writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
		})

		admin.Put("/stage-templates/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid template ID", http.StatusBadRequest)
				return
			}
			var req stageTemplateRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			err = deps.System.UpdateStageTemplate(r.Context(), id, domain.UpdateStageTemplateParams{
				Name:            strings.TrimSpace(req.Name),
				Description:     req.Description,
				Order:           req.Order,
				DefaultSkillIDs: req.DefaultSkillIDs,
			})
			if err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		admin.Delete("/stage-templates/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid template ID", http.StatusBadRequest)
				return
			}
			if err := deps.System.DeleteStageTemplate(r.Context(), id); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		admin.Get("/role-defaults", func(w http.ResponseWriter, r *http.Request) {
			defaults, err := deps.System.ListRoleDefaults(r.Context())
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"role_defaults": defaults})
		})

		admin.Put("/role-defaults/{role}", func(w http.ResponseWriter, r *http.Request) {
			role := domain.SalesRole(chi.URLParam(r, "role"))
			if !role.Valid() {
				writeError(w, logger, domain.ErrInvalidRole)
				return
			}
			var req roleDefaultRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := deps.System.UpsertRoleDefault(r.Context(), role, req.DefaultSkillIDs); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		admin.Get("/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
			key := chi.URLParam(r, "key")
			value, err := deps.System.GetSetting(r.Context(), key)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
		})

		admin.Put("/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
			var req settingRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := deps.System.SetSetting(r.Context(), chi.URLParam(r, "key"), req.Value); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		admin.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
			result, err := deps.Sync.SyncToAllTeams(r.Context())
			if err != nil {
				writeError(w, logger, err)
				return
			}
			logger.Info("full sync triggered via API",
				"total", result.Total,
				"success", result.Success,
				"errors", result.Errors,
			)
			writeJSON(w, http.StatusOK, result)
		})

		admin.Post("/teams/{teamID}/sync", func(w http.ResponseWriter, r *http.Request) {
			teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
			if err != nil {
				http.Error(w, "invalid team ID", http.StatusBadRequest)
				return
			}
			result, err := deps.Sync.SyncToTeam(r.Context(), teamID)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"has_changes": result.HasChanges(),
				"result":      result,
			})
		})

		admin.Post("/teams", func(w http.ResponseWriter, r *http.Request) {
			var req createTeamRequest
			if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
				http.Error(w, "team name is required", http.StatusBadRequest)
				return
			}
			id, err := deps.Teams.CreateTeam(r.Context(), strings.TrimSpace(req.Name))
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
		})

		admin.Post("/teams/{teamID}/members", func(w http.ResponseWriter, r *http.Request) {
			teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
			if err != nil {
				http.Error(w, "invalid team ID", http.StatusBadRequest)
				return
			}
			var req addMemberRequest
			if err := decodeJSON(r, &req); err != nil || req.UserID == uuid.Nil {
				http.Error(w, "user_id is required", http.StatusBadRequest)
				return
			}
			if err := deps.Teams.AddMember(r.Context(), teamID, req.UserID); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		if deps.Issuer != nil {
			admin.Post("/tokens", func(w http.ResponseWriter, r *http.Request) {
				var req issueTokenRequest
				if err := decodeJSON(r, &req); err != nil || req.UserID == uuid.Nil {
					http.Error(w, "user_id is required", http.StatusBadRequest)
					return
				}
				token, err := deps.Issuer.Issue(req.UserID, req.Admin)
				if err != nil {
					writeError(w, logger, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"token": token})
			})
		}
	})

	// ---------------- TEAM SURFACE (USER JWT) ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserTokenAuth(deps.Verifier, userRPM, logger))

		r.Get("/skills", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"skills": deps.Skills.List()})
		})

		r.Get("/teams/{teamID}/stages", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}

			stages, err := deps.Pipeline.ListTeamStages(r.Context(), teamID)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			out := make([]stageWithBindings, 0, len(stages))
			for _, stage := range stages {
				bindings, err := deps.Pipeline.ListStageBindings(r.Context(), stage.ID)
				if err != nil {
					writeError(w, logger, err)
					return
				}
				out = append(out, stageWithBindings{TeamStage: stage, Bindings: bindings})
			}
			writeJSON(w, http.StatusOK, map[string]any{"stages": out})
		})

		r.Post("/teams/{teamID}/stages", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}
			var req stageRequest
			if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
				http.Error(w, "stage name is required", http.StatusBadRequest)
				return
			}

			id, err := deps.Pipeline.CreateCustomStage(r.Context(), teamID, strings.TrimSpace(req.Name), req.Description, req.Order)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
		})

		r.Put("/teams/{teamID}/stages/{stageID}", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}
			stageID, err := uuid.Parse(chi.URLParam(r, "stageID"))
			if err != nil {
				http.Error(w, "invalid stage ID", http.StatusBadRequest)
				return
			}
			var req stageRequest
			if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
				http.Error(w, "stage name is required", http.StatusBadRequest)
				return
			}

			// editing a stage flips it to CUSTOM; sync will leave it alone from now on
			if err := deps.Pipeline.CustomizeStage(r.Context(), teamID, stageID, strings.TrimSpace(req.Name), req.Description, req.Order); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/teams/{teamID}/role-defaults/{role}", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}
			role := domain.SalesRole(chi.URLParam(r, "role"))
			if !role.Valid() {
				writeError(w, logger, domain.ErrInvalidRole)
				return
			}

			rd, err := deps.Pipeline.GetTeamRoleDefault(r.Context(), teamID, role)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			if rd == nil {
				writeError(w, logger, domain.ErrNotFound)
				return
			}
			writeJSON(w, http.StatusOK, rd)
		})

		r.Put("/teams/{teamID}/role-defaults/{role}", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}
			role := domain.SalesRole(chi.URLParam(r, "role"))
			if !role.Valid() {
				writeError(w, logger, domain.ErrInvalidRole)
				return
			}
			var req roleDefaultRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			if err := deps.Pipeline.CustomizeRoleDefault(r.Context(), teamID, role, req.DefaultSkillIDs); err != nil {
				writeError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/teams/{teamID}/documents", func(w http.ResponseWriter, r *http.Request) {
			teamID, ok := requireMembership(w, r, deps, logger)
			if !ok {
				return
			}
			docs, err := deps.Documents.ListByTeam(r.Context(), teamID)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
		})

		r.Get("/interactions/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid interaction ID", http.StatusBadRequest)
				return
			}
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			interaction, err := deps.Interactions.Get(r.Context(), id)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			// hide cross-team existence behind not-found
			member, err := deps.Teams.IsMember(r.Context(), interaction.TeamID, userID)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			if !member {
				writeError(w, logger, domain.ErrInteractionNotFound)
				return
			}

			messages, err := deps.Interactions.ListMessages(r.Context(), id)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"interaction": interaction,
				"messages":    messages,
			})
		})
	})

	return r
}

// requireMembership parses {teamID} and enforces that the authenticated user
// belongs to the team.
func requireMembership(w http.ResponseWriter, r *http.Request, deps Deps, logger *slog.Logger) (uuid.UUID, bool) {
	teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		http.Error(w, "invalid team ID", http.StatusBadRequest)
		return uuid.Nil, false
	}

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}

	member, err := deps.Teams.IsMember(r.Context(), teamID, userID)
	if err != nil {
		writeError(w, logger, err)
		return uuid.Nil, false
	}
	if !member {
		writeError(w, logger, domain.ErrNotTeamMember)
		return uuid.Nil, false
	}
	return teamID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("empty request body")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
