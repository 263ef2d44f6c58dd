// Package syncer propagates the centrally administered pipeline templates
// into every team's mutable pipeline copy without destroying team
// customizations.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/metrics"
)

type SystemStore interface {
	ListStageTemplates(ctx context.Context) ([]domain.SystemStageTemplate, error)
	ListRoleDefaults(ctx context.Context) ([]domain.SystemRoleSkillDefault, error)
}

type PipelineStore interface {
	ListTeamStages(ctx context.Context, teamID uuid.UUID) ([]domain.TeamStage, error)
	InsertSystemStage(ctx context.Context, teamID uuid.UUID, tpl domain.SystemStageTemplate) (uuid.UUID, error)
	UpdateSystemStage(ctx context.Context, stageID uuid.UUID, name, description string, order int) error
	GetTeamRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole) (*domain.TeamRoleSkillDefault, error)
	UpsertSystemRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole, skillIDs []string) error
	ReplaceStageBindings(ctx context.Context, stageID uuid.UUID, skillIDs []string) error
}

type TeamLister interface {
	ListTeamIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TeamSyncResult reports what one sync run changed for one team.
type TeamSyncResult struct {
	StagesAdded        int `json:"stages_added"`
	StagesUpdated      int `json:"stages_updated"`
	StagesSkipped      int `json:"stages_skipped"`
	RoleConfigsUpdated int `json:"role_configs_updated"`
	RoleConfigsSkipped int `json:"role_configs_skipped"`
}

// HasChanges reports whether the run applied any stage or role-config change.
// Binding rebuilds alone do not count: they run unconditionally.
func (r TeamSyncResult) HasChanges() bool {
	return r.StagesAdded > 0 || r.StagesUpdated > 0 || r.RoleConfigsUpdated > 0
}

// TeamFailure records one team whose sync failed.
type TeamFailure struct {
	TeamID uuid.UUID `json:"team_id"`
	Error  string    `json:"error"`
}

// Result aggregates a sync across all teams.
type Result struct {
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Failures []TeamFailure `json:"failures,omitempty"`
}

type Engine struct {
	system   SystemStore
	pipeline PipelineStore
	teams    TeamLister
	logger   *slog.Logger
}

func New(system SystemStore, pipeline PipelineStore, teams TeamLister, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		system:   system,
		pipeline: pipeline,
		teams:    teams,
		logger:   logger,
	}
}

// SyncToTeam reconciles one team against the system templates:
//   - templates with no team copy are materialized as SYSTEM stages
//   - SYSTEM copies that drifted from their template are overwritten
//   - CUSTOM stages are never touched; customization is sticky
//   - role defaults are upserted when missing or drifted; customized and
//     already-matching configs are skipped
//   - bindings of every live SYSTEM stage are rebuilt from the template,
//     unconditionally, so they always match template order exactly
//
// Every write is an idempotent upsert or an existence-guarded insert, so the
// operation is safe to re-run.
func (e *Engine) SyncToTeam(ctx context.Context, teamID uuid.UUID) (TeamSyncResult, error) {
	started := time.Now()
	var res TeamSyncResult

	templates, err := e.system.ListStageTemplates(ctx)
	if err != nil {
		return res, fmt.Errorf("load stage templates: %w", err)
	}

	stages, err := e.pipeline.ListTeamStages(ctx, teamID)
	if err != nil {
		return res, fmt.Errorf("load team stages: %w", err)
	}

	byTemplate := make(map[uuid.UUID]domain.TeamStage, len(stages))
	for _, s := range stages {
		if s.SystemStageID != nil {
			byTemplate[*s.SystemStageID] = s
		}
	}

	// template id -> team stage id for the binding rebuild below
	liveSystemStages := make(map[uuid.UUID]uuid.UUID, len(templates))

	for _, tpl := range templates {
		existing, ok := byTemplate[tpl.ID]
		if !ok {
			stageID, err := e.pipeline.InsertSystemStage(ctx, teamID, tpl)
			if err != nil {
				return res, fmt.Errorf("insert stage from template %s: %w", tpl.ID, err)
			}
			res.StagesAdded++
			liveSystemStages[tpl.ID] = stageID
			continue
		}

		switch existing.Source {
		case domain.SourceSystem:
			liveSystemStages[tpl.ID] = existing.ID
			if existing.Name != tpl.Name || existing.Description != tpl.Description || existing.Order != tpl.Order {
				if err := e.pipeline.UpdateSystemStage(ctx, existing.ID, tpl.Name, tpl.Description, tpl.Order); err != nil {
					return res, fmt.Errorf("update stage %s: %w", existing.ID, err)
				}
				res.StagesUpdated++
			} else {
				res.StagesSkipped++
			}
		case domain.SourceCustom:
			res.StagesSkipped++
		default:
			e.logger.Warn("stage with unknown source skipped",
				"team_id", teamID,
				"stage_id", existing.ID,
				"source", existing.Source,
			)
			res.StagesSkipped++
		}
	}

	roleDefaults, err := e.system.ListRoleDefaults(ctx)
	if err != nil {
		return res, fmt.Errorf("load role defaults: %w", err)
	}

	for _, rd := range roleDefaults {
		teamConfig, err := e.pipeline.GetTeamRoleDefault(ctx, teamID, rd.Role)
		if err != nil {
			return res, fmt.Errorf("load role config %s: %w", rd.Role, err)
		}

		if teamConfig != nil {
			switch teamConfig.Source {
			case domain.SourceCustom:
				res.RoleConfigsSkipped++
				continue
			case domain.SourceSystem:
				if slices.Equal(teamConfig.DefaultSkillIDs, rd.DefaultSkillIDs) {
					res.RoleConfigsSkipped++
					continue
				}
				// drifted from the system default, fall through to upsert
			default:
				e.logger.Warn("role config with unknown source skipped",
					"team_id", teamID,
					"role", rd.Role,
					"source", teamConfig.Source,
				)
				res.RoleConfigsSkipped++
				continue
			}
		}

		if err := e.pipeline.UpsertSystemRoleDefault(ctx, teamID, rd.Role, rd.DefaultSkillIDs); err != nil {
			return res, fmt.Errorf("upsert role config %s: %w", rd.Role, err)
		}
		res.RoleConfigsUpdated++
	}

	// Bindings are rebuilt on every sync, not only when a stage changed.
	// Orphaned SYSTEM stages (template deleted) are absent from
	// liveSystemStages and therefore left alone.
	for _, tpl := range templates {
		stageID, ok := liveSystemStages[tpl.ID]
		if !ok {
			continue
		}
		if err := e.pipeline.ReplaceStageBindings(ctx, stageID, tpl.DefaultSkillIDs); err != nil {
			return res, fmt.Errorf("rebuild bindings for stage %s: %w", stageID, err)
		}
	}

	metrics.AddSyncStageChanges("added", res.StagesAdded)
	metrics.AddSyncStageChanges("updated", res.StagesUpdated)
	metrics.AddSyncStageChanges("skipped", res.StagesSkipped)
	metrics.ObserveSyncDuration(time.Since(started))

	e.logger.Info("team sync complete",
		"team_id", teamID,
		"stages_added", res.StagesAdded,
		"stages_updated", res.StagesUpdated,
		"stages_skipped", res.StagesSkipped,
		"role_configs_updated", res.RoleConfigsUpdated,
		"role_configs_skipped", res.RoleConfigsSkipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return res, nil
}

// SyncToAllTeams walks every team and syncs each inside its own failure
// boundary: one team's error is recorded and the walk continues. There is no
// cross-team transaction; a partially failed batch can simply be re-run.
func (e *Engine) SyncToAllTeams(ctx context.Context) (Result, error) {
	teamIDs, err := e.teams.ListTeamIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list teams: %w", err)
	}

	res := Result{Total: len(teamIDs)}

	for _, teamID := range teamIDs {
		teamRes, err := e.SyncToTeam(ctx, teamID)
		if err != nil {
			e.logger.Error("team sync failed", "team_id", teamID, "error", err)
			res.Errors++
			res.Failures = append(res.Failures, TeamFailure{
				TeamID: teamID,
				Error:  err.Error(),
			})
			metrics.IncTeamSync(metrics.SyncOutcomeError)
			continue
		}

		if teamRes.HasChanges() {
			res.Success++
			metrics.IncTeamSync(metrics.SyncOutcomeSuccess)
		} else {
			res.Skipped++
			metrics.IncTeamSync(metrics.SyncOutcomeSkipped)
		}
	}

	e.logger.Info("sync to all teams complete",
		"total", res.Total,
		"success", res.Success,
		"skipped", res.Skipped,
		"errors", res.Errors,
	)

	return res, nil
}
