package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saleskit/ltc-backend/internal/domain"
)

// PipelineRepository holds per-team pipeline state: stage copies, role skill
// defaults, and stage/skill bindings.
type PipelineRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPipelineRepository(pool *pgxpool.Pool, logger *slog.Logger) *PipelineRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PipelineRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *PipelineRepository) ListTeamStages(ctx context.Context, teamID uuid.UUID) ([]domain.TeamStage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, name, description, stage_order, source, system_stage_id
		FROM team_stages
		WHERE team_id=$1
		ORDER BY stage_order ASC, created_at ASC
	`, teamID)
	if err != nil {
		r.logger.Error("list team stages failed", "team_id", teamID, "error", err)
		return nil, fmt.Errorf("%w: list team stages: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.TeamStage, 0, 8)
	for rows.Next() {
		var s domain.TeamStage
		if err := rows.Scan(&s.ID, &s.TeamID, &s.Name, &s.Description, &s.Order, &s.Source, &s.SystemStageID); err != nil {
			return nil, fmt.Errorf("%w: scan team stage: %v", domain.ErrPersistence, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertSystemStage materializes a template as a SYSTEM-sourced team copy.
func (r *PipelineRepository) InsertSystemStage(ctx context.Context, teamID uuid.UUID, tpl domain.SystemStageTemplate) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO team_stages (id, team_id, name, description, stage_order, source, system_stage_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, teamID, tpl.Name, tpl.Description, tpl.Order, domain.SourceSystem, tpl.ID)
	if err != nil {
		r.logger.Error("insert system stage failed",
			"team_id", teamID,
			"template_id", tpl.ID,
			"error", err,
		)
		return uuid.Nil, fmt.Errorf("%w: insert system stage: %v", domain.ErrPersistence, err)
	}
	return id, nil
}

// UpdateSystemStage overwrites the sync-managed fields of a SYSTEM stage.
func (r *PipelineRepository) UpdateSystemStage(ctx context.Context, stageID uuid.UUID, name, description string, order int) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE team_stages
		SET name=$2, description=$3, stage_order=$4, updated_at=NOW()
		WHERE id=$1 AND source=$5
	`, stageID, name, description, order, domain.SourceSystem)
	if err != nil {
		r.logger.Error("update system stage failed", "stage_id", stageID, "error", err)
		return fmt.Errorf("%w: update system stage: %v", domain.ErrPersistence, err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateCustomStage adds a team-authored stage, exempt from sync.
func (r *PipelineRepository) CreateCustomStage(ctx context.Context, teamID uuid.UUID, name, description string, order int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO team_stages (id, team_id, name, description, stage_order, source)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, teamID, name, description, order, domain.SourceCustom)
	if err != nil {
		r.logger.Error("insert custom stage failed", "team_id", teamID, "error", err)
		return uuid.Nil, fmt.Errorf("%w: insert custom stage: %v", domain.ErrPersistence, err)
	}
	return id, nil
}

// CustomizeStage applies a team edit to a stage and flips its provenance to
// CUSTOM so later syncs leave it alone. Customization is sticky.
func (r *PipelineRepository) CustomizeStage(ctx context.Context, teamID, stageID uuid.UUID, name, description string, order int) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE team_stages
		SET name=$3, description=$4, stage_order=$5, source=$6, updated_at=NOW()
		WHERE id=$2 AND team_id=$1
	`, teamID, stageID, name, description, order, domain.SourceCustom)
	if err != nil {
		r.logger.Error("customize stage failed", "team_id", teamID, "stage_id", stageID, "error", err)
		return fmt.Errorf("%w: customize stage: %v", domain.ErrPersistence, err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.Info("stage customized", "team_id", teamID, "stage_id", stageID)
	return nil
}

func (r *PipelineRepository) GetTeamRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole) (*domain.TeamRoleSkillDefault, error) {
	var rd domain.TeamRoleSkillDefault
	var skillIDs []byte

	err := r.pool.QueryRow(ctx, `
		SELECT team_id, role, default_skill_ids, source
		FROM team_role_skill_defaults
		WHERE team_id=$1 AND role=$2
	`, teamID, role).Scan(&rd.TeamID, &rd.Role, &skillIDs, &rd.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("get team role default failed", "team_id", teamID, "role", role, "error", err)
		return nil, fmt.Errorf("%w: get team role default: %v", domain.ErrPersistence, err)
	}

	if err := json.Unmarshal(skillIDs, &rd.DefaultSkillIDs); err != nil {
		return nil, fmt.Errorf("%w: decode default_skill_ids: %v", domain.ErrPersistence, err)
	}
	return &rd, nil
}

// UpsertSystemRoleDefault writes a SYSTEM-sourced role config for the team.
func (r *PipelineRepository) UpsertSystemRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole, skillIDs []string) error {
	encoded, err := json.Marshal(nonNil(skillIDs))
	if err != nil {
		return fmt.Errorf("%w: encode default_skill_ids: %v", domain.ErrValidation, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO team_role_skill_defaults (team_id, role, default_skill_ids, source)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (team_id, role)
		DO UPDATE SET default_skill_ids=EXCLUDED.default_skill_ids, source=EXCLUDED.source, updated_at=NOW()
	`, teamID, role, encoded, domain.SourceSystem)
	if err != nil {
		r.logger.Error("upsert team role default failed", "team_id", teamID, "role", role, "error", err)
		return fmt.Errorf("%w: upsert team role default: %v", domain.ErrPersistence, err)
	}
	return nil
}

// CustomizeRoleDefault writes a team-authored role config, marking it CUSTOM.
func (r *PipelineRepository) CustomizeRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole, skillIDs []string) error {
	if !role.Valid() {
		return domain.ErrInvalidRole
	}

	encoded, err := json.Marshal(nonNil(skillIDs))
	if err != nil {
		return fmt.Errorf("%w: encode default_skill_ids: %v", domain.ErrValidation, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO team_role_skill_defaults (team_id, role, default_skill_ids, source)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (team_id, role)
		DO UPDATE SET default_skill_ids=EXCLUDED.default_skill_ids, source=EXCLUDED.source, updated_at=NOW()
	`, teamID, role, encoded, domain.SourceCustom)
	if err != nil {
		r.logger.Error("customize role default failed", "team_id", teamID, "role", role, "error", err)
		return fmt.Errorf("%w: customize role default: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ReplaceStageBindings drops every binding on the stage and recreates them in
// the given order, 1-based. Runs in one transaction so readers never observe
// a half-rebuilt set.
func (r *PipelineRepository) ReplaceStageBindings(ctx context.Context, stageID uuid.UUID, skillIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return fmt.Errorf("%w: begin tx: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM stage_skill_bindings WHERE stage_id=$1`, stageID); err != nil {
		r.logger.Error("delete stage bindings failed", "stage_id", stageID, "error", err)
		return fmt.Errorf("%w: delete stage bindings: %v", domain.ErrPersistence, err)
	}

	for i, skillID := range skillIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stage_skill_bindings (id, stage_id, skill_id, binding_order)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), stageID, skillID, i+1); err != nil {
			r.logger.Error("insert stage binding failed",
				"stage_id", stageID,
				"skill_id", skillID,
				"error", err,
			)
			return fmt.Errorf("%w: insert stage binding: %v", domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit stage bindings failed", "stage_id", stageID, "error", err)
		return fmt.Errorf("%w: commit stage bindings: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (r *PipelineRepository) ListStageBindings(ctx context.Context, stageID uuid.UUID) ([]domain.StageSkillBinding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, stage_id, skill_id, binding_order
		FROM stage_skill_bindings
		WHERE stage_id=$1
		ORDER BY binding_order ASC
	`, stageID)
	if err != nil {
		r.logger.Error("list stage bindings failed", "stage_id", stageID, "error", err)
		return nil, fmt.Errorf("%w: list stage bindings: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.StageSkillBinding, 0, 4)
	for rows.Next() {
		var b domain.StageSkillBinding
		if err := rows.Scan(&b.ID, &b.StageID, &b.SkillID, &b.Order); err != nil {
			return nil, fmt.Errorf("%w: scan stage binding: %v", domain.ErrPersistence, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
