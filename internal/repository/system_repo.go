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

// SystemRepository holds the centrally administered state: stage templates,
// per-role skill defaults, and the key/value settings store.
type SystemRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSystemRepository(pool *pgxpool.Pool, logger *slog.Logger) *SystemRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SystemRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *SystemRepository) ListStageTemplates(ctx context.Context) ([]domain.SystemStageTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, stage_order, default_skill_ids, created_at, updated_at
		FROM system_stage_templates
		ORDER BY stage_order ASC
	`)
	if err != nil {
		r.logger.Error("list stage templates failed", "error", err)
		return nil, fmt.Errorf("%w: list stage templates: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.SystemStageTemplate, 0, 8)
	for rows.Next() {
		var tpl domain.SystemStageTemplate
		var skillIDs []byte
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.Order,
			&skillIDs, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan stage template: %v", domain.ErrPersistence, err)
		}
		if err := json.Unmarshal(skillIDs, &tpl.DefaultSkillIDs); err != nil {
			return nil, fmt.Errorf("%w: decode default_skill_ids: %v", domain.ErrPersistence, err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (r *SystemRepository) GetStageTemplate(ctx context.Context, id uuid.UUID) (domain.SystemStageTemplate, error) {
	var tpl domain.SystemStageTemplate
	var skillIDs []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, stage_order, default_skill_ids, created_at, updated_at
		FROM system_stage_templates
		WHERE id=$1
	`, id).Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.Order,
		&skillIDs, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SystemStageTemplate{}, domain.ErrTemplateNotFound
		}
		r.logger.Error("get stage template failed", "template_id", id, "error", err)
		return domain.SystemStageTemplate{}, fmt.Errorf("%w: get stage template: %v", domain.ErrPersistence, err)
	}

	if err := json.Unmarshal(skillIDs, &tpl.DefaultSkillIDs); err != nil {
		return domain.SystemStageTemplate{}, fmt.Errorf("%w: decode default_skill_ids: %v", domain.ErrPersistence, err)
	}
	return tpl, nil
}

func (r *SystemRepository) CreateStageTemplate(ctx context.Context, params domain.CreateStageTemplateParams) (uuid.UUID, error) {
	id := uuid.New()
	skillIDs, err := json.Marshal(nonNil(params.DefaultSkillIDs))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: encode default_skill_ids: %v", domain.ErrValidation, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO system_stage_templates (id, name, description, stage_order, default_skill_ids)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, id, params.Name, params.Description, params.Order, skillIDs)
	if err != nil {
		r.logger.Error("insert stage template failed", "name", params.Name, "error", err)
		return uuid.Nil, fmt.Errorf("%w: insert stage template: %v", domain.ErrPersistence, err)
	}

	r.logger.Info("stage template created", "template_id", id, "name", params.Name)
	return id, nil
}

func (r *SystemRepository) UpdateStageTemplate(ctx context.Context, id uuid.UUID, params domain.UpdateStageTemplateParams) error {
	skillIDs, err := json.Marshal(nonNil(params.DefaultSkillIDs))
	if err != nil {
		return fmt.Errorf("%w: encode default_skill_ids: %v", domain.ErrValidation, err)
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE system_stage_templates
		SET name=$2, description=$3, stage_order=$4, default_skill_ids=$5::jsonb, updated_at=NOW()
		WHERE id=$1
	`, id, params.Name, params.Description, params.Order, skillIDs)
	if err != nil {
		r.logger.Error("update stage template failed", "template_id", id, "error", err)
		return fmt.Errorf("%w: update stage template: %v", domain.ErrPersistence, err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// DeleteStageTemplate removes a template. Team copies referencing it are left
// in place; future syncs simply skip them.
func (r *SystemRepository) DeleteStageTemplate(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM system_stage_templates WHERE id=$1`, id)
	if err != nil {
		r.logger.Error("delete stage template failed", "template_id", id, "error", err)
		return fmt.Errorf("%w: delete stage template: %v", domain.ErrPersistence, err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	r.logger.Info("stage template deleted", "template_id", id)
	return nil
}

func (r *SystemRepository) ListRoleDefaults(ctx context.Context) ([]domain.SystemRoleSkillDefault, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role, default_skill_ids
		FROM system_role_skill_defaults
		ORDER BY role ASC
	`)
	if err != nil {
		r.logger.Error("list role defaults failed", "error", err)
		return nil, fmt.Errorf("%w: list role defaults: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.SystemRoleSkillDefault, 0, len(domain.SalesRoles))
	for rows.Next() {
		var rd domain.SystemRoleSkillDefault
		var skillIDs []byte
		if err := rows.Scan(&rd.Role, &skillIDs); err != nil {
			return nil, fmt.Errorf("%w: scan role default: %v", domain.ErrPersistence, err)
		}
		if err := json.Unmarshal(skillIDs, &rd.DefaultSkillIDs); err != nil {
			return nil, fmt.Errorf("%w: decode default_skill_ids: %v", domain.ErrPersistence, err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *SystemRepository) UpsertRoleDefault(ctx context.Context, role domain.SalesRole, skillIDs []string) error {
	if !role.Valid() {
		return domain.ErrInvalidRole
	}

	encoded, err := json.Marshal(nonNil(skillIDs))
	if err != nil {
		return fmt.Errorf("%w: encode default_skill_ids: %v", domain.ErrValidation, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO system_role_skill_defaults (role, default_skill_ids)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (role)
		DO UPDATE SET default_skill_ids=EXCLUDED.default_skill_ids, updated_at=NOW()
	`, role, encoded)
	if err != nil {
		r.logger.Error("upsert role default failed", "role", role, "error", err)
		return fmt.Errorf("%w: upsert role default: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (r *SystemRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key=$1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		r.logger.Error("get setting failed", "key", key, "error", err)
		return "", fmt.Errorf("%w: get setting: %v", domain.ErrPersistence, err)
	}
	return value, nil
}

func (r *SystemRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, key, value)
	if err != nil {
		r.logger.Error("set setting failed", "key", key, "error", err)
		return fmt.Errorf("%w: set setting: %v", domain.ErrPersistence, err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
