// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saleskit/ltc-backend/internal/domain"
)

// TeamRepository answers team enumeration, membership checks, and customer
// lookups for context assembly.
type TeamRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTeamRepository(pool *pgxpool.Pool, logger *slog.Logger) *TeamRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TeamRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *TeamRepository) CreateTeam(ctx context.Context, name string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `INSERT INTO teams (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		r.logger.Error("insert team failed", "name", name, "error", err)
		return uuid.Nil, fmt.Errorf("%w: insert team: %v", domain.ErrPersistence, err)
	}
	r.logger.Info("team created", "team_id", id, "name", name)
	return id, nil
}

func (r *TeamRepository) AddMember(ctx context.Context, teamID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO team_members (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID)
	if err != nil {
		r.logger.Error("add team member failed", "team_id", teamID, "user_id", userID, "error", err)
		return fmt.Errorf("%w: add team member: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (r *TeamRepository) ListTeamIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM teams ORDER BY created_at ASC`)
	if err != nil {
		r.logger.Error("list teams failed", "error", err)
		return nil, fmt.Errorf("%w: list teams: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0, 16)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan team id: %v", domain.ErrPersistence, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *TeamRepository) IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM team_members WHERE team_id=$1 AND user_id=$2)
	`, teamID, userID).Scan(&exists)
	if err != nil {
		r.logger.Error("membership check failed", "team_id", teamID, "user_id", userID, "error", err)
		return false, fmt.Errorf("%w: membership check: %v", domain.ErrPersistence, err)
	}
	return exists, nil
}

func (r *TeamRepository) GetCustomer(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	var c domain.Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, team_id, name, industry, notes
		FROM customers
		WHERE id=$1
	`, id).Scan(&c.ID, &c.TeamID, &c.Name, &c.Industry, &c.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, domain.ErrNotFound
		}
		r.logger.Error("get customer failed", "customer_id", id, "error", err)
		return domain.Customer{}, fmt.Errorf("%w: get customer: %v", domain.ErrPersistence, err)
	}
	return c, nil
}
