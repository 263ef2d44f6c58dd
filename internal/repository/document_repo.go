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

type DocumentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDocumentRepository(pool *pgxpool.Pool, logger *slog.Logger) *DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DocumentRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *DocumentRepository) Create(ctx context.Context, params domain.CreateDocumentParams) (uuid.UUID, error) {
	id := uuid.New()
	format := params.Format
	if format == "" {
		format = domain.DocumentMarkdown
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, team_id, customer_id, interaction_id, title, content, format)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, params.TeamID, params.CustomerID, params.InteractionID, params.Title, params.Content, format)
	if err != nil {
		r.logger.Error("insert document failed",
			"team_id", params.TeamID,
			"title", params.Title,
			"error", err,
		)
		return uuid.Nil, fmt.Errorf("%w: insert document: %v", domain.ErrPersistence, err)
	}

	r.logger.Info("document created", "document_id", id, "title", params.Title)
	return id, nil
}

func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	var d domain.Document
	err := r.pool.QueryRow(ctx, `
		SELECT id, team_id, customer_id, interaction_id, title, content, format, created_at
		FROM documents
		WHERE id=$1
	`, id).Scan(&d.ID, &d.TeamID, &d.CustomerID, &d.InteractionID, &d.Title, &d.Content, &d.Format, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, domain.ErrNotFound
		}
		r.logger.Error("get document failed", "document_id", id, "error", err)
		return domain.Document{}, fmt.Errorf("%w: get document: %v", domain.ErrPersistence, err)
	}
	return d, nil
}

func (r *DocumentRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]domain.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, customer_id, interaction_id, title, content, format, created_at
		FROM documents
		WHERE team_id=$1
		ORDER BY created_at DESC
	`, teamID)
	if err != nil {
		r.logger.Error("list documents failed", "team_id", teamID, "error", err)
		return nil, fmt.Errorf("%w: list documents: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0, 8)
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.TeamID, &d.CustomerID, &d.InteractionID, &d.Title, &d.Content, &d.Format, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", domain.ErrPersistence, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
