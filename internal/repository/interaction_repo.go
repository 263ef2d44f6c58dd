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

type InteractionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewInteractionRepository(pool *pgxpool.Pool, logger *slog.Logger) *InteractionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &InteractionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *InteractionRepository) Create(ctx context.Context, params domain.CreateInteractionParams) (domain.Interaction, error) {
	id := uuid.New()

	var parameters []byte
	if len(params.Parameters) > 0 {
		parameters = params.Parameters
	}

	var it domain.Interaction
	err := r.pool.QueryRow(ctx, `
		INSERT INTO interactions (id, team_id, customer_id, skill_id, user_id, status, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, team_id, customer_id, skill_id, user_id, status, parameters, summary, started_at, completed_at
	`, id, params.TeamID, params.CustomerID, params.SkillID, params.UserID, domain.InteractionRunning, parameters).
		Scan(&it.ID, &it.TeamID, &it.CustomerID, &it.SkillID, &it.UserID, &it.Status,
			&it.Parameters, &it.Summary, &it.StartedAt, &it.CompletedAt)
	if err != nil {
		r.logger.Error("insert interaction failed",
			"team_id", params.TeamID,
			"skill_id", params.SkillID,
			"error", err,
		)
		return domain.Interaction{}, fmt.Errorf("%w: insert interaction: %v", domain.ErrPersistence, err)
	}

	r.logger.Info("interaction created", "interaction_id", it.ID, "skill_id", it.SkillID)
	return it, nil
}

func (r *InteractionRepository) Get(ctx context.Context, id uuid.UUID) (domain.Interaction, error) {
	var it domain.Interaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, team_id, customer_id, skill_id, user_id, status, parameters, summary, started_at, completed_at
		FROM interactions
		WHERE id=$1
	`, id).Scan(&it.ID, &it.TeamID, &it.CustomerID, &it.SkillID, &it.UserID, &it.Status,
		&it.Parameters, &it.Summary, &it.StartedAt, &it.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Interaction{}, domain.ErrInteractionNotFound
		}
		r.logger.Error("get interaction failed", "interaction_id", id, "error", err)
		return domain.Interaction{}, fmt.Errorf("%w: get interaction: %v", domain.ErrPersistence, err)
	}
	return it, nil
}

// MarkCompleted records the terminal success state with a summary and
// completion timestamp. Already-terminal interactions are left untouched.
func (r *InteractionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, summary string) error {
	return r.markTerminal(ctx, id, domain.InteractionCompleted, summary)
}

func (r *InteractionRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.markTerminal(ctx, id, domain.InteractionFailed, "")
}

func (r *InteractionRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.markTerminal(ctx, id, domain.InteractionCancelled, "")
}

func (r *InteractionRepository) markTerminal(ctx context.Context, id uuid.UUID, status domain.InteractionStatus, summary string) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE interactions
		SET status=$2,
		    summary=CASE WHEN $3 <> '' THEN $3 ELSE summary END,
		    completed_at=COALESCE(completed_at, NOW())
		WHERE id=$1
		  AND status NOT IN ($4, $5, $6)
	`, id, status, summary,
		domain.InteractionCompleted, domain.InteractionFailed, domain.InteractionCancelled)
	if err != nil {
		r.logger.Error("mark interaction terminal failed",
			"interaction_id", id,
			"status", status,
			"error", err,
		)
		return fmt.Errorf("%w: mark interaction %s: %v", domain.ErrPersistence, status, err)
	}

	if cmd.RowsAffected() == 0 {
		r.logger.Info("terminal transition skipped (already terminal)",
			"interaction_id", id,
			"status", status,
		)
	}
	return nil
}

// UpdateSummary refreshes the rolling summary of a still-running interaction
// after a non-final turn. Terminal interactions keep the summary they ended
// with.
func (r *InteractionRepository) UpdateSummary(ctx context.Context, id uuid.UUID, summary string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE interactions
		SET summary=$2
		WHERE id=$1
		  AND status NOT IN ($3, $4, $5)
	`, id, summary,
		domain.InteractionCompleted, domain.InteractionFailed, domain.InteractionCancelled)
	if err != nil {
		r.logger.Error("update interaction summary failed", "interaction_id", id, "error", err)
		return fmt.Errorf("%w: update summary: %v", domain.ErrPersistence, err)
	}
	return nil
}

// AppendMessage inserts one transcript row. The (interaction_id, turn) unique
// constraint turns concurrent duplicate turns into a conflict error instead
// of silently corrupting the transcript.
func (r *InteractionRepository) AppendMessage(ctx context.Context, interactionID uuid.UUID, role domain.MessageRole, content string, turn int, metadata json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()

	var meta []byte
	if len(metadata) > 0 {
		meta = metadata
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO interaction_messages (id, interaction_id, role, content, turn, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, interactionID, role, content, turn, meta)
	if err != nil {
		r.logger.Error("append message failed",
			"interaction_id", interactionID,
			"turn", turn,
			"error", err,
		)
		return uuid.Nil, fmt.Errorf("%w: append message turn %d: %v", domain.ErrPersistence, turn, err)
	}
	return id, nil
}

func (r *InteractionRepository) CountMessages(ctx context.Context, interactionID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM interaction_messages WHERE interaction_id=$1`,
		interactionID,
	).Scan(&count)
	if err != nil {
		r.logger.Error("count messages failed", "interaction_id", interactionID, "error", err)
		return 0, fmt.Errorf("%w: count messages: %v", domain.ErrPersistence, err)
	}
	return count, nil
}

func (r *InteractionRepository) ListMessages(ctx context.Context, interactionID uuid.UUID) ([]domain.InteractionMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, interaction_id, role, content, turn, metadata, created_at
		FROM interaction_messages
		WHERE interaction_id=$1
		ORDER BY turn ASC
	`, interactionID)
	if err != nil {
		r.logger.Error("list messages failed", "interaction_id", interactionID, "error", err)
		return nil, fmt.Errorf("%w: list messages: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.InteractionMessage, 0, 8)
	for rows.Next() {
		var m domain.InteractionMessage
		if err := rows.Scan(&m.ID, &m.InteractionID, &m.Role, &m.Content, &m.Turn, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", domain.ErrPersistence, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
