package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type InteractionStatus string

const (
	InteractionPending   InteractionStatus = "PENDING"
	InteractionRunning   InteractionStatus = "RUNNING"
	InteractionPaused    InteractionStatus = "PAUSED"
	InteractionCompleted InteractionStatus = "COMPLETED"
	InteractionFailed    InteractionStatus = "FAILED"
	InteractionCancelled InteractionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s InteractionStatus) Terminal() bool {
	switch s {
	case InteractionCompleted, InteractionFailed, InteractionCancelled:
		return true
	default:
		return false
	}
}

type MessageRole string

const (
	MessageSystem    MessageRole = "SYSTEM"
	MessageUser      MessageRole = "USER"
	MessageAssistant MessageRole = "ASSISTANT"
)

// Interaction is one execution session of a skill: a transcript plus
// lifecycle state, owned by the execution coordinator while running.
type Interaction struct {
	ID          uuid.UUID         `json:"id"`
	TeamID      uuid.UUID         `json:"team_id"`
	CustomerID  *uuid.UUID        `json:"customer_id,omitempty"`
	SkillID     string            `json:"skill_id"`
	UserID      uuid.UUID         `json:"user_id"`
	Status      InteractionStatus `json:"status"`
	Parameters  json.RawMessage   `json:"parameters,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// InteractionMessage is one transcript entry. Rows are append-only and
// ordered by Turn, which starts at 1 and increases without gaps.
type InteractionMessage struct {
	ID            uuid.UUID       `json:"id"`
	InteractionID uuid.UUID       `json:"interaction_id"`
	Role          MessageRole     `json:"role"`
	Content       string          `json:"content"`
	Turn          int             `json:"turn"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CreateInteractionParams struct {
	TeamID     uuid.UUID
	CustomerID *uuid.UUID
	SkillID    string
	UserID     uuid.UUID
	Parameters json.RawMessage
}
