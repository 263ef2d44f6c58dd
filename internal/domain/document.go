// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type DocumentFormat string

const (
	DocumentMarkdown DocumentFormat = "MARKDOWN"
	DocumentText     DocumentFormat = "TEXT"
)

// MinDocumentContentLength gates document synthesis after a completed skill
// run: shorter outputs stay on the interaction only.
const MinDocumentContentLength = 100

type Document struct {
	ID            uuid.UUID      `json:"id"`
	TeamID        uuid.UUID      `json:"team_id"`
	CustomerID    *uuid.UUID     `json:"customer_id,omitempty"`
	InteractionID *uuid.UUID     `json:"interaction_id,omitempty"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Format        DocumentFormat `json:"format"`
	CreatedAt     time.Time      `json:"created_at"`
}

type CreateDocumentParams struct {
	TeamID        uuid.UUID
	CustomerID    *uuid.UUID
	InteractionID *uuid.UUID
	Title         string
	Content       string
	Format        DocumentFormat
}
