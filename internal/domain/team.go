// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the sales target an interaction or document may be scoped to.
type Customer struct {
	ID       uuid.UUID `json:"id"`
	TeamID   uuid.UUID `json:"team_id"`
	Name     string    `json:"name"`
	Industry string    `json:"industry,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}
