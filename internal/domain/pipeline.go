package domain

import (
	"time"

	"github.com/google/uuid"
)

type StageSource string

const (
	SourceSystem StageSource = "SYSTEM"
	SourceCustom StageSource = "CUSTOM"
)

type SalesRole string

const (
	RoleAR SalesRole = "AR"
	RoleSR SalesRole = "SR"
	RoleFR SalesRole = "FR"
)

// SalesRoles lists every valid role, in display order.
var SalesRoles = []SalesRole{RoleAR, RoleSR, RoleFR}

func (r SalesRole) Valid() bool {
	switch r {
	case RoleAR, RoleSR, RoleFR:
		return true
	default:
		return false
	}
}

// SystemStageTemplate is a globally administered pipeline stage definition.
// Team copies reference it through TeamStage.SystemStageID.
type SystemStageTemplate struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Order           int       `json:"order"`
	DefaultSkillIDs []string  `json:"default_skill_ids"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type SystemRoleSkillDefault struct {
	Role            SalesRole `json:"role"`
	DefaultSkillIDs []string  `json:"default_skill_ids"`
}

// TeamStage is a team's mutable copy of a pipeline stage. Source SYSTEM plus
// a non-nil SystemStageID marks it sync-managed; everything else is
// team-owned and exempt from sync overwrites.
type TeamStage struct {
	ID            uuid.UUID   `json:"id"`
	TeamID        uuid.UUID   `json:"team_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Order         int         `json:"order"`
	Source        StageSource `json:"source"`
	SystemStageID *uuid.UUID  `json:"system_stage_id,omitempty"`
}

// SyncManaged reports whether the sync engine owns this stage.
func (s TeamStage) SyncManaged() bool {
	return s.Source == SourceSystem && s.SystemStageID != nil
}

type TeamRoleSkillDefault struct {
	TeamID          uuid.UUID   `json:"team_id"`
	Role            SalesRole   `json:"role"`
	DefaultSkillIDs []string    `json:"default_skill_ids"`
	Source          StageSource `json:"source"`
}

// StageSkillBinding attaches a skill to a pipeline stage. Order is 1-based
// and unique per stage; (StageID, SkillID) is unique.
type StageSkillBinding struct {
	ID      uuid.UUID `json:"id"`
	StageID uuid.UUID `json:"stage_id"`
	SkillID string    `json:"skill_id"`
	Order   int       `json:"order"`
}

type CreateStageTemplateParams struct {
	Name            string
	Description     string
	Order           int
	DefaultSkillIDs []string
}

type UpdateStageTemplateParams struct {
	Name            string
	Description     string
	Order           int
	DefaultSkillIDs []string
}
