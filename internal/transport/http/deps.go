// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/syncer"
)

type SystemAdmin interface {
	ListStageTemplates(ctx context.Context) ([]domain.SystemStageTemplate, error)
	GetStageTemplate(ctx context.Context, id uuid.UUID) (domain.SystemStageTemplate, error)
	CreateStageTemplate(ctx context.Context, params domain.CreateStageTemplateParams) (uuid.UUID, error)
	UpdateStageTemplate(ctx context.Context, id uuid.UUID, params domain.UpdateStageTemplateParams) error
	DeleteStageTemplate(ctx context.Context, id uuid.UUID) error
	ListRoleDefaults(ctx context.Context) ([]domain.SystemRoleSkillDefault, error)
	UpsertRoleDefault(ctx context.Context, role domain.SalesRole, skillIDs []string) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type PipelineAccess interface {
	ListTeamStages(ctx context.Context, teamID uuid.UUID) ([]domain.TeamStage, error)
	ListStageBindings(ctx context.Context, stageID uuid.UUID) ([]domain.StageSkillBinding, error)
	CreateCustomStage(ctx context.Context, teamID uuid.UUID, name, description string, order int) (uuid.UUID, error)
	CustomizeStage(ctx context.Context, teamID, stageID uuid.UUID, name, description string, order int) error
	CustomizeRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole, skillIDs []string) error
	GetTeamRoleDefault(ctx context.Context, teamID uuid.UUID, role domain.SalesRole) (*domain.TeamRoleSkillDefault, error)
}

type TeamDirectory interface {
	CreateTeam(ctx context.Context, name string) (uuid.UUID, error)
	AddMember(ctx context.Context, teamID, userID uuid.UUID) error
	IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error)
}

type InteractionReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Interaction, error)
	ListMessages(ctx context.Context, interactionID uuid.UUID) ([]domain.InteractionMessage, error)
}

type DocumentReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Document, error)
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]domain.Document, error)
}

type SkillLister interface {
	List() []domain.Skill
}

type SyncRunner interface {
	SyncToTeam(ctx context.Context, teamID uuid.UUID) (syncer.TeamSyncResult, error)
	SyncToAllTeams(ctx context.Context) (syncer.Result, error)
}

type TokenIssuer interface {
	Issue(userID uuid.UUID, admin bool) (string, error)
}
