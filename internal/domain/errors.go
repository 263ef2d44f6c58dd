// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// Error taxonomy. Concrete failures wrap one of these category sentinels so
// transport code can map them with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrProvider     = errors.New("provider error")
	ErrPersistence  = errors.New("persistence error")
)

var (
	ErrNotTeamMember       = wrap(ErrUnauthorized, "not a team member")
	ErrSkillNotFound       = wrap(ErrNotFound, "skill not found")
	ErrTeamNotFound        = wrap(ErrNotFound, "team not found")
	ErrInteractionNotFound = wrap(ErrNotFound, "interaction not found")
	ErrTemplateNotFound    = wrap(ErrNotFound, "stage template not found")
	ErrNoActiveExecution   = wrap(ErrNotFound, "no active execution for interaction")
	ErrExecutionActive     = wrap(ErrConflict, "interaction already has an active execution")
	ErrInvalidRole         = wrap(ErrValidation, "invalid sales role")
)

func wrap(category error, msg string) error {
	return &categoryError{category: category, msg: msg}
}

type categoryError struct {
	category error
	msg      string
}

func (e *categoryError) Error() string { return e.msg }
func (e *categoryError) Unwrap() error { return e.category }
