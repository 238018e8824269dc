package builder

import (
	"errors"
	"fmt"

	"git.home.luguber.info/inful/docfleet/internal/git"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/provision"
)

// StageError carries the failing stage and the persisted error kind.
type StageError struct {
	Stage string
	Kind  model.ErrorKind
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// classifyStage wraps a stage failure with its error kind. Typed git and
// provisioner errors win; otherwise the stage's own default kind applies.
func classifyStage(stage string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}

	kind := model.ErrKindInternal
	var authErr *git.AuthError
	var refErr *git.RefNotFoundError
	var gitTimeout *git.TimeoutError
	var provErr *provision.Error
	switch {
	case errors.As(err, &authErr):
		kind = model.ErrKindAuthInvalid
	case errors.As(err, &refErr):
		kind = model.ErrKindRefNotFound
	case errors.As(err, &gitTimeout):
		kind = model.ErrKindGitTimeout
	case errors.As(err, &provErr):
		kind = model.ErrKindProvision
	default:
		switch stage {
		case stageProvision:
			kind = model.ErrKindProvision
		case stageGenerate:
			kind = model.ErrKindDocBuild
		case stagePublish:
			kind = model.ErrKindPublish
		}
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
