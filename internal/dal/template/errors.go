package template

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var (
	ErrNotFound      = brokkrerrors.New(brokkrerrors.NotFound, "template not found")
	ErrAlreadyExists = brokkrerrors.New(brokkrerrors.Conflict, "template name/version already exists")

	// ErrMissingRequiredLabel is returned by Instantiate when the target
	// stack lacks one or more of the template's required labels (spec.md
	// §4.9 "refuse instantiation if the target stack lacks any label the
	// template carries").
	ErrMissingRequiredLabel = brokkrerrors.New(brokkrerrors.Validation, "target stack is missing a label required by this template")
)
