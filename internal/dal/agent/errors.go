package agent

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var (
	ErrNotFound      = brokkrerrors.New(brokkrerrors.NotFound, "agent not found")
	ErrAlreadyExists = brokkrerrors.New(brokkrerrors.Conflict, "agent name already in use")
)
