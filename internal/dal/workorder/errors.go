package workorder

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var (
	ErrNotFound   = brokkrerrors.New(brokkrerrors.NotFound, "work order not found")
	ErrClaimLost  = brokkrerrors.New(brokkrerrors.Conflict, "work order claim lost the race")
	ErrNotClaimed = brokkrerrors.New(brokkrerrors.Conflict, "work order is not claimed by this agent")
)
