package stack

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var (
	ErrNotFound      = brokkrerrors.New(brokkrerrors.NotFound, "stack not found")
	ErrAlreadyExists = brokkrerrors.New(brokkrerrors.Conflict, "stack name already in use")
)

// CheckOwnership enforces spec.md §4.2's "Generator-owned stacks may only
// be read/modified by admin or the owning generator" at the DAL level —
// called by the HTTP handlers' stack loader (loadStackAuthorized).
func CheckOwnership(s *Stack, isAdmin bool, callerGeneratorID string) error {
	if isAdmin {
		return nil
	}
	if s.OwningGeneratorID == nil {
		return brokkrerrors.New(brokkrerrors.Forbidden, "only admin may act on an admin-owned stack")
	}
	if *s.OwningGeneratorID != callerGeneratorID {
		return brokkrerrors.New(brokkrerrors.Forbidden, "generator does not own this stack")
	}
	return nil
}
