package generator

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var ErrNotFound = brokkrerrors.New(brokkrerrors.NotFound, "generator not found")
