package deploymentobject

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var (
	ErrNotFound         = brokkrerrors.New(brokkrerrors.NotFound, "deployment object not found")
	ErrChecksumMismatch = brokkrerrors.New(brokkrerrors.Validation, "yaml checksum does not match content")
)
