package webhookdelivery

import "github.com/colliery-io/brokkr/internal/brokkrerrors"

var ErrNotFound = brokkrerrors.New(brokkrerrors.NotFound, "webhook delivery not found")
