package models

import "errors"

// ErrInvalidEntity is returned when an entity is missing its identifier.
var ErrInvalidEntity = errors.New("invalid entity")
