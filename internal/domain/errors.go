package domain

import "errors"

// ErrNotFound is returned by repositories when the referenced entity is absent.
// Service layers translate it into entity-specific sentinels.
var ErrNotFound = errors.New("not found")
