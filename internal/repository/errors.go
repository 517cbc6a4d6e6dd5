// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. ErrNotFound is returned by every lookup that finds nothing,
// whether the backing store is MySQL or Redis.
package repository

import "errors"

// ErrNotFound is returned when a requested row or key does not exist.
// Handlers should translate this into an HTTP 404 response unless the
// service maps it to a more specific domain error first.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write cannot be performed because of
// conflicting state, such as a second reservation for the same merchant
// reference. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
