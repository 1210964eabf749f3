package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
// For validation failures use pkg/domain-errors directly.
var (
	// ErrNotFound: the row does not exist or is outside the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: a downstream dependency is temporarily refusing work.
	ErrUnavailable = errors.New("unavailable")
)
