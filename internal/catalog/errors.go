package catalog

import "errors"

var (
	// ErrInvalidArgument marks malformed request parameters (sort field, order, cursor).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConstraint marks a missing required article field.
	ErrConstraint = errors.New("constraint violation")
	// ErrNotFound is returned when an id is absent from the canonical store.
	ErrNotFound = errors.New("article not found")
	// ErrConflict is returned when an idempotency key is still being processed.
	ErrConflict = errors.New("request already in progress")
	// ErrStore wraps canonical store failures.
	ErrStore = errors.New("canonical store error")
	// ErrIndex wraps search index failures.
	ErrIndex = errors.New("search index error")
)

// IsClientError reports whether err is caused by the request rather than a backend.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrConstraint)
}
