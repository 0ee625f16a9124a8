package docstore

import "errors"

var (
	// ErrNotConfigured is returned by Create, Get and Update when the store
	// has no database handle.
	ErrNotConfigured = errors.New("database not available: check DATABASE_URL and DATABASE_NAME environment variables")

	// ErrNotInitialized is returned by Delete under the same condition. It is
	// kept distinct from ErrNotConfigured so callers can tell them apart.
	ErrNotInitialized = errors.New("database not initialized: call enable-database first")

	ErrInvalidLimit = errors.New("limit must not be negative")

	// ErrFilterRequired is returned by Update and Delete for a nil filter.
	ErrFilterRequired = errors.New("filter is required")
)
