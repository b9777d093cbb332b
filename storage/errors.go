package storage

import "errors"

// Storage error constants
var (
	// ErrAnomalyNotFound is returned when an anomaly is not found
	ErrAnomalyNotFound = errors.New("anomaly not found")

	// ErrLogFileNotFound is returned when a log file record is not found
	ErrLogFileNotFound = errors.New("log file not found")

	// ErrAPIKeyNotFound is returned when no key exists for a provider
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrWebhookNotFound is returned when a webhook is not found
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrTooManyIDs is returned when a bulk operation exceeds the ID cap
	ErrTooManyIDs = errors.New("too many ids in bulk operation")

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")
)
