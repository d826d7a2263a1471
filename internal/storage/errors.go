package storage

import "errors"

var (
	// ErrNewerSchema indicates the database was written by a newer version
	// of the software. The store keeps serving the existing schema.
	ErrNewerSchema = errors.New("database schema is from a newer version")
)
