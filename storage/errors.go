package storage

import "errors"

// Storage error constants
var (
	// ErrRepositoryNotFound is returned when no state data was requested for a repository
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrFileNotFound is returned when file data arrives for a file no commit announced
	ErrFileNotFound = errors.New("file revision not found")

	// ErrCommitNotFound is returned when a branch has no fully persisted commit
	ErrCommitNotFound = errors.New("commit not found")

	// ErrApplicationNotFound is returned when a landscape has no application of that name
	ErrApplicationNotFound = errors.New("application not found")

	// ErrStoreClosed is returned by every operation after Close
	ErrStoreClosed = errors.New("graph store closed")
)
