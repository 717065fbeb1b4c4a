package storage

import (
	"context"

	"explorviz/core"
)

// GraphStore is the persistence binding shared by the REST and RPC surfaces.
// Writes are idempotent: persisting the same span, commit or file twice
// leaves the graph unchanged.
type GraphStore interface {
	// Ping checks that the backend answers.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	PersistSpan(ctx context.Context, span core.Span) error
	// RegisterRepository records that static analysis started for a branch.
	RegisterRepository(ctx context.Context, token, repository, branch string) error
	// PersistCommit fails with ErrRepositoryNotFound for unregistered repositories.
	PersistCommit(ctx context.Context, commit core.Commit) error
	// PersistFileData fails with ErrFileNotFound unless a commit announced the file.
	PersistFileData(ctx context.Context, data core.FileData) error
	// PersistCommitReport links an application to a commit. Repository, branch
	// and parent commit are created when missing.
	PersistCommitReport(ctx context.Context, report core.CommitReport) error

	// Timestamps lists every distinct trace start time, oldest first, with the
	// number of spans in the traces starting then.
	Timestamps(ctx context.Context, token string) ([]core.Timestamp, error)
	Structure(ctx context.Context, token string) ([]core.Application, error)
	Repositories(ctx context.Context, token string) ([]string, error)
	// LatestCommit returns the newest commit on the branch whose files all
	// carry file data, or ErrCommitNotFound.
	LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error)
	// StaticApplications lists the applications that have commit reports.
	StaticApplications(ctx context.Context, token string) ([]string, error)
	// CommitTree returns the branches of the repositories an application was
	// reported from, or ErrApplicationNotFound.
	CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error)
}
