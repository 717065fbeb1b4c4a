package storage

import (
	"context"
	"testing"
	"time"

	"explorviz/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const suiteToken = "mytokenvalue"

func testSpan(traceID, spanID string, start int64, fqn string) core.Span {
	return core.Span{
		SpanID:          spanID,
		TraceID:         traceID,
		LandscapeToken:  suiteToken,
		ApplicationName: "petclinic",
		FunctionFQN:     fqn,
		StartTime:       start,
		EndTime:         start + 1000,
	}
}

func testCommit(hash, parent string, date time.Time, files ...core.FileIdentifier) core.Commit {
	return core.Commit{
		Hash:           hash,
		ParentHash:     parent,
		RepositoryName: "petclinic",
		LandscapeToken: suiteToken,
		BranchName:     "main",
		CommitDate:     date,
		AuthorDate:     date,
		Tags:           []string{"v" + hash},
		AddedFiles:     files,
	}
}

func testReport(hash, parent string) core.CommitReport {
	return core.CommitReport{
		CommitID:        hash,
		ParentCommitID:  parent,
		RepositoryName:  "petclinic",
		BranchName:      "main",
		LandscapeToken:  suiteToken,
		ApplicationName: "petclinic",
	}
}

func testFileData(file core.FileIdentifier) core.FileData {
	return core.FileData{
		LandscapeToken: suiteToken,
		RepositoryName: "petclinic",
		FilePath:       file.FilePath,
		FileHash:       file.FileHash,
		Language:       "JAVA",
		AddedLines:     10,
	}
}

// runGraphStoreSuite checks the GraphStore contract against any implementation.
// newStore must return an empty store.
func runGraphStoreSuite(t *testing.T, newStore func(t *testing.T) GraphStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("EmptyLandscape", func(t *testing.T) {
		store := newStore(t)

		timestamps, err := store.Timestamps(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, timestamps)

		apps, err := store.Structure(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, apps)

		repos, err := store.Repositories(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, repos)

		_, err = store.LatestCommit(ctx, "unknown", "petclinic", "main")
		assert.ErrorIs(t, err, ErrCommitNotFound)
	})

	t.Run("SpansAndTimestamps", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-b", "s3", 2000, "org.petclinic.Owner.find")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-a", "s1", 1000, "org.petclinic.Vet.list")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-a", "s2", 1500, "org.petclinic.Vet.get")))
		// duplicate delivery
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-a", "s2", 1500, "org.petclinic.Vet.get")))

		timestamps, err := store.Timestamps(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []core.Timestamp{
			{EpochNano: 1000, SpanCount: 2},
			{EpochNano: 2000, SpanCount: 1},
		}, timestamps)

		apps, err := store.Structure(ctx, suiteToken)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, "petclinic", apps[0].Name)
		assert.Equal(t, []core.Function{
			{FQN: "org.petclinic.Owner.find", Name: "find"},
			{FQN: "org.petclinic.Vet.get", Name: "get"},
			{FQN: "org.petclinic.Vet.list", Name: "list"},
		}, apps[0].Functions)
	})

	t.Run("TraceStartIsEarliestSpan", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PersistSpan(ctx, testSpan("trace", "late", 5000, "a.B.c")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace", "early", 3000, "a.B.d")))

		timestamps, err := store.Timestamps(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []core.Timestamp{{EpochNano: 3000, SpanCount: 2}}, timestamps)
	})

	t.Run("TimestampsGroupTracesByStart", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-a", "s1", 1000, "a.B.c")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-b", "s2", 1000, "a.B.c")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-b", "s3", 1200, "a.B.d")))
		require.NoError(t, store.PersistSpan(ctx, testSpan("trace-c", "s4", 3000, "a.B.c")))

		timestamps, err := store.Timestamps(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []core.Timestamp{
			{EpochNano: 1000, SpanCount: 3},
			{EpochNano: 3000, SpanCount: 1},
		}, timestamps)
	})

	t.Run("CommitRequiresRepository", func(t *testing.T) {
		store := newStore(t)

		err := store.PersistCommit(ctx, testCommit("c1", core.NoParentCommit, time.Now()))
		assert.ErrorIs(t, err, ErrRepositoryNotFound)
	})

	t.Run("FileDataRequiresAnnouncedFile", func(t *testing.T) {
		store := newStore(t)
		file := core.FileIdentifier{FilePath: "src/Owner.java", FileHash: "h1"}

		assert.ErrorIs(t, store.PersistFileData(ctx, testFileData(file)), ErrFileNotFound)

		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))
		assert.ErrorIs(t, store.PersistFileData(ctx, testFileData(file)), ErrFileNotFound)

		require.NoError(t, store.PersistCommit(ctx, testCommit("c1", core.NoParentCommit, time.Now(), file)))
		assert.NoError(t, store.PersistFileData(ctx, testFileData(file)))
	})

	t.Run("Repositories", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "shop", "main"))
		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))
		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "develop"))
		require.NoError(t, store.RegisterRepository(ctx, "other", "billing", "main"))

		repos, err := store.Repositories(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []string{"petclinic", "shop"}, repos)
	})

	t.Run("LatestCommitNeedsCompleteFileData", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		f1 := core.FileIdentifier{FilePath: "src/Owner.java", FileHash: "h1"}
		f2 := core.FileIdentifier{FilePath: "src/Vet.java", FileHash: "h2"}
		f3 := core.FileIdentifier{FilePath: "src/Vet.java", FileHash: "h3"}

		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))
		require.NoError(t, store.PersistCommit(ctx, testCommit("c1", core.NoParentCommit, base, f1, f2)))
		require.NoError(t, store.PersistCommit(ctx, testCommit("c2", "c1", base.Add(time.Hour), f1, f3)))

		// nothing has file data yet
		_, err := store.LatestCommit(ctx, suiteToken, "petclinic", "main")
		assert.ErrorIs(t, err, ErrCommitNotFound)

		require.NoError(t, store.PersistFileData(ctx, testFileData(f1)))
		require.NoError(t, store.PersistFileData(ctx, testFileData(f2)))

		latest, err := store.LatestCommit(ctx, suiteToken, "petclinic", "main")
		require.NoError(t, err)
		assert.Equal(t, "c1", latest.Hash)
		assert.Equal(t, "main", latest.BranchName)
		assert.True(t, base.Equal(latest.CommitDate))
		assert.Equal(t, []string{"vc1"}, latest.Tags)

		require.NoError(t, store.PersistFileData(ctx, testFileData(f3)))

		latest, err = store.LatestCommit(ctx, suiteToken, "petclinic", "main")
		require.NoError(t, err)
		assert.Equal(t, "c2", latest.Hash)

		_, err = store.LatestCommit(ctx, suiteToken, "petclinic", "develop")
		assert.ErrorIs(t, err, ErrCommitNotFound)
	})

	t.Run("LatestCommitWithoutFiles", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))
		require.NoError(t, store.PersistCommit(ctx, testCommit("empty", core.NoParentCommit, time.Now())))

		_, err := store.LatestCommit(ctx, suiteToken, "petclinic", "main")
		assert.ErrorIs(t, err, ErrCommitNotFound)
	})

	t.Run("CommitReportCreatesRepository", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.PersistCommitReport(ctx, testReport("r1", core.NoParentCommit)))

		repos, err := store.Repositories(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []string{"petclinic"}, repos)

		apps, err := store.StaticApplications(ctx, suiteToken)
		require.NoError(t, err)
		assert.Equal(t, []string{"petclinic"}, apps)

		// state data is no longer needed for commits of that repository
		assert.NoError(t, store.PersistCommit(ctx, testCommit("r2", "r1", time.Now())))
	})

	t.Run("CommitTree", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))

		// the feature commit arrives before its parent on main
		feature := testCommit("f1", "m1", base.Add(2*time.Hour))
		feature.BranchName = "feature"
		require.NoError(t, store.PersistCommit(ctx, feature))
		require.NoError(t, store.PersistCommit(ctx, testCommit("m1", core.NoParentCommit, base)))
		require.NoError(t, store.PersistCommit(ctx, testCommit("m2", "m1", base.Add(time.Hour))))
		require.NoError(t, store.PersistCommitReport(ctx, testReport("m2", "m1")))

		tree, err := store.CommitTree(ctx, suiteToken, "petclinic")
		require.NoError(t, err)
		assert.Equal(t, &core.CommitTree{
			Name: "petclinic",
			Branches: []core.BranchTree{
				{Name: "feature", Commits: []string{"f1"}, BranchPoint: core.BranchPoint{Name: "main", CommitID: "m1"}},
				{Name: "main", Commits: []string{"m1", "m2"}, BranchPoint: core.NoBranchPoint},
			},
		}, tree)
	})

	t.Run("CommitTreeUnknownApplication", func(t *testing.T) {
		store := newStore(t)

		_, err := store.CommitTree(ctx, suiteToken, "billing")
		assert.ErrorIs(t, err, ErrApplicationNotFound)

		// observed but never reported
		require.NoError(t, store.PersistSpan(ctx, testSpan("t1", "s1", 100, "a.B.c")))
		tree, err := store.CommitTree(ctx, suiteToken, "petclinic")
		require.NoError(t, err)
		assert.Equal(t, "petclinic", tree.Name)
		assert.Empty(t, tree.Branches)
	})

	t.Run("Closed", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close(ctx))
		// second close is a no-op
		require.NoError(t, store.Close(ctx))

		assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
		assert.ErrorIs(t, store.PersistSpan(ctx, testSpan("t", "s", 1, "a.b")), ErrStoreClosed)
		_, err := store.Timestamps(ctx, suiteToken)
		assert.ErrorIs(t, err, ErrStoreClosed)
	})
}
