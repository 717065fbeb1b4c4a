package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"explorviz/core"
	"explorviz/metrics"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"
)

// Neo4jOptions configures the driver behind a Neo4jStore.
type Neo4jOptions struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	// ConnectTimeout bounds socket connects and pool acquisition.
	ConnectTimeout time.Duration
}

// Neo4jStore persists landscapes in a Neo4j graph.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	closed   atomic.Bool
	logger   *zap.SugaredLogger
}

// OpenNeo4jStore creates the driver and verifies connectivity within ctx.
// On failure the driver is closed before returning.
func OpenNeo4jStore(ctx context.Context, opts Neo4jOptions, logger *zap.SugaredLogger) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if opts.Username != "" || opts.Password != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4jconfig.Config) {
		if opts.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnectionPoolSize
		}
		if opts.ConnectTimeout > 0 {
			c.SocketConnectTimeout = opts.ConnectTimeout
			c.ConnectionAcquisitionTimeout = opts.ConnectTimeout
		}
		c.UserAgent = "explorviz-persistence"
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = driver.Close(closeCtx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	logger.Infow("Connected to Neo4j successfully", "uri", opts.URI, "database", opts.Database)

	return &Neo4jStore{
		driver:   driver,
		database: opts.Database,
		logger:   logger,
	}, nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.driver.VerifyConnectivity(ctx)
}

// Close is idempotent.
func (s *Neo4jStore) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) query(ctx context.Context, operation, cypher string, params map[string]any, write bool) (*neo4j.EagerResult, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithWritersRouting()}
	if !write {
		opts = []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	}
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}

	start := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	metrics.GraphQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return result, nil
}

const persistSpanQuery = `
MERGE (l:Landscape {tokenId: $token})
MERGE (l)-[:CONTAINS]->(t:Trace {traceId: $traceId})
  ON CREATE SET t.startTime = $startTime
  ON MATCH SET t.startTime = CASE WHEN $startTime < t.startTime THEN $startTime ELSE t.startTime END
MERGE (t)-[:CONTAINS]->(s:Span {spanId: $spanId})
SET s.startTime = $startTime, s.endTime = $endTime, s.parentId = $parentId
MERGE (l)-[:CONTAINS]->(a:Application {name: $applicationName})
MERGE (a)-[:HAS_FUNCTION]->(f:Function {fqn: $fqn})
  ON CREATE SET f.name = $functionName
MERGE (s)-[:REPRESENTS]->(f)`

func (s *Neo4jStore) PersistSpan(ctx context.Context, span core.Span) error {
	fn := core.NewFunction(span.FunctionFQN)
	_, err := s.query(ctx, "persist_span", persistSpanQuery, map[string]any{
		"token":           span.LandscapeToken,
		"traceId":         span.TraceID,
		"spanId":          span.SpanID,
		"parentId":        span.ParentID,
		"startTime":       span.StartTime,
		"endTime":         span.EndTime,
		"applicationName": span.ApplicationName,
		"fqn":             fn.FQN,
		"functionName":    fn.Name,
	}, true)
	return err
}

const registerRepositoryQuery = `
MERGE (l:Landscape {tokenId: $token})
MERGE (l)-[:CONTAINS]->(r:Repository {name: $repository})
MERGE (r)-[:CONTAINS]->(:Branch {name: $branch})`

func (s *Neo4jStore) RegisterRepository(ctx context.Context, token, repository, branch string) error {
	_, err := s.query(ctx, "register_repository", registerRepositoryQuery, map[string]any{
		"token":      token,
		"repository": repository,
		"branch":     branch,
	}, true)
	return err
}

const persistCommitQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(r:Repository {name: $repository})
MERGE (r)-[:CONTAINS]->(b:Branch {name: $branch})
MERGE (r)-[:CONTAINS]->(c:Commit {hash: $hash})
SET c.commitDate = $commitDate, c.authorDate = $authorDate, c.tags = $tags
MERGE (c)-[:BELONGS_TO]->(b)
FOREACH (file IN $files |
  MERGE (r)-[:CONTAINS]->(fr:FileRevision {path: file.path, hash: file.hash})
    ON CREATE SET fr.hasFileData = false
  MERGE (c)-[:CONTAINS]->(fr))
FOREACH (_ IN CASE WHEN $parentHash = '' THEN [] ELSE [1] END |
  MERGE (r)-[:CONTAINS]->(p:Commit {hash: $parentHash})
  MERGE (c)-[:HAS_PARENT]->(p))
RETURN c.hash AS hash`

func (s *Neo4jStore) PersistCommit(ctx context.Context, commit core.Commit) error {
	files := make([]map[string]any, 0, len(commit.AddedFiles)+len(commit.ModifiedFiles)+len(commit.UnchangedFiles))
	for _, f := range commit.Files() {
		files = append(files, map[string]any{"path": f.FilePath, "hash": f.FileHash})
	}

	tags := commit.Tags
	if tags == nil {
		tags = []string{}
	}
	parentHash := ""
	if commit.HasParent() {
		parentHash = commit.ParentHash
	}

	result, err := s.query(ctx, "persist_commit", persistCommitQuery, map[string]any{
		"token":      commit.LandscapeToken,
		"repository": commit.RepositoryName,
		"branch":     commit.BranchName,
		"hash":       commit.Hash,
		"parentHash": parentHash,
		"commitDate": commit.CommitDate,
		"authorDate": commit.AuthorDate,
		"tags":       tags,
		"files":      files,
	}, true)
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return ErrRepositoryNotFound
	}
	return nil
}

const persistFileDataQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(:Repository {name: $repository})-[:CONTAINS]->(fr:FileRevision {path: $path, hash: $hash})
SET fr.hasFileData = true,
    fr.language = $language,
    fr.packageName = $packageName,
    fr.lastEditor = $lastEditor,
    fr.addedLines = $addedLines,
    fr.modifiedLines = $modifiedLines,
    fr.deletedLines = $deletedLines,
    fr.functions = $functions
RETURN fr.path AS path`

func (s *Neo4jStore) PersistFileData(ctx context.Context, data core.FileData) error {
	functions := data.Functions
	if functions == nil {
		functions = []string{}
	}

	result, err := s.query(ctx, "persist_file_data", persistFileDataQuery, map[string]any{
		"token":         data.LandscapeToken,
		"repository":    data.RepositoryName,
		"path":          data.FilePath,
		"hash":          data.FileHash,
		"language":      data.Language,
		"packageName":   data.PackageName,
		"lastEditor":    data.LastEditor,
		"addedLines":    data.AddedLines,
		"modifiedLines": data.ModifiedLines,
		"deletedLines":  data.DeletedLines,
		"functions":     functions,
	}, true)
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return ErrFileNotFound
	}
	return nil
}

const persistCommitReportQuery = `
MERGE (l:Landscape {tokenId: $token})
MERGE (l)-[:CONTAINS]->(r:Repository {name: $repository})
MERGE (r)-[:CONTAINS]->(b:Branch {name: $branch})
MERGE (r)-[:CONTAINS]->(c:Commit {hash: $hash})
MERGE (l)-[:CONTAINS]->(a:Application {name: $application})
MERGE (a)-[:BUILT_FROM]->(r)
WITH r, b, c
OPTIONAL MATCH (c)-[:BELONGS_TO]->(existing:Branch)
WITH r, b, c, count(existing) AS branches
FOREACH (_ IN CASE WHEN branches = 0 THEN [1] ELSE [] END | MERGE (c)-[:BELONGS_TO]->(b))
FOREACH (_ IN CASE WHEN $parentHash = '' THEN [] ELSE [1] END |
  MERGE (r)-[:CONTAINS]->(p:Commit {hash: $parentHash})
  MERGE (c)-[:HAS_PARENT]->(p))`

func (s *Neo4jStore) PersistCommitReport(ctx context.Context, report core.CommitReport) error {
	parentHash := ""
	if report.HasParent() {
		parentHash = report.ParentCommitID
	}

	_, err := s.query(ctx, "persist_commit_report", persistCommitReportQuery, map[string]any{
		"token":       report.LandscapeToken,
		"repository":  report.RepositoryName,
		"branch":      report.BranchName,
		"hash":        report.CommitID,
		"parentHash":  parentHash,
		"application": report.ApplicationName,
	}, true)
	return err
}

const timestampsQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(t:Trace)-[:CONTAINS]->(s:Span)
RETURN t.startTime AS epochNano, count(s) AS spanCount
ORDER BY epochNano ASC`

func (s *Neo4jStore) Timestamps(ctx context.Context, token string) ([]core.Timestamp, error) {
	result, err := s.query(ctx, "timestamps", timestampsQuery, map[string]any{"token": token}, false)
	if err != nil {
		return nil, err
	}

	timestamps := make([]core.Timestamp, 0, len(result.Records))
	for _, record := range result.Records {
		epochNano, _, err := neo4j.GetRecordValue[int64](record, "epochNano")
		if err != nil {
			return nil, fmt.Errorf("timestamps: %w", err)
		}
		spanCount, _, err := neo4j.GetRecordValue[int64](record, "spanCount")
		if err != nil {
			return nil, fmt.Errorf("timestamps: %w", err)
		}
		timestamps = append(timestamps, core.Timestamp{EpochNano: epochNano, SpanCount: int(spanCount)})
	}
	return timestamps, nil
}

const structureQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(a:Application)-[:HAS_FUNCTION]->(f:Function)
WITH a, f ORDER BY f.fqn
RETURN a.name AS name, collect(f.fqn) AS fqns
ORDER BY name`

func (s *Neo4jStore) Structure(ctx context.Context, token string) ([]core.Application, error) {
	result, err := s.query(ctx, "structure", structureQuery, map[string]any{"token": token}, false)
	if err != nil {
		return nil, err
	}

	apps := make([]core.Application, 0, len(result.Records))
	for _, record := range result.Records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, fmt.Errorf("structure: %w", err)
		}
		fqns, _, err := neo4j.GetRecordValue[[]any](record, "fqns")
		if err != nil {
			return nil, fmt.Errorf("structure: %w", err)
		}

		app := core.Application{Name: name, Functions: make([]core.Function, 0, len(fqns))}
		for _, fqn := range fqns {
			if str, ok := fqn.(string); ok {
				app.Functions = append(app.Functions, core.NewFunction(str))
			}
		}
		apps = append(apps, app)
	}
	return apps, nil
}

const repositoriesQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(r:Repository)
RETURN r.name AS name
ORDER BY name`

func (s *Neo4jStore) Repositories(ctx context.Context, token string) ([]string, error) {
	result, err := s.query(ctx, "repositories", repositoriesQuery, map[string]any{"token": token}, false)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, fmt.Errorf("repositories: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

const latestCommitQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(r:Repository {name: $repository})-[:CONTAINS]->(b:Branch {name: $branch})<-[:BELONGS_TO]-(c:Commit)
MATCH (c)-[:CONTAINS]->(f:FileRevision)
WITH c, count(f) AS files, sum(CASE WHEN f.hasFileData THEN 1 ELSE 0 END) AS complete
WHERE files > 0 AND files = complete
RETURN c.hash AS hash, c.commitDate AS commitDate, c.authorDate AS authorDate, c.tags AS tags
ORDER BY commitDate DESC, hash DESC
LIMIT 1`

func (s *Neo4jStore) LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
	result, err := s.query(ctx, "latest_commit", latestCommitQuery, map[string]any{
		"token":      token,
		"repository": repository,
		"branch":     branch,
	}, false)
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrCommitNotFound
	}

	record := result.Records[0]
	hash, _, err := neo4j.GetRecordValue[string](record, "hash")
	if err != nil {
		return nil, fmt.Errorf("latest commit: %w", err)
	}
	commitDate, _, err := neo4j.GetRecordValue[time.Time](record, "commitDate")
	if err != nil {
		return nil, fmt.Errorf("latest commit: %w", err)
	}
	authorDate, _, err := neo4j.GetRecordValue[time.Time](record, "authorDate")
	if err != nil {
		return nil, fmt.Errorf("latest commit: %w", err)
	}
	rawTags, _, err := neo4j.GetRecordValue[[]any](record, "tags")
	if err != nil {
		return nil, fmt.Errorf("latest commit: %w", err)
	}

	tags := make([]string, 0, len(rawTags))
	for _, tag := range rawTags {
		if str, ok := tag.(string); ok {
			tags = append(tags, str)
		}
	}

	return &core.CommitSummary{
		Hash:       hash,
		BranchName: branch,
		CommitDate: commitDate,
		AuthorDate: authorDate,
		Tags:       tags,
	}, nil
}

const staticApplicationsQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(a:Application)-[:BUILT_FROM]->(:Repository)
RETURN DISTINCT a.name AS name
ORDER BY name`

func (s *Neo4jStore) StaticApplications(ctx context.Context, token string) ([]string, error) {
	result, err := s.query(ctx, "static_applications", staticApplicationsQuery, map[string]any{"token": token}, false)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, fmt.Errorf("static applications: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

// commitTreeQuery yields one row with a null hash for an application
// without reported commits, and no row for an unknown application.
const commitTreeQuery = `
MATCH (:Landscape {tokenId: $token})-[:CONTAINS]->(a:Application {name: $application})
OPTIONAL MATCH (a)-[:BUILT_FROM]->(:Repository)-[:CONTAINS]->(c:Commit)-[:BELONGS_TO]->(b:Branch)
OPTIONAL MATCH (c)-[:HAS_PARENT]->(p:Commit)
OPTIONAL MATCH (p)-[:BELONGS_TO]->(pb:Branch)
RETURN c.hash AS hash, b.name AS branch, c.commitDate AS commitDate,
       collect(DISTINCT [p.hash, coalesce(pb.name, '')]) AS parents`

func (s *Neo4jStore) CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error) {
	result, err := s.query(ctx, "commit_tree", commitTreeQuery, map[string]any{
		"token":       token,
		"application": application,
	}, false)
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrApplicationNotFound
	}

	commits := make([]commitNode, 0, len(result.Records))
	for _, record := range result.Records {
		hash, isNil, err := neo4j.GetRecordValue[string](record, "hash")
		if err != nil {
			return nil, fmt.Errorf("commit tree: %w", err)
		}
		if isNil {
			continue
		}
		branch, _, err := neo4j.GetRecordValue[string](record, "branch")
		if err != nil {
			return nil, fmt.Errorf("commit tree: %w", err)
		}
		date, _, err := neo4j.GetRecordValue[time.Time](record, "commitDate")
		if err != nil {
			return nil, fmt.Errorf("commit tree: %w", err)
		}
		rawParents, _, err := neo4j.GetRecordValue[[]any](record, "parents")
		if err != nil {
			return nil, fmt.Errorf("commit tree: %w", err)
		}

		node := commitNode{hash: hash, branch: branch, date: date}
		for _, raw := range rawParents {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			parentHash, ok := pair[0].(string)
			if !ok {
				continue
			}
			parentBranch, _ := pair[1].(string)
			node.parents = append(node.parents, commitParent{hash: parentHash, branch: parentBranch})
		}
		commits = append(commits, node)
	}
	return buildCommitTree(application, commits), nil
}

// IsUnavailable reports whether err means the database could not be reached,
// as opposed to a rejected query.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreClosed) || neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err)
}
