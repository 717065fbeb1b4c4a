package storage

import (
	"context"
	"sort"
	"sync"

	"explorviz/core"
)

type memoryTrace struct {
	startTime int64
	spans     map[string]struct{}
}

type memoryFile struct {
	hasFileData bool
	data        core.FileData
}

type memoryCommit struct {
	summary core.CommitSummary
	parent  string
	files   []core.FileIdentifier
}

type memoryRepository struct {
	branches map[string]struct{}
	commits  map[string]*memoryCommit
	files    map[core.FileIdentifier]*memoryFile
}

type memoryLandscape struct {
	traces       map[string]*memoryTrace
	applications map[string]map[string]core.Function
	repositories map[string]*memoryRepository
	// reported maps applications with commit reports to their repositories.
	reported map[string]map[string]struct{}
}

// MemoryStore is an in-process GraphStore with the same semantics as
// Neo4jStore. It backs tests and local runs without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	closed     bool
	landscapes map[string]*memoryLandscape
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{landscapes: make(map[string]*memoryLandscape)}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Close is idempotent.
func (m *MemoryStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// landscape returns the landscape for token, creating it when create is set.
// Callers hold m.mu.
func (m *MemoryStore) landscape(token string, create bool) *memoryLandscape {
	l, ok := m.landscapes[token]
	if !ok && create {
		l = &memoryLandscape{
			traces:       make(map[string]*memoryTrace),
			applications: make(map[string]map[string]core.Function),
			repositories: make(map[string]*memoryRepository),
			reported:     make(map[string]map[string]struct{}),
		}
		m.landscapes[token] = l
	}
	return l
}

func (m *MemoryStore) PersistSpan(ctx context.Context, span core.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	l := m.landscape(span.LandscapeToken, true)

	trace, ok := l.traces[span.TraceID]
	if !ok {
		trace = &memoryTrace{startTime: span.StartTime, spans: make(map[string]struct{})}
		l.traces[span.TraceID] = trace
	}
	if span.StartTime < trace.startTime {
		trace.startTime = span.StartTime
	}
	trace.spans[span.SpanID] = struct{}{}

	functions, ok := l.applications[span.ApplicationName]
	if !ok {
		functions = make(map[string]core.Function)
		l.applications[span.ApplicationName] = functions
	}
	functions[span.FunctionFQN] = core.NewFunction(span.FunctionFQN)

	return nil
}

func (m *MemoryStore) RegisterRepository(ctx context.Context, token, repository, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	repo := m.landscape(token, true).repository(repository)
	repo.branches[branch] = struct{}{}
	return nil
}

// repository returns the named repository, creating it when missing.
func (l *memoryLandscape) repository(name string) *memoryRepository {
	repo, ok := l.repositories[name]
	if !ok {
		repo = &memoryRepository{
			branches: make(map[string]struct{}),
			commits:  make(map[string]*memoryCommit),
			files:    make(map[core.FileIdentifier]*memoryFile),
		}
		l.repositories[name] = repo
	}
	return repo
}

// commit returns the commit with hash, creating a commit without branch
// when missing.
func (r *memoryRepository) commit(hash string) *memoryCommit {
	c, ok := r.commits[hash]
	if !ok {
		c = &memoryCommit{summary: core.CommitSummary{Hash: hash}}
		r.commits[hash] = c
	}
	return c
}

func (m *MemoryStore) PersistCommit(ctx context.Context, commit core.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	repo := m.repository(commit.LandscapeToken, commit.RepositoryName)
	if repo == nil {
		return ErrRepositoryNotFound
	}

	repo.branches[commit.BranchName] = struct{}{}

	files := commit.Files()
	for _, f := range files {
		if _, ok := repo.files[f]; !ok {
			repo.files[f] = &memoryFile{}
		}
	}

	c := repo.commit(commit.Hash)
	c.summary = core.CommitSummary{
		Hash:       commit.Hash,
		BranchName: commit.BranchName,
		CommitDate: commit.CommitDate,
		AuthorDate: commit.AuthorDate,
		Tags:       append([]string(nil), commit.Tags...),
	}
	c.files = files
	if commit.HasParent() {
		repo.commit(commit.ParentHash)
		c.parent = commit.ParentHash
	}
	return nil
}

func (m *MemoryStore) PersistCommitReport(ctx context.Context, report core.CommitReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	l := m.landscape(report.LandscapeToken, true)
	repo := l.repository(report.RepositoryName)
	repo.branches[report.BranchName] = struct{}{}

	c := repo.commit(report.CommitID)
	if c.summary.BranchName == "" {
		c.summary.BranchName = report.BranchName
	}
	if report.HasParent() {
		repo.commit(report.ParentCommitID)
		c.parent = report.ParentCommitID
	}

	repos, ok := l.reported[report.ApplicationName]
	if !ok {
		repos = make(map[string]struct{})
		l.reported[report.ApplicationName] = repos
	}
	repos[report.RepositoryName] = struct{}{}
	return nil
}

func (m *MemoryStore) PersistFileData(ctx context.Context, data core.FileData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	repo := m.repository(data.LandscapeToken, data.RepositoryName)
	if repo == nil {
		return ErrFileNotFound
	}
	file, ok := repo.files[core.FileIdentifier{FilePath: data.FilePath, FileHash: data.FileHash}]
	if !ok {
		return ErrFileNotFound
	}

	file.hasFileData = true
	file.data = data
	return nil
}

// repository looks up a registered repository. Callers hold m.mu.
func (m *MemoryStore) repository(token, name string) *memoryRepository {
	l := m.landscape(token, false)
	if l == nil {
		return nil
	}
	return l.repositories[name]
}

func (m *MemoryStore) Timestamps(ctx context.Context, token string) ([]core.Timestamp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	l := m.landscape(token, false)
	if l == nil {
		return []core.Timestamp{}, nil
	}

	spans := make(map[int64]int, len(l.traces))
	for _, trace := range l.traces {
		spans[trace.startTime] += len(trace.spans)
	}
	timestamps := make([]core.Timestamp, 0, len(spans))
	for start, count := range spans {
		timestamps = append(timestamps, core.Timestamp{EpochNano: start, SpanCount: count})
	}
	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i].EpochNano < timestamps[j].EpochNano
	})
	return timestamps, nil
}

func (m *MemoryStore) Structure(ctx context.Context, token string) ([]core.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	l := m.landscape(token, false)
	if l == nil {
		return []core.Application{}, nil
	}

	apps := make([]core.Application, 0, len(l.applications))
	for name, functions := range l.applications {
		app := core.Application{Name: name, Functions: make([]core.Function, 0, len(functions))}
		for _, fn := range functions {
			app.Functions = append(app.Functions, fn)
		}
		sort.Slice(app.Functions, func(i, j int) bool {
			return app.Functions[i].FQN < app.Functions[j].FQN
		})
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

func (m *MemoryStore) Repositories(ctx context.Context, token string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	l := m.landscape(token, false)
	if l == nil {
		return []string{}, nil
	}

	names := make([]string, 0, len(l.repositories))
	for name := range l.repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	repo := m.repository(token, repository)
	if repo == nil {
		return nil, ErrCommitNotFound
	}

	var latest *memoryCommit
	for _, c := range repo.commits {
		if c.summary.BranchName != branch || !repo.complete(c) {
			continue
		}
		if latest == nil || c.summary.CommitDate.After(latest.summary.CommitDate) ||
			(c.summary.CommitDate.Equal(latest.summary.CommitDate) && c.summary.Hash > latest.summary.Hash) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrCommitNotFound
	}

	summary := latest.summary
	summary.Tags = append([]string{}, latest.summary.Tags...)
	return &summary, nil
}

func (m *MemoryStore) StaticApplications(ctx context.Context, token string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	l := m.landscape(token, false)
	if l == nil {
		return []string{}, nil
	}

	names := make([]string, 0, len(l.reported))
	for name := range l.reported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	l := m.landscape(token, false)
	if l == nil {
		return nil, ErrApplicationNotFound
	}
	_, observed := l.applications[application]
	repos, reported := l.reported[application]
	if !observed && !reported {
		return nil, ErrApplicationNotFound
	}

	var commits []commitNode
	for name := range repos {
		repo := l.repositories[name]
		for _, c := range repo.commits {
			if c.summary.BranchName == "" {
				continue
			}
			node := commitNode{hash: c.summary.Hash, branch: c.summary.BranchName, date: c.summary.CommitDate}
			if c.parent != "" {
				node.parents = []commitParent{{hash: c.parent, branch: repo.commits[c.parent].summary.BranchName}}
			}
			commits = append(commits, node)
		}
	}
	return buildCommitTree(application, commits), nil
}

// complete reports whether every file of c has file data.
func (r *memoryRepository) complete(c *memoryCommit) bool {
	if len(c.files) == 0 {
		return false
	}
	for _, f := range c.files {
		file, ok := r.files[f]
		if !ok || !file.hasFileData {
			return false
		}
	}
	return true
}
