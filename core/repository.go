package core

import (
	"strings"
	"time"
)

// NoParentCommit marks a root commit in CommitData and CommitReport, and
// names the branch point of branches that did not fork from another one.
const NoParentCommit = "NONE"

// NoBranchPoint is reported for branches without a recorded fork.
var NoBranchPoint = BranchPoint{Name: NoParentCommit}

// StripRepositoryName returns the last path segment of an upstream name,
// e.g. "https://github.com/acme/shop.git" -> "shop.git".
func StripRepositoryName(upstream string) string {
	upstream = strings.TrimRight(strings.TrimSpace(upstream), "/")
	if idx := strings.LastIndex(upstream, "/"); idx >= 0 {
		return upstream[idx+1:]
	}
	return upstream
}

// FileIdentifier names one file revision inside a commit.
type FileIdentifier struct {
	FilePath string `json:"filePath" validate:"required"`
	FileHash string `json:"fileHash" validate:"required"`
}

// Commit is the static-analysis view of a single commit.
type Commit struct {
	Hash           string           `json:"commitId" validate:"required"`
	ParentHash     string           `json:"parentCommitId,omitempty"`
	RepositoryName string           `json:"repositoryName" validate:"required"`
	LandscapeToken string           `json:"landscapeToken" validate:"required"`
	BranchName     string           `json:"branchName" validate:"required"`
	CommitDate     time.Time        `json:"commitDate"`
	AuthorDate     time.Time        `json:"authorDate"`
	Tags           []string         `json:"tags,omitempty"`
	AddedFiles     []FileIdentifier `json:"addedFiles,omitempty" validate:"dive"`
	ModifiedFiles  []FileIdentifier `json:"modifiedFiles,omitempty" validate:"dive"`
	UnchangedFiles []FileIdentifier `json:"unchangedFiles,omitempty" validate:"dive"`
}

// HasParent reports whether the commit names a parent commit.
func (c Commit) HasParent() bool {
	return c.ParentHash != "" && c.ParentHash != NoParentCommit
}

// Files returns every file referenced by the commit.
func (c Commit) Files() []FileIdentifier {
	files := make([]FileIdentifier, 0, len(c.AddedFiles)+len(c.ModifiedFiles)+len(c.UnchangedFiles))
	files = append(files, c.AddedFiles...)
	files = append(files, c.ModifiedFiles...)
	files = append(files, c.UnchangedFiles...)
	return files
}

// FileData carries the analysis results for a file announced in a commit.
type FileData struct {
	LandscapeToken string   `json:"landscapeToken" validate:"required"`
	RepositoryName string   `json:"repositoryName" validate:"required"`
	FilePath       string   `json:"filePath" validate:"required"`
	FileHash       string   `json:"fileHash" validate:"required"`
	Language       string   `json:"language,omitempty"`
	PackageName    string   `json:"packageName,omitempty"`
	LastEditor     string   `json:"lastEditor,omitempty"`
	AddedLines     int      `json:"addedLines" validate:"gte=0"`
	ModifiedLines  int      `json:"modifiedLines" validate:"gte=0"`
	DeletedLines   int      `json:"deletedLines" validate:"gte=0"`
	Functions      []string `json:"functions,omitempty"`
}

// CommitSummary is what the REST surface reports for a commit.
type CommitSummary struct {
	Hash       string    `json:"commitId"`
	BranchName string    `json:"branchName"`
	CommitDate time.Time `json:"commitDate"`
	AuthorDate time.Time `json:"authorDate"`
	Tags       []string  `json:"tags"`
}

// StateDataRequest asks for the persisted state of a repository branch.
type StateDataRequest struct {
	LandscapeToken string `json:"landscapeToken" validate:"required"`
	UpstreamName   string `json:"upstreamName" validate:"required"`
	BranchName     string `json:"branchName" validate:"required"`
}

// StateData answers a StateDataRequest.
type StateData struct {
	BranchName string `json:"branchName"`
	CommitID   string `json:"commitId"`
}

// CommitReport links an application to a commit of the repository it was
// built from. The file lists are paths relative to the repository root.
type CommitReport struct {
	CommitID        string   `json:"commitId" validate:"required"`
	ParentCommitID  string   `json:"parentCommitId,omitempty"`
	RepositoryName  string   `json:"repositoryName" validate:"required"`
	BranchName      string   `json:"branchName" validate:"required"`
	LandscapeToken  string   `json:"landscapeToken" validate:"required"`
	ApplicationName string   `json:"applicationName" validate:"required"`
	Files           []string `json:"files,omitempty"`
	Added           []string `json:"added,omitempty"`
	Modified        []string `json:"modified,omitempty"`
	Deleted         []string `json:"deleted,omitempty"`
}

// HasParent reports whether the report names a parent commit.
func (r CommitReport) HasParent() bool {
	return r.ParentCommitID != "" && r.ParentCommitID != NoParentCommit
}

// Unchanged returns the files that were neither added, modified nor deleted.
func (r CommitReport) Unchanged() []string {
	changed := make(map[string]struct{}, len(r.Added)+len(r.Modified)+len(r.Deleted))
	for _, list := range [][]string{r.Added, r.Modified, r.Deleted} {
		for _, f := range list {
			changed[f] = struct{}{}
		}
	}
	unchanged := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		if _, ok := changed[f]; !ok {
			unchanged = append(unchanged, f)
		}
	}
	return unchanged
}

// BranchPoint is the commit of another branch a branch forked from.
type BranchPoint struct {
	Name     string `json:"name"`
	CommitID string `json:"commitId"`
}

// BranchTree lists the commits of one branch, oldest first.
type BranchTree struct {
	Name        string      `json:"name"`
	Commits     []string    `json:"commits"`
	BranchPoint BranchPoint `json:"branchPoint"`
}

// CommitTree is the branch layout of the repositories an application was
// reported from.
type CommitTree struct {
	Name     string       `json:"name"`
	Branches []BranchTree `json:"branches"`
}
