package storage

import (
	"sort"
	"time"

	"explorviz/core"
)

// commitNode is a commit as read for a commit tree.
type commitNode struct {
	hash    string
	branch  string
	date    time.Time
	parents []commitParent
}

type commitParent struct {
	hash   string
	branch string
}

// buildCommitTree groups commits by branch, oldest first. A branch forks at
// the parent of its first commit whose parent sits on another branch; a
// branch starting with a root commit has no branch point.
func buildCommitTree(application string, commits []commitNode) *core.CommitTree {
	sort.Slice(commits, func(i, j int) bool {
		if !commits[i].date.Equal(commits[j].date) {
			return commits[i].date.Before(commits[j].date)
		}
		return commits[i].hash < commits[j].hash
	})

	branches := make(map[string]*core.BranchTree)
	decided := make(map[string]bool)
	for _, c := range commits {
		branch, ok := branches[c.branch]
		if !ok {
			branch = &core.BranchTree{Name: c.branch, Commits: []string{}, BranchPoint: core.NoBranchPoint}
			branches[c.branch] = branch
		}
		branch.Commits = append(branch.Commits, c.hash)

		if decided[c.branch] {
			continue
		}
		if len(c.parents) == 0 {
			decided[c.branch] = true
			continue
		}
		parents := append([]commitParent(nil), c.parents...)
		sort.Slice(parents, func(i, j int) bool { return parents[i].hash < parents[j].hash })
		for _, p := range parents {
			if p.branch != "" && p.branch != c.branch {
				branch.BranchPoint = core.BranchPoint{Name: p.branch, CommitID: p.hash}
				decided[c.branch] = true
				break
			}
		}
	}

	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &core.CommitTree{Name: application, Branches: make([]core.BranchTree, 0, len(names))}
	for _, name := range names {
		tree.Branches = append(tree.Branches, *branches[name])
	}
	return tree
}
