package checkpoint

import (
	"github.com/go-git/go-git/v5"
)

// detectGitBranch returns the branch checked out in the repository holding
// path, searching parent directories. It returns "" outside a repository,
// on a detached HEAD or before the first commit.
func detectGitBranch(path string) string {
	if path == "" {
		path = "."
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}
