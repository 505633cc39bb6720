// Package gitinfo resolves the current commit hash of a project root, used
// to stamp BuildOutcome.GitHash. It uses go-git/go-git/v5 to open a
// repository and resolve HEAD; Poltergeist only ever reads local repository
// state, so it needs none of that library's clone/fetch/transport surface.
package gitinfo

import (
	"github.com/go-git/go-git/v5"
)

// HeadHash returns the short commit hash HEAD points to in the repository
// rooted at (or above) dir. It returns ("", nil) when dir is not inside a
// git repository, since most targets will not be version controlled in the
// test environment a build runs from.
func HeadHash(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return "", nil
		}
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", nil
	}
	hash := head.Hash().String()
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return hash, nil
}
