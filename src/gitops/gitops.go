// Package gitops maintains the shared bare repository cache and prepares
// working directories checked out at a commit.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

var (
	ErrClone    = errors.New("clone failed")
	ErrFetch    = errors.New("fetch failed")
	ErrCheckout = errors.New("checkout failed")
)

const remoteName = "origin"

// Repos performs git operations, optionally authenticating https remotes.
type Repos struct {
	auth transport.AuthMethod
}

// NewRepos returns Repos that authenticate https remotes with token when it is non-empty.
func NewRepos(token string) *Repos {
	r := &Repos{}
	if token != "" {
		r.auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	return r
}

// CloneOrFetch mirrors every ref of url into the bare repository at bareDir,
// creating it on first use. It returns bareDir.
//
// The cache has no locking: concurrent calls for the same bareDir race.
func (r *Repos) CloneOrFetch(ctx context.Context, url, bareDir string) (string, error) {
	repo, err := git.PlainOpen(bareDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = initWithRemote(bareDir, true, url, "+refs/*:refs/*")
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrClone, bareDir, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RemoteURL:  url,
		RefSpecs:   []config.RefSpec{"+refs/*:refs/*"},
		Auth:       r.authFor(url),
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}

	return bareDir, nil
}

// Clone creates a working repository at workDir holding every ref of the
// bare repository source, without checking anything out.
func (r *Repos) Clone(ctx context.Context, source, workDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrClone, err)
	}

	repo, err := initWithRemote(workDir, false, source, "+refs/*:refs/remotes/origin/*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrClone, workDir, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       r.authFor(source),
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %s: %w", ErrClone, source, err)
	}
	return nil
}

// Checkout detaches the working tree at workDir onto sha.
func (r *Repos) Checkout(ctx context.Context, workDir, sha string) error {
	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckout, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(sha))
	if err != nil {
		return fmt.Errorf("%w: unknown commit %s: %w", ErrCheckout, sha, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckout, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCheckout, sha, err)
	}
	return nil
}

func initWithRemote(dir string, bare bool, url, refspec string) (*git.Repository, error) {
	repo, err := git.PlainInit(dir, bare)
	if err != nil {
		return nil, err
	}
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name:  remoteName,
		URLs:  []string{url},
		Fetch: []config.RefSpec{config.RefSpec(refspec)},
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repos) authFor(url string) transport.AuthMethod {
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		return r.auth
	}
	return nil
}
