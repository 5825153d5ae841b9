// Package gitsource fetches repository data from remote Git hosts into
// bounded in-memory snapshots. It is the only component that touches
// the network.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"panopticon/internal/repoerr"
	"panopticon/internal/snapshot"
)

// maxFetchAttempts bounds retries of transient network failures.
const maxFetchAttempts = 3

// Limits carries the resource guards applied to every fetch.
type Limits struct {
	// MaxBlobSize bounds a single ReadBlob result, in bytes
	MaxBlobSize int64

	// MaxFiles bounds the file count of one in-memory clone
	MaxFiles int

	// MaxTotalFileSize bounds the total bytes of one in-memory clone
	MaxTotalFileSize int64
}

// Client defines the interface for remote repository access
type Client interface {
	// Fetch performs a shallow read of the remote repository: the flat
	// path listing at the requested revision and the full
	// branch-to-commit map. Blob content is not downloaded eagerly.
	Fetch(ctx context.Context, ref snapshot.RepositoryRef) (*snapshot.Snapshot, error)

	// ReadBlob resolves the content of one file from a fetched
	// snapshot, enforcing the configured maximum blob size.
	ReadBlob(snap *snapshot.Snapshot, path string) ([]byte, error)

	// Diff renders the unified diff between two revisions of a fetched
	// snapshot, optionally restricted to one path. An empty source
	// means the snapshot's commit; an empty target means the source's
	// first parent.
	Diff(ctx context.Context, snap *snapshot.Snapshot, source, target, path string) (string, error)

	// History returns up to maxCount commits reachable from the
	// snapshot's commit, newest first.
	History(ctx context.Context, snap *snapshot.Snapshot, maxCount int) ([]snapshot.Commit, error)
}

// defaultClient implements Client using go-git
type defaultClient struct {
	limits Limits
}

// NewClient creates a go-git backed client with the given limits.
func NewClient(limits Limits) Client {
	return &defaultClient{limits: limits}
}

// Fetch clones the repository into a bounded in-memory filesystem and
// assembles the snapshot. Transient network failures are retried with
// exponential backoff; auth and not-found failures surface immediately.
func (c *defaultClient) Fetch(ctx context.Context, ref snapshot.RepositoryRef) (*snapshot.Snapshot, error) {
	const op = "gitsource.Fetch"

	cloneURL, err := NormalizeURL(ref.URL)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting repository fetch",
		"repository", cloneURL,
		"revision", ref.Revision)
	startTime := time.Now()

	operation := func() (*git.Repository, error) {
		repo, cloneErr := c.clone(ctx, cloneURL, ref.Token)
		if cloneErr != nil {
			terr := translateError(op, cloneErr)
			if !repoerr.Retryable(terr) {
				return nil, backoff.Permanent(terr)
			}
			return nil, terr
		}
		return repo, nil
	}

	repo, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxFetchAttempts))
	if err != nil {
		slog.Error("Repository fetch failed",
			"repository", cloneURL,
			"duration", time.Since(startTime).String(),
			"error", err)
		return nil, err
	}

	commitHash, defaultBranch, err := resolveRevision(repo, ref.Revision)
	if err != nil {
		return nil, err
	}

	branches, err := listBranches(repo)
	if err != nil {
		return nil, err
	}
	if defaultBranch != "" {
		if _, ok := branches[defaultBranch]; !ok {
			branches[defaultBranch] = commitHash.String()
		}
	}

	entries, err := listEntries(repo, commitHash)
	if err != nil {
		return nil, err
	}

	slog.Info("Repository fetch completed",
		"repository", cloneURL,
		"commit_sha", commitHash.String(),
		"paths", len(entries),
		"branches", len(branches),
		"duration", time.Since(startTime).String())

	return &snapshot.Snapshot{
		Ref:           ref,
		FetchedAt:     time.Now(),
		CommitHash:    commitHash.String(),
		Entries:       entries,
		Branches:      branches,
		DefaultBranch: defaultBranch,
		Repository:    repo,
	}, nil
}

// clone performs one bare clone attempt into limited in-memory storage.
func (c *defaultClient) clone(ctx context.Context, cloneURL, token string) (*git.Repository, error) {
	storerFs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      int64(c.limits.MaxFiles),
		TotalFileSize: c.limits.MaxTotalFileSize,
	}
	objectCache := cache.NewObjectLRUDefault()
	storage := filesystem.NewStorage(storerFs, objectCache)

	cloneOptions := &git.CloneOptions{
		URL: cloneURL,
	}
	if auth := tokenAuth(token); auth != nil {
		cloneOptions.Auth = auth
	}

	// Bare clone, no worktree: content is read lazily from the object
	// database. All branch refs are fetched so the snapshot can carry
	// the complete branch map, and history stays available for diff
	// and log reads.
	return git.CloneContext(ctx, storage, nil, cloneOptions)
}

// ReadBlob resolves one file's content from the snapshot's commit tree.
func (c *defaultClient) ReadBlob(snap *snapshot.Snapshot, path string) ([]byte, error) {
	const op = "gitsource.ReadBlob"

	file, err := commitFile(snap, path)
	if err != nil {
		return nil, translateError(op, err)
	}

	if c.limits.MaxBlobSize > 0 && file.Size > c.limits.MaxBlobSize {
		return nil, repoerr.New(repoerr.KindTooLarge, op,
			"file %s is %d bytes, exceeds the %d byte limit", path, file.Size, c.limits.MaxBlobSize)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, translateError(op, err)
	}
	return []byte(content), nil
}

// Diff renders the unified diff target..source, matching `git diff
// target source`.
func (*defaultClient) Diff(ctx context.Context, snap *snapshot.Snapshot, source, target, path string) (string, error) {
	const op = "gitsource.Diff"

	sourceCommit, err := commitAt(snap, source)
	if err != nil {
		return "", translateError(op, err)
	}

	var targetCommit *object.Commit
	if target != "" {
		targetCommit, err = commitAt(snap, target)
		if err != nil {
			return "", translateError(op, err)
		}
	} else {
		if sourceCommit.NumParents() == 0 {
			return "", repoerr.New(repoerr.KindNotFound, op,
				"commit %s has no parent to compare with", sourceCommit.Hash)
		}
		targetCommit, err = sourceCommit.Parent(0)
		if err != nil {
			return "", translateError(op, err)
		}
	}

	sourceTree, err := sourceCommit.Tree()
	if err != nil {
		return "", translateError(op, err)
	}
	targetTree, err := targetCommit.Tree()
	if err != nil {
		return "", translateError(op, err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, targetTree, sourceTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return "", translateError(op, err)
	}

	if path != "" {
		changes = filterChanges(changes, path)
		if len(changes) == 0 {
			return "", nil
		}
	}

	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return "", translateError(op, err)
	}
	return patch.String(), nil
}

// History walks the snapshot's commit log, newest first.
func (*defaultClient) History(_ context.Context, snap *snapshot.Snapshot, maxCount int) ([]snapshot.Commit, error) {
	const op = "gitsource.History"

	if snap == nil || snap.Repository == nil {
		return nil, repoerr.New(repoerr.KindDataIntegrity, op, "snapshot has no repository handle")
	}

	iter, err := snap.Repository.Log(&git.LogOptions{
		From: plumbing.NewHash(snap.CommitHash),
	})
	if err != nil {
		return nil, translateError(op, err)
	}
	defer iter.Close()

	var commits []snapshot.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if maxCount > 0 && len(commits) >= maxCount {
			return storer.ErrStop
		}
		commits = append(commits, snapshot.Commit{
			Hash:    c.Hash.String(),
			Author:  fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email),
			Date:    c.Author.When,
			Message: strings.TrimSpace(c.Message),
		})
		return nil
	})
	if err != nil {
		return nil, translateError(op, err)
	}
	return commits, nil
}

// resolveRevision maps the requested revision onto a commit hash. An
// empty revision means the remote default branch (HEAD after clone).
func resolveRevision(repo *git.Repository, revision string) (plumbing.Hash, string, error) {
	const op = "gitsource.Fetch"

	head, headErr := repo.Head()
	defaultBranch := ""
	if headErr == nil {
		defaultBranch = head.Name().Short()
	}

	if revision == "" {
		if headErr != nil {
			return plumbing.ZeroHash, "", translateError(op, headErr)
		}
		return head.Hash(), defaultBranch, nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		// Branches of a fresh clone live under the remote namespace.
		hash, err = repo.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + revision))
	}
	if err != nil {
		return plumbing.ZeroHash, "", repoerr.New(repoerr.KindNotFound, op,
			"revision %q not found", revision)
	}
	return *hash, defaultBranch, nil
}

// listBranches collects the branch-to-commit map from both local and
// remote-tracking refs. Local refs win on overlap.
func listBranches(repo *git.Repository) (map[string]string, error) {
	const op = "gitsource.Fetch"

	refs, err := repo.References()
	if err != nil {
		return nil, translateError(op, err)
	}

	branches := make(map[string]string)
	remote := make(map[string]string)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case name.IsBranch():
			branches[name.Short()] = ref.Hash().String()
		case name.IsRemote():
			short := strings.TrimPrefix(name.Short(), "origin/")
			if short == "HEAD" || short == name.Short() {
				return nil
			}
			remote[short] = ref.Hash().String()
		}
		return nil
	})
	if err != nil {
		return nil, translateError(op, err)
	}

	for name, hash := range remote {
		if _, ok := branches[name]; !ok {
			branches[name] = hash
		}
	}
	return branches, nil
}

// listEntries flattens the commit tree into path entries, deriving the
// directory entries git does not store explicitly. Entries are sorted
// by path and unique.
func listEntries(repo *git.Repository, commitHash plumbing.Hash) ([]snapshot.PathEntry, error) {
	const op = "gitsource.Fetch"

	commit, err := repo.CommitObject(commitHash)
	if err != nil {
		return nil, translateError(op, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, translateError(op, err)
	}

	var files []snapshot.PathEntry
	iter := tree.Files()
	err = iter.ForEach(func(f *object.File) error {
		files = append(files, snapshot.PathEntry{
			Path: f.Name,
			Kind: snapshot.KindFile,
			Size: f.Size,
			Blob: f.Hash.String(),
		})
		return nil
	})
	if err != nil {
		return nil, translateError(op, err)
	}

	return withDirectories(files), nil
}

// withDirectories adds one directory entry for every intermediate path
// segment of the given files and returns the combined sorted listing.
func withDirectories(files []snapshot.PathEntry) []snapshot.PathEntry {
	dirs := make(map[string]struct{})
	for _, f := range files {
		dir := f.Path
		for {
			idx := strings.LastIndexByte(dir, '/')
			if idx < 0 {
				break
			}
			dir = dir[:idx]
			dirs[dir] = struct{}{}
		}
	}

	entries := make([]snapshot.PathEntry, 0, len(files)+len(dirs))
	entries = append(entries, files...)
	for dir := range dirs {
		entries = append(entries, snapshot.PathEntry{
			Path: dir,
			Kind: snapshot.KindDirectory,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// commitAt resolves a revision within an already-fetched snapshot,
// defaulting to the snapshot's own commit.
func commitAt(snap *snapshot.Snapshot, revision string) (*object.Commit, error) {
	if snap == nil || snap.Repository == nil {
		return nil, repoerr.New(repoerr.KindDataIntegrity, "gitsource.commitAt", "snapshot has no repository handle")
	}

	if revision == "" {
		return snap.Repository.CommitObject(plumbing.NewHash(snap.CommitHash))
	}

	hash, err := snap.Repository.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		hash, err = snap.Repository.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + revision))
	}
	if err != nil {
		return nil, repoerr.New(repoerr.KindNotFound, "gitsource.commitAt", "revision %q not found", revision)
	}
	return snap.Repository.CommitObject(*hash)
}

// commitFile opens one file of the snapshot's commit tree.
func commitFile(snap *snapshot.Snapshot, path string) (*object.File, error) {
	if snap == nil || snap.Repository == nil {
		return nil, repoerr.New(repoerr.KindDataIntegrity, "gitsource.commitFile", "snapshot has no repository handle")
	}

	commit, err := snap.Repository.CommitObject(plumbing.NewHash(snap.CommitHash))
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	return tree.File(path)
}

// filterChanges keeps the changes touching path, either exactly or as a
// directory prefix.
func filterChanges(changes object.Changes, path string) object.Changes {
	prefix := strings.TrimSuffix(path, "/") + "/"
	var out object.Changes
	for _, ch := range changes {
		from, to := ch.From.Name, ch.To.Name
		if from == path || to == path ||
			strings.HasPrefix(from, prefix) || strings.HasPrefix(to, prefix) {
			out = append(out, ch)
		}
	}
	return out
}

// translateError maps go-git and transport failures onto the error
// taxonomy. Unrecognized failures count as transient network errors and
// are eligible for retry.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var alreadyClassified *repoerr.Error
	if errors.As(err, &alreadyClassified) {
		return err
	}

	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return repoerr.Wrap(repoerr.KindAuth, op, err)
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, object.ErrFileNotFound):
		return repoerr.Wrap(repoerr.KindNotFound, op, err)
	case errors.Is(err, ErrLimitExceeded):
		return repoerr.Wrap(repoerr.KindTooLarge, op, err)
	default:
		return repoerr.Wrap(repoerr.KindNetwork, op, err)
	}
}
