// Package snapshot defines the immutable fetched view of one repository
// revision and the cache that owns it.
package snapshot

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
)

// EntryKind discriminates files from directories in a path listing.
type EntryKind string

const (
	// KindFile marks a regular file entry
	KindFile EntryKind = "file"

	// KindDirectory marks a directory entry
	KindDirectory EntryKind = "directory"
)

// RepositoryRef identifies a unique repository+revision pair, plus the
// credential used to reach it. Immutable once constructed; built per
// incoming request and discarded after.
type RepositoryRef struct {
	// URL is the host-qualified repository identifier
	URL string

	// Revision is the requested branch, tag, or commit. Empty means
	// the remote default branch.
	Revision string

	// Token is the access token handle, empty for anonymous access.
	// It participates in the cache key but is never logged.
	Token string
}

// CacheKey returns the cache key for this ref. The token enters only as
// a short digest so snapshots fetched with different credentials never
// alias each other.
func (r RepositoryRef) CacheKey() string {
	tokenDigest := ""
	if r.Token != "" {
		sum := sha256.Sum256([]byte(r.Token))
		tokenDigest = fmt.Sprintf("%x", sum)[:12]
	}
	return r.URL + "\x00" + r.Revision + "\x00" + tokenDigest
}

// String renders the ref for logs, without the token.
func (r RepositoryRef) String() string {
	if r.Revision == "" {
		return r.URL
	}
	return r.URL + "@" + r.Revision
}

// PathEntry is one path in a snapshot's flat listing. Paths are
// slash-separated and relative to the repository root; no two entries
// in one snapshot share a path.
type PathEntry struct {
	Path string    `json:"path"`
	Kind EntryKind `json:"kind"`

	// Size is the blob size in bytes, zero for directories
	Size int64 `json:"size,omitempty"`

	// Blob is the lazy content handle (object hash), files only
	Blob string `json:"blob,omitempty"`
}

// BranchInfo describes one branch of a snapshot.
type BranchInfo struct {
	Name      string `json:"name"`
	Head      string `json:"head"`
	IsDefault bool   `json:"is_default"`
}

// Commit is one entry of a repository's history.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// Snapshot is the immutable fetched view of one repository revision:
// the flat path listing plus the branch-to-commit map. A new revision
// produces a new Snapshot, never an in-place update. The cache is the
// sole owner; every other component reads it shared.
type Snapshot struct {
	// Ref identifies what was fetched
	Ref RepositoryRef

	// FetchedAt is when the fetch completed
	FetchedAt time.Time

	// CommitHash is the commit the listing was taken at
	CommitHash string

	// Entries is the flat path listing, unique by path
	Entries []PathEntry

	// Branches maps branch name to head commit hash
	Branches map[string]string

	// DefaultBranch is the remote HEAD branch name
	DefaultBranch string

	// Repository is the in-memory go-git handle backing lazy blob,
	// diff, and history reads. Bounded by the connector's filesystem
	// limits.
	Repository *git.Repository
}
