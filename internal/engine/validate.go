package engine

import (
	"path"
	"regexp"
	"strings"

	"panopticon/internal/repoerr"
)

const (
	maxRevisionLength = 255
	maxPathLength     = 4096
	maxHistoryCount   = 500
)

// revisionPattern admits branch names, tags, and commit hashes. Git
// allows more, but everything outside this set is suspicious input for
// a remote lookup.
var revisionPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// validateRevision checks a revision string before it reaches the
// network layer.
func validateRevision(revision string) error {
	const op = "engine.validateRevision"

	if len(revision) > maxRevisionLength {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"revision exceeds %d characters", maxRevisionLength)
	}
	if strings.HasPrefix(revision, "-") {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"revision must not start with '-'")
	}
	if !revisionPattern.MatchString(revision) {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"revision %q contains invalid characters", revision)
	}
	return nil
}

// validatePath checks a repository-relative file path.
func validatePath(p string) error {
	const op = "engine.validatePath"

	if p == "" {
		return repoerr.New(repoerr.KindInvalidInput, op, "path is empty")
	}
	if len(p) > maxPathLength {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"path exceeds %d characters", maxPathLength)
	}
	if strings.HasPrefix(p, "/") {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"path %q must be relative to the repository root", p)
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"path %q is not a clean repository-relative path", p)
	}
	return nil
}

// validatePathPrefix checks the optional directory prefix of a
// structure request. An empty prefix means the repository root.
func validatePathPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return validatePath(strings.TrimSuffix(prefix, "/"))
}

// validateMaxCount bounds the commit log size.
func validateMaxCount(n int) error {
	const op = "engine.validateMaxCount"

	if n < 0 {
		return repoerr.New(repoerr.KindInvalidInput, op, "max_count must not be negative")
	}
	if n > maxHistoryCount {
		return repoerr.New(repoerr.KindInvalidInput, op,
			"max_count exceeds the limit of %d", maxHistoryCount)
	}
	return nil
}
